package source

import "fmt"

// TransientError reports a single failed fetch. The core contains it at
// the smallest scope: the failing device or group is logged and skipped,
// the rest of the cycle proceeds.
type TransientError struct {
	Op       string
	DeviceID string
	Err      error
}

func (e *TransientError) Error() string {
	if e.DeviceID != "" {
		return fmt.Sprintf("%s for device %s: %v", e.Op, e.DeviceID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// AuthError means the vendor session is invalid. It aborts the current
// update cycle; the next scheduled cycle retries.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("session refresh failed: %v", e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }

// OperationError is the uniform failure for direct device commands and
// the only error type that crosses the core boundary to entity code.
type OperationError struct {
	DeviceID string
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation on device %s failed: %v", e.DeviceID, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
