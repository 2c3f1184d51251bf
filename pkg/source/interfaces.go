package source

import "context"

// ActivitySource fetches recent activity records for a device group.
// Implementations return a TransientError on network or API failure.
type ActivitySource interface {
	GroupActivities(ctx context.Context, groupID string, limit int) ([]Activity, error)
}

// DetailSource fetches the full detail snapshot for a single device.
// Implementations return a TransientError on network or API failure.
type DetailSource interface {
	DeviceDetail(ctx context.Context, deviceID string) (*DetailSnapshot, error)
}

// AuthProvider keeps the vendor session valid. EnsureFresh is called
// before every poll cycle; it returns an AuthError when the session
// could not be refreshed.
type AuthProvider interface {
	EnsureFresh(ctx context.Context) error
}

// Operation is a direct device command (lock, unlock, turn on). A
// successful operation returns the activities generated by the command
// so callers can reflect the new state without waiting for a poll.
type Operation func(ctx context.Context) ([]Activity, error)
