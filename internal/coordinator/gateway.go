package coordinator

import (
	"context"
	"errors"

	"devicesync/pkg/source"

	"go.uber.org/zap"
)

// ExecuteOperation runs a direct device command through the core. On
// vendor failure it returns the uniform OperationError for the device;
// on success the activities returned by the command are merged and the
// changed devices signaled immediately, so entities reflect the
// operation without waiting for the next poll cycle.
func (c *Coordinator) ExecuteOperation(ctx context.Context, deviceID string, op source.Operation) ([]source.Activity, error) {
	activities, err := op(ctx)
	if err != nil {
		c.logger.Warn("Device operation failed",
			zap.String("device_id", deviceID),
			zap.Error(err))

		var opErr *source.OperationError
		if errors.As(err, &opErr) {
			return nil, err
		}
		return nil, &source.OperationError{DeviceID: deviceID, Err: err}
	}

	changed := c.merger.Ingest(activities)
	c.signalChanged(changed)

	return activities, nil
}
