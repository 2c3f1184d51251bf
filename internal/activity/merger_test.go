package activity

import (
	"testing"
	"time"

	"devicesync/pkg/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func act(deviceID string, kind source.ActivityType, unix int64) source.Activity {
	return source.Activity{
		DeviceID:  deviceID,
		Type:      kind,
		StartTime: time.Unix(unix, 0),
	}
}

func TestMerger_IngestReportsChangedDevices(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMerger(logger, nil)

	changed := m.Ingest([]source.Activity{
		act("lock-1", source.ActivityLockOperation, 100),
		act("lock-2", source.ActivityLockOperation, 100),
		act("lock-1", source.ActivityDoorOperation, 100),
	})

	assert.Len(t, changed, 2)
	assert.Contains(t, changed, "lock-1")
	assert.Contains(t, changed, "lock-2")
}

func TestMerger_IngestRejectsStale(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMerger(logger, nil)

	m.Ingest([]source.Activity{act("lock-1", source.ActivityLockOperation, 100)})

	t.Run("older record discarded", func(t *testing.T) {
		changed := m.Ingest([]source.Activity{act("lock-1", source.ActivityLockOperation, 50)})
		assert.Empty(t, changed)

		latest, ok := m.Latest("lock-1", source.ActivityLockOperation)
		require.True(t, ok)
		assert.Equal(t, time.Unix(100, 0), latest.StartTime)
	})

	t.Run("equal timestamp discarded", func(t *testing.T) {
		changed := m.Ingest([]source.Activity{act("lock-1", source.ActivityLockOperation, 100)})
		assert.Empty(t, changed)
	})

	t.Run("newer record accepted", func(t *testing.T) {
		changed := m.Ingest([]source.Activity{act("lock-1", source.ActivityLockOperation, 200)})
		assert.Contains(t, changed, "lock-1")
	})
}

func TestMerger_IngestIdempotent(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMerger(logger, nil)

	batch := []source.Activity{
		act("lock-1", source.ActivityLockOperation, 100),
		act("lock-2", source.ActivityDoorbellMotion, 150),
	}

	first := m.Ingest(batch)
	assert.Len(t, first, 2)

	second := m.Ingest(batch)
	assert.Empty(t, second)

	latest, ok := m.Latest("lock-1", source.ActivityLockOperation)
	require.True(t, ok)
	assert.Equal(t, time.Unix(100, 0), latest.StartTime)
}

func TestMerger_OutOfOrderArrival(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	t.Run("newest first", func(t *testing.T) {
		m := NewMerger(logger, nil)
		m.Ingest([]source.Activity{
			act("lock-1", source.ActivityLockOperation, 10),
			act("lock-1", source.ActivityLockOperation, 5),
		})
		latest, ok := m.Latest("lock-1", source.ActivityLockOperation)
		require.True(t, ok)
		assert.Equal(t, time.Unix(10, 0), latest.StartTime)
	})

	t.Run("oldest first", func(t *testing.T) {
		m := NewMerger(logger, nil)
		m.Ingest([]source.Activity{
			act("lock-1", source.ActivityLockOperation, 5),
			act("lock-1", source.ActivityLockOperation, 10),
		})
		latest, ok := m.Latest("lock-1", source.ActivityLockOperation)
		require.True(t, ok)
		assert.Equal(t, time.Unix(10, 0), latest.StartTime)
	})
}

func TestMerger_PushAndPollConverge(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMerger(logger, nil)

	pushed := act("lock-1", source.ActivityLockOperation, 200)
	pushed.Origin = source.OriginPush
	polled := act("lock-1", source.ActivityLockOperation, 150)
	polled.Origin = source.OriginPoll

	m.Ingest([]source.Activity{pushed})
	changed := m.Ingest([]source.Activity{polled})

	assert.Empty(t, changed, "stale polled record must not override newer push")
	latest, _ := m.Latest("lock-1", source.ActivityLockOperation)
	assert.Equal(t, source.OriginPush, latest.Origin)
}

func TestMerger_LatestAcrossCategories(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMerger(logger, nil)

	m.Ingest([]source.Activity{
		act("db-1", source.ActivityDoorbellMotion, 100),
		act("db-1", source.ActivityDoorbellDing, 300),
		act("db-1", source.ActivityBridgeStatus, 200),
	})

	t.Run("greatest start time wins", func(t *testing.T) {
		latest, ok := m.Latest("db-1",
			source.ActivityDoorbellMotion,
			source.ActivityDoorbellDing,
			source.ActivityBridgeStatus)
		require.True(t, ok)
		assert.Equal(t, source.ActivityDoorbellDing, latest.Type)
	})

	t.Run("restricted categories", func(t *testing.T) {
		latest, ok := m.Latest("db-1", source.ActivityDoorbellMotion, source.ActivityBridgeStatus)
		require.True(t, ok)
		assert.Equal(t, source.ActivityBridgeStatus, latest.Type)
	})

	t.Run("no retained activity", func(t *testing.T) {
		_, ok := m.Latest("db-1", source.ActivityLockOperation)
		assert.False(t, ok)

		_, ok = m.Latest("unknown", source.ActivityDoorbellMotion)
		assert.False(t, ok)
	})
}

func TestMerger_EqualTimestampTieBreak(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMerger(logger, nil)

	first := act("lock-1", source.ActivityLockOperation, 100)
	first.Payload = map[string]any{"order": "first"}
	second := act("lock-1", source.ActivityDoorOperation, 100)
	second.Payload = map[string]any{"order": "second"}

	m.Ingest([]source.Activity{first})
	m.Ingest([]source.Activity{second})

	latest, ok := m.Latest("lock-1", source.ActivityLockOperation, source.ActivityDoorOperation)
	require.True(t, ok)
	assert.Equal(t, "first", latest.Payload["order"], "first ingested wins on equal timestamps")
}

func TestMerger_DropsRecordsWithoutIdentity(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMerger(logger, nil)

	changed := m.Ingest([]source.Activity{
		{DeviceID: "", Type: source.ActivityLockOperation, StartTime: time.Unix(100, 0)},
		{DeviceID: "lock-1", Type: "", StartTime: time.Unix(100, 0)},
	})
	assert.Empty(t, changed)
}

func TestMerger_LatestByDevice(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	m := NewMerger(logger, nil)

	m.Ingest([]source.Activity{
		act("lock-1", source.ActivityLockOperation, 100),
		act("lock-1", source.ActivityDoorOperation, 200),
		act("lock-2", source.ActivityLockOperation, 300),
	})

	byDevice := m.LatestByDevice("lock-1")
	assert.Len(t, byDevice, 2)
	assert.Equal(t, time.Unix(100, 0), byDevice[source.ActivityLockOperation].StartTime)
	assert.Equal(t, time.Unix(200, 0), byDevice[source.ActivityDoorOperation].StartTime)
}
