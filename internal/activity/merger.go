// Package activity maintains the latest-activity table: the most recent
// activity record per (device, category), merged from polled and pushed
// batches in any arrival order.
package activity

import (
	"sync"
	"time"

	"devicesync/internal/metrics"
	"devicesync/pkg/source"

	"go.uber.org/zap"
)

type tableKey struct {
	deviceID string
	kind     source.ActivityType
}

type retained struct {
	activity source.Activity
	seq      uint64
}

// Merger ingests activity batches and tracks, per (device, category),
// the record with the greatest StartTime. Replacement is strictly-newer
// only, so re-delivered or out-of-order records never regress the table.
// Entries persist for the coordinator's lifetime; categories are bounded
// so no eviction is needed.
type Merger struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	latest map[tableKey]retained
	seq    uint64
}

// NewMerger creates an empty merger. metrics may be nil.
func NewMerger(logger *zap.Logger, m *metrics.Metrics) *Merger {
	return &Merger{
		logger:  logger,
		metrics: m,
		latest:  make(map[tableKey]retained),
	}
}

// Ingest merges a batch into the table and returns the set of device IDs
// whose visible state changed. A record is accepted only when its
// StartTime is strictly greater than the retained record's; equal or
// older records are discarded, which also makes Ingest idempotent.
func (m *Merger) Ingest(batch []source.Activity) map[string]struct{} {
	changed := make(map[string]struct{})
	if len(batch) == 0 {
		return changed
	}

	var accepted, discarded int

	m.mu.Lock()
	for _, act := range batch {
		if act.DeviceID == "" || act.Type == "" {
			m.logger.Warn("Dropping activity with missing identity",
				zap.String("device_id", act.DeviceID),
				zap.String("activity_type", string(act.Type)))
			discarded++
			continue
		}

		key := tableKey{deviceID: act.DeviceID, kind: act.Type}
		current, ok := m.latest[key]
		if ok && !current.activity.StartTime.Before(act.StartTime) {
			discarded++
			continue
		}

		m.seq++
		m.latest[key] = retained{activity: act, seq: m.seq}
		changed[act.DeviceID] = struct{}{}
		accepted++
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActivitiesAccepted.Add(float64(accepted))
		m.metrics.ActivitiesDiscarded.Add(float64(discarded))
	}

	return changed
}

// Latest returns the retained activity with the greatest StartTime for
// the device across the given categories. Equal timestamps resolve to
// the first-ingested record so the result is deterministic. The second
// return is false when the device has nothing retained in any category.
func (m *Merger) Latest(deviceID string, kinds ...source.ActivityType) (source.Activity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best retained
	found := false
	for _, kind := range kinds {
		r, ok := m.latest[tableKey{deviceID: deviceID, kind: kind}]
		if !ok {
			continue
		}
		if !found || newerThan(r, best) {
			best = r
			found = true
		}
	}
	return best.activity, found
}

// LatestByDevice returns every retained activity for a device keyed by
// category. Used by the diagnostics API.
func (m *Merger) LatestByDevice(deviceID string) map[source.ActivityType]source.Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[source.ActivityType]source.Activity)
	for key, r := range m.latest {
		if key.deviceID == deviceID {
			out[key.kind] = r.activity
		}
	}
	return out
}

// LastStartTime returns the retained StartTime for one (device, category)
// key, zero when nothing is retained.
func (m *Merger) LastStartTime(deviceID string, kind source.ActivityType) time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest[tableKey{deviceID: deviceID, kind: kind}].activity.StartTime
}

// newerThan favors the greater StartTime; on a tie the earlier ingest
// sequence wins.
func newerThan(a, b retained) bool {
	if a.activity.StartTime.After(b.activity.StartTime) {
		return true
	}
	if a.activity.StartTime.Equal(b.activity.StartTime) {
		return a.seq < b.seq
	}
	return false
}
