// Package coordinator orchestrates the polling-plus-push refresh loop:
// it periodically pulls activity per group, merges push-delivered records
// without regressing to stale data, refreshes throttled detail caches and
// fans out change signals to subscribers keyed by device ID.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"devicesync/internal/activity"
	"devicesync/internal/clock"
	"devicesync/internal/detail"
	"devicesync/internal/metrics"
	"devicesync/internal/subscriber"
	"devicesync/pkg/source"

	"go.uber.org/zap"
)

// State is the coordinator lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Config holds the coordinator's tuning knobs and device roster.
type Config struct {
	// PollInterval is the cadence of scheduled refresh cycles.
	PollInterval time.Duration

	// CatchupFetchLimit is the activity page size for the first cycle.
	CatchupFetchLimit int

	// UpdateFetchLimit is the activity page size for every later cycle.
	UpdateFetchLimit int

	// Groups are the batching keys under which activities are fetched.
	Groups []string

	// Devices is the session-immutable roster.
	Devices []source.Device
}

// Coordinator owns one integration instance's refresh loop. Only the
// coordinator's own cycle (and the operation gateway, which shares its
// merge path) mutates the activity table and detail caches; entity reads
// are lock-free reference reads.
type Coordinator struct {
	cfg        Config
	activities source.ActivitySource
	auth       source.AuthProvider
	clock      clock.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics

	merger   *activity.Merger
	registry *subscriber.Registry
	details  []*detail.Cache

	mu            sync.Mutex
	state         State
	stopRequested bool
	timer         clock.Timer
	lastUpdate    time.Time

	// tickMu enforces single-flight refresh cycles.
	tickMu sync.Mutex
}

// New creates a Coordinator. metrics may be nil, in which case a private
// instrument set is created.
func New(cfg Config, activities source.ActivitySource, auth source.AuthProvider, details []*detail.Cache, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *Coordinator {
	if m == nil {
		m = metrics.New()
	}
	return &Coordinator{
		cfg:        cfg,
		activities: activities,
		auth:       auth,
		clock:      clk,
		logger:     logger,
		metrics:    m,
		merger:     activity.NewMerger(logger, m),
		registry:   subscriber.NewRegistry(logger, m),
		details:    details,
	}
}

// Metrics returns the coordinator's instrument set.
func (c *Coordinator) Metrics() *metrics.Metrics { return c.metrics }

// Start performs one bulk catch-up refresh with the larger fetch limit,
// then schedules periodic incremental refreshes. Starting a coordinator
// that is not stopped is an error.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Stopped {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("coordinator is %s, not stopped", state)
	}
	c.state = Starting
	c.stopRequested = false
	c.mu.Unlock()

	c.logger.Info("Starting coordinator",
		zap.Duration("poll_interval", c.cfg.PollInterval),
		zap.Int("groups", len(c.cfg.Groups)),
		zap.Int("devices", len(c.cfg.Devices)))

	c.refresh(ctx, c.cfg.CatchupFetchLimit)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Starting {
		// Stopped while the catch-up cycle was running.
		return nil
	}
	c.state = Running
	c.scheduleLocked(ctx)
	return nil
}

// Stop cancels the pending scheduled cycle and marks the coordinator
// stopped. Safe to call repeatedly and before Start; an in-flight cycle
// finishes but will not signal subscribers once stopping.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Stopped {
		return
	}
	c.state = Stopping
	c.stopRequested = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.state = Stopped
	c.logger.Info("Coordinator stopped")
}

// CurrentState returns the lifecycle state.
func (c *Coordinator) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastUpdate returns the completion time of the most recent refresh
// cycle, zero if none has completed.
func (c *Coordinator) LastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate
}

// Devices returns the session roster.
func (c *Coordinator) Devices() []source.Device {
	return append([]source.Device(nil), c.cfg.Devices...)
}

// SubscribeDevice registers cb to run whenever deviceID's visible state
// changes. The returned subscription's Unsubscribe is idempotent.
func (c *Coordinator) SubscribeDevice(deviceID string, cb subscriber.Callback) *subscriber.Subscription {
	return c.registry.Subscribe(deviceID, cb)
}

// LatestActivity returns the most recent retained activity for a device
// across the given categories.
func (c *Coordinator) LatestActivity(deviceID string, kinds ...source.ActivityType) (source.Activity, bool) {
	return c.merger.Latest(deviceID, kinds...)
}

// ActivitiesByDevice returns every retained activity for a device keyed
// by category.
func (c *Coordinator) ActivitiesByDevice(deviceID string) map[source.ActivityType]source.Activity {
	return c.merger.LatestByDevice(deviceID)
}

// Detail returns a device's snapshot from the named category cache, nil
// if the category is unknown or the device has never been fetched.
func (c *Coordinator) Detail(category, deviceID string) *source.DetailSnapshot {
	for _, cache := range c.details {
		if cache.Category() == category {
			return cache.Get(deviceID)
		}
	}
	return nil
}

// AnyDetail returns the freshest snapshot for a device across all
// categories, nil when no category holds one.
func (c *Coordinator) AnyDetail(deviceID string) *source.DetailSnapshot {
	var best *source.DetailSnapshot
	for _, cache := range c.details {
		s := cache.Get(deviceID)
		if s == nil {
			continue
		}
		if best == nil || s.FetchedAt.After(best.FetchedAt) {
			best = s
		}
	}
	return best
}

// IngestPush merges push-delivered activities and signals the changed
// devices. Push records go through the same strictly-newer merge as
// polled records, so stale pushes never regress state.
func (c *Coordinator) IngestPush(activities []source.Activity) {
	changed := c.merger.Ingest(activities)
	c.signalChanged(changed)
}

// RefreshNow runs one refresh cycle immediately with the incremental
// fetch limit. If a cycle is already in flight the call is skipped and
// reports false.
func (c *Coordinator) RefreshNow(ctx context.Context) bool {
	if !c.tickMu.TryLock() {
		c.logger.Debug("Refresh already in flight, skipping")
		if c.metrics != nil {
			c.metrics.RefreshSkipped.Inc()
		}
		return false
	}
	defer c.tickMu.Unlock()
	c.runCycle(ctx, c.cfg.UpdateFetchLimit)
	return true
}

// scheduleLocked arms the next scheduled cycle. Caller holds c.mu.
func (c *Coordinator) scheduleLocked(ctx context.Context) {
	c.timer = c.clock.AfterFunc(c.cfg.PollInterval, func() {
		c.refresh(ctx, c.cfg.UpdateFetchLimit)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state == Running {
			c.scheduleLocked(ctx)
		}
	})
}

// refresh runs one cycle under the single-flight guard, skipping if a
// cycle is already running.
func (c *Coordinator) refresh(ctx context.Context, limit int) {
	if !c.tickMu.TryLock() {
		c.logger.Debug("Refresh already in flight, skipping scheduled cycle")
		if c.metrics != nil {
			c.metrics.RefreshSkipped.Inc()
		}
		return
	}
	defer c.tickMu.Unlock()
	c.runCycle(ctx, limit)
}

func (c *Coordinator) runCycle(ctx context.Context, limit int) {
	if c.metrics != nil {
		c.metrics.RefreshCycles.Inc()
	}

	if err := c.auth.EnsureFresh(ctx); err != nil {
		// Transient: the next scheduled cycle retries.
		c.logger.Warn("Session refresh failed, skipping cycle", zap.Error(err))
		if c.metrics != nil {
			c.metrics.AuthFailures.Inc()
		}
		return
	}

	changed := make(map[string]struct{})
	for _, groupID := range c.cfg.Groups {
		acts, err := c.activities.GroupActivities(ctx, groupID, limit)
		if err != nil {
			c.logger.Warn("Activity fetch failed for group",
				zap.String("group_id", groupID),
				zap.Error(err))
			if c.metrics != nil {
				c.metrics.GroupFetchFailures.WithLabelValues(groupID).Inc()
			}
			continue
		}
		for id := range c.merger.Ingest(acts) {
			changed[id] = struct{}{}
		}
	}

	for _, cache := range c.details {
		cache.Refresh(ctx, c.cfg.Devices)
	}

	c.signalChanged(changed)

	now := c.clock.Now()
	c.mu.Lock()
	c.lastUpdate = now
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.LastUpdateTimestamp.Set(float64(now.Unix()))
	}
}

// signalChanged notifies subscribers of changed devices unless the
// coordinator is mid-stop, so unloading entities are not woken.
func (c *Coordinator) signalChanged(changed map[string]struct{}) {
	if len(changed) == 0 {
		return
	}

	c.mu.Lock()
	stopping := c.stopRequested
	c.mu.Unlock()
	if stopping {
		c.logger.Debug("Suppressing signals during shutdown",
			zap.Int("changed", len(changed)))
		return
	}

	for id := range changed {
		c.registry.Signal(id)
	}
}
