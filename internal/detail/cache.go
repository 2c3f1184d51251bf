// Package detail caches per-device detail snapshots, refreshed through a
// throttled bulk fetch. One Cache exists per detail category (lock
// detail, doorbell detail) so each category throttles independently.
package detail

import (
	"context"
	"sync"
	"time"

	"devicesync/internal/clock"
	"devicesync/internal/metrics"
	"devicesync/internal/throttle"
	"devicesync/pkg/source"

	"go.uber.org/zap"
)

// Cache holds the last known DetailSnapshot per device for one category.
// A device's failed fetch leaves its previous snapshot in place; a device
// missing from a refresh keeps whatever it had. Devices are never removed.
type Cache struct {
	category string
	fetcher  source.DetailSource
	throttle *throttle.Throttle
	logger   *zap.Logger
	metrics  *metrics.Metrics

	mu        sync.RWMutex
	snapshots map[string]*source.DetailSnapshot
}

// NewCache creates a Cache for one detail category. interval bounds how
// often Refresh actually hits the fetcher; metrics may be nil.
func NewCache(category string, interval time.Duration, fetcher source.DetailSource, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics) *Cache {
	return &Cache{
		category:  category,
		fetcher:   fetcher,
		throttle:  throttle.New(interval, clk),
		logger:    logger,
		metrics:   m,
		snapshots: make(map[string]*source.DetailSnapshot),
	}
}

// Category returns the cache's detail category name.
func (c *Cache) Category() string { return c.category }

// Refresh fetches fresh snapshots for the roster, at most once per
// throttle window. Within a refresh each device is fetched independently:
// one device's failure is logged and the loop continues.
func (c *Cache) Refresh(ctx context.Context, devices []source.Device) {
	ran, _ := c.throttle.Call(ctx, func(ctx context.Context) error {
		c.refreshAll(ctx, devices)
		return nil
	})
	if !ran {
		c.logger.Debug("Detail refresh throttled",
			zap.String("category", c.category))
	}
}

func (c *Cache) refreshAll(ctx context.Context, devices []source.Device) {
	updated := 0
	for _, dev := range devices {
		snapshot, err := c.fetcher.DeviceDetail(ctx, dev.ID)
		if err != nil {
			c.logger.Warn("Detail fetch failed, keeping previous snapshot",
				zap.String("category", c.category),
				zap.String("device_id", dev.ID),
				zap.Error(err))
			if c.metrics != nil {
				c.metrics.DetailFetchFailures.WithLabelValues(c.category).Inc()
			}
			continue
		}
		if snapshot == nil {
			continue
		}

		c.mu.Lock()
		c.snapshots[dev.ID] = snapshot
		c.mu.Unlock()
		updated++
	}

	c.logger.Debug("Detail refresh complete",
		zap.String("category", c.category),
		zap.Int("updated", updated),
		zap.Int("roster", len(devices)))
}

// Get returns the last known snapshot for a device, nil if none has ever
// been fetched. The returned snapshot is a single reference swap on
// update, so readers observe either the old or the new value.
func (c *Cache) Get(deviceID string) *source.DetailSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshots[deviceID]
}

// Invalidate drops a device's snapshot so the next successful fetch
// repopulates it.
func (c *Cache) Invalidate(deviceID string) {
	c.mu.Lock()
	delete(c.snapshots, deviceID)
	c.mu.Unlock()
}
