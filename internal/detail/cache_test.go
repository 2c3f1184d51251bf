package detail

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"devicesync/internal/clock"
	"devicesync/pkg/source"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fetcherFunc adapts a function to source.DetailSource.
type fetcherFunc func(ctx context.Context, deviceID string) (*source.DetailSnapshot, error)

func (f fetcherFunc) DeviceDetail(ctx context.Context, deviceID string) (*source.DetailSnapshot, error) {
	return f(ctx, deviceID)
}

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	clk   clock.Clock
}

func newCountingFetcher(clk clock.Clock) *countingFetcher {
	return &countingFetcher{
		calls: make(map[string]int),
		fail:  make(map[string]bool),
		clk:   clk,
	}
}

func (f *countingFetcher) DeviceDetail(_ context.Context, deviceID string) (*source.DetailSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[deviceID]++
	if f.fail[deviceID] {
		return nil, &source.TransientError{
			Op:       "fetch device detail",
			DeviceID: deviceID,
			Err:      fmt.Errorf("connection refused"),
		}
	}
	return &source.DetailSnapshot{
		DeviceID:     deviceID,
		Online:       true,
		Status:       "locked",
		BatteryLevel: f.calls[deviceID],
		FetchedAt:    f.clk.Now(),
	}, nil
}

func roster(ids ...string) []source.Device {
	devices := make([]source.Device, 0, len(ids))
	for _, id := range ids {
		devices = append(devices, source.Device{ID: id, GroupID: "house-1"})
	}
	return devices
}

func TestCache_RefreshStoresSnapshots(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(1000, 0))
	fetcher := newCountingFetcher(clk)
	c := NewCache("lock", time.Minute, fetcher, clk, logger, nil)

	assert.Nil(t, c.Get("lock-1"), "nothing cached before first refresh")

	c.Refresh(context.Background(), roster("lock-1", "lock-2"))

	require.NotNil(t, c.Get("lock-1"))
	require.NotNil(t, c.Get("lock-2"))
	assert.Equal(t, "lock-1", c.Get("lock-1").DeviceID)
}

func TestCache_PerDeviceFailureIsolation(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(1000, 0))
	fetcher := newCountingFetcher(clk)
	c := NewCache("lock", time.Minute, fetcher, clk, logger, nil)

	c.Refresh(context.Background(), roster("lock-1", "lock-2", "lock-3"))
	prior := c.Get("lock-2")
	require.NotNil(t, prior)

	fetcher.fail["lock-2"] = true
	clk.Advance(time.Minute)
	c.Refresh(context.Background(), roster("lock-1", "lock-2", "lock-3"))

	assert.Equal(t, 2, fetcher.calls["lock-1"], "healthy device before the failure still refreshed")
	assert.Equal(t, 2, fetcher.calls["lock-3"], "healthy device after the failure still refreshed")
	assert.Same(t, prior, c.Get("lock-2"), "failed device keeps its last-known-good snapshot")
	assert.Equal(t, 2, c.Get("lock-1").BatteryLevel)
}

func TestCache_NeverFetchedDeviceStaysNil(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(1000, 0))
	fetcher := newCountingFetcher(clk)
	fetcher.fail["lock-1"] = true
	c := NewCache("lock", time.Minute, fetcher, clk, logger, nil)

	c.Refresh(context.Background(), roster("lock-1"))
	assert.Nil(t, c.Get("lock-1"))
}

func TestCache_RefreshThrottled(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(1000, 0))
	fetcher := newCountingFetcher(clk)
	c := NewCache("lock", time.Minute, fetcher, clk, logger, nil)

	devices := roster("lock-1")
	c.Refresh(context.Background(), devices)
	c.Refresh(context.Background(), devices)
	c.Refresh(context.Background(), devices)
	assert.Equal(t, 1, fetcher.calls["lock-1"], "repeated refreshes inside the window collapse")

	clk.Advance(time.Minute)
	c.Refresh(context.Background(), devices)
	assert.Equal(t, 2, fetcher.calls["lock-1"])
}

func TestCache_IndependentCategoryWindows(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(1000, 0))
	lockFetcher := newCountingFetcher(clk)
	doorbellFetcher := newCountingFetcher(clk)

	lockCache := NewCache("lock", time.Minute, lockFetcher, clk, logger, nil)
	doorbellCache := NewCache("doorbell", 10*time.Minute, doorbellFetcher, clk, logger, nil)

	devices := roster("dev-1")
	lockCache.Refresh(context.Background(), devices)
	doorbellCache.Refresh(context.Background(), devices)

	clk.Advance(time.Minute)
	lockCache.Refresh(context.Background(), devices)
	doorbellCache.Refresh(context.Background(), devices)

	assert.Equal(t, 2, lockFetcher.calls["dev-1"], "lock window elapsed")
	assert.Equal(t, 1, doorbellFetcher.calls["dev-1"], "doorbell window still open")
}

func TestCache_MissingDeviceNotRemoved(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(1000, 0))
	fetcher := newCountingFetcher(clk)
	c := NewCache("lock", time.Minute, fetcher, clk, logger, nil)

	c.Refresh(context.Background(), roster("lock-1", "lock-2"))
	require.NotNil(t, c.Get("lock-2"))

	// lock-2 dropped from the refresh roster: snapshot survives.
	clk.Advance(time.Minute)
	c.Refresh(context.Background(), roster("lock-1"))
	assert.NotNil(t, c.Get("lock-2"))
}

func TestCache_Invalidate(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	clk := clock.NewMockClock(time.Unix(1000, 0))
	c := NewCache("lock", time.Minute, fetcherFunc(func(_ context.Context, id string) (*source.DetailSnapshot, error) {
		return &source.DetailSnapshot{DeviceID: id, FetchedAt: clk.Now()}, nil
	}), clk, logger, nil)

	c.Refresh(context.Background(), roster("lock-1"))
	require.NotNil(t, c.Get("lock-1"))

	c.Invalidate("lock-1")
	assert.Nil(t, c.Get("lock-1"))
}
