// Package vendorsim is an in-process vendor API used by the demo binary
// and integration-style tests. It implements every collaborator contract
// the coordinator needs: group activity fetch, per-device detail fetch
// and session refresh, with switchable failure injection.
package vendorsim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"devicesync/internal/clock"
	"devicesync/pkg/source"
)

// Simulator is a fake vendor cloud holding activity history per group
// and a detail record per device.
type Simulator struct {
	clock clock.Clock

	mu         sync.Mutex
	devices    map[string]source.Device
	byGroup    map[string][]source.Activity
	details    map[string]*source.DetailSnapshot
	failGroups map[string]bool
	failDetail map[string]bool
	failAuth   bool

	authCalls   int
	detailCalls map[string]int
	groupCalls  map[string]int
	lastLimit   map[string]int
}

// New creates an empty simulator.
func New(clk clock.Clock) *Simulator {
	return &Simulator{
		clock:       clk,
		devices:     make(map[string]source.Device),
		byGroup:     make(map[string][]source.Activity),
		details:     make(map[string]*source.DetailSnapshot),
		failGroups:  make(map[string]bool),
		failDetail:  make(map[string]bool),
		detailCalls: make(map[string]int),
		groupCalls:  make(map[string]int),
		lastLimit:   make(map[string]int),
	}
}

// AddDevice registers a device and seeds an initial detail record.
func (s *Simulator) AddDevice(dev source.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.devices[dev.ID] = dev
	s.details[dev.ID] = &source.DetailSnapshot{
		DeviceID:     dev.ID,
		Online:       true,
		Status:       "locked",
		BatteryLevel: 100,
		Firmware:     "1.0.0",
		FetchedAt:    s.clock.Now(),
	}
}

// RecordActivity appends an activity to its device's group history.
func (s *Simulator) RecordActivity(act source.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.devices[act.DeviceID]
	if !ok {
		return
	}
	s.byGroup[dev.GroupID] = append(s.byGroup[dev.GroupID], act)
}

// SetDetail replaces a device's detail record.
func (s *Simulator) SetDetail(snapshot *source.DetailSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[snapshot.DeviceID] = snapshot
}

// FailGroup toggles fetch failure for a group.
func (s *Simulator) FailGroup(groupID string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGroups[groupID] = fail
}

// FailDetail toggles detail-fetch failure for a device.
func (s *Simulator) FailDetail(deviceID string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDetail[deviceID] = fail
}

// FailAuth toggles session refresh failure.
func (s *Simulator) FailAuth(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAuth = fail
}

// GroupActivities returns up to limit most recent activities for a group,
// newest first, mirroring vendor activity feeds.
func (s *Simulator) GroupActivities(_ context.Context, groupID string, limit int) ([]source.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.groupCalls[groupID]++
	s.lastLimit[groupID] = limit
	if s.failGroups[groupID] {
		return nil, &source.TransientError{
			Op:  "fetch group activities",
			Err: fmt.Errorf("simulated outage for group %s", groupID),
		}
	}

	history := append([]source.Activity(nil), s.byGroup[groupID]...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].StartTime.After(history[j].StartTime)
	})
	if limit > 0 && len(history) > limit {
		history = history[:limit]
	}
	for i := range history {
		history[i].Origin = source.OriginPoll
	}
	return history, nil
}

// DeviceDetail returns the device's current detail record.
func (s *Simulator) DeviceDetail(_ context.Context, deviceID string) (*source.DetailSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.detailCalls[deviceID]++
	if s.failDetail[deviceID] {
		return nil, &source.TransientError{
			Op:       "fetch device detail",
			DeviceID: deviceID,
			Err:      fmt.Errorf("simulated detail outage"),
		}
	}

	snapshot, ok := s.details[deviceID]
	if !ok {
		return nil, &source.TransientError{
			Op:       "fetch device detail",
			DeviceID: deviceID,
			Err:      fmt.Errorf("unknown device"),
		}
	}
	copied := *snapshot
	copied.FetchedAt = s.clock.Now()
	return &copied, nil
}

// EnsureFresh simulates session refresh.
func (s *Simulator) EnsureFresh(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authCalls++
	if s.failAuth {
		return &source.AuthError{Err: fmt.Errorf("simulated expired session")}
	}
	return nil
}

// AuthCalls returns how many times EnsureFresh ran.
func (s *Simulator) AuthCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCalls
}

// DetailCalls returns how many detail fetches a device has seen.
func (s *Simulator) DetailCalls(deviceID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detailCalls[deviceID]
}

// GroupCalls returns how many activity fetches a group has seen.
func (s *Simulator) GroupCalls(groupID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groupCalls[groupID]
}

// LastLimit returns the page size of a group's most recent fetch.
func (s *Simulator) LastLimit(groupID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLimit[groupID]
}

// Generator periodically records random lock and doorbell activity so the
// demo binary has live data to coordinate.
type Generator struct {
	sim      *Simulator
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewGenerator creates a generator producing one random activity per
// interval.
func NewGenerator(sim *Simulator, interval time.Duration) *Generator {
	return &Generator{sim: sim, interval: interval, stop: make(chan struct{})}
}

// Start launches the generation loop.
func (g *Generator) Start() {
	g.wg.Add(1)
	go g.loop()
}

// Stop halts the loop and waits for it to exit.
func (g *Generator) Stop() {
	close(g.stop)
	g.wg.Wait()
}

func (g *Generator) loop() {
	defer g.wg.Done()

	kinds := []source.ActivityType{
		source.ActivityLockOperation,
		source.ActivityDoorOperation,
		source.ActivityDoorbellMotion,
		source.ActivityDoorbellDing,
	}

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
		}

		g.sim.mu.Lock()
		ids := make([]string, 0, len(g.sim.devices))
		for id := range g.sim.devices {
			ids = append(ids, id)
		}
		g.sim.mu.Unlock()
		if len(ids) == 0 {
			continue
		}
		sort.Strings(ids)

		g.sim.RecordActivity(source.Activity{
			DeviceID:  ids[rand.Intn(len(ids))],
			Type:      kinds[rand.Intn(len(kinds))],
			StartTime: g.sim.clock.Now(),
		})
	}
}
