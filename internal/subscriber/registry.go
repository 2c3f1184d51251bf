// Package subscriber decouples "something changed for device X" from
// "notify whoever cares". Entities register a callback per device ID and
// the coordinator signals changed devices after each merge.
package subscriber

import (
	"sync"

	"devicesync/internal/metrics"

	"go.uber.org/zap"
)

// Callback is invoked when the device it was registered for changes.
type Callback func(deviceID string)

type entry struct {
	id int
	cb Callback
}

// Registry maps device IDs to ordered callback lists. It is process-local
// and lives as long as its coordinator.
type Registry struct {
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	subs   map[string][]entry
	nextID int
}

// NewRegistry creates an empty registry. metrics may be nil.
func NewRegistry(logger *zap.Logger, m *metrics.Metrics) *Registry {
	return &Registry{
		logger:  logger,
		metrics: m,
		subs:    make(map[string][]entry),
	}
}

// Subscription is the handle returned by Subscribe. Unsubscribe is
// idempotent: calling it twice is a no-op.
type Subscription struct {
	registry *Registry
	deviceID string
	id       int
	once     sync.Once
}

// Unsubscribe removes exactly this registration.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.registry.remove(s.deviceID, s.id)
	})
}

// Subscribe registers cb for deviceID. Multiple subscribers per device
// are allowed; Signal invokes them in registration order.
func (r *Registry) Subscribe(deviceID string, cb Callback) *Subscription {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[deviceID] = append(r.subs[deviceID], entry{id: id, cb: cb})
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Subscribers.Inc()
	}

	return &Subscription{registry: r, deviceID: deviceID, id: id}
}

// Signal invokes every currently-registered callback for deviceID, in
// registration order. A panicking callback is logged and must not block
// the remaining callbacks. Signaling a device with no subscribers is a
// no-op.
func (r *Registry) Signal(deviceID string) {
	r.mu.RLock()
	entries := append([]entry(nil), r.subs[deviceID]...)
	r.mu.RUnlock()

	for _, e := range entries {
		r.invoke(deviceID, e)
	}

	if r.metrics != nil && len(entries) > 0 {
		r.metrics.SignalsDelivered.Add(float64(len(entries)))
	}
}

func (r *Registry) invoke(deviceID string, e entry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Subscriber callback panicked",
				zap.String("device_id", deviceID),
				zap.Any("panic", rec))
		}
	}()
	e.cb(deviceID)
}

// Count returns the number of callbacks registered for deviceID.
func (r *Registry) Count(deviceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[deviceID])
}

func (r *Registry) remove(deviceID string, id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, ok := r.subs[deviceID]
	if !ok {
		return
	}

	for i, e := range entries {
		if e.id == id {
			r.subs[deviceID] = append(entries[:i], entries[i+1:]...)
			if len(r.subs[deviceID]) == 0 {
				delete(r.subs, deviceID)
			}
			if r.metrics != nil {
				r.metrics.Subscribers.Dec()
			}
			break
		}
	}
}
