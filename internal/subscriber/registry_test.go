package subscriber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRegistry_SignalInvokesInRegistrationOrder(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	r := NewRegistry(logger, nil)

	var order []int
	r.Subscribe("lock-1", func(string) { order = append(order, 1) })
	r.Subscribe("lock-1", func(string) { order = append(order, 2) })
	r.Subscribe("lock-1", func(string) { order = append(order, 3) })

	r.Signal("lock-1")
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestRegistry_SignalOnlyTargetDevice(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	r := NewRegistry(logger, nil)

	calls := map[string]int{}
	r.Subscribe("lock-1", func(id string) { calls[id]++ })
	r.Subscribe("lock-2", func(id string) { calls[id]++ })

	r.Signal("lock-1")
	assert.Equal(t, 1, calls["lock-1"])
	assert.Equal(t, 0, calls["lock-2"])
}

func TestRegistry_SignalUnknownDeviceIsNoop(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	r := NewRegistry(logger, nil)

	assert.NotPanics(t, func() { r.Signal("never-registered") })
}

func TestRegistry_PanickingSubscriberDoesNotBlockOthers(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	r := NewRegistry(logger, nil)

	secondCalled := false
	r.Subscribe("lock-1", func(string) { panic("subscriber bug") })
	r.Subscribe("lock-1", func(string) { secondCalled = true })

	assert.NotPanics(t, func() { r.Signal("lock-1") })
	assert.True(t, secondCalled, "second subscriber must run despite first panicking")
}

func TestRegistry_UnsubscribeIdempotent(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	r := NewRegistry(logger, nil)

	calls := 0
	sub := r.Subscribe("lock-1", func(string) { calls++ })
	keep := r.Subscribe("lock-1", func(string) { calls++ })

	sub.Unsubscribe()
	sub.Unsubscribe() // second call is a no-op

	r.Signal("lock-1")
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, r.Count("lock-1"))

	keep.Unsubscribe()
	assert.Equal(t, 0, r.Count("lock-1"))
}

func TestRegistry_UnsubscribeRemovesExactlyOne(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	r := NewRegistry(logger, nil)

	var order []int
	r.Subscribe("lock-1", func(string) { order = append(order, 1) })
	mid := r.Subscribe("lock-1", func(string) { order = append(order, 2) })
	r.Subscribe("lock-1", func(string) { order = append(order, 3) })

	mid.Unsubscribe()
	r.Signal("lock-1")
	assert.Equal(t, []int{1, 3}, order)
}

func TestRegistry_SubscribeDuringSignalDoesNotAffectCurrentRound(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	r := NewRegistry(logger, nil)

	lateCalls := 0
	r.Subscribe("lock-1", func(string) {
		r.Subscribe("lock-1", func(string) { lateCalls++ })
	})

	r.Signal("lock-1")
	assert.Equal(t, 0, lateCalls, "subscriber added mid-signal runs from the next signal on")

	r.Signal("lock-1")
	assert.Equal(t, 1, lateCalls)
}
