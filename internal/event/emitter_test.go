package event

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitter_DeliversInRegistrationOrder(t *testing.T) {
	e := NewEmitter()

	var order []int
	e.On("tick", func(any) { order = append(order, 1) })
	e.On("tick", func(any) { order = append(order, 2) })
	e.On("tick", func(any) { order = append(order, 3) })

	e.Emit("tick", nil)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitter_PayloadPassedThrough(t *testing.T) {
	e := NewEmitter()

	var got any
	e.On("data", func(payload any) { got = payload })
	e.Emit("data", "hello")
	assert.Equal(t, "hello", got)
}

func TestEmitter_UnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter()

	calls := 0
	off := e.On("tick", func(any) { calls++ })
	e.Emit("tick", nil)
	off()
	e.Emit("tick", nil)

	assert.Equal(t, 1, calls)

	// Releasing twice is harmless.
	off()
	e.Emit("tick", nil)
	assert.Equal(t, 1, calls)
}

func TestEmitter_UnsubscribeOnlyRemovesOwn(t *testing.T) {
	e := NewEmitter()

	var a, b int
	offA := e.On("tick", func(any) { a++ })
	e.On("tick", func(any) { b++ })

	offA()
	e.Emit("tick", nil)

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestEmitter_OnceFiresOnce(t *testing.T) {
	e := NewEmitter()

	calls := 0
	e.Once("ready", func(any) { calls++ })
	e.Emit("ready", nil)
	e.Emit("ready", nil)

	assert.Equal(t, 1, calls)
}

func TestEmitter_OnceRegisteredDuringEmits(t *testing.T) {
	// A concurrent emitter must never catch a half-registered once handler.
	e := NewEmitter()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				e.Emit("burst", nil)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		var calls atomic.Int32
		off := e.Once("burst", func(any) { calls.Add(1) })
		e.Emit("burst", nil)
		off()
		if n := calls.Load(); n > 1 {
			t.Fatalf("once handler ran %d times", n)
		}
	}
	close(stop)
	wg.Wait()
}

func TestEmitter_UnknownEventIsNoOp(t *testing.T) {
	e := NewEmitter()
	assert.NotPanics(t, func() { e.Emit("never-registered", nil) })
}

func TestEmitter_SubscribeDuringEmit(t *testing.T) {
	e := NewEmitter()

	late := 0
	e.On("tick", func(any) {
		// Registration during dispatch must not affect the current round.
		e.On("tick", func(any) { late++ })
	})

	e.Emit("tick", nil)
	assert.Equal(t, 0, late)

	e.Emit("tick", nil)
	assert.Equal(t, 1, late)
}

func TestEmitter_ConcurrentEmitAndSubscribe(t *testing.T) {
	e := NewEmitter()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			off := e.On("tick", func(any) {})
			off()
		}()
		go func() {
			defer wg.Done()
			e.Emit("tick", nil)
		}()
	}
	wg.Wait()
}
