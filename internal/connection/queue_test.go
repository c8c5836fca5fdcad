package connection

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutboundQueue_FIFO(t *testing.T) {
	q := newOutboundQueue(5)

	for i := 0; i < 3; i++ {
		dropped := q.push([]byte(fmt.Sprintf("frame-%d", i)))
		assert.False(t, dropped)
	}
	assert.Equal(t, 3, q.len())

	frames := q.drain()
	assert.Len(t, frames, 3)
	for i, frame := range frames {
		assert.Equal(t, fmt.Sprintf("frame-%d", i), string(frame))
	}
	assert.Equal(t, 0, q.len())
}

func TestOutboundQueue_DropOldestOnOverflow(t *testing.T) {
	q := newOutboundQueue(3)

	// Insert capacity+2 frames; exactly the two oldest must be gone.
	for i := 0; i < 5; i++ {
		dropped := q.push([]byte(fmt.Sprintf("frame-%d", i)))
		assert.Equal(t, i >= 3, dropped, "push %d", i)
	}

	frames := q.drain()
	assert.Len(t, frames, 3)
	assert.Equal(t, "frame-2", string(frames[0]))
	assert.Equal(t, "frame-3", string(frames[1]))
	assert.Equal(t, "frame-4", string(frames[2]))
}

func TestOutboundQueue_DrainEmpty(t *testing.T) {
	q := newOutboundQueue(2)
	assert.Empty(t, q.drain())
}

func TestOutboundQueue_RequeuePrepends(t *testing.T) {
	q := newOutboundQueue(4)
	q.push([]byte("c"))
	q.push([]byte("d"))
	q.requeue([][]byte{[]byte("a"), []byte("b")})

	frames := q.drain()
	assert.Len(t, frames, 4)
	for i, want := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, want, string(frames[i]))
	}
}

func TestOutboundQueue_RequeueOverflowDropsOldest(t *testing.T) {
	q := newOutboundQueue(3)
	q.push([]byte("c"))
	q.push([]byte("d"))
	q.requeue([][]byte{[]byte("a"), []byte("b")})

	frames := q.drain()
	assert.Len(t, frames, 3)
	assert.Equal(t, "b", string(frames[0]))
	assert.Equal(t, "c", string(frames[1]))
	assert.Equal(t, "d", string(frames[2]))
}
