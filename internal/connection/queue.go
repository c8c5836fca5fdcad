package connection

// outboundQueue holds frames awaiting transmission while disconnected.
// Bounded FIFO with drop-oldest on overflow: when full, the head is evicted
// to admit the newest frame.
type outboundQueue struct {
	capacity int
	frames   [][]byte
}

func newOutboundQueue(capacity int) *outboundQueue {
	return &outboundQueue{capacity: capacity}
}

// push appends a frame, evicting the oldest entry first when at capacity.
// Returns true when an eviction happened.
func (q *outboundQueue) push(frame []byte) (dropped bool) {
	if len(q.frames) >= q.capacity {
		q.frames = q.frames[1:]
		dropped = true
	}
	q.frames = append(q.frames, frame)
	return dropped
}

// requeue puts frames back at the head, ahead of anything queued since,
// trimming oldest entries when the result exceeds capacity.
func (q *outboundQueue) requeue(frames [][]byte) {
	if len(frames) == 0 {
		return
	}
	combined := make([][]byte, 0, len(frames)+len(q.frames))
	combined = append(combined, frames...)
	combined = append(combined, q.frames...)
	if len(combined) > q.capacity {
		combined = combined[len(combined)-q.capacity:]
	}
	q.frames = combined
}

// drain returns all queued frames in FIFO order and empties the queue.
func (q *outboundQueue) drain() [][]byte {
	frames := q.frames
	q.frames = nil
	return frames
}

func (q *outboundQueue) len() int {
	return len(q.frames)
}
