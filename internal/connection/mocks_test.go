package connection

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// fakeTransport is a scriptable Transport: tests feed inbound frames and
// read errors, and inspect everything the manager wrote.
type fakeTransport struct {
	mu         sync.Mutex
	writes     [][]byte
	closed     bool
	writeFails int

	inbound chan []byte
	readErr chan error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 4),
	}
}

func (t *fakeTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case err := <-t.readErr:
		return nil, err
	}
}

func (t *fakeTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	if t.writeFails > 0 {
		t.writeFails--
		return errors.New("write failed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.writes = append(t.writes, buf)
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	already := t.closed
	t.closed = true
	t.mu.Unlock()
	if !already {
		// Unblock any pending ReadMessage.
		select {
		case t.readErr <- ErrNormalClosure:
		default:
		}
	}
	return nil
}

// failWrites makes the next n WriteMessage calls return an error.
func (t *fakeTransport) failWrites(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeFails = n
}

// failRead makes the next ReadMessage return err.
func (t *fakeTransport) failRead(err error) {
	t.readErr <- err
}

// deliver feeds an inbound frame.
func (t *fakeTransport) deliver(data []byte) {
	t.inbound <- data
}

func (t *fakeTransport) written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// fakeDialer hands out scripted transports (or errors) in order and signals
// each dial on a channel so tests can synchronize with connect attempts.
type fakeDialer struct {
	mu      sync.Mutex
	script  []dialResult
	dialled chan *fakeTransport
	errored chan error
}

type dialResult struct {
	transport *fakeTransport
	err       error
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		dialled: make(chan *fakeTransport, 8),
		errored: make(chan error, 8),
	}
}

func (d *fakeDialer) queueTransport(t *fakeTransport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, dialResult{transport: t})
}

func (d *fakeDialer) queueError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, dialResult{err: err})
}

func (d *fakeDialer) DialContext(ctx context.Context, url string, header http.Header) (Transport, error) {
	d.mu.Lock()
	var next dialResult
	if len(d.script) > 0 {
		next = d.script[0]
		d.script = d.script[1:]
	} else {
		next = dialResult{transport: newFakeTransport()}
	}
	d.mu.Unlock()

	if next.err != nil {
		d.errored <- next.err
		return nil, next.err
	}
	d.dialled <- next.transport
	return next.transport, nil
}
