package chat

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/avralabs/chatlink/internal/connection"
)

// stubTransport implements connection.Transport: tests feed inbound frames
// and inspect writes.
type stubTransport struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool

	inbound chan []byte
	readErr chan error
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		inbound: make(chan []byte, 16),
		readErr: make(chan error, 4),
	}
}

func (t *stubTransport) ReadMessage() ([]byte, error) {
	select {
	case data := <-t.inbound:
		return data, nil
	case err := <-t.readErr:
		return nil, err
	}
}

func (t *stubTransport) WriteMessage(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.writes = append(t.writes, buf)
	return nil
}

func (t *stubTransport) Close(code int, reason string) error {
	t.mu.Lock()
	already := t.closed
	t.closed = true
	t.mu.Unlock()
	if !already {
		select {
		case t.readErr <- connection.ErrNormalClosure:
		default:
		}
	}
	return nil
}

func (t *stubTransport) deliver(data []byte) {
	t.inbound <- data
}

func (t *stubTransport) failRead(err error) {
	t.readErr <- err
}

func (t *stubTransport) written() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.writes))
	copy(out, t.writes)
	return out
}

// stubDialer returns scripted transports in order, then fresh ones.
type stubDialer struct {
	mu     sync.Mutex
	script []*stubTransport
}

func (d *stubDialer) queue(t *stubTransport) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.script = append(d.script, t)
}

func (d *stubDialer) DialContext(ctx context.Context, url string, header http.Header) (connection.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.script) > 0 {
		next := d.script[0]
		d.script = d.script[1:]
		return next, nil
	}
	return newStubTransport(), nil
}
