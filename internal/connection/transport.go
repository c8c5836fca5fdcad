package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrNormalClosure is returned from Transport.ReadMessage when the peer
// closed the connection cleanly. The manager does not reconnect after it.
var ErrNormalClosure = errors.New("connection closed normally")

// Close codes forwarded to Transport.Close.
const (
	CloseNormal    = websocket.CloseNormalClosure
	CloseGoingAway = websocket.CloseGoingAway
)

// Transport is the minimal capability set the manager needs from a socket.
// It exists so the manager is constructible without a network stack; tests
// inject a fake.
type Transport interface {
	// ReadMessage blocks until the next inbound frame. A clean peer shutdown
	// is reported as ErrNormalClosure.
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close(code int, reason string) error
}

// Dialer opens a Transport to the given URL.
type Dialer interface {
	DialContext(ctx context.Context, url string, header http.Header) (Transport, error)
}

type wsDialer struct {
	dialer *websocket.Dialer
}

// NewWebsocketDialer returns the production Dialer backed by
// gorilla/websocket.
func NewWebsocketDialer() Dialer {
	return &wsDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
		},
	}
}

func (d *wsDialer) DialContext(ctx context.Context, url string, header http.Header) (Transport, error) {
	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return &wsTransport{conn: conn}, nil
}

type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrNormalClosure
		}
		return nil, err
	}
	return data, nil
}

func (t *wsTransport) WriteMessage(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	t.writeMu.Lock()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	t.writeMu.Unlock()
	return t.conn.Close()
}
