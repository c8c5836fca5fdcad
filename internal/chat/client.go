// Package chat composes the connection and history layers: outbound user
// messages are appended to history, the trimmed transcript is fetched and
// handed to the connection for transmission, and inbound responses are
// recorded to history before being surfaced to the subscriber.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/avralabs/chatlink/internal/connection"
	"github.com/avralabs/chatlink/internal/domain"
	"github.com/avralabs/chatlink/internal/event"
)

// Event names the client emits on top of the connection layer's own.
const (
	// EventMessage carries a domain.Message for every recorded assistant turn.
	EventMessage = "message"
	// EventChatError carries the *domain.Envelope of a chat_error frame.
	EventChatError = "chat_error_notice"
)

// ErrNotStarted is returned when a session command races a shutdown.
var ErrNotStarted = errors.New("session not started")

// Client wires a ConnectionManager and a HistoryManager together.
type Client struct {
	conn    *connection.Manager
	history historyManager
	events  *event.Emitter
	log     zerolog.Logger

	unsubscribe []func()
}

// historyManager is the slice of the history API the client needs; narrowed
// for testability with a fake.
type historyManager interface {
	SessionID() string
	SessionContext() map[string]any
	StartNewSession(sessionContext map[string]any) string
	AddUserMessage(content string) domain.Message
	AddAssistantMessage(content string, metadata map[string]any) domain.Message
	PrepareAPIPayload() []domain.Turn
	ClearHistory()
	EndSession()
	GetSessionInfo() domain.SessionInfo
}

// NewClient builds a client over an already-constructed connection manager
// and history manager sharing the given emitter.
func NewClient(conn *connection.Manager, history historyManager, events *event.Emitter, log zerolog.Logger) *Client {
	c := &Client{
		conn:    conn,
		history: history,
		events:  events,
		log:     log.With().Str("component", "chat").Logger(),
	}
	c.subscribe()
	return c
}

func (c *Client) subscribe() {
	c.unsubscribe = append(c.unsubscribe,
		c.events.On(domain.TypeChatResponse, func(payload any) {
			env, ok := payload.(*domain.Envelope)
			if !ok {
				return
			}
			c.handleChatResponse(env)
		}),
		c.events.On(domain.TypeChatError, func(payload any) {
			env, ok := payload.(*domain.Envelope)
			if !ok {
				return
			}
			c.log.Warn().Str("message_id", env.MessageID).Str("error", env.Error).Msg("chat error from backend")
			c.events.Emit(EventChatError, env)
		}),
		c.events.On(connection.EventConnected, func(any) {
			c.announceSession()
		}),
	)
}

// Start connects. The session itself is announced on every (re)connect.
func (c *Client) Start() {
	c.conn.Connect()
}

// announceSession sends session_start for the current session so the
// backend can associate the socket; fired on each successful connect.
func (c *Client) announceSession() {
	id := c.history.SessionID()
	if id == "" {
		return
	}
	c.conn.Send(domain.TypeSessionStart, map[string]any{
		"sessionId": id,
		"context":   c.history.SessionContext(),
	})
}

// StartSession starts a fresh session and waits for the backend's correlated
// session_started acknowledgment before returning. Uncorrelated acks, such
// as the one for a connect-time announcement, are skipped.
func (c *Client) StartSession(ctx context.Context, sessionContext map[string]any) (string, error) {
	id := c.history.StartNewSession(sessionContext)

	// Subscribe before sending so a fast ack cannot slip past; the
	// correlation check against our own message id happens below.
	acks := make(chan *domain.Envelope, 4)
	offStarted := c.events.On(domain.TypeSessionStarted, func(payload any) {
		if env, ok := payload.(*domain.Envelope); ok {
			select {
			case acks <- env:
			default:
			}
		}
	})
	defer offStarted()

	messageID := c.conn.Send(domain.TypeSessionStart, map[string]any{
		"sessionId": id,
		"context":   sessionContext,
	})
	if messageID == "" {
		return "", ErrNotStarted
	}

	timedOut := make(chan error, 1)
	offTimeout := c.events.On(connection.EventResponseTimeout, func(payload any) {
		if ev, ok := payload.(connection.TimeoutEvent); ok && ev.MessageID == messageID {
			select {
			case timedOut <- fmt.Errorf("session_start %s: no session_started before timeout", messageID):
			default:
			}
		}
	})
	defer offTimeout()

	for {
		select {
		case env := <-acks:
			if env.MessageID == messageID {
				return id, nil
			}
		case err := <-timedOut:
			return id, err
		case <-ctx.Done():
			return id, ctx.Err()
		}
	}
}

// SendMessage records a user turn, then transmits a chat frame carrying the
// full truncated transcript; the backend is stateless per the wire contract.
// Returns the correlation id of the chat frame.
func (c *Client) SendMessage(content string) string {
	if c.history.SessionID() == "" {
		c.history.StartNewSession(nil)
	}
	c.history.AddUserMessage(content)

	return c.conn.Send(domain.TypeChat, map[string]any{
		"content":   content,
		"sessionId": c.history.SessionID(),
		"messages":  c.history.PrepareAPIPayload(),
		"context":   c.history.SessionContext(),
	})
}

func (c *Client) handleChatResponse(env *domain.Envelope) {
	metadata := env.Metadata
	if len(env.Usage) > 0 {
		if metadata == nil {
			metadata = make(map[string]any, 1)
		}
		metadata["usage"] = env.Usage
	}

	msg := c.history.AddAssistantMessage(env.Content, metadata)
	c.events.Emit(EventMessage, msg)
}

// ResetSession clears the local history and tells the backend, keeping the
// session id. Fire and forget.
func (c *Client) ResetSession() {
	id := c.history.SessionID()
	c.history.ClearHistory()
	c.conn.Send(domain.TypeSessionReset, map[string]any{"sessionId": id})
}

// EndSession notifies the backend, then drops the active-session marker.
// Fire and forget; the persisted record stays retrievable by id.
func (c *Client) EndSession() {
	id := c.history.SessionID()
	if id != "" {
		c.conn.Send(domain.TypeSessionEnd, map[string]any{"sessionId": id})
	}
	c.history.EndSession()
}

// SessionInfo exposes the history diagnostics snapshot.
func (c *Client) SessionInfo() domain.SessionInfo {
	return c.history.GetSessionInfo()
}

// Close releases the client's subscriptions and permanently disconnects.
func (c *Client) Close() {
	for _, off := range c.unsubscribe {
		off()
	}
	c.unsubscribe = nil
	c.conn.Disconnect()
}
