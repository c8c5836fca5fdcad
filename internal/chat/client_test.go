package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avralabs/chatlink/internal/connection"
	"github.com/avralabs/chatlink/internal/domain"
	"github.com/avralabs/chatlink/internal/event"
	"github.com/avralabs/chatlink/internal/history"
)

type harness struct {
	client    *Client
	transport *stubTransport
	dialer    *stubDialer
	events    *event.Emitter
}

func newHarness(t *testing.T, responseTimeout time.Duration) *harness {
	t.Helper()

	dialer := &stubDialer{}
	transport := newStubTransport()
	dialer.queue(transport)

	events := event.NewEmitter()
	conn := connection.NewManager(connection.Config{
		URL:                "ws://test.invalid/ws",
		ReconnectBaseDelay: 10 * time.Millisecond,
		ResponseTimeout:    responseTimeout,
	}, dialer, events, zerolog.Nop())

	hist := history.NewManager(history.Config{}, nil, zerolog.Nop())
	client := NewClient(conn, hist, events, zerolog.Nop())
	t.Cleanup(client.Close)

	connected := make(chan struct{}, 1)
	off := events.On(connection.EventConnected, func(any) {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	defer off()

	client.Start()
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not connect")
	}

	return &harness{client: client, transport: transport, dialer: dialer, events: events}
}

// lastFrameOfType waits for a written frame with the given type and returns
// its decoded form.
func (h *harness) lastFrameOfType(t *testing.T, msgType string) map[string]any {
	t.Helper()
	var found map[string]any
	require.Eventually(t, func() bool {
		for _, raw := range h.transport.written() {
			var frame map[string]any
			if json.Unmarshal(raw, &frame) == nil && frame["type"] == msgType {
				found = frame
			}
		}
		return found != nil
	}, 2*time.Second, 5*time.Millisecond, "no %s frame written", msgType)
	return found
}

func TestClient_ConnectAnnouncesSession(t *testing.T) {
	h := newHarness(t, time.Minute)

	frame := h.lastFrameOfType(t, domain.TypeSessionStart)
	assert.Equal(t, h.client.SessionInfo().ID, frame["sessionId"])
}

func TestClient_SendMessageCarriesFullTranscript(t *testing.T) {
	h := newHarness(t, time.Minute)

	id := h.client.SendMessage("hello")
	require.NotEmpty(t, id)

	frame := h.lastFrameOfType(t, domain.TypeChat)
	assert.Equal(t, "hello", frame["content"])
	assert.Equal(t, h.client.SessionInfo().ID, frame["sessionId"])

	messages, ok := frame["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "hello", first["content"])

	// Record a reply, then send again: the transcript now carries all
	// three turns in order.
	resp, _ := json.Marshal(map[string]any{
		"type": "chat_response", "messageId": id, "content": "hi there",
	})
	h.transport.deliver(resp)

	require.Eventually(t, func() bool {
		return h.client.SessionInfo().MessageCount == 2
	}, 2*time.Second, 5*time.Millisecond)

	h.client.SendMessage("second question")

	var transcript []any
	require.Eventually(t, func() bool {
		for _, raw := range h.transport.written() {
			var frame map[string]any
			if json.Unmarshal(raw, &frame) == nil && frame["content"] == "second question" {
				transcript, _ = frame["messages"].([]any)
			}
		}
		return len(transcript) == 3
	}, 2*time.Second, 5*time.Millisecond)

	roles := make([]string, 0, 3)
	for _, turn := range transcript {
		roles = append(roles, turn.(map[string]any)["role"].(string))
	}
	assert.Equal(t, []string{"user", "assistant", "user"}, roles)
}

func TestClient_ChatResponseRecordedAndEmitted(t *testing.T) {
	h := newHarness(t, time.Minute)

	received := make(chan domain.Message, 1)
	h.events.On(EventMessage, func(payload any) {
		if msg, ok := payload.(domain.Message); ok {
			received <- msg
		}
	})

	id := h.client.SendMessage("what can you do?")
	resp, _ := json.Marshal(map[string]any{
		"type":      "chat_response",
		"messageId": id,
		"content":   "plenty",
		"metadata":  map[string]any{"model": "echo-1"},
		"usage":     map[string]any{"total_tokens": 12},
	})
	h.transport.deliver(resp)

	select {
	case msg := <-received:
		assert.Equal(t, domain.RoleAssistant, msg.Role)
		assert.Equal(t, "plenty", msg.Content)
		assert.Equal(t, "echo-1", msg.Metadata["model"])
		usage, ok := msg.Metadata["usage"].(map[string]any)
		require.True(t, ok)
		assert.EqualValues(t, 12, usage["total_tokens"])
	case <-time.After(2 * time.Second):
		t.Fatal("no message event")
	}

	assert.Equal(t, 2, h.client.SessionInfo().MessageCount, "assistant turn recorded to history")
}

func TestClient_ChatErrorSurfacesAsNotice(t *testing.T) {
	h := newHarness(t, time.Minute)

	notices := make(chan *domain.Envelope, 1)
	h.events.On(EventChatError, func(payload any) {
		if env, ok := payload.(*domain.Envelope); ok {
			notices <- env
		}
	})

	frame, _ := json.Marshal(map[string]any{
		"type": "chat_error", "messageId": "msg_x", "error": "provider unavailable",
	})
	h.transport.deliver(frame)

	select {
	case env := <-notices:
		assert.Equal(t, "provider unavailable", env.Error)
	case <-time.After(2 * time.Second):
		t.Fatal("no chat error notice")
	}
}

func TestClient_StartSessionWaitsForAck(t *testing.T) {
	h := newHarness(t, time.Minute)
	before := h.client.SessionInfo().ID

	// Ack the session_start frame as soon as it appears on the wire.
	go func() {
		deadline := time.After(2 * time.Second)
		for {
			for _, raw := range h.transport.written() {
				var frame map[string]any
				if json.Unmarshal(raw, &frame) != nil || frame["type"] != "session_start" {
					continue
				}
				if frame["sessionId"] == before {
					continue // the connect-time announcement
				}
				ack, _ := json.Marshal(map[string]any{
					"type":      "session_started",
					"messageId": frame["messageId"],
					"sessionId": frame["sessionId"],
				})
				h.transport.deliver(ack)
				return
			}
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := h.client.StartSession(ctx, map[string]any{"page": "/pricing"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NotEqual(t, before, id)
	assert.Equal(t, id, h.client.SessionInfo().ID)
}

func TestClient_StartSessionIgnoresUncorrelatedAck(t *testing.T) {
	h := newHarness(t, 60*time.Millisecond)
	before := h.client.SessionInfo().ID

	// Answer the new session_start frame with an ack for some other
	// request; the wait must not be satisfied by it.
	go func() {
		deadline := time.After(2 * time.Second)
		for {
			for _, raw := range h.transport.written() {
				var frame map[string]any
				if json.Unmarshal(raw, &frame) != nil || frame["type"] != "session_start" {
					continue
				}
				if frame["sessionId"] == before {
					continue
				}
				stray, _ := json.Marshal(map[string]any{
					"type":      "session_started",
					"messageId": "msg_someone_else",
				})
				h.transport.deliver(stray)
				return
			}
			select {
			case <-deadline:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := h.client.StartSession(ctx, nil)
	assert.Error(t, err, "an ack for another request must not satisfy the wait")
}

func TestClient_StartSessionTimesOutWithoutAck(t *testing.T) {
	h := newHarness(t, 30*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := h.client.StartSession(ctx, nil)
	assert.NotEmpty(t, id, "the session exists locally even when the ack never comes")
	assert.Error(t, err)
}

func TestClient_ResetSessionKeepsID(t *testing.T) {
	h := newHarness(t, time.Minute)

	h.client.SendMessage("to be forgotten")
	id := h.client.SessionInfo().ID
	h.client.ResetSession()

	assert.Equal(t, id, h.client.SessionInfo().ID)
	assert.Equal(t, 0, h.client.SessionInfo().MessageCount)

	frame := h.lastFrameOfType(t, domain.TypeSessionReset)
	assert.Equal(t, id, frame["sessionId"])
}

func TestClient_EndSessionNotifiesBackend(t *testing.T) {
	h := newHarness(t, time.Minute)
	id := h.client.SessionInfo().ID

	h.client.EndSession()

	frame := h.lastFrameOfType(t, domain.TypeSessionEnd)
	assert.Equal(t, id, frame["sessionId"])
	assert.Empty(t, h.client.SessionInfo().ID)
}

func TestClient_ReconnectReannouncesSession(t *testing.T) {
	h := newHarness(t, time.Minute)
	id := h.client.SessionInfo().ID

	second := newStubTransport()
	h.dialer.queue(second)
	h.transport.failRead(errors.New("connection reset"))

	require.Eventually(t, func() bool {
		for _, raw := range second.written() {
			var frame map[string]any
			if json.Unmarshal(raw, &frame) == nil &&
				frame["type"] == "session_start" && frame["sessionId"] == id {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond, "session not re-announced on the new transport")
}
