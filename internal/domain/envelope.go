package domain

import "time"

// Wire message types. The set is open for forward compatibility; anything
// not listed here dispatches as an unknown message on the receiving side.
const (
	TypePing           = "ping"
	TypePong           = "pong"
	TypeChat           = "chat"
	TypeChatResponse   = "chat_response"
	TypeChatError      = "chat_error"
	TypeTyping         = "typing"
	TypeSessionStart   = "session_start"
	TypeSessionStarted = "session_started"
	TypeSessionEnd     = "session_end"
	TypeSessionEnded   = "session_ended"
	TypeSessionReset   = "session_reset"
	TypeSystem         = "system"
	TypeError          = "error"

	// Legacy camel-case spelling still emitted by older backends.
	TypeChatResponseCamel = "chatResponse"
)

// Envelope is the structured frame exchanged over the transport in both
// directions. Type-specific fields are optional and omitted when empty.
type Envelope struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`

	SessionID string         `json:"sessionId,omitempty"`
	Content   string         `json:"content,omitempty"`
	Messages  []Turn         `json:"messages,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Usage     map[string]any `json:"usage,omitempty"`
	IsTyping  *bool          `json:"isTyping,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// NewEnvelope stamps a frame with its type, correlation id and creation time.
func NewEnvelope(msgType, messageID string) *Envelope {
	return &Envelope{
		Type:      msgType,
		MessageID: messageID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}
