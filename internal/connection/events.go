package connection

import "time"

// Event names emitted through the shared emitter. Inbound envelopes are
// additionally emitted under their own canonical type name (for example
// "chat_response") with a *domain.Envelope payload.
const (
	EventConnected       = "connected"
	EventDisconnected    = "disconnected"
	EventReconnecting    = "reconnecting"
	EventReconnectFailed = "reconnect_failed"
	EventResponseTimeout = "response_timeout"
	EventParseError      = "parse_error"
	EventUnknownMessage  = "unknown_message"
	EventTransportError  = "transport_error"
)

// ConnectedEvent reports a successful transport open.
type ConnectedEvent struct {
	ConnectedAt time.Time
}

// DisconnectedEvent reports a transport close. Normal is true for clean,
// intentional shutdowns, which are never auto-reconnected.
type DisconnectedEvent struct {
	Normal bool
	Err    error
}

// ReconnectingEvent reports a scheduled reconnect attempt and its backoff
// delay, enough to render a status indicator without polling.
type ReconnectingEvent struct {
	Attempt int
	Delay   time.Duration
}

// ReconnectFailedEvent is the terminal signal after the attempt budget is
// spent; no further automatic recovery follows.
type ReconnectFailedEvent struct {
	Attempts int
}

// TimeoutEvent reports that no correlated response arrived in time for the
// given message. Reporting only; retry is the caller's decision.
type TimeoutEvent struct {
	MessageID string
	SentAt    time.Time
}

// ParseErrorEvent reports an unparseable inbound payload. The frame is
// dropped and the connection preserved.
type ParseErrorEvent struct {
	Err error
	Raw []byte
}
