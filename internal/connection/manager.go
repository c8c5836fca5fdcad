// Package connection owns the single long-lived websocket to the chat
// backend: reconnection with exponential backoff, a drop-oldest outbound
// queue for frames sent while disconnected, request/response correlation
// with per-message timeouts, and a heartbeat while connected.
package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/avralabs/chatlink/internal/domain"
	"github.com/avralabs/chatlink/internal/event"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	// StateClosed is terminal; only an explicit Disconnect enters it.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config controls the manager's reconnection, queueing and timeout policy.
type Config struct {
	URL       string
	AuthToken string

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	OpenTimeout          time.Duration
	HeartbeatInterval    time.Duration
	ResponseTimeout      time.Duration
	QueueCapacity        int

	// ReplyTypes are the outbound types that expect a correlated response
	// and therefore register a pending-request timeout.
	ReplyTypes []string
}

func (c *Config) applyDefaults() {
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.OpenTimeout == 0 {
		c.OpenTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 30 * time.Second
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 50
	}
	if c.ReplyTypes == nil {
		c.ReplyTypes = []string{domain.TypeChat, domain.TypeSessionStart}
	}
}

// pendingRequest tracks one in-flight request awaiting a correlated
// response. At most one per message id.
type pendingRequest struct {
	messageID string
	sentAt    time.Time
	timer     *time.Timer
}

// Manager maintains exactly one logical connection to the backend and hides
// transient failures from callers. Send never returns a connection error;
// failures surface as events.
type Manager struct {
	cfg        Config
	dialer     Dialer
	events     *event.Emitter
	log        zerolog.Logger
	replyTypes map[string]struct{}
	counter    uint64

	mu             sync.Mutex
	state          State
	transport      Transport
	gen            int
	attempts       int
	connectedAt    time.Time
	queue          *outboundQueue
	pending        map[string]*pendingRequest
	reconnectTimer *time.Timer
	heartbeatStop  chan struct{}
}

// NewManager builds a manager. A nil dialer selects the production websocket
// dialer; tests pass a fake.
func NewManager(cfg Config, dialer Dialer, events *event.Emitter, log zerolog.Logger) *Manager {
	cfg.applyDefaults()
	if dialer == nil {
		dialer = NewWebsocketDialer()
	}
	replyTypes := make(map[string]struct{}, len(cfg.ReplyTypes))
	for _, t := range cfg.ReplyTypes {
		replyTypes[t] = struct{}{}
	}
	return &Manager{
		cfg:        cfg,
		dialer:     dialer,
		events:     events,
		log:        log.With().Str("component", "connection").Logger(),
		replyTypes: replyTypes,
		state:      StateDisconnected,
		queue:      newOutboundQueue(cfg.QueueCapacity),
		pending:    make(map[string]*pendingRequest),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// QueueLen reports the number of frames waiting for a connection.
func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queue.len()
}

// Connect starts the initial connection attempt. It is a no-op unless the
// manager is disconnected.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.dial(gen)
}

func (m *Manager) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpenTimeout)
	defer cancel()

	header := http.Header{}
	if m.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+m.cfg.AuthToken)
	}

	t, err := m.dialer.DialContext(ctx, m.cfg.URL, header)

	m.mu.Lock()
	if gen != m.gen || m.state == StateClosed {
		m.mu.Unlock()
		if t != nil {
			_ = t.Close(CloseNormal, "superseded")
		}
		return
	}

	if err != nil {
		m.log.Warn().Err(err).Int("attempt", m.attempts+1).Msg("connection attempt failed")
		m.state = StateDisconnected
		retry := m.scheduleReconnectLocked()
		m.mu.Unlock()

		m.events.Emit(EventTransportError, err)
		m.emitRetryOutcome(retry)
		return
	}

	connectedAt := time.Now()
	m.transport = t
	m.state = StateConnected
	m.attempts = 0
	m.connectedAt = connectedAt
	m.startHeartbeatLocked(gen)
	frames := m.queue.drain()
	m.mu.Unlock()

	m.log.Info().Int("queued_frames", len(frames)).Msg("connected")
	m.events.Emit(EventConnected, ConnectedEvent{ConnectedAt: connectedAt})

	// Flush in call order. On a write failure the failed frame and the
	// unsent remainder go back to the head of the queue for the next
	// connect; the broken transport itself surfaces through the read loop.
	for i, frame := range frames {
		if err := t.WriteMessage(frame); err != nil {
			m.mu.Lock()
			m.queue.requeue(frames[i:])
			m.mu.Unlock()
			m.events.Emit(EventTransportError, fmt.Errorf("queue flush failed: %w", err))
			break
		}
	}

	go m.readLoop(t, gen)
}

func (m *Manager) readLoop(t Transport, gen int) {
	for {
		data, err := t.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handleMessage(data)
	}
}

// retryPlan carries the events to emit after a disconnection decision; the
// decision itself is taken under the lock, emission never is.
type retryPlan struct {
	scheduled bool
	attempt   int
	delay     time.Duration
	exhausted bool
	attempts  int
}

// scheduleReconnectLocked increments the attempt counter and either arms the
// backoff timer or reports exhaustion. Callers hold m.mu.
func (m *Manager) scheduleReconnectLocked() retryPlan {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		return retryPlan{exhausted: true, attempts: m.attempts}
	}
	m.attempts++
	attempt := m.attempts
	delay := m.backoffDelay(attempt)

	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if m.state != StateDisconnected {
			m.mu.Unlock()
			return
		}
		m.state = StateConnecting
		m.gen++
		gen := m.gen
		m.mu.Unlock()
		m.dial(gen)
	})

	return retryPlan{scheduled: true, attempt: attempt, delay: delay}
}

func (m *Manager) emitRetryOutcome(plan retryPlan) {
	if plan.scheduled {
		m.log.Info().Int("attempt", plan.attempt).Dur("delay", plan.delay).Msg("reconnect scheduled")
		m.events.Emit(EventReconnecting, ReconnectingEvent{Attempt: plan.attempt, Delay: plan.delay})
	}
	if plan.exhausted {
		m.log.Error().Int("attempts", plan.attempts).Msg("max reconnect attempts reached")
		m.events.Emit(EventReconnectFailed, ReconnectFailedEvent{Attempts: plan.attempts})
	}
}

// backoffDelay returns min(base * 2^(attempt-1), cap).
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.cfg.ReconnectMaxDelay || delay <= 0 {
			return m.cfg.ReconnectMaxDelay
		}
	}
	if delay > m.cfg.ReconnectMaxDelay {
		return m.cfg.ReconnectMaxDelay
	}
	return delay
}

func (m *Manager) handleClose(gen int, err error) {
	m.mu.Lock()
	if gen != m.gen || m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.stopHeartbeatLocked()
	m.transport = nil
	m.state = StateDisconnected

	normal := err == ErrNormalClosure
	var retry retryPlan
	if !normal {
		retry = m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	if normal {
		m.log.Info().Msg("connection closed")
	} else {
		m.log.Warn().Err(err).Msg("connection lost")
	}
	m.events.Emit(EventDisconnected, DisconnectedEvent{Normal: normal, Err: err})
	m.emitRetryOutcome(retry)
}

// Send constructs an envelope from type and payload and transmits it,
// queueing when not connected. Returns the generated message id. Connection
// failures are never returned; they surface as events.
func (m *Manager) Send(msgType string, payload map[string]any) string {
	messageID := m.nextMessageID()

	frame := make(map[string]any, len(payload)+3)
	for k, v := range payload {
		frame[k] = v
	}
	frame["type"] = msgType
	frame["messageId"] = messageID
	frame["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(frame)
	if err != nil {
		m.events.Emit(EventTransportError, fmt.Errorf("marshal %s envelope: %w", msgType, err))
		return ""
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		m.log.Debug().Str("type", msgType).Msg("send after shutdown dropped")
		return ""
	}

	if _, expectsReply := m.replyTypes[msgType]; expectsReply {
		m.registerPendingLocked(messageID)
	}

	if m.state == StateConnected && m.transport != nil {
		t := m.transport
		m.mu.Unlock()
		if err := t.WriteMessage(data); err != nil {
			m.events.Emit(EventTransportError, fmt.Errorf("write %s: %w", msgType, err))
			m.mu.Lock()
			m.queue.push(data)
			m.mu.Unlock()
		}
		return messageID
	}

	dropped := m.queue.push(data)
	queued := m.queue.len()
	m.mu.Unlock()

	if dropped {
		m.log.Warn().Str("type", msgType).Msg("outbound queue full, oldest frame dropped")
	}
	m.log.Debug().Str("type", msgType).Int("queued", queued).Msg("frame queued while disconnected")
	return messageID
}

// registerPendingLocked arms the response timeout for a message id. Callers
// hold m.mu.
func (m *Manager) registerPendingLocked(messageID string) {
	p := &pendingRequest{messageID: messageID, sentAt: time.Now()}
	p.timer = time.AfterFunc(m.cfg.ResponseTimeout, func() {
		m.timeoutPending(messageID)
	})
	m.pending[messageID] = p
}

func (m *Manager) timeoutPending(messageID string) {
	m.mu.Lock()
	p, ok := m.pending[messageID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, messageID)
	m.mu.Unlock()

	m.log.Warn().Str("message_id", messageID).Msg("response timeout")
	m.events.Emit(EventResponseTimeout, TimeoutEvent{MessageID: messageID, SentAt: p.sentAt})
}

// resolvePending releases the timeout for a correlated response. A late
// response after timeout finds nothing and is a no-op.
func (m *Manager) resolvePending(messageID string) {
	m.mu.Lock()
	p, ok := m.pending[messageID]
	if ok {
		p.timer.Stop()
		delete(m.pending, messageID)
	}
	m.mu.Unlock()
}

func (m *Manager) handleMessage(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.log.Warn().Err(err).Msg("unparseable inbound frame")
		m.events.Emit(EventParseError, ParseErrorEvent{Err: err, Raw: data})
		return
	}

	if env.MessageID != "" {
		m.resolvePending(env.MessageID)
	}

	msgType := env.Type
	if msgType == domain.TypeChatResponseCamel {
		msgType = domain.TypeChatResponse
	}

	switch msgType {
	case domain.TypePing:
		m.Send(domain.TypePong, nil)
		m.events.Emit(domain.TypePing, &env)
	case domain.TypePong,
		domain.TypeChatResponse,
		domain.TypeChatError,
		domain.TypeTyping,
		domain.TypeSessionStarted,
		domain.TypeSessionEnded,
		domain.TypeSystem,
		domain.TypeError:
		m.events.Emit(msgType, &env)
	default:
		m.log.Warn().Str("type", env.Type).Msg("unknown message type")
		m.events.Emit(EventUnknownMessage, &env)
	}
}

func (m *Manager) startHeartbeatLocked(gen int) {
	m.stopHeartbeatLocked()
	stop := make(chan struct{})
	m.heartbeatStop = stop

	go func() {
		ticker := time.NewTicker(m.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.mu.Lock()
				if gen != m.gen || m.state != StateConnected || m.transport == nil {
					m.mu.Unlock()
					return
				}
				t := m.transport
				m.mu.Unlock()

				data, _ := json.Marshal(domain.NewEnvelope(domain.TypePing, m.nextMessageID()))
				if err := t.WriteMessage(data); err != nil {
					m.log.Debug().Err(err).Msg("heartbeat write failed")
				}
			}
		}
	}()
}

func (m *Manager) stopHeartbeatLocked() {
	if m.heartbeatStop != nil {
		close(m.heartbeatStop)
		m.heartbeatStop = nil
	}
}

// ForceReconnect closes the current transport with a normal-closure code
// (suppressing the automatic path for that closure), resets the attempt
// counter and immediately re-enters Connecting.
func (m *Manager) ForceReconnect() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.gen++
	gen := m.gen
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	t := m.transport
	m.transport = nil
	m.attempts = 0
	m.state = StateConnecting
	m.mu.Unlock()

	if t != nil {
		_ = t.Close(CloseNormal, "client reconnect")
	}
	m.log.Info().Msg("forcing reconnect")
	go m.dial(gen)
}

// Disconnect permanently shuts the manager down: every timer and pending
// timeout is cancelled, the transport is closed with a normal code, and no
// reconnection will ever be scheduled again.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.state = StateClosed
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.stopHeartbeatLocked()
	for id, p := range m.pending {
		p.timer.Stop()
		delete(m.pending, id)
	}
	t := m.transport
	m.transport = nil
	m.mu.Unlock()

	if t != nil {
		_ = t.Close(CloseNormal, "client shutdown")
	}
	m.log.Info().Msg("disconnected")
	m.events.Emit(EventDisconnected, DisconnectedEvent{Normal: true})
}

func (m *Manager) nextMessageID() string {
	n := atomic.AddUint64(&m.counter, 1)
	return fmt.Sprintf("msg_%d_%d", time.Now().UnixMilli(), n)
}
