package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/avralabs/chatlink/internal/api/response"
	"github.com/avralabs/chatlink/internal/domain"
	"github.com/avralabs/chatlink/internal/llm"
	"github.com/avralabs/chatlink/internal/repository/postgres"
	"github.com/avralabs/chatlink/internal/repository/redis"
	"github.com/avralabs/chatlink/internal/security"
)

// WSHandler implements the server side of the widget wire protocol: one
// websocket per widget, frames handled in arrival order.
type WSHandler struct {
	jwtManager *security.JWTManager        // nil disables auth
	llmRouter  *llm.Router
	limiter    *redis.RateLimiter          // nil disables rate limiting
	archive    *postgres.ArchiveRepository // nil disables archiving
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new websocket handler
func NewWSHandler(jwtManager *security.JWTManager, llmRouter *llm.Router, limiter *redis.RateLimiter, archive *postgres.ArchiveRepository, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		jwtManager: jwtManager,
		llmRouter:  llmRouter,
		limiter:    limiter,
		archive:    archive,
		log:        log.With().Str("component", "ws").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Widgets embed on arbitrary pages; origin policy is enforced
			// through the token's origin claim instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and runs the per-connection loop
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	widgetID := "anonymous"
	if h.jwtManager != nil {
		token := bearerToken(r)
		if token == "" {
			response.Unauthorized(w, "missing connection token")
			return
		}
		claims, err := h.jwtManager.ValidateToken(token)
		if err != nil {
			response.Unauthorized(w, "invalid connection token")
			return
		}
		widgetID = claims.WidgetID
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := &wsSession{
		handler:  h,
		conn:     conn,
		widgetID: widgetID,
		log:      h.log.With().Str("widget_id", widgetID).Logger(),
	}
	sess.run()
}

// bearerToken pulls the token from the Authorization header or, for browser
// clients that cannot set headers on a websocket, the token query parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return r.URL.Query().Get("token")
}

type wsSession struct {
	handler  *WSHandler
	conn     *websocket.Conn
	widgetID string
	log      zerolog.Logger

	writeMu   sync.Mutex
	sessionID string
}

func (s *wsSession) run() {
	defer s.conn.Close()
	s.log.Info().Msg("widget connected")

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Info().Msg("widget disconnected")
			} else {
				s.log.Warn().Err(err).Msg("read failed")
			}
			return
		}
		s.handleFrame(data)
	}
}

func (s *wsSession) handleFrame(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendError("", "invalid payload: not parseable")
		return
	}

	switch env.Type {
	case domain.TypePing:
		pong := domain.NewEnvelope(domain.TypePong, env.MessageID)
		s.send(pong)
	case domain.TypePong:
		// Reply to our own probe; nothing to do.
	case domain.TypeChat:
		s.handleChat(&env)
	case domain.TypeSessionStart:
		s.sessionID = env.SessionID
		started := domain.NewEnvelope(domain.TypeSessionStarted, env.MessageID)
		started.SessionID = env.SessionID
		s.send(started)
		s.log.Info().Str("session_id", env.SessionID).Msg("session started")
	case domain.TypeSessionEnd:
		ended := domain.NewEnvelope(domain.TypeSessionEnded, env.MessageID)
		ended.SessionID = env.SessionID
		s.send(ended)
		if s.handler.limiter != nil {
			_ = s.handler.limiter.Reset(context.Background(), s.widgetID)
		}
		s.sessionID = ""
	case domain.TypeSessionReset:
		ack := domain.NewEnvelope(domain.TypeSystem, env.MessageID)
		ack.Content = "session reset"
		ack.SessionID = env.SessionID
		s.send(ack)
	default:
		s.sendError(env.MessageID, fmt.Sprintf("unknown message type: %s", env.Type))
	}
}

func (s *wsSession) handleChat(env *domain.Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	if s.handler.limiter != nil {
		allowed, remaining, reset, err := s.handler.limiter.Allow(ctx, s.widgetID)
		if err != nil {
			s.log.Warn().Err(err).Msg("rate limit check failed, allowing")
		} else if !allowed {
			s.sendChatError(env.MessageID, fmt.Sprintf("rate limit exceeded, retry after %s", time.Until(reset).Round(time.Second)))
			return
		} else {
			s.log.Debug().Int("remaining", remaining).Msg("rate limit ok")
		}
	}

	if len(env.Messages) == 0 {
		s.sendChatError(env.MessageID, "chat frame carries no transcript")
		return
	}

	s.setTyping(true)
	defer s.setTyping(false)

	provider, err := s.handler.llmRouter.GetProvider("")
	if err != nil {
		s.sendChatError(env.MessageID, "no reply provider available")
		return
	}

	result, err := provider.Reply(ctx, llm.Request{
		Messages: env.Messages,
		Context:  env.Context,
	})
	if err != nil {
		s.log.Error().Err(err).Msg("reply generation failed")
		s.sendChatError(env.MessageID, "failed to generate a reply")
		return
	}

	resp := domain.NewEnvelope(domain.TypeChatResponse, env.MessageID)
	resp.SessionID = env.SessionID
	resp.Content = result.Content
	resp.Metadata = map[string]any{
		"model":         result.Model,
		"provider":      provider.Name(),
		"processing_ms": result.LatencyMs,
	}
	if result.TokensUsed > 0 {
		resp.Usage = map[string]any{"total_tokens": result.TokensUsed}
	}
	s.send(resp)

	if s.handler.archive != nil {
		ex := &postgres.Exchange{
			MessageID:   env.MessageID,
			SessionID:   env.SessionID,
			WidgetID:    s.widgetID,
			UserContent: env.Content,
			Reply:       result.Content,
			Metadata:    resp.Metadata,
			CreatedAt:   time.Now().UTC(),
		}
		if err := s.handler.archive.Create(ctx, ex); err != nil {
			s.log.Warn().Err(err).Msg("archive write failed")
		}
	}
}

func (s *wsSession) setTyping(on bool) {
	env := domain.NewEnvelope(domain.TypeTyping, "")
	env.IsTyping = &on
	env.SessionID = s.sessionID
	s.send(env)
}

func (s *wsSession) sendChatError(messageID, message string) {
	env := domain.NewEnvelope(domain.TypeChatError, messageID)
	env.Error = message
	s.send(env)
}

func (s *wsSession) sendError(messageID, message string) {
	env := domain.NewEnvelope(domain.TypeError, messageID)
	env.Error = message
	s.send(env)
}

func (s *wsSession) send(env *domain.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		s.log.Error().Err(err).Str("type", env.Type).Msg("marshal failed")
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log.Debug().Err(err).Str("type", env.Type).Msg("write failed")
	}
}
