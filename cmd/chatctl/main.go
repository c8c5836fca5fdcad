// chatctl is a terminal chat client exercising the full widget core:
// websocket connection management, history persistence and the wire
// protocol, against a running chatd backend.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/avralabs/chatlink/internal/chat"
	"github.com/avralabs/chatlink/internal/config"
	"github.com/avralabs/chatlink/internal/connection"
	"github.com/avralabs/chatlink/internal/domain"
	"github.com/avralabs/chatlink/internal/event"
	"github.com/avralabs/chatlink/internal/history"
	"github.com/avralabs/chatlink/internal/logger"
	"github.com/avralabs/chatlink/internal/repository/sqlite"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logg, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to configure logging")
	}
	log.Logger = logg

	// The history layer degrades to memory-only without a store.
	var sessionStore domain.SessionStore
	if store, err := sqlite.Open(context.Background(), cfg.Storage.Path); err != nil {
		log.Warn().Err(err).Msg("session store unavailable, running in memory")
	} else {
		defer store.Close()
		sessionStore = store
	}

	events := event.NewEmitter()

	hist := history.NewManager(history.Config{
		MaxTokens:     cfg.History.MaxTokens,
		ReserveTokens: cfg.History.ReserveTokens,
		MaxSessions:   cfg.History.MaxSessions,
	}, sessionStore, logg)

	conn := connection.NewManager(connection.Config{
		URL:                  cfg.Client.ServerURL,
		AuthToken:            cfg.Client.AuthToken,
		MaxReconnectAttempts: cfg.Client.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Client.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Client.ReconnectMaxDelay,
		OpenTimeout:          cfg.Client.OpenTimeout,
		HeartbeatInterval:    cfg.Client.HeartbeatInterval,
		ResponseTimeout:      cfg.Client.ResponseTimeout,
		QueueCapacity:        cfg.Client.QueueCapacity,
	}, nil, events, logg)

	client := chat.NewClient(conn, hist, events, logg)
	defer client.Close()

	subscribeStatus(events)

	client.Start()
	fmt.Printf("chatlink session %s, type a message, /info, /new, /reset, /end or /quit\n", hist.SessionID())

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return
		case line == "/info":
			info := client.SessionInfo()
			fmt.Printf("session=%s messages=%d tokens=%d context=%v\n",
				info.ID, info.MessageCount, info.TotalTokens, info.Context)
		case line == "/new":
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			id, err := client.StartSession(ctx, nil)
			cancel()
			if err != nil {
				fmt.Printf("session start not acknowledged: %v\n", err)
			}
			fmt.Printf("session %s\n", id)
		case line == "/reset":
			client.ResetSession()
			fmt.Println("history cleared")
		case line == "/end":
			client.EndSession()
			fmt.Println("session ended")
		default:
			client.SendMessage(line)
		}
	}
}

func subscribeStatus(events *event.Emitter) {
	events.On(chat.EventMessage, func(payload any) {
		if msg, ok := payload.(domain.Message); ok {
			fmt.Printf("\nassistant: %s\n> ", msg.Content)
		}
	})
	events.On(chat.EventChatError, func(payload any) {
		if env, ok := payload.(*domain.Envelope); ok {
			fmt.Printf("\n[chat error] %s\n> ", env.Error)
		}
	})
	events.On(domain.TypeTyping, func(payload any) {
		if env, ok := payload.(*domain.Envelope); ok && env.IsTyping != nil && *env.IsTyping {
			fmt.Print(".")
		}
	})
	events.On(connection.EventReconnecting, func(payload any) {
		if ev, ok := payload.(connection.ReconnectingEvent); ok {
			fmt.Printf("\n[reconnecting, attempt %d in %s]\n", ev.Attempt, ev.Delay)
		}
	})
	events.On(connection.EventReconnectFailed, func(payload any) {
		fmt.Println("\n[gave up reconnecting]")
	})
	events.On(connection.EventResponseTimeout, func(payload any) {
		if ev, ok := payload.(connection.TimeoutEvent); ok {
			fmt.Printf("\n[no response for %s]\n> ", ev.MessageID)
		}
	})
}
