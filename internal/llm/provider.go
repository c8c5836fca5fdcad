package llm

import (
	"context"

	"github.com/avralabs/chatlink/internal/domain"
)

// Request carries everything the backend knows about a turn: the full
// client-supplied transcript (the backend is stateless between frames) and
// the session context.
type Request struct {
	Messages []domain.Turn
	Context  map[string]any
}

// Response contains the generation result
type Response struct {
	Content    string
	Model      string
	TokensUsed int
	LatencyMs  int64
}

// Provider defines the interface for reply generation providers
type Provider interface {
	// Name returns the provider identifier
	Name() string

	// IsConfigured checks if provider has valid credentials
	IsConfigured() bool

	// Reply generates the assistant's next turn from the transcript
	Reply(ctx context.Context, req Request) (*Response, error)
}
