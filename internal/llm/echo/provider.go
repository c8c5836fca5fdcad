// Package echo is the zero-configuration provider used when no API key is
// set: it reflects the last user turn back, which is enough to exercise the
// full wire path in development.
package echo

import (
	"context"
	"fmt"

	"github.com/avralabs/chatlink/internal/domain"
	"github.com/avralabs/chatlink/internal/llm"
)

type Provider struct{}

func NewProvider() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string {
	return "echo"
}

func (p *Provider) IsConfigured() bool {
	return true
}

func (p *Provider) Reply(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == domain.RoleUser {
			last = req.Messages[i].Content
			break
		}
	}
	if last == "" {
		return nil, fmt.Errorf("no user turn in transcript")
	}

	return &llm.Response{
		Content: fmt.Sprintf("You said: %s", last),
		Model:   "echo",
	}, nil
}
