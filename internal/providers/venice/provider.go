package venice

import (
	"context"

	"github.com/segmentationf4u1t/codeforge/internal/agent"
)

// Provider adapts Client to the agent.LLMProvider interface so Venice can be
// selected like any other provider, including as a routing target.
type Provider struct {
	client *Client
}

// NewProvider creates a Venice provider from the given configuration.
func NewProvider(cfg VeniceConfig) *Provider {
	return &Provider{client: NewClientWithConfig(cfg)}
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "venice"
}

// Models returns the Venice model catalog.
func (p *Provider) Models() []agent.Model {
	models := make([]agent.Model, 0, len(VeniceCatalog))
	for _, entry := range VeniceCatalog {
		vision := false
		for _, input := range entry.Input {
			if input == "image" {
				vision = true
				break
			}
		}
		models = append(models, agent.Model{
			ID:             entry.ID,
			Name:           entry.Name,
			ContextSize:    entry.ContextWindow,
			SupportsVision: vision,
		})
	}
	return models
}

// SupportsTools reports tool-use support (Venice's OpenAI-compatible API
// accepts function tools).
func (p *Provider) SupportsTools() bool {
	return true
}

// Complete streams a completion through the underlying client.
func (p *Provider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	return p.client.Complete(ctx, &CompletionRequest{
		Model:     req.Model,
		System:    req.System,
		Messages:  req.Messages,
		Tools:     req.Tools,
		MaxTokens: req.MaxTokens,
	})
}
