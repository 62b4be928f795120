package llm

import (
	"context"
	"net/http"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// GroqAdapter completes requests against Groq's OpenAI-compatible API. Groq
// models reject replayed tool messages, so prior tool calls and results are
// sent as assistant and system text.
type GroqAdapter struct {
	httpClient *http.Client
}

// NewGroqAdapter creates a new Groq adapter.
func NewGroqAdapter(httpClient *http.Client) *GroqAdapter {
	return &GroqAdapter{httpClient: httpClient}
}

// Name returns the provider name.
func (a *GroqAdapter) Name() string {
	return "Groq"
}

// Complete sends a completion request.
func (a *GroqAdapter) Complete(ctx context.Context, cfg ProviderConfig, req *CompletionRequest) (*CompletionResponse, error) {
	client := newOpenAIClient(cfg, GroqBaseURL, a.httpClient)
	return completeOpenAICompatible(ctx, client, req, false)
}
