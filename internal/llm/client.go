// Package llm provides provider adapters that turn a system prompt, a message
// history and a tool catalog into a single model completion.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrMalformedToolCall is returned when a provider asks for a tool call
	// whose name or arguments cannot be decoded.
	ErrMalformedToolCall = errors.New("malformed tool call")
	// ErrUnknownProvider is returned for a provider name with no adapter.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrMissingAPIKey is returned when the provider has no credentials.
	ErrMissingAPIKey = errors.New("provider API key is required")
	// ErrEmptyResponse is returned when a provider answers without a choice.
	ErrEmptyResponse = errors.New("provider returned no choices")
)

// Message roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// DefaultTemperature is the sampling temperature used for every turn.
const DefaultTemperature = 0.1

// Message is a provider-neutral chat message. An assistant message with a
// ToolCall records the model's request; a function message carries the result
// for ToolCallID.
type Message struct {
	Role       string
	Content    string
	Name       string
	ToolCall   *ToolCall
	ToolCallID string
}

// ToolDefinition describes a callable function. Parameters is a JSON Schema
// object.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// ToolCall is a function invocation requested by the model. Arguments is the
// raw JSON object text.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// DecodeArguments parses the arguments object. Empty arguments decode to an
// empty map.
func (c *ToolCall) DecodeArguments() (map[string]any, error) {
	raw := strings.TrimSpace(c.Arguments)
	if raw == "" {
		return map[string]any{}, nil
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: %s arguments: %v", ErrMalformedToolCall, c.Name, err)
	}
	return args, nil
}

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	MaxTokens    int
	Temperature  float64
}

// Usage is the token consumption of one provider call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// CompletionResponse holds either final text or a single tool call.
type CompletionResponse struct {
	Content    string
	ToolCall   *ToolCall
	Usage      Usage
	Model      string
	StopReason string
	LatencyMs  int64
}

// WantsTool reports whether the model asked for a function call.
func (r *CompletionResponse) WantsTool() bool {
	return r.ToolCall != nil
}

// ProviderConfig identifies the vendor endpoint and credentials for a call.
type ProviderConfig struct {
	Provider string
	APIKey   string
	BaseURL  string
}

// Adapter completes a request against one vendor. Adapters keep no per-turn
// state.
type Adapter interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, cfg ProviderConfig, req *CompletionRequest) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string
}

// Router selects the adapter for ProviderConfig.Provider.
type Router struct {
	adapters map[string]Adapter
}

// NewRouter creates a router with the given adapters.
func NewRouter(adapters ...Adapter) *Router {
	r := &Router{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[strings.ToLower(a.Name())] = a
	}
	return r
}

// NewDefaultRouter registers the OpenAI, Groq, Google and Anthropic adapters
// sharing one HTTP client.
func NewDefaultRouter(timeout time.Duration) *Router {
	httpClient := &http.Client{Timeout: timeout}
	return NewRouter(
		NewOpenAIAdapter(httpClient),
		NewGroqAdapter(httpClient),
		NewGeminiAdapter(httpClient),
		NewAnthropicAdapter(httpClient),
	)
}

// Complete dispatches to the adapter of cfg.Provider.
func (r *Router) Complete(ctx context.Context, cfg ProviderConfig, req *CompletionRequest) (*CompletionResponse, error) {
	a, ok := r.adapters[strings.ToLower(cfg.Provider)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: %w", a.Name(), ErrMissingAPIKey)
	}
	return a.Complete(ctx, cfg, req)
}

// Providers returns the registered provider names.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.adapters))
	for _, a := range r.adapters {
		names = append(names, a.Name())
	}
	return names
}

func temperature(req *CompletionRequest) float64 {
	if req.Temperature == 0 {
		return DefaultTemperature
	}
	return req.Temperature
}

// toolCallText renders a tool call for providers without a native tool role.
func toolCallText(c *ToolCall) string {
	return fmt.Sprintf("Llamando a la función %s, datos: %s", c.Name, c.Arguments)
}

// validToolCall checks name and argument syntax of a provider tool call.
func validToolCall(c *ToolCall) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing function name", ErrMalformedToolCall)
	}
	if args := strings.TrimSpace(c.Arguments); args != "" && !json.Valid([]byte(args)) {
		return fmt.Errorf("%w: %s arguments are not valid JSON", ErrMalformedToolCall, c.Name)
	}
	return nil
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

func schemaOrEmpty(s json.RawMessage) json.RawMessage {
	if len(strings.TrimSpace(string(s))) == 0 {
		return emptySchema
	}
	return s
}

// newCallID returns an id for providers that do not assign tool call ids.
func newCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
