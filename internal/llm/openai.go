package llm

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAIAdapter completes requests with the OpenAI chat API using native tool
// calls.
type OpenAIAdapter struct {
	httpClient *http.Client
}

// NewOpenAIAdapter creates a new OpenAI adapter.
func NewOpenAIAdapter(httpClient *http.Client) *OpenAIAdapter {
	return &OpenAIAdapter{httpClient: httpClient}
}

// Name returns the provider name.
func (a *OpenAIAdapter) Name() string {
	return "OpenAI"
}

// Complete sends a completion request.
func (a *OpenAIAdapter) Complete(ctx context.Context, cfg ProviderConfig, req *CompletionRequest) (*CompletionResponse, error) {
	client := newOpenAIClient(cfg, "", a.httpClient)
	return completeOpenAICompatible(ctx, client, req, true)
}

func newOpenAIClient(cfg ProviderConfig, defaultBaseURL string, httpClient *http.Client) *openai.Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	switch {
	case cfg.BaseURL != "":
		oc.BaseURL = cfg.BaseURL
	case defaultBaseURL != "":
		oc.BaseURL = defaultBaseURL
	}
	if httpClient != nil {
		oc.HTTPClient = httpClient
	}
	return openai.NewClientWithConfig(oc)
}

// completeOpenAICompatible runs one chat completion. With nativeTools false,
// tool calls and results in the history are replayed as plain text.
func completeOpenAICompatible(ctx context.Context, client *openai.Client, req *CompletionRequest, nativeTools bool) (*CompletionResponse, error) {
	start := time.Now()

	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    toOpenAIMessages(req, nativeTools),
		Temperature: float32(temperature(req)),
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Tools) > 0 {
		creq.Tools = toOpenAITools(req.Tools)
		creq.ToolChoice = "auto"
	}

	resp, err := client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choice := resp.Choices[0]
	out := &CompletionResponse{
		Content:    choice.Message.Content,
		Model:      resp.Model,
		StopReason: string(choice.FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}

	switch {
	case len(choice.Message.ToolCalls) > 0:
		tc := choice.Message.ToolCalls[0]
		out.ToolCall = &ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
	case choice.Message.FunctionCall != nil:
		fc := choice.Message.FunctionCall
		out.ToolCall = &ToolCall{Name: fc.Name, Arguments: fc.Arguments}
	case choice.FinishReason == openai.FinishReasonToolCalls || choice.FinishReason == openai.FinishReasonFunctionCall:
		return nil, fmt.Errorf("%w: finish reason %s without a call", ErrMalformedToolCall, choice.FinishReason)
	}

	if out.ToolCall != nil {
		if err := validToolCall(out.ToolCall); err != nil {
			return nil, err
		}
		if out.ToolCall.ID == "" {
			out.ToolCall.ID = newCallID()
		}
	}
	return out, nil
}

func toOpenAIMessages(req *CompletionRequest, nativeTools bool) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt})
	}

	for _, m := range req.Messages {
		switch {
		case m.Role == RoleAssistant && m.ToolCall != nil && nativeTools:
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role: openai.ChatMessageRoleAssistant,
				ToolCalls: []openai.ToolCall{{
					ID:   m.ToolCall.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      m.ToolCall.Name,
						Arguments: m.ToolCall.Arguments,
					},
				}},
			})
		case m.Role == RoleAssistant && m.ToolCall != nil:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: toolCallText(m.ToolCall)})
		case m.Role == RoleFunction && nativeTools && m.ToolCallID != "":
			msgs = append(msgs, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    m.Content,
				Name:       m.Name,
				ToolCallID: m.ToolCallID,
			})
		case m.Role == RoleFunction:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: m.Content})
		default:
			msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
		}
	}
	return msgs
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	tools := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  schemaOrEmpty(d.Parameters),
			},
		})
	}
	return tools
}
