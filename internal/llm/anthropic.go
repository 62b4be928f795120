package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicAdapter completes requests with the Anthropic messages API using
// tool_use and tool_result blocks.
type AnthropicAdapter struct {
	httpClient *http.Client
}

// NewAnthropicAdapter creates a new Anthropic adapter.
func NewAnthropicAdapter(httpClient *http.Client) *AnthropicAdapter {
	return &AnthropicAdapter{httpClient: httpClient}
}

// Name returns the provider name.
func (a *AnthropicAdapter) Name() string {
	return "Anthropic"
}

// Complete sends a completion request.
func (a *AnthropicAdapter) Complete(ctx context.Context, cfg ProviderConfig, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if a.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(a.httpClient))
	}
	client := anthropic.NewClient(opts...)

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.F(req.Model),
		MaxTokens:   anthropic.F(int64(maxTokens)),
		Messages:    anthropic.F(toAnthropicMessages(req.Messages)),
		Temperature: anthropic.F(temperature(req)),
	}
	if req.SystemPrompt != "" {
		params.System = anthropic.F([]anthropic.TextBlockParam{anthropic.NewTextBlock(req.SystemPrompt)})
	}
	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			var schema any
			if err := json.Unmarshal(schemaOrEmpty(t.Parameters), &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
			tools = append(tools, anthropic.ToolParam{
				Name:        anthropic.F(t.Name),
				Description: anthropic.F(t.Description),
				InputSchema: anthropic.F(schema),
			})
		}
		params.Tools = anthropic.F(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	out := &CompletionResponse{
		Model:      resp.Model,
		StopReason: string(resp.StopReason),
		Usage: Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
		},
	}

	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case anthropic.ContentBlockTypeText:
			text.WriteString(block.Text)
		case anthropic.ContentBlockTypeToolUse:
			if out.ToolCall == nil {
				out.ToolCall = &ToolCall{ID: block.ID, Name: block.Name, Arguments: string(block.Input)}
			}
		}
	}
	out.Content = text.String()

	if out.ToolCall != nil {
		if err := validToolCall(out.ToolCall); err != nil {
			return nil, err
		}
	} else if resp.StopReason == anthropic.MessageStopReasonToolUse {
		return nil, fmt.Errorf("%w: stop reason tool_use without a tool_use block", ErrMalformedToolCall)
	}

	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}

// toAnthropicMessages maps the history onto alternating user and assistant
// turns. System messages become user text and consecutive blocks of the same
// role are merged.
func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	var (
		out    []anthropic.MessageParam
		role   anthropic.MessageParamRole
		blocks []anthropic.ContentBlockParamUnion
	)
	flush := func() {
		if len(blocks) == 0 {
			return
		}
		if role == anthropic.MessageParamRoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
		blocks = nil
	}
	add := func(r anthropic.MessageParamRole, b anthropic.ContentBlockParamUnion) {
		if r != role {
			flush()
			role = r
		}
		blocks = append(blocks, b)
	}

	for _, m := range messages {
		switch {
		case m.Role == RoleAssistant && m.ToolCall != nil:
			var input any = map[string]any{}
			if args := strings.TrimSpace(m.ToolCall.Arguments); args != "" {
				_ = json.Unmarshal([]byte(args), &input)
			}
			add(anthropic.MessageParamRoleAssistant, anthropic.NewToolUseBlockParam(m.ToolCall.ID, m.ToolCall.Name, input))
		case m.Role == RoleFunction && m.ToolCallID != "":
			add(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
		case m.Role == RoleAssistant:
			if m.Content != "" {
				add(anthropic.MessageParamRoleAssistant, anthropic.NewTextBlock(m.Content))
			}
		case m.Role == RoleSystem || m.Role == RoleFunction:
			add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock("[system] "+m.Content))
		default:
			add(anthropic.MessageParamRoleUser, anthropic.NewTextBlock(m.Content))
		}
	}
	flush()
	return out
}
