package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GeminiBaseURL is the Generative Language API endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// maxErrorBodySize bounds how much of an error response is read.
const maxErrorBodySize = 4096

// GeminiAdapter completes requests with Google Gemini function calling.
type GeminiAdapter struct {
	httpClient *http.Client
}

// NewGeminiAdapter creates a new Gemini adapter.
func NewGeminiAdapter(httpClient *http.Client) *GeminiAdapter {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GeminiAdapter{httpClient: httpClient}
}

// Name returns the provider name.
func (a *GeminiAdapter) Name() string {
	return "Google"
}

// Complete sends a completion request.
func (a *GeminiAdapter) Complete(ctx context.Context, cfg ProviderConfig, req *CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	greq := geminiGenerateRequest{
		Contents: toGeminiContents(req.Messages),
		GenerationConfig: geminiGenerationConfig{
			Temperature:     temperature(req),
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.SystemPrompt != "" {
		greq.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schemaOrEmpty(t.Parameters),
			})
		}
		greq.Tools = []geminiTool{{FunctionDeclarations: decls}}
		greq.ToolConfig = &geminiToolConfig{FunctionCallingConfig: geminiFunctionCallingConfig{Mode: "AUTO"}}
	}

	body, err := json.Marshal(greq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = GeminiBaseURL
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", strings.TrimRight(baseURL, "/"), req.Model)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// key in a header keeps it out of request logs
	httpReq.Header.Set("x-goog-api-key", cfg.APIKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("gemini error (status %d): %s", resp.StatusCode, string(b))
	}

	var gresp geminiGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gresp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(gresp.Candidates) == 0 {
		return nil, ErrEmptyResponse
	}

	candidate := gresp.Candidates[0]
	out := &CompletionResponse{
		Model:      req.Model,
		StopReason: candidate.FinishReason,
		Usage: Usage{
			PromptTokens:     gresp.UsageMetadata.PromptTokenCount,
			CompletionTokens: gresp.UsageMetadata.CandidatesTokenCount,
		},
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part.FunctionCall != nil && out.ToolCall == nil {
			args := strings.TrimSpace(string(part.FunctionCall.Args))
			if args == "" || args == "null" {
				args = "{}"
			}
			out.ToolCall = &ToolCall{ID: newCallID(), Name: part.FunctionCall.Name, Arguments: args}
			continue
		}
		text.WriteString(part.Text)
	}
	out.Content = text.String()
	if candidate.FinishReason == "MALFORMED_FUNCTION_CALL" {
		return nil, fmt.Errorf("%w: gemini finish reason %s", ErrMalformedToolCall, candidate.FinishReason)
	}
	if out.ToolCall != nil {
		if err := validToolCall(out.ToolCall); err != nil {
			return nil, err
		}
	}

	out.LatencyMs = time.Since(start).Milliseconds()
	return out, nil
}

// toGeminiContents maps the history. Gemini has no system role inside
// contents, so system messages are sent as user text.
func toGeminiContents(messages []Message) []geminiContent {
	contents := make([]geminiContent, 0, len(messages))
	for _, m := range messages {
		switch {
		case m.Role == RoleAssistant && m.ToolCall != nil:
			contents = append(contents, geminiContent{
				Role: "model",
				Parts: []geminiPart{{FunctionCall: &geminiFunctionCall{
					Name: m.ToolCall.Name,
					Args: json.RawMessage(argumentsOrEmpty(m.ToolCall.Arguments)),
				}}},
			})
		case m.Role == RoleFunction && m.Name != "":
			contents = append(contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFunctionResponse{
					Name:     m.Name,
					Response: map[string]any{"content": m.Content},
				}}},
			})
		case m.Role == RoleAssistant:
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return contents
}

func argumentsOrEmpty(args string) string {
	if strings.TrimSpace(args) == "" {
		return "{}"
	}
	return args
}

// Gemini API types
type geminiGenerateRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Tools             []geminiTool           `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig      `json:"toolConfig,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig geminiFunctionCallingConfig `json:"functionCallingConfig"`
}

type geminiFunctionCallingConfig struct {
	Mode string `json:"mode"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
			Role  string       `json:"role"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}
