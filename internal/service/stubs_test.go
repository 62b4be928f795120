package service

import (
	"context"
	"sync"
	"time"

	"github.com/capitalize-ai/commerce-agent/internal/llm"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
)

// ── Stubs ─────────────────────────────────────────────────────────────────────

type stubTenants struct {
	tenant    *model.Tenant
	models    map[string]*model.LLMModel
	functions []model.Function
}

func (s *stubTenants) Get(_ context.Context, id string) (*model.Tenant, error) {
	if s.tenant == nil || s.tenant.ID != id {
		return nil, repository.ErrNotFound
	}
	return s.tenant, nil
}

func (s *stubTenants) ModelByName(_ context.Context, name string) (*model.LLMModel, error) {
	if m, ok := s.models[name]; ok {
		return m, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubTenants) EnabledFunctions(context.Context, string) ([]model.Function, error) {
	return s.functions, nil
}

func (s *stubTenants) List(context.Context) ([]model.Tenant, error) {
	if s.tenant == nil {
		return nil, nil
	}
	return []model.Tenant{*s.tenant}, nil
}

var (
	_ TenantStore  = (*stubTenants)(nil)
	_ TenantLister = (*stubTenants)(nil)
)

// memConversations keeps every message of a single conversation in memory.
type memConversations struct {
	mu       sync.Mutex
	id       string
	messages []model.Message
}

func newMemConversations(history ...model.Message) *memConversations {
	c := &memConversations{id: "conv-1"}
	for _, m := range history {
		m.ConversationID = c.id
		c.messages = append(c.messages, m)
	}
	return c
}

func (c *memConversations) MessageArrived(_ context.Context, _ string, _ string, role model.Role, content, gptData string, pt, ct int) (*model.Message, error) {
	return c.add(role, content, gptData, pt, ct), nil
}

func (c *memConversations) AddMessage(_ context.Context, _ string, _ string, role model.Role, content, gptData string, pt, ct int) (*model.Message, error) {
	return c.add(role, content, gptData, pt, ct), nil
}

func (c *memConversations) add(role model.Role, content, gptData string, pt, ct int) *model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := model.Message{
		Base:             model.Base{ID: model.NewID(), CreatedAt: time.Now()},
		ConversationID:   c.id,
		Role:             role,
		Content:          content,
		GPTData:          gptData,
		PromptTokens:     pt,
		CompletionTokens: ct,
	}
	c.messages = append(c.messages, m)
	return &m
}

func (c *memConversations) Messages(context.Context, string) ([]model.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.messages...), nil
}

func (c *memConversations) roles() []model.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Role, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m.Role)
	}
	return out
}

func (c *memConversations) last() model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[len(c.messages)-1]
}

var _ ConversationStore = (*memConversations)(nil)

// scriptedCompleter replays responses in order and repeats the last one once
// the script runs out.
type scriptedCompleter struct {
	responses []*llm.CompletionResponse
	err       error

	calls    int
	configs  []llm.ProviderConfig
	requests []llm.CompletionRequest
}

func (s *scriptedCompleter) Complete(_ context.Context, cfg llm.ProviderConfig, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.calls++
	snapshot := *req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)
	s.configs = append(s.configs, cfg)
	s.requests = append(s.requests, snapshot)
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

var _ Completer = (*scriptedCompleter)(nil)

func toolCall(id, name, args string, prompt, completion int) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		ToolCall: &llm.ToolCall{ID: id, Name: name, Arguments: args},
		Usage:    llm.Usage{PromptTokens: prompt, CompletionTokens: completion},
	}
}

func reply(text string, prompt, completion int) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content: text,
		Usage:   llm.Usage{PromptTokens: prompt, CompletionTokens: completion},
	}
}

type staticPrompt struct {
	prompt string
	inputs []PromptInput
}

func (s *staticPrompt) Build(_ context.Context, in PromptInput) (string, error) {
	s.inputs = append(s.inputs, in)
	return s.prompt, nil
}

var _ PromptBuilder = (*staticPrompt)(nil)

type stubSender struct {
	sent []model.OutboundMessage
	err  error
}

func (s *stubSender) Send(_ context.Context, msg model.OutboundMessage) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

var _ Sender = (*stubSender)(nil)
