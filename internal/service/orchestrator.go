package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-agent/internal/functions"
	"github.com/capitalize-ai/commerce-agent/internal/llm"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
	"github.com/capitalize-ai/commerce-agent/pkg/metrics"
)

// DefaultMaxToolDepth is the deepest tool call level allowed in a turn.
const DefaultMaxToolDepth = 10

// HumanHandoffMarker in a reply means the model echoed the handoff function
// instead of answering; the reply is replaced by HumanHandoffMessage.
const HumanHandoffMarker = "notifyHuman"

// HumanHandoffMessage is sent when the model hands the customer to a human.
const HumanHandoffMessage = "Un agente se comunicará contigo a la brevedad"

var (
	// ErrRecursionLimit aborts a turn whose tool chain went past the maximum
	// depth.
	ErrRecursionLimit = errors.New("max recursion limit reached")
	// ErrTenantNotFound is returned for an unknown tenant id.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrModelNotConfigured is returned when a tenant has no model.
	ErrModelNotConfigured = errors.New("tenant has no model configured")
	// ErrProviderNotConfigured is returned when a model has no provider.
	ErrProviderNotConfigured = errors.New("model has no provider configured")
	// ErrInvalidFunctionSchema is returned when a stored function has
	// parameters that are not a JSON object.
	ErrInvalidFunctionSchema = errors.New("invalid function parameters schema")
)

// Completer runs one model completion.
type Completer interface {
	Complete(ctx context.Context, cfg llm.ProviderConfig, req *llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Dispatcher executes function calls requested by the model.
type Dispatcher interface {
	Dispatch(ctx context.Context, call functions.Call) functions.Outcome
}

// PromptBuilder builds the system prompt of a turn.
type PromptBuilder interface {
	Build(ctx context.Context, in PromptInput) (string, error)
}

// TenantStore resolves tenants, models and enabled functions.
type TenantStore interface {
	Get(ctx context.Context, id string) (*model.Tenant, error)
	ModelByName(ctx context.Context, name string) (*model.LLMModel, error)
	EnabledFunctions(ctx context.Context, tenantID string) ([]model.Function, error)
}

// ConversationStore persists the messages of a turn.
type ConversationStore interface {
	MessageArrived(ctx context.Context, tenantID, phone string, role model.Role, content, gptData string, promptTokens, completionTokens int) (*model.Message, error)
	AddMessage(ctx context.Context, tenantID, conversationID string, role model.Role, content, gptData string, promptTokens, completionTokens int) (*model.Message, error)
	Messages(ctx context.Context, conversationID string) ([]model.Message, error)
}

// Sender delivers replies to the messaging channel.
type Sender interface {
	Send(ctx context.Context, msg model.OutboundMessage) error
}

// TurnResult is the outcome of one inbound message.
type TurnResult struct {
	ConversationID   string
	Text             string
	PromptTokens     int
	CompletionTokens int
	Flags            functions.Flags
	ToolCalls        int
}

// OrchestratorConfig tunes the tool loop.
type OrchestratorConfig struct {
	MaxToolDepth    int
	ProviderTimeout time.Duration
	// DefaultLocation is used when a tenant timezone cannot be loaded.
	DefaultLocation *time.Location
}

// Orchestrator drives a turn: it builds the prompt, calls the model, runs the
// functions the model asks for and feeds their results back until the model
// answers.
type Orchestrator struct {
	tenants       TenantStore
	conversations ConversationStore
	prompts       PromptBuilder
	completer     Completer
	dispatcher    Dispatcher
	sender        Sender
	cfg           OrchestratorConfig
	locks         *keyedMutex
	logger        *logger.Logger
}

// NewOrchestrator creates a new orchestrator.
func NewOrchestrator(
	tenants TenantStore,
	conversations ConversationStore,
	prompts PromptBuilder,
	completer Completer,
	dispatcher Dispatcher,
	sender Sender,
	cfg OrchestratorConfig,
	log *logger.Logger,
) *Orchestrator {
	if cfg.MaxToolDepth <= 0 {
		cfg.MaxToolDepth = DefaultMaxToolDepth
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	return &Orchestrator{
		tenants:       tenants,
		conversations: conversations,
		prompts:       prompts,
		completer:     completer,
		dispatcher:    dispatcher,
		sender:        sender,
		cfg:           cfg,
		locks:         newKeyedMutex(),
		logger:        log,
	}
}

// turnState accumulates the outcome of the tool chain.
type turnState struct {
	text             string
	promptTokens     int
	completionTokens int
	flags            functions.Flags
	toolCalls        int
}

func (s *turnState) add(u llm.Usage) {
	s.promptTokens += u.PromptTokens
	s.completionTokens += u.CompletionTokens
}

// HandleInbound stores a customer message and answers it. Messages of the
// same phone are processed one at a time.
func (o *Orchestrator) HandleInbound(ctx context.Context, in model.InboundMessage) (*TurnResult, error) {
	phone := strings.TrimSpace(in.Phone)
	if in.TenantID == "" || phone == "" {
		return nil, errors.New("tenant id and phone are required")
	}

	unlock := o.locks.Lock(in.TenantID + "|" + phone)
	defer unlock()

	tenant, err := o.loadTenant(ctx, in.TenantID)
	if err != nil {
		return nil, err
	}

	msg, err := o.conversations.MessageArrived(ctx, tenant.ID, phone, model.RoleUser, in.Text, "", 0, 0)
	if err != nil {
		return nil, err
	}
	return o.ProcessMessage(ctx, tenant, msg.ConversationID, phone, in.Model)
}

// ProcessMessage answers the last user message of a conversation. modelName
// overrides the tenant model when it names a known model.
func (o *Orchestrator) ProcessMessage(ctx context.Context, tenant *model.Tenant, conversationID, phone, modelName string) (result *TurnResult, err error) {
	ctx, span := otel.Tracer("service").Start(ctx, "orchestrator.turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", tenant.ID),
		attribute.String("conversation.id", conversationID),
	)

	log := o.logger.With(
		zap.String("tenant_id", tenant.ID),
		zap.String("conversation_id", conversationID),
		zap.String("phone", phone),
	)

	depth := 0
	defer func() {
		outcome := "ok"
		switch {
		case errors.Is(err, ErrRecursionLimit):
			outcome = "recursion_limit"
		case errors.Is(err, context.DeadlineExceeded):
			outcome = "timeout"
		case err != nil:
			outcome = "error"
		}
		metrics.RecordTurn(tenant.ID, outcome, depth)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			log.Error("turn failed", zap.Int("depth", depth), zap.Error(err))
		}
	}()

	llmModel, err := o.resolveModel(ctx, tenant, modelName)
	if err != nil {
		return nil, err
	}
	enabled, err := o.tenants.EnabledFunctions(ctx, tenant.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load functions: %w", err)
	}
	tools, names, err := toolDefinitions(enabled)
	if err != nil {
		return nil, err
	}

	loc := TenantLocation(tenant, o.cfg.DefaultLocation)
	systemPrompt, err := o.prompts.Build(ctx, PromptInput{
		Tenant:         tenant,
		Functions:      names,
		Phone:          phone,
		ConversationID: conversationID,
		Location:       loc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build prompt: %w", err)
	}

	stored, err := o.conversations.Messages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	history := historyMessages(stored)

	if _, err := o.conversations.AddMessage(ctx, tenant.ID, conversationID, model.RoleSystem, systemPrompt, "", 0, 0); err != nil {
		return nil, err
	}

	cfg := llm.ProviderConfig{
		Provider: llmModel.Provider.Name,
		APIKey:   llmModel.Provider.APIKey,
		BaseURL:  llmModel.Provider.BaseURL,
	}
	req := &llm.CompletionRequest{
		Model:        llmModel.Name,
		SystemPrompt: systemPrompt,
		Messages:     history,
		Tools:        tools,
		Temperature:  llm.DefaultTemperature,
	}

	state := &turnState{}
	for ; ; depth++ {
		if depth > o.cfg.MaxToolDepth {
			return nil, fmt.Errorf("%w: %d tool calls", ErrRecursionLimit, state.toolCalls)
		}

		resp, err := o.complete(ctx, cfg, req)
		if err != nil {
			return nil, err
		}
		state.add(resp.Usage)
		log.Debug("completion",
			zap.Int("depth", depth),
			zap.Int("prompt_tokens", resp.Usage.PromptTokens),
			zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			zap.Bool("wants_tool", resp.WantsTool()),
		)

		if !resp.WantsTool() {
			state.text = resp.Content
			break
		}

		call := resp.ToolCall
		args, err := call.DecodeArguments()
		if err != nil {
			return nil, err
		}
		out := o.dispatcher.Dispatch(ctx, functions.Call{
			TenantID:       tenant.ID,
			ConversationID: conversationID,
			Phone:          phone,
			Name:           call.Name,
			Args:           args,
			Location:       loc,
		})
		state.toolCalls++
		state.flags = state.flags.Or(out.Flags)

		req.Messages = append(req.Messages,
			llm.Message{Role: llm.RoleAssistant, ToolCall: call},
			llm.Message{Role: llm.RoleFunction, Name: call.Name, Content: out.Content, ToolCallID: call.ID},
		)

		if err := o.recordCall(ctx, log, tenant.ID, conversationID, call.Name, functions.Args(args), out.Quiet); err != nil {
			return nil, err
		}
	}

	result = &TurnResult{
		ConversationID:   conversationID,
		Text:             sanitizeReply(state.text),
		PromptTokens:     state.promptTokens,
		CompletionTokens: state.completionTokens,
		Flags:            state.flags,
		ToolCalls:        state.toolCalls,
	}
	if result.Text == "" {
		log.Warn("model returned an empty reply", zap.Int("depth", depth))
		return result, nil
	}

	if _, err := o.conversations.AddMessage(ctx, tenant.ID, conversationID, model.RoleAssistant,
		result.Text, "", result.PromptTokens, result.CompletionTokens); err != nil {
		return nil, err
	}

	o.send(ctx, log, tenant.ID, phone, result)

	log.Info("turn completed",
		zap.Int("tool_calls", result.ToolCalls),
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("completion_tokens", result.CompletionTokens),
		zap.Bool("notify_human", result.Flags.HumanHandoff),
		zap.Bool("notify_lead", result.Flags.Lead),
		zap.Bool("notify_order", result.Flags.Order),
	)
	return result, nil
}

func (o *Orchestrator) complete(ctx context.Context, cfg llm.ProviderConfig, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", cfg.Provider),
		attribute.String("llm.model", req.Model),
	)

	if o.cfg.ProviderTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.ProviderTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := o.completer.Complete(ctx, cfg, req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		metrics.RecordCompletion(cfg.Provider, req.Model, "error", elapsed, 0, 0)
		span.RecordError(err)
		return nil, fmt.Errorf("completion failed: %w", err)
	}
	metrics.RecordCompletion(cfg.Provider, req.Model, "ok", elapsed, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

// recordCall persists the function call. Quiet functions are stored without
// their arguments and logged instead.
func (o *Orchestrator) recordCall(ctx context.Context, log *logger.Logger, tenantID, conversationID, name string, args functions.Args, quiet bool) error {
	sanitized := functions.Args(args.Sanitized())
	if quiet {
		log.Info("function called", zap.String("function", name), zap.String("args", sanitized.JSON()))
		_, err := o.conversations.AddMessage(ctx, tenantID, conversationID, model.RoleFunction,
			"Llamando a la función "+name, "", 0, 0)
		return err
	}
	data := model.FunctionCallData{FunctionName: name, Args: sanitized}
	_, err := o.conversations.AddMessage(ctx, tenantID, conversationID, model.RoleFunction,
		fmt.Sprintf("Llamando a la función %s, datos: %s", name, sanitized.JSON()), data.Encode(), 0, 0)
	return err
}

// send hands the reply to the messaging channel. A failure is logged; the
// stored conversation stays as it is.
func (o *Orchestrator) send(ctx context.Context, log *logger.Logger, tenantID, phone string, r *TurnResult) {
	if o.sender == nil {
		return
	}
	err := o.sender.Send(ctx, model.OutboundMessage{
		TenantID:       tenantID,
		ConversationID: r.ConversationID,
		Phone:          phone,
		Text:           r.Text,
		NotifyHuman:    r.Flags.HumanHandoff,
		NotifyLead:     r.Flags.Lead,
		NotifyOrder:    r.Flags.Order,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		log.Error("failed to send reply", zap.Error(err))
		return
	}
	if r.Flags.HumanHandoff {
		metrics.RecordNotification(tenantID, "human")
	}
	if r.Flags.Lead {
		metrics.RecordNotification(tenantID, "lead")
	}
	if r.Flags.Order {
		metrics.RecordNotification(tenantID, "order")
	}
}

func (o *Orchestrator) loadTenant(ctx context.Context, id string) (*model.Tenant, error) {
	tenant, err := o.tenants.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant: %w", err)
	}
	return tenant, nil
}

// resolveModel picks the requested model when it exists and the tenant model
// otherwise.
func (o *Orchestrator) resolveModel(ctx context.Context, tenant *model.Tenant, name string) (*model.LLMModel, error) {
	m := tenant.Model
	if name = strings.TrimSpace(name); name != "" {
		override, err := o.tenants.ModelByName(ctx, name)
		switch {
		case err == nil:
			m = override
		case errors.Is(err, repository.ErrNotFound):
			o.logger.Warn("unknown model requested, using tenant model",
				zap.String("tenant_id", tenant.ID),
				zap.String("model", name),
			)
		default:
			return nil, fmt.Errorf("failed to load model: %w", err)
		}
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrModelNotConfigured, tenant.ID)
	}
	if m.Provider == nil {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotConfigured, m.Name)
	}
	return m, nil
}

// toolDefinitions turns the enabled functions into tool definitions. A schema
// that is not a JSON object fails the turn.
func toolDefinitions(fns []model.Function) ([]llm.ToolDefinition, []string, error) {
	tools := make([]llm.ToolDefinition, 0, len(fns))
	names := make([]string, 0, len(fns))
	for _, fn := range fns {
		params := strings.TrimSpace(fn.Parameters)
		if params == "" {
			params = `{"type":"object","properties":{}}`
		}
		var schema map[string]any
		if err := json.Unmarshal([]byte(params), &schema); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrInvalidFunctionSchema, fn.Name, err)
		}
		tools = append(tools, llm.ToolDefinition{
			Name:        fn.Name,
			Description: fn.Description,
			Parameters:  json.RawMessage(params),
		})
		names = append(names, fn.Name)
	}
	return tools, names, nil
}

// historyMessages drops stored prompt snapshots and passes function call
// records as system notes.
func historyMessages(stored []model.Message) []llm.Message {
	out := make([]llm.Message, 0, len(stored))
	for _, m := range stored {
		switch m.Role {
		case model.RoleSystem:
			continue
		case model.RoleFunction:
			out = append(out, llm.Message{Role: llm.RoleSystem, Content: m.Content})
		default:
			out = append(out, llm.Message{Role: string(m.Role), Content: m.Content})
		}
	}
	return out
}

func sanitizeReply(text string) string {
	if strings.Contains(text, HumanHandoffMarker) {
		text = HumanHandoffMessage
	}
	return strings.ReplaceAll(text, "`", "'")
}
