package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/capitalize-ai/commerce-agent/internal/functions"
	"github.com/capitalize-ai/commerce-agent/internal/llm"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

// turnFixture runs the orchestrator against a real database, the built-in
// function registry and the context builder. Only the model and the
// messaging channel are scripted.
type turnFixture struct {
	db            *gorm.DB
	conversations *ConversationService
	completer     *scriptedCompleter
	sender        *stubSender
	client        *model.CommercialClient
	orchestrator  *Orchestrator
}

func newTurnFixture(t *testing.T, responses func(clientID string) []*llm.CompletionResponse) *turnFixture {
	t.Helper()
	db, err := repository.Open(sqlite.Open(":memory:"), repository.PoolConfig{MaxOpenConns: 1})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	ctx := context.Background()
	log := logger.NewNop()

	tenants := repository.NewTenantRepository(db)
	catalog := repository.NewCatalogRepository(db)
	documents := repository.NewDocumentRepository(db)
	leads := repository.NewLeadRepository(db)

	provider := &model.LLMProvider{Name: model.ProviderOpenAI, APIKey: "sk-tenant"}
	require.NoError(t, tenants.CreateProvider(ctx, provider))
	llmModel := &model.LLMModel{Name: "gpt-4o-mini", ProviderID: provider.ID}
	require.NoError(t, tenants.CreateModel(ctx, llmModel))
	require.NoError(t, tenants.Create(ctx, &model.Tenant{
		Base:     model.Base{ID: "t1"},
		Name:     "Ferretería",
		Prompt:   "Sos el asistente de ventas.",
		Timezone: "America/Montevideo",
		ModelID:  &llmModel.ID,
	}))
	for _, name := range []string{functions.AddItemToOrder, functions.ConfirmOrder, functions.InsertLead} {
		require.NoError(t, tenants.UpsertFunction(ctx, &model.Function{
			Name:        name,
			Description: name,
			Parameters:  `{"type":"object","properties":{}}`,
		}))
	}
	require.NoError(t, tenants.EnableFunctions(ctx, "t1", functions.AddItemToOrder, functions.ConfirmOrder, functions.InsertLead))

	product := &model.Product{
		TenantID:   "t1",
		ExternalID: "1",
		Code:       "ABC123",
		Name:       "Taladro percutor",
		Price:      decimal.RequireFromString("12.5"),
		Currency:   "USD",
	}
	require.NoError(t, catalog.UpsertProduct(ctx, product, ""))
	client := &model.CommercialClient{
		TenantID: "t1",
		Code:     "C001",
		Name:     "Almacén Centro",
		Phone:    "099111222",
		Status:   model.ClientStatusActive,
	}
	require.NoError(t, catalog.UpsertClient(ctx, client))

	orders := NewOrderService(repository.NewOrderRepository(db), catalog, log)
	conversations := NewConversationService(repository.NewConversationRepository(db), time.Hour, log)
	registry := functions.NewDefaultRegistry(functions.Deps{
		Products:  catalog,
		Clients:   catalog,
		Orders:    orders,
		Leads:     leads,
		Documents: documents,
	}, log)

	f := &turnFixture{
		db:            db,
		conversations: conversations,
		completer:     &scriptedCompleter{responses: responses(client.ID)},
		sender:        &stubSender{},
		client:        client,
	}
	f.orchestrator = NewOrchestrator(
		tenants,
		conversations,
		NewContextBuilder(documents, catalog, orders, log),
		f.completer,
		registry,
		f.sender,
		OrchestratorConfig{},
		log,
	)
	return f
}

func TestHandleInbound_OrderTurnAgainstDatabase(t *testing.T) {
	f := newTurnFixture(t, func(clientID string) []*llm.CompletionResponse {
		args, _ := json.Marshal(map[string]any{
			"orderId":     "new",
			"comClientId": clientID,
			"productCode": "ABC123",
			"quantity":    "2",
		})
		return []*llm.CompletionResponse{
			toolCall("c1", functions.AddItemToOrder, string(args), 120, 30),
			reply("Agregué 2 Taladro percutor a tu orden #0001", 140, 20),
		}
	})
	ctx := context.Background()

	res, err := f.orchestrator.HandleInbound(ctx, model.InboundMessage{
		TenantID: "t1",
		Phone:    "099111222",
		Text:     "Quiero 2 ABC123",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, 260, res.PromptTokens)
	assert.Equal(t, 50, res.CompletionTokens)

	// the prompt greets the client found by phone
	require.NotEmpty(t, f.completer.requests)
	assert.Contains(t, f.completer.requests[0].SystemPrompt, "Almacén Centro")
	assert.Contains(t, f.completer.requests[0].SystemPrompt, f.client.ID)

	var orders []model.Order
	require.NoError(t, f.db.Preload("Items").Where("tenant_id = ?", "t1").Find(&orders).Error)
	require.Len(t, orders, 1)
	order := orders[0]
	assert.Equal(t, 1, order.OrderNumber)
	assert.Equal(t, model.OrderStatusOrdering, order.Status)
	assert.Equal(t, f.client.ID, order.ComClientID)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "ABC123", order.Items[0].Code)
	assert.Equal(t, 2, order.Items[0].Quantity)

	// the function result fed back to the model is the order view
	last := f.completer.requests[len(f.completer.requests)-1].Messages
	require.GreaterOrEqual(t, len(last), 2)
	assert.Equal(t, llm.RoleFunction, last[len(last)-1].Role)
	assert.Contains(t, last[len(last)-1].Content, "ABC123")

	stored, err := f.conversations.Messages(ctx, res.ConversationID)
	require.NoError(t, err)
	roles := make([]model.Role, 0, len(stored))
	for _, m := range stored {
		roles = append(roles, m.Role)
	}
	assert.Equal(t, []model.Role{model.RoleUser, model.RoleSystem, model.RoleFunction, model.RoleAssistant}, roles)

	fn := stored[2]
	assert.Contains(t, fn.Content, functions.AddItemToOrder)
	var data model.FunctionCallData
	require.NoError(t, json.Unmarshal([]byte(fn.GPTData), &data))
	assert.Equal(t, functions.AddItemToOrder, data.FunctionName)
	assert.Equal(t, "ABC123", data.Args["productCode"])

	assistant := stored[3]
	assert.Equal(t, 260, assistant.PromptTokens)
	assert.Equal(t, 50, assistant.CompletionTokens)

	require.Len(t, f.sender.sent, 1)
	sent := f.sender.sent[0]
	assert.Equal(t, res.ConversationID, sent.ConversationID)
	assert.Equal(t, "Agregué 2 Taladro percutor a tu orden #0001", sent.Text)
	assert.False(t, sent.NotifyOrder)
	assert.False(t, sent.NotifyLead)
	assert.False(t, sent.NotifyHuman)
}
