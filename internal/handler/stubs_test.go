package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/commerce-agent/internal/middleware"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/internal/service"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

const (
	testSecret   = "test-secret"
	testAPIToken = "integration-token"
	tenantA      = "tenant-a"
)

// ── Stubs ─────────────────────────────────────────────────────────────────────

type stubTenants struct{ tenants map[string]*model.Tenant }

func (s *stubTenants) Get(_ context.Context, id string) (*model.Tenant, error) {
	if t, ok := s.tenants[id]; ok {
		return t, nil
	}
	return nil, repository.ErrNotFound
}

type stubQueue struct {
	mu        sync.Mutex
	published []*model.InboundMessage
	duplicate bool
	err       error
}

func (s *stubQueue) PublishInbound(_ context.Context, msg *model.InboundMessage) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, false, s.err
	}
	s.published = append(s.published, msg)
	return uint64(len(s.published)), s.duplicate, nil
}

type stubCatalog struct {
	products   []*model.Product
	categories []string
	clients    []*model.CommercialClient
	sells      []*model.Sell
	vendors    []string
}

func (s *stubCatalog) UpsertProduct(_ context.Context, p *model.Product, categoryName string) error {
	p.ID = "prod-1"
	s.products = append(s.products, p)
	s.categories = append(s.categories, categoryName)
	return nil
}

func (s *stubCatalog) UpsertClient(_ context.Context, c *model.CommercialClient) error {
	c.ID = "client-1"
	s.clients = append(s.clients, c)
	return nil
}

func (s *stubCatalog) UpsertSell(_ context.Context, sell *model.Sell, c *model.CommercialClient, vendorName string) error {
	c.ID = "client-1"
	sell.ID = "sell-1"
	sell.ComClientID = c.ID
	sell.ComClient = c
	s.sells = append(s.sells, sell)
	s.clients = append(s.clients, c)
	s.vendors = append(s.vendors, vendorName)
	return nil
}

type stubIndexer struct{ products, clients int }

func (s *stubIndexer) IndexProduct(context.Context, *model.Product, string) error {
	s.products++
	return nil
}

func (s *stubIndexer) IndexClient(context.Context, *model.CommercialClient) error {
	s.clients++
	return nil
}

type stubLeads struct {
	byPhone map[string]*model.Lead
	byID    map[string]*model.Lead
	updated []*model.Lead
}

func (s *stubLeads) LatestByPhone(_ context.Context, _, phone string) (*model.Lead, error) {
	if l, ok := s.byPhone[phone]; ok {
		return l, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubLeads) Get(_ context.Context, tenantID, id string) (*model.Lead, error) {
	if l, ok := s.byID[id]; ok && l.TenantID == tenantID {
		cp := *l
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubLeads) Update(_ context.Context, l *model.Lead) error {
	s.updated = append(s.updated, l)
	return nil
}

type stubOrders struct{ byPhone map[string]*model.Order }

func (s *stubOrders) OrderByPhone(_ context.Context, _, phone string) (*model.Order, error) {
	if o, ok := s.byPhone[phone]; ok {
		return o, nil
	}
	return nil, repository.ErrNotFound
}

type stubConversations struct {
	convs     map[string]*model.Conversation
	listedFor []string
	closed    []string
}

func (s *stubConversations) List(_ context.Context, tenantID string, limit, offset int) (*model.ListConversationsResponse, error) {
	s.listedFor = append(s.listedFor, tenantID)
	var out []model.Conversation
	for _, c := range s.convs {
		if c.TenantID == tenantID {
			out = append(out, *c)
		}
	}
	return &model.ListConversationsResponse{Conversations: out, Total: int64(len(out))}, nil
}

func (s *stubConversations) Get(_ context.Context, tenantID, id string) (*model.Conversation, error) {
	if c, ok := s.convs[id]; ok && c.TenantID == tenantID {
		return c, nil
	}
	return nil, service.ErrConversationNotFound
}

func (s *stubConversations) Close(ctx context.Context, tenantID, id string) error {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return err
	}
	s.closed = append(s.closed, id)
	return nil
}

type stubBilling struct {
	from, to time.Time
	tenantID string
	calls    int
}

func (s *stubBilling) Report(_ context.Context, from, to time.Time, tenantID string) (*service.BillingReport, error) {
	s.from, s.to, s.tenantID = from, to, tenantID
	s.calls++
	return &service.BillingReport{From: from, To: to}, nil
}

type stubReplies struct {
	mu       sync.Mutex
	fn       func(model.OutboundMessage)
	ready    chan struct{}
	canceled bool
}

func (s *stubReplies) SubscribeOutbound(_ string, fn func(model.OutboundMessage)) (func(), error) {
	s.mu.Lock()
	s.fn = fn
	s.mu.Unlock()
	close(s.ready)
	return func() {
		s.mu.Lock()
		s.canceled = true
		s.mu.Unlock()
	}, nil
}

func (s *stubReplies) publish(m model.OutboundMessage) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	fn(m)
}

type stubPinger struct{ err error }

func (s stubPinger) PingContext(context.Context) error { return s.err }

type stubConn bool

func (s stubConn) IsConnected() bool { return bool(s) }

var (
	_ Tenants         = (*stubTenants)(nil)
	_ InboundQueue    = (*stubQueue)(nil)
	_ CatalogWriter   = (*stubCatalog)(nil)
	_ CatalogIndexer  = (*stubIndexer)(nil)
	_ LeadFinder      = (*stubLeads)(nil)
	_ LeadEditor      = (*stubLeads)(nil)
	_ OrderFinder     = (*stubOrders)(nil)
	_ Conversations   = (*stubConversations)(nil)
	_ BillingReporter = (*stubBilling)(nil)
	_ ReplySubscriber = (*stubReplies)(nil)
)

// ── Fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	queue         *stubQueue
	catalog       *stubCatalog
	indexer       *stubIndexer
	leads         *stubLeads
	orders        *stubOrders
	conversations *stubConversations
	billing       *stubBilling
	replies       *stubReplies
	handler       http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.NewNop()
	f := &fixture{
		queue:         &stubQueue{},
		catalog:       &stubCatalog{},
		indexer:       &stubIndexer{},
		leads:         &stubLeads{byPhone: map[string]*model.Lead{}, byID: map[string]*model.Lead{}},
		orders:        &stubOrders{byPhone: map[string]*model.Order{}},
		conversations: &stubConversations{convs: map[string]*model.Conversation{}},
		billing:       &stubBilling{},
		replies:       &stubReplies{ready: make(chan struct{})},
	}
	tenants := &stubTenants{tenants: map[string]*model.Tenant{
		tenantA: {Base: model.Base{ID: tenantA}, Name: "Ferretería A"},
	}}

	integration := NewIntegrationHandler(IntegrationDeps{
		Tenants: tenants,
		Inbound: f.queue,
		Catalog: f.catalog,
		Indexer: f.indexer,
		Leads:   f.leads,
		Orders:  f.orders,
	}, log)

	stream := NewStreamHandler(f.conversations, f.replies, log)
	stream.heartbeat = time.Hour

	f.handler = NewRouter(RouterConfig{
		JWTSecret:         testSecret,
		APIToken:          testAPIToken,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}, Handlers{
		Health:        NewHealthHandler(stubPinger{}, stubConn(true)),
		Integration:   integration,
		Conversations: NewConversationHandler(f.conversations, log),
		Stream:        stream,
		Leads:         NewLeadHandler(f.leads, log),
		Billing:       NewBillingHandler(f.billing, log),
	}, log)
	return f
}

// do sends a request with an optional bearer token.
func (f *fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

// signToken issues a back-office token. An empty tenantID is an operator
// token.
func signToken(t *testing.T, tenantID string, scopes ...string) string {
	t.Helper()
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		TenantID: tenantID,
		Scopes:   scopes,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}
