package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-agent/internal/apperror"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/internal/service"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

// Tenants resolves the tenant named in the path.
type Tenants interface {
	Get(ctx context.Context, id string) (*model.Tenant, error)
}

// InboundQueue accepts customer messages for asynchronous processing.
type InboundQueue interface {
	PublishInbound(ctx context.Context, msg *model.InboundMessage) (seq uint64, duplicate bool, err error)
}

// CatalogWriter upserts products, commercial clients and sales.
type CatalogWriter interface {
	UpsertProduct(ctx context.Context, p *model.Product, categoryName string) error
	UpsertClient(ctx context.Context, c *model.CommercialClient) error
	UpsertSell(ctx context.Context, s *model.Sell, client *model.CommercialClient, vendorName string) error
}

// CatalogIndexer refreshes the semantic search embeddings.
type CatalogIndexer interface {
	IndexProduct(ctx context.Context, p *model.Product, categoryName string) error
	IndexClient(ctx context.Context, c *model.CommercialClient) error
}

// LeadFinder finds the latest lead of a phone.
type LeadFinder interface {
	LatestByPhone(ctx context.Context, tenantID, phone string) (*model.Lead, error)
}

// OrderFinder finds the latest confirmed order of a phone.
type OrderFinder interface {
	OrderByPhone(ctx context.Context, tenantID, phone string) (*model.Order, error)
}

// IntegrationDeps groups the collaborators of the integration API.
type IntegrationDeps struct {
	Tenants  Tenants
	Inbound  InboundQueue
	Catalog  CatalogWriter
	Indexer  CatalogIndexer
	Leads    LeadFinder
	Orders   OrderFinder
	Location *time.Location
}

// IntegrationHandler serves the API used by the messaging gateway and the
// tenants' ERPs. Routes are scoped by the {tenantId} path parameter.
type IntegrationHandler struct {
	deps   IntegrationDeps
	logger *logger.Logger
}

// NewIntegrationHandler creates a new integration handler.
func NewIntegrationHandler(deps IntegrationDeps, log *logger.Logger) *IntegrationHandler {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &IntegrationHandler{deps: deps, logger: log}
}

// InboundMessageRequest is a customer message received by the gateway.
type InboundMessageRequest struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
	Phone     string `json:"phone" validate:"required,max=32"`
	Text      string `json:"text" validate:"required,max=4096"`
	Model     string `json:"model,omitempty" validate:"omitempty,max=64"`
}

// ProductUpdateRequest upserts a product by external id.
type ProductUpdateRequest struct {
	ExternalID     string          `json:"externalId" validate:"required"`
	Code           string          `json:"code" validate:"required"`
	Name           string          `json:"name" validate:"required"`
	Description    string          `json:"description"`
	Stock          int             `json:"stock"`
	PedidoEnOrigen int             `json:"pedidoEnOrigen"`
	Precio         decimal.Decimal `json:"precio"`
	Currency       string          `json:"currency" validate:"omitempty,max=8"`
	CategoryName   string          `json:"categoryName"`
}

// ClientUpdateRequest upserts a commercial client by code.
type ClientUpdateRequest struct {
	Code         string `json:"code" validate:"required"`
	Name         string `json:"name"`
	RazonSocial  string `json:"razonSocial"`
	Departamento string `json:"departamento"`
	Localidad    string `json:"localidad"`
	Direccion    string `json:"direccion"`
	Telefono     string `json:"telefono"`
	RutOrCI      string `json:"rutOrCI"`
	Status       string `json:"status" validate:"omitempty,oneof=ACTIVE INACTIVE"`
}

// SellUpdateRequest upserts a sale by external id. The client fields create
// the client when clientCode is unknown.
type SellUpdateRequest struct {
	ExternalID   string `json:"externalId" validate:"required"`
	ClientCode   string `json:"clientCode" validate:"required"`
	ClientName   string `json:"clientName"`
	VendorName   string `json:"vendorName"`
	Quantity     int    `json:"quantity" validate:"gte=0"`
	Currency     string `json:"currency" validate:"omitempty,max=8"`
	Departamento string `json:"departamento"`
	Localidad    string `json:"localidad"`
	Direccion    string `json:"direccion"`
	Telefono     string `json:"telefono"`
}

// PhoneLookupRequest is the body of the lead and order lookups.
type PhoneLookupRequest struct {
	Message struct {
		Phone string `json:"phone" validate:"required"`
	} `json:"message"`
}

// LeadEntry is the lead returned to the gateway.
type LeadEntry struct {
	Phone     string `json:"phone"`
	Nombre    string `json:"nombre"`
	Empresa   string `json:"empresa"`
	RutOrCI   string `json:"rutOrCI"`
	Direccion string `json:"direccion"`
	Fecha     string `json:"fecha"`
}

// Inbound handles POST /api/{tenantId}/messages
func (h *IntegrationHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req InboundMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}

	msg := &model.InboundMessage{
		ID:         req.MessageID,
		TenantID:   tenant.ID,
		Phone:      strings.TrimSpace(req.Phone),
		Text:       req.Text,
		Model:      req.Model,
		ReceivedAt: time.Now().UTC(),
	}
	seq, duplicate, err := h.deps.Inbound.PublishInbound(ctx, msg)
	if err != nil {
		logger.FromContext(ctx).Error("failed to queue inbound message", zap.String("tenant_id", tenant.ID), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to queue message")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":    !duplicate,
		"duplicate": duplicate,
		"sequence":  seq,
	})
}

// UpdateProduct handles POST /api/{tenantId}/products/update
func (h *IntegrationHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req ProductUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "UYU"
	}

	p := &model.Product{
		TenantID:     tenant.ID,
		ExternalID:   strings.TrimSpace(req.ExternalID),
		Code:         strings.TrimSpace(req.Code),
		Name:         req.Name,
		Description:  req.Description,
		Stock:        req.Stock,
		PendingStock: req.PedidoEnOrigen,
		Price:        req.Precio,
		Currency:     currency,
	}
	if err := h.deps.Catalog.UpsertProduct(ctx, p, req.CategoryName); err != nil {
		logger.FromContext(ctx).Error("failed to upsert product", zap.String("external_id", p.ExternalID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update product")
		return
	}
	if h.deps.Indexer != nil {
		if err := h.deps.Indexer.IndexProduct(ctx, p, req.CategoryName); err != nil {
			logger.FromContext(ctx).Warn("failed to index product", zap.String("product_id", p.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": p})
}

// UpdateClient handles POST /api/{tenantId}/comclients/update
func (h *IntegrationHandler) UpdateClient(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req ClientUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := model.ClientStatus(req.Status)
	if status == "" {
		status = model.ClientStatusActive
	}

	c := &model.CommercialClient{
		TenantID:     tenant.ID,
		Code:         strings.TrimSpace(req.Code),
		Name:         req.Name,
		RazonSocial:  req.RazonSocial,
		Rut:          req.RutOrCI,
		Phone:        req.Telefono,
		Address:      req.Direccion,
		Departamento: req.Departamento,
		Localidad:    req.Localidad,
		Status:       status,
	}
	if err := h.deps.Catalog.UpsertClient(ctx, c); err != nil {
		logger.FromContext(ctx).Error("failed to upsert client", zap.String("code", c.Code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update client")
		return
	}
	if h.deps.Indexer != nil {
		if err := h.deps.Indexer.IndexClient(ctx, c); err != nil {
			logger.FromContext(ctx).Warn("failed to index client", zap.String("client_id", c.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": c})
}

// UpdateSell handles POST /api/{tenantId}/sells/update
func (h *IntegrationHandler) UpdateSell(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req SellUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	currency := req.Currency
	if currency == "" {
		currency = "UYU"
	}

	sell := &model.Sell{
		TenantID:   tenant.ID,
		ExternalID: strings.TrimSpace(req.ExternalID),
		Quantity:   req.Quantity,
		Currency:   currency,
	}
	client := &model.CommercialClient{
		TenantID:     tenant.ID,
		Code:         strings.TrimSpace(req.ClientCode),
		Name:         req.ClientName,
		Phone:        req.Telefono,
		Address:      req.Direccion,
		Departamento: req.Departamento,
		Localidad:    req.Localidad,
	}
	if err := h.deps.Catalog.UpsertSell(ctx, sell, client, req.VendorName); err != nil {
		logger.FromContext(ctx).Error("failed to upsert sell", zap.String("external_id", sell.ExternalID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update sell")
		return
	}
	if h.deps.Indexer != nil && sell.ComClient != nil {
		if err := h.deps.Indexer.IndexClient(ctx, sell.ComClient); err != nil {
			logger.FromContext(ctx).Warn("failed to index client", zap.String("client_id", sell.ComClientID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": sell})
}

// LeadByPhone handles POST /api/{tenantId}/leads
func (h *IntegrationHandler) LeadByPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req PhoneLookupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	lead, err := h.deps.Leads.LatestByPhone(ctx, tenant.ID, req.Message.Phone)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"data": "Lead Entry not found"})
		return
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to find lead", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to find lead")
		return
	}

	loc := service.TenantLocation(tenant, h.deps.Location)
	writeJSON(w, http.StatusOK, map[string]any{"data": LeadEntry{
		Phone:     req.Message.Phone,
		Nombre:    lead.Name,
		Empresa:   lead.CompanyName,
		RutOrCI:   lead.RutOrCI,
		Direccion: lead.Address,
		Fecha:     lead.UpdatedAt.In(loc).Format("02/01/2006, 15:04:05"),
	}})
}

// OrderByPhone handles POST /api/{tenantId}/pedidos
func (h *IntegrationHandler) OrderByPhone(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant, ok := h.tenant(w, r)
	if !ok {
		return
	}

	var req PhoneLookupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := h.deps.Orders.OrderByPhone(ctx, tenant.ID, req.Message.Phone)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusOK, map[string]string{"data": "Pedido Entry not found"})
		return
	}
	if msg, ok := apperror.Message(err); ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if err != nil {
		logger.FromContext(ctx).Error("failed to find order", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to find order")
		return
	}

	writeJSON(w, http.StatusOK, order.View(service.TenantLocation(tenant, h.deps.Location)))
}

// tenant loads the {tenantId} of the path, writing 404 when it is unknown.
func (h *IntegrationHandler) tenant(w http.ResponseWriter, r *http.Request) (*model.Tenant, bool) {
	id := chi.URLParam(r, "tenantId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "tenantId is required")
		return nil, false
	}
	t, err := h.deps.Tenants.Get(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "tenant not found")
		return nil, false
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to load tenant", zap.String("tenant_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load tenant")
		return nil, false
	}
	return t, true
}
