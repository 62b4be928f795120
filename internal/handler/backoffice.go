package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-agent/internal/middleware"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/internal/service"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

// LeadEditor reads and saves leads.
type LeadEditor interface {
	Get(ctx context.Context, tenantID, id string) (*model.Lead, error)
	Update(ctx context.Context, l *model.Lead) error
}

// BillingReporter builds billing reports.
type BillingReporter interface {
	Report(ctx context.Context, from, to time.Time, tenantID string) (*service.BillingReport, error)
}

// LeadHandler handles back-office lead endpoints.
type LeadHandler struct {
	leads  LeadEditor
	logger *logger.Logger
}

// NewLeadHandler creates a new lead handler.
func NewLeadHandler(leads LeadEditor, log *logger.Logger) *LeadHandler {
	return &LeadHandler{leads: leads, logger: log}
}

// UpdateLeadRequest is an explicit lead edit. Omitted fields keep their value.
type UpdateLeadRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	CompanyName *string `json:"companyName" validate:"omitempty,max=200"`
	RutOrCI     *string `json:"rutOrCI" validate:"omitempty,max=32"`
	Phone       *string `json:"phone" validate:"omitempty,max=32"`
	Address     *string `json:"address" validate:"omitempty,max=500"`
}

// Update handles PUT /api/v1/leads/{id}
func (h *LeadHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := scopedTenant(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	leadID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(leadID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req UpdateLeadRequest
	if !decodeBody(w, r, &req) {
		return
	}

	lead, err := h.leads.Get(ctx, tenantID, leadID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "lead not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get lead", zap.String("lead_id", leadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get lead")
		return
	}

	apply(&lead.Name, req.Name)
	apply(&lead.CompanyName, req.CompanyName)
	apply(&lead.RutOrCI, req.RutOrCI)
	apply(&lead.Phone, req.Phone)
	apply(&lead.Address, req.Address)

	if err := h.leads.Update(ctx, lead); err != nil {
		h.logger.Error("failed to update lead", zap.String("lead_id", leadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to update lead")
		return
	}

	writeJSON(w, http.StatusOK, lead)
}

func apply(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// BillingHandler serves token usage reports.
type BillingHandler struct {
	billing BillingReporter
	logger  *logger.Logger
}

// NewBillingHandler creates a new billing handler.
func NewBillingHandler(billing BillingReporter, log *logger.Logger) *BillingHandler {
	return &BillingHandler{billing: billing, logger: log}
}

// Report handles GET /api/v1/billing?from&to. Dates are RFC 3339 or
// YYYY-MM-DD; the range defaults to the current month. Tenant tokens only see
// their own tenant; operator tokens see every tenant unless ?tenantId is set.
func (h *BillingHandler) Report(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from date")
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = parseDate(v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to date")
			return
		}
	}
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "from must be before to")
		return
	}

	tenantID := middleware.GetTenantID(ctx)
	if tenantID == "" {
		tenantID = q.Get("tenantId")
	}

	report, err := h.billing.Report(ctx, from, to, tenantID)
	if err != nil {
		h.logger.Error("failed to build billing report", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build billing report")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
