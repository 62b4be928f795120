package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

var million = decimal.NewFromInt(1_000_000)

// UsageSource sums token usage per tenant.
type UsageSource interface {
	TokenUsage(ctx context.Context, from, to time.Time, tenantID string) ([]repository.TokenUsage, error)
}

// TenantLister lists tenants with their model.
type TenantLister interface {
	List(ctx context.Context) ([]model.Tenant, error)
}

// BillingRow is the usage and cost of one tenant. Prices are per million
// tokens.
type BillingRow struct {
	TenantID              string          `json:"tenantId"`
	TenantName            string          `json:"tenantName"`
	ModelName             string          `json:"modelName"`
	PromptTokens          int64           `json:"promptTokens"`
	CompletionTokens      int64           `json:"completionTokens"`
	PromptTokensCost      decimal.Decimal `json:"promptTokensCost"`
	CompletionTokensCost  decimal.Decimal `json:"completionTokensCost"`
	TotalCost             decimal.Decimal `json:"totalCost"`
	PromptTokensPrice     decimal.Decimal `json:"promptTokensPrice"`
	CompletionTokensPrice decimal.Decimal `json:"completionTokensPrice"`
	TotalPrice            decimal.Decimal `json:"totalPrice"`
}

// BillingReport covers messages created in [From, To).
type BillingReport struct {
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Rows      []BillingRow    `json:"rows"`
	TotalCost decimal.Decimal `json:"totalCost"`
}

// BillingService rolls message token counts up into cost reports.
type BillingService struct {
	usage   UsageSource
	tenants TenantLister
	logger  *logger.Logger
}

// NewBillingService creates a new billing service.
func NewBillingService(usage UsageSource, tenants TenantLister, log *logger.Logger) *BillingService {
	return &BillingService{usage: usage, tenants: tenants, logger: log}
}

// Report returns the usage of every tenant, or only tenantID when it is set,
// sorted by prompt tokens descending.
func (s *BillingService) Report(ctx context.Context, from, to time.Time, tenantID string) (*BillingReport, error) {
	if !from.Before(to) {
		return nil, errors.New("from must be before to")
	}
	usage, err := s.usage.TokenUsage(ctx, from, to, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum token usage: %w", err)
	}
	tenants, err := s.tenants.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	byID := make(map[string]model.Tenant, len(tenants))
	for _, t := range tenants {
		byID[t.ID] = t
	}

	report := &BillingReport{From: from, To: to, Rows: make([]BillingRow, 0, len(usage)), TotalCost: decimal.Zero}
	for _, u := range usage {
		row := BillingRow{
			TenantID:         u.TenantID,
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
		}
		if t, ok := byID[u.TenantID]; ok {
			row.TenantName = t.Name
			row.PromptTokensPrice = t.PromptTokensPrice
			row.CompletionTokensPrice = t.CompletionTokensPrice
			if t.Model != nil {
				row.ModelName = t.Model.Name
				row.PromptTokensCost = t.Model.InputPrice
				row.CompletionTokensCost = t.Model.OutputPrice
			}
		}
		row.TotalCost = tokenAmount(row.PromptTokens, row.PromptTokensCost).
			Add(tokenAmount(row.CompletionTokens, row.CompletionTokensCost))
		row.TotalPrice = tokenAmount(row.PromptTokens, row.PromptTokensPrice).
			Add(tokenAmount(row.CompletionTokens, row.CompletionTokensPrice))
		report.TotalCost = report.TotalCost.Add(row.TotalCost)
		report.Rows = append(report.Rows, row)
	}

	sort.SliceStable(report.Rows, func(i, j int) bool {
		return report.Rows[i].PromptTokens > report.Rows[j].PromptTokens
	})
	return report, nil
}

// tokenAmount prices tokens at pricePerMillion.
func tokenAmount(tokens int64, pricePerMillion decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(tokens).Div(million).Mul(pricePerMillion)
}
