package functions

import (
	"context"
	"strings"

	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/internal/search"
)

// ── Stubs ─────────────────────────────────────────────────────────────────────

type stubCatalog struct {
	products []model.Product
	clients  []model.CommercialClient
}

func (s *stubCatalog) ProductByCode(_ context.Context, _ string, code string) (*model.Product, error) {
	for i := range s.products {
		if s.products[i].Code == code {
			return &s.products[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubCatalog) ProductByExternalID(_ context.Context, _ string, externalID string) (*model.Product, error) {
	for i := range s.products {
		if s.products[i].ExternalID == externalID {
			return &s.products[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubCatalog) ProductsByCategoryName(_ context.Context, _ string, name string) ([]model.Product, error) {
	var out []model.Product
	for _, p := range s.products {
		if p.Category != nil && strings.EqualFold(p.Category.Name, name) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubCatalog) ProductsByIDs(_ context.Context, _ string, ids []string) ([]model.Product, error) {
	var out []model.Product
	for _, id := range ids {
		for _, p := range s.products {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

func (s *stubCatalog) ClientByCode(_ context.Context, _ string, code string) (*model.CommercialClient, error) {
	for i := range s.clients {
		if s.clients[i].Code == code {
			return &s.clients[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubCatalog) ClientByCodeContained(_ context.Context, _ string, text string) (*model.CommercialClient, error) {
	for i := range s.clients {
		if strings.Contains(text, s.clients[i].Code) {
			return &s.clients[i], nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubCatalog) ClientsByIDs(_ context.Context, _ string, ids []string) ([]model.CommercialClient, error) {
	var out []model.CommercialClient
	for _, id := range ids {
		for _, c := range s.clients {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (s *stubCatalog) ClientsByDepartamento(_ context.Context, _ string, departamento string) ([]model.CommercialClient, error) {
	var out []model.CommercialClient
	for _, c := range s.clients {
		if strings.EqualFold(c.Departamento, departamento) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubCatalog) ClientsByLocalidad(_ context.Context, _ string, localidad string) ([]model.CommercialClient, error) {
	var out []model.CommercialClient
	for _, c := range s.clients {
		if strings.EqualFold(c.Localidad, localidad) {
			out = append(out, c)
		}
	}
	return out, nil
}

var (
	_ Products = (*stubCatalog)(nil)
	_ Clients  = (*stubCatalog)(nil)
)

type stubSimilarity struct {
	products []search.Match
	clients  []search.Match
	err      error
}

func (s *stubSimilarity) SimilarProducts(context.Context, string, string, int) ([]search.Match, error) {
	return s.products, s.err
}

func (s *stubSimilarity) SimilarClients(context.Context, string, string, int) ([]search.Match, error) {
	return s.clients, s.err
}

var _ Similarity = (*stubSimilarity)(nil)

// stubOrders records the last call and returns a fixed order or error.
type stubOrders struct {
	order *model.Order
	err   error

	lastOrderID  string
	lastClientID string
	lastLines    []model.OrderLine
	lastNote     string
	lastDelivery string
}

func (s *stubOrders) AddItems(_ context.Context, _ string, orderID, clientID string, lines []model.OrderLine) (*model.Order, error) {
	s.lastOrderID, s.lastClientID, s.lastLines = orderID, clientID, lines
	return s.order, s.err
}

func (s *stubOrders) RemoveItem(_ context.Context, _ string, orderID, _ string) (*model.Order, error) {
	s.lastOrderID = orderID
	return s.order, s.err
}

func (s *stubOrders) ChangeQuantity(_ context.Context, _ string, orderID, _ string, _ int) (*model.Order, error) {
	s.lastOrderID = orderID
	return s.order, s.err
}

func (s *stubOrders) Confirm(_ context.Context, _ string, orderID, note, deliveryDate string) (*model.Order, error) {
	s.lastOrderID, s.lastNote, s.lastDelivery = orderID, note, deliveryDate
	return s.order, s.err
}

func (s *stubOrders) Cancel(_ context.Context, _ string, orderID, note string) (*model.Order, error) {
	s.lastOrderID, s.lastNote = orderID, note
	return s.order, s.err
}

var _ Orders = (*stubOrders)(nil)

type stubLeads struct {
	created []*model.Lead
	err     error
}

func (s *stubLeads) Create(_ context.Context, l *model.Lead) error {
	if s.err != nil {
		return s.err
	}
	s.created = append(s.created, l)
	return nil
}

var _ Leads = (*stubLeads)(nil)

type stubDocuments struct {
	docs     map[string]*model.Document
	sections map[string]map[int]*model.Section
}

func (s *stubDocuments) Get(_ context.Context, _ string, id string) (*model.Document, error) {
	if d, ok := s.docs[id]; ok {
		return d, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubDocuments) Section(_ context.Context, _ string, documentID string, seq int) (*model.Section, error) {
	if sec, ok := s.sections[documentID][seq]; ok {
		return sec, nil
	}
	return nil, repository.ErrNotFound
}

var _ Documents = (*stubDocuments)(nil)
