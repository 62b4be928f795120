package functions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/internal/search"
)

const (
	productNotFound  = "Producto no encontrado"
	productsNotFound = "No se encontraron productos"
	clientNotFound   = "Cliente no encontrado"
	clientsNotFound  = "No se encontraron clientes"
)

// Products reads the tenant's catalog.
type Products interface {
	ProductByCode(ctx context.Context, tenantID, code string) (*model.Product, error)
	ProductByExternalID(ctx context.Context, tenantID, externalID string) (*model.Product, error)
	ProductsByCategoryName(ctx context.Context, tenantID, name string) ([]model.Product, error)
	ProductsByIDs(ctx context.Context, tenantID string, ids []string) ([]model.Product, error)
}

// Clients reads the tenant's commercial clients.
type Clients interface {
	ClientByCode(ctx context.Context, tenantID, code string) (*model.CommercialClient, error)
	ClientByCodeContained(ctx context.Context, tenantID, text string) (*model.CommercialClient, error)
	ClientsByIDs(ctx context.Context, tenantID string, ids []string) ([]model.CommercialClient, error)
	ClientsByDepartamento(ctx context.Context, tenantID, departamento string) ([]model.CommercialClient, error)
	ClientsByLocalidad(ctx context.Context, tenantID, localidad string) ([]model.CommercialClient, error)
}

// Similarity ranks products and clients by semantic distance to free text.
type Similarity interface {
	SimilarProducts(ctx context.Context, tenantID, text string, limit int) ([]search.Match, error)
	SimilarClients(ctx context.Context, tenantID, text string, limit int) ([]search.Match, error)
}

type productResult struct {
	Ranking      string      `json:"numeroRanking"`
	Code         string      `json:"codigo"`
	Name         string      `json:"nombre"`
	Stock        int         `json:"stock"`
	PendingStock int         `json:"pedidoEnOrigen"`
	PriceUSD     json.Number `json:"precioUSD"`
	Category     string      `json:"familia"`
	Distance     *float64    `json:"distancia,omitempty"`
}

func newProductResult(p *model.Product) productResult {
	r := productResult{
		Ranking:      p.ExternalID,
		Code:         p.Code,
		Name:         p.Name,
		Stock:        p.Stock,
		PendingStock: p.PendingStock,
		PriceUSD:     json.Number(p.Price.StringFixed(2)),
	}
	if p.Category != nil {
		r.Category = p.Category.Name
	}
	return r
}

type clientResult struct {
	ID           string   `json:"comClientId"`
	Code         string   `json:"code"`
	Name         string   `json:"name"`
	Departamento string   `json:"departamento"`
	Localidad    string   `json:"localidad"`
	Address      string   `json:"direccion"`
	Phone        string   `json:"telefono"`
	Distance     *float64 `json:"distancia,omitempty"`
}

func newClientResult(c *model.CommercialClient) clientResult {
	return clientResult{
		ID:           c.ID,
		Code:         c.Code,
		Name:         c.Name,
		Departamento: c.Departamento,
		Localidad:    c.Localidad,
		Address:      c.Address,
		Phone:        c.Phone,
	}
}

type catalogHandlers struct {
	products   Products
	clients    Clients
	similarity Similarity
}

func (h *catalogHandlers) productByCode(ctx context.Context, call Call) (string, error) {
	code := call.Args.String("code")
	if code == "" {
		return productNotFound, nil
	}
	return h.singleProduct(h.products.ProductByCode(ctx, call.TenantID, code))
}

func (h *catalogHandlers) productByRanking(ctx context.Context, call Call) (string, error) {
	ranking := call.Args.String("ranking")
	if ranking == "" {
		return productNotFound, nil
	}
	return h.singleProduct(h.products.ProductByExternalID(ctx, call.TenantID, ranking))
}

func (h *catalogHandlers) singleProduct(p *model.Product, err error) (string, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return productNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return encode(newProductResult(p))
}

func (h *catalogHandlers) productsByCategory(ctx context.Context, call Call) (string, error) {
	products, err := h.products.ProductsByCategoryName(ctx, call.TenantID, call.Args.String("categoryName"))
	if err != nil {
		return "", err
	}
	if len(products) == 0 {
		return productsNotFound, nil
	}
	results := make([]productResult, 0, len(products))
	for i := range products {
		results = append(results, newProductResult(&products[i]))
	}
	return encode(results)
}

func (h *catalogHandlers) productsByName(ctx context.Context, call Call) (string, error) {
	name := call.Args.String("name")
	if name == "" || h.similarity == nil {
		return productsNotFound, nil
	}
	matches, err := h.similarity.SimilarProducts(ctx, call.TenantID, name, search.DefaultLimit)
	if err != nil {
		return "", fmt.Errorf("product similarity search: %w", err)
	}
	if len(matches) == 0 {
		return productsNotFound, nil
	}
	products, err := h.products.ProductsByIDs(ctx, call.TenantID, matchIDs(matches))
	if err != nil {
		return "", err
	}
	distances := matchDistances(matches)
	results := make([]productResult, 0, len(products))
	for i := range products {
		r := newProductResult(&products[i])
		d := distances[products[i].ID]
		r.Distance = &d
		results = append(results, r)
	}
	if len(results) == 0 {
		return productsNotFound, nil
	}
	return encode(results)
}

// clientByCode tries an exact match first and then a stored code contained in
// the text, for codes the model decorated with a prefix or a name.
func (h *catalogHandlers) clientByCode(ctx context.Context, call Call) (string, error) {
	code := call.Args.String("code")
	if code == "" {
		return clientNotFound, nil
	}
	c, err := h.clients.ClientByCode(ctx, call.TenantID, code)
	if errors.Is(err, repository.ErrNotFound) {
		c, err = h.clients.ClientByCodeContained(ctx, call.TenantID, code)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return clientNotFound, nil
	}
	if err != nil {
		return "", err
	}
	return encode(newClientResult(c))
}

func (h *catalogHandlers) clientsByName(ctx context.Context, call Call) (string, error) {
	name := call.Args.String("name")
	if name == "" || h.similarity == nil {
		return clientsNotFound, nil
	}
	matches, err := h.similarity.SimilarClients(ctx, call.TenantID, name, search.DefaultLimit)
	if err != nil {
		return "", fmt.Errorf("client similarity search: %w", err)
	}
	if len(matches) == 0 {
		return clientsNotFound, nil
	}
	clients, err := h.clients.ClientsByIDs(ctx, call.TenantID, matchIDs(matches))
	if err != nil {
		return "", err
	}
	distances := matchDistances(matches)
	results := make([]clientResult, 0, len(clients))
	for i := range clients {
		r := newClientResult(&clients[i])
		d := distances[clients[i].ID]
		r.Distance = &d
		results = append(results, r)
	}
	if len(results) == 0 {
		return clientsNotFound, nil
	}
	return encode(results)
}

func (h *catalogHandlers) clientsByDepartamento(ctx context.Context, call Call) (string, error) {
	return h.clientList(h.clients.ClientsByDepartamento(ctx, call.TenantID, call.Args.String("departamento")))
}

func (h *catalogHandlers) clientsByLocalidad(ctx context.Context, call Call) (string, error) {
	return h.clientList(h.clients.ClientsByLocalidad(ctx, call.TenantID, call.Args.String("localidad")))
}

func (h *catalogHandlers) clientList(clients []model.CommercialClient, err error) (string, error) {
	if err != nil {
		return "", err
	}
	if len(clients) == 0 {
		return clientsNotFound, nil
	}
	results := make([]clientResult, 0, len(clients))
	for i := range clients {
		results = append(results, newClientResult(&clients[i]))
	}
	return encode(results)
}

func matchIDs(matches []search.Match) []string {
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	return ids
}

func matchDistances(matches []search.Match) map[string]float64 {
	d := make(map[string]float64, len(matches))
	for _, m := range matches {
		d[m.ID] = m.Distance
	}
	return d
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode function result: %w", err)
	}
	return string(b), nil
}
