package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // tenant timezones must resolve on minimal images

	"github.com/capitalize-ai/commerce-agent/internal/functions"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

// LanguageInstructions is appended to every tenant prompt.
const LanguageInstructions = "Hablas correctamente el español, incluyendo el uso adecuado de tildes y eñes.\n" +
	"Por favor, utiliza solo caracteres compatibles con UTF-8 y adecuados para el idioma español.\n"

// LeadHint is added when lead capture is enabled and no active client matches
// the phone.
const LeadHint = "El usuario es un potencial lead. Invitarlo a registrarse y utilizar la función insertLead.\n"

// OpenOrderRule tells the model how to handle a client's open order.
const OpenOrderRule = "Si un cliente tiene una orden en estado Ordering, debe confirmarla o cancelarla antes de iniciar una nueva. " +
	"Para agregar productos a esa orden usa su orderId; usa orderId \"new\" solo cuando el cliente no tiene una orden en estado Ordering.\n"

const sectionRule = "\n***************************\n"

var weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}

// DocumentLister lists the tenant's documents.
type DocumentLister interface {
	List(ctx context.Context, tenantID string) ([]model.Document, error)
}

// ClientFinder resolves the commercial clients behind a phone number.
type ClientFinder interface {
	ClientsByPhone(ctx context.Context, tenantID, phone string) ([]model.CommercialClient, error)
}

// PendingOrderFinder returns the open and recent orders of clients.
type PendingOrderFinder interface {
	PendingForClients(ctx context.Context, tenantID string, clientIDs []string) ([]model.Order, error)
}

// PromptInput is the state a system prompt is built from.
type PromptInput struct {
	Tenant         *model.Tenant
	Functions      []string
	Phone          string
	ConversationID string
	Location       *time.Location
}

// ContextBuilder assembles the system prompt of a turn from live state. It
// keeps no cache so the prompt always reflects the latest orders.
type ContextBuilder struct {
	documents DocumentLister
	clients   ClientFinder
	orders    PendingOrderFinder
	now       func() time.Time
	logger    *logger.Logger
}

// NewContextBuilder creates a new context builder.
func NewContextBuilder(documents DocumentLister, clients ClientFinder, orders PendingOrderFinder, log *logger.Logger) *ContextBuilder {
	return &ContextBuilder{
		documents: documents,
		clients:   clients,
		orders:    orders,
		now:       time.Now,
		logger:    log,
	}
}

// Build returns the tenant prompt followed by the sections enabled by the
// tenant's functions. Sections always appear in the same order: conversation
// id, date, documents, customer and orders, lead hint.
func (b *ContextBuilder) Build(ctx context.Context, in PromptInput) (string, error) {
	loc := in.Location
	if loc == nil {
		loc = time.UTC
	}
	enabled := make(map[string]bool, len(in.Functions))
	for _, name := range in.Functions {
		enabled[name] = true
	}
	leads := anyEnabled(enabled, functions.LeadFunctions)
	ordering := anyEnabled(enabled, functions.OrderFunctions)

	var sb strings.Builder
	sb.WriteString(in.Tenant.Prompt)
	sb.WriteString("\n")
	sb.WriteString(LanguageInstructions)

	if leads && in.ConversationID != "" {
		fmt.Fprintf(&sb, "\nconversationId: %s\n", in.ConversationID)
	}

	if enabled[functions.GetDateOfNow] {
		sb.WriteString("\n**** Fecha y hora ****\n")
		fmt.Fprintf(&sb, "Hoy es %s.\n", FormatLongDate(b.now().In(loc)))
	}

	if anyEnabled(enabled, functions.DocumentFunctions) {
		if err := b.writeDocuments(ctx, &sb, in.Tenant.ID); err != nil {
			return "", err
		}
	}

	if ordering || leads {
		if err := b.writeCustomer(ctx, &sb, in, loc, ordering, leads); err != nil {
			return "", err
		}
	}

	return sb.String(), nil
}

func (b *ContextBuilder) writeDocuments(ctx context.Context, sb *strings.Builder, tenantID string) error {
	docs, err := b.documents.List(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	sb.WriteString("\n**** Documentos ****\n")
	sb.WriteString("Documentos que pueden ser relevantes para elaborar una respuesta:\n")
	for _, d := range docs {
		line, err := json.Marshal(struct {
			ID            string `json:"docId"`
			Name          string `json:"docName"`
			Description   string `json:"docDescription"`
			URL           string `json:"docURL"`
			SectionsCount int    `json:"sectionsCount"`
		}{d.ID, d.Name, d.Description, d.URL, d.SectionsCount})
		if err != nil {
			return err
		}
		sb.Write(line)
		sb.WriteString("\n")
	}
	return nil
}

// writeCustomer lists the clients behind the phone with their pending orders
// and ends with the lead hint when no active client matches.
func (b *ContextBuilder) writeCustomer(ctx context.Context, sb *strings.Builder, in PromptInput, loc *time.Location, ordering, leads bool) error {
	clients, err := b.clients.ClientsByPhone(ctx, in.Tenant.ID, in.Phone)
	if err != nil {
		return fmt.Errorf("failed to resolve clients by phone: %w", err)
	}

	sb.WriteString("\n**** Datos del usuario ****\n")
	fmt.Fprintf(sb, "Phone: %s\n", in.Phone)

	active := make([]model.CommercialClient, 0, len(clients))
	for _, c := range clients {
		if c.IsActive() {
			active = append(active, c)
		}
	}

	if len(active) > 0 {
		var byClient map[string][]model.Order
		if ordering {
			ids := make([]string, 0, len(active))
			for _, c := range active {
				ids = append(ids, c.ID)
			}
			orders, err := b.orders.PendingForClients(ctx, in.Tenant.ID, ids)
			if err != nil {
				return fmt.Errorf("failed to load pending orders: %w", err)
			}
			byClient = make(map[string][]model.Order, len(active))
			for _, o := range orders {
				byClient[o.ComClientID] = append(byClient[o.ComClientID], o)
			}
		}

		if len(active) == 1 {
			sb.WriteString("El usuario es un cliente, estos son sus datos:\n")
		} else {
			sb.WriteString("El teléfono del usuario corresponde a varios clientes, preguntar en nombre de cuál quiere operar:\n")
		}
		for _, c := range active {
			if err := writeClient(sb, c); err != nil {
				return err
			}
			if !ordering {
				continue
			}
			orders := byClient[c.ID]
			if len(orders) == 0 {
				sb.WriteString("Órdenes recientes: ninguna.\n")
				continue
			}
			sb.WriteString("Órdenes recientes:\n")
			for i := range orders {
				line, err := json.Marshal(orders[i].View(loc))
				if err != nil {
					return err
				}
				sb.Write(line)
				sb.WriteString("\n")
			}
		}
		if ordering {
			sb.WriteString(OpenOrderRule)
		}
		if len(active) == 1 {
			fmt.Fprintf(sb, "Saludar al cliente por su nombre: %s.\n", active[0].Name)
		}
	}

	if leads && len(active) == 0 {
		fmt.Fprintf(sb, "No se encontró ningún cliente activo con el número de teléfono: %s.\n", in.Phone)
		sb.WriteString(LeadHint)
	}

	sb.WriteString(sectionRule)
	return nil
}

func writeClient(sb *strings.Builder, c model.CommercialClient) error {
	line, err := json.Marshal(struct {
		ID           string `json:"comClientId"`
		Code         string `json:"codigo"`
		Name         string `json:"nombre"`
		Departamento string `json:"departamento"`
		Localidad    string `json:"localidad"`
		Address      string `json:"direccion"`
		Phone        string `json:"telefono"`
	}{c.ID, c.Code, c.Name, c.Departamento, c.Localidad, c.Address, c.Phone})
	if err != nil {
		return err
	}
	sb.Write(line)
	sb.WriteString("\n")
	return nil
}

// FormatLongDate renders t as "lunes, 13/10/2026 10:00:00".
func FormatLongDate(t time.Time) string {
	return weekdays[t.Weekday()] + ", " + t.Format("02/01/2006 15:04:05")
}

// TenantLocation loads the tenant timezone, falling back to fallback.
func TenantLocation(t *model.Tenant, fallback *time.Location) *time.Location {
	if t != nil && t.Timezone != "" {
		if loc, err := time.LoadLocation(t.Timezone); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}

func anyEnabled(enabled map[string]bool, names []string) bool {
	for _, n := range names {
		if enabled[n] {
			return true
		}
	}
	return false
}
