package functions

import (
	"context"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

// Orders applies order mutations under the order lifecycle rules.
type Orders interface {
	AddItems(ctx context.Context, tenantID, orderID, clientID string, lines []model.OrderLine) (*model.Order, error)
	RemoveItem(ctx context.Context, tenantID, orderID, productCode string) (*model.Order, error)
	ChangeQuantity(ctx context.Context, tenantID, orderID, productCode string, quantity int) (*model.Order, error)
	Confirm(ctx context.Context, tenantID, orderID, note, deliveryDate string) (*model.Order, error)
	Cancel(ctx context.Context, tenantID, orderID, note string) (*model.Order, error)
}

type orderHandlers struct {
	orders Orders
}

func (h *orderHandlers) addItem(ctx context.Context, call Call) (string, error) {
	orderID := call.Args.String("orderId")
	clientID := call.Args.String("comClientId")
	code := call.Args.String("productCode")
	qty, ok := call.Args.Int("quantity")
	if orderID == "" || clientID == "" || code == "" || !ok || qty <= 0 {
		return "Parámetros incorrectos, orderId, comClientId, productCode y quantity son obligatorios", nil
	}
	lines := []model.OrderLine{{ProductCode: code, Quantity: qty}}
	return h.render(call)(h.orders.AddItems(ctx, call.TenantID, orderID, clientID, lines))
}

func (h *orderHandlers) addBulkItems(ctx context.Context, call Call) (string, error) {
	orderID := call.Args.String("orderId")
	clientID := call.Args.String("comClientId")
	lines, ok := call.Args.Lines("products")
	if orderID == "" || clientID == "" || !ok {
		return "Parámetros incorrectos, orderId, comClientId y products son obligatorios", nil
	}
	return h.render(call)(h.orders.AddItems(ctx, call.TenantID, orderID, clientID, lines))
}

func (h *orderHandlers) removeItem(ctx context.Context, call Call) (string, error) {
	orderID := call.Args.String("orderId")
	code := call.Args.String("productCode")
	if orderID == "" || code == "" {
		return "Parámetros incorrectos, orderId y productCode son obligatorios", nil
	}
	return h.render(call)(h.orders.RemoveItem(ctx, call.TenantID, orderID, code))
}

func (h *orderHandlers) changeQuantity(ctx context.Context, call Call) (string, error) {
	orderID := call.Args.String("orderId")
	code := call.Args.String("productCode")
	qty, ok := call.Args.Int("quantity")
	if orderID == "" || code == "" || !ok || qty <= 0 {
		return "Parámetros incorrectos, orderId, productCode y quantity son obligatorios", nil
	}
	return h.render(call)(h.orders.ChangeQuantity(ctx, call.TenantID, orderID, code, qty))
}

func (h *orderHandlers) confirm(ctx context.Context, call Call) (string, error) {
	orderID := call.Args.String("orderId")
	if orderID == "" {
		return "Parámetros incorrectos, orderId y note son obligatorios", nil
	}
	order, err := h.orders.Confirm(ctx, call.TenantID, orderID, call.Args.String("note"), call.Args.String("deliveryDate"))
	return h.render(call)(order, err)
}

func (h *orderHandlers) cancel(ctx context.Context, call Call) (string, error) {
	orderID := call.Args.String("orderId")
	if orderID == "" {
		return "Parámetros incorrectos, orderId y note son obligatorios", nil
	}
	return h.render(call)(h.orders.Cancel(ctx, call.TenantID, orderID, call.Args.String("note")))
}

// render returns a function encoding the order view in the tenant timezone.
func (h *orderHandlers) render(call Call) func(*model.Order, error) (string, error) {
	return func(o *model.Order, err error) (string, error) {
		if err != nil {
			return "", err
		}
		return encode(o.View(call.Location))
	}
}
