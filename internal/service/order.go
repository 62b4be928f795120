package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/capitalize-ai/commerce-agent/internal/apperror"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
	"github.com/capitalize-ai/commerce-agent/pkg/metrics"
)

// NewOrderID is the order id the model sends to start a new order.
const NewOrderID = "new"

// recentOrderWindow bounds the orders shown in context and looked up by phone.
const recentOrderWindow = 24 * time.Hour

// OrderService enforces the order lifecycle: one open order per client,
// gap-free numbering per tenant, merged lines per product code and no changes
// after confirmation or cancellation.
type OrderService struct {
	orders  *repository.OrderRepository
	catalog *repository.CatalogRepository
	logger  *logger.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(orders *repository.OrderRepository, catalog *repository.CatalogRepository, log *logger.Logger) *OrderService {
	return &OrderService{
		orders:  orders,
		catalog: catalog,
		logger:  log,
	}
}

// AddItem adds quantity units of productCode to an order. orderID "new" opens
// an order and fails when the client already has one in Ordering.
func (s *OrderService) AddItem(ctx context.Context, tenantID, orderID, clientID, productCode string, quantity int) (*model.Order, error) {
	return s.AddItems(ctx, tenantID, orderID, clientID, []model.OrderLine{{ProductCode: productCode, Quantity: quantity}})
}

// AddItems adds every line to an order in one transaction. An unknown product
// code aborts the whole call.
func (s *OrderService) AddItems(ctx context.Context, tenantID, orderID, clientID string, lines []model.OrderLine) (*model.Order, error) {
	if len(lines) == 0 {
		return nil, apperror.New("No se indicaron productos para agregar a la orden")
	}
	for _, l := range lines {
		if strings.TrimSpace(l.ProductCode) == "" {
			return nil, apperror.New("Código de producto vacío")
		}
		if l.Quantity <= 0 {
			return nil, apperror.Newf("La cantidad del producto %s debe ser mayor a cero", l.ProductCode)
		}
	}

	client, err := s.catalog.ClientByID(ctx, tenantID, clientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Newf("Cliente no encontrado: %s", clientID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}
	if !client.IsActive() {
		return nil, apperror.Newf("El cliente %s no está activo y no puede realizar pedidos", client.Name)
	}

	items := make([]model.OrderItem, 0, len(lines))
	for _, l := range lines {
		p, err := s.catalog.ProductByCode(ctx, tenantID, l.ProductCode)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.Newf("Producto no encontrado: %s", l.ProductCode)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load product: %w", err)
		}
		items = append(items, model.OrderItem{
			Code:     p.Code,
			Name:     p.Name,
			Quantity: l.Quantity,
			Price:    p.Price,
			Currency: p.Currency,
		})
	}

	var order *model.Order
	created := false
	err = s.inTx(ctx, func(tx *gorm.DB) error {
		o, isNew, err := s.resolveOrder(tx, tenantID, orderID, client)
		if err != nil {
			return err
		}
		for i := range items {
			item := items[i]
			item.OrderID = o.ID
			if err := s.orders.UpsertItem(tx, &item); err != nil {
				return err
			}
		}
		order, err = s.orders.WithItems(tx, tenantID, o.ID)
		created = isNew
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		metrics.RecordOrder(tenantID, string(model.OrderStatusOrdering))
		s.logger.Info("order opened",
			zap.String("tenant_id", tenantID),
			zap.String("order_id", order.ID),
			zap.Int("order_number", order.OrderNumber),
		)
	}
	return order, nil
}

// RemoveItem deletes the line with productCode.
func (s *OrderService) RemoveItem(ctx context.Context, tenantID, orderID, productCode string) (*model.Order, error) {
	return s.mutate(ctx, tenantID, orderID, func(tx *gorm.DB, o *model.Order) error {
		ok, err := s.orders.DeleteItem(tx, o.ID, strings.TrimSpace(productCode))
		if err != nil {
			return err
		}
		if !ok {
			return apperror.Newf("El producto %s no está en la orden %s", productCode, model.FormatOrderNumber(o.OrderNumber))
		}
		return nil
	})
}

// ChangeQuantity replaces the quantity of the line with productCode.
func (s *OrderService) ChangeQuantity(ctx context.Context, tenantID, orderID, productCode string, quantity int) (*model.Order, error) {
	if quantity <= 0 {
		return nil, apperror.Newf("La cantidad del producto %s debe ser mayor a cero", productCode)
	}
	return s.mutate(ctx, tenantID, orderID, func(tx *gorm.DB, o *model.Order) error {
		ok, err := s.orders.SetItemQuantity(tx, o.ID, strings.TrimSpace(productCode), quantity)
		if err != nil {
			return err
		}
		if !ok {
			return apperror.Newf("El producto %s no está en la orden %s", productCode, model.FormatOrderNumber(o.OrderNumber))
		}
		return nil
	})
}

// Confirm moves an open order to Confirmed. An absent note or delivery date is
// stored as the empty string.
func (s *OrderService) Confirm(ctx context.Context, tenantID, orderID, note, deliveryDate string) (*model.Order, error) {
	order, err := s.mutate(ctx, tenantID, orderID, func(tx *gorm.DB, o *model.Order) error {
		if len(o.Items) == 0 {
			return apperror.Newf("La orden %s no tiene productos y no puede confirmarse", model.FormatOrderNumber(o.OrderNumber))
		}
		return s.orders.SetStatus(tx, o.ID, model.OrderStatusConfirmed, strings.TrimSpace(note), strings.TrimSpace(deliveryDate))
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordOrder(tenantID, string(model.OrderStatusConfirmed))
	s.logger.Info("order confirmed",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", order.ID),
		zap.Int("order_number", order.OrderNumber),
	)
	return order, nil
}

// Cancel moves an open order to Canceled.
func (s *OrderService) Cancel(ctx context.Context, tenantID, orderID, note string) (*model.Order, error) {
	order, err := s.mutate(ctx, tenantID, orderID, func(tx *gorm.DB, o *model.Order) error {
		return s.orders.SetStatus(tx, o.ID, model.OrderStatusCanceled, strings.TrimSpace(note), o.DeliveryDate)
	})
	if err != nil {
		return nil, err
	}
	metrics.RecordOrder(tenantID, string(model.OrderStatusCanceled))
	s.logger.Info("order canceled",
		zap.String("tenant_id", tenantID),
		zap.String("order_id", order.ID),
		zap.Int("order_number", order.OrderNumber),
	)
	return order, nil
}

// Get returns an order of the tenant.
func (s *OrderService) Get(ctx context.Context, tenantID, orderID string) (*model.Order, error) {
	o, err := s.orders.Get(ctx, tenantID, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Newf("No se encontró una orden con id %s", orderID)
	}
	return o, err
}

// OrderByPhone returns the most recent order confirmed in the last 24 hours by
// a client whose phone contains phone. It returns repository.ErrNotFound when
// there is none.
func (s *OrderService) OrderByPhone(ctx context.Context, tenantID, phone string) (*model.Order, error) {
	if strings.TrimSpace(phone) == "" {
		return nil, apperror.New("phone is required")
	}
	return s.orders.LatestConfirmedByPhone(ctx, tenantID, phone, time.Now().Add(-recentOrderWindow))
}

// PendingForClients returns the open and recent orders of the clients.
func (s *OrderService) PendingForClients(ctx context.Context, tenantID string, clientIDs []string) ([]model.Order, error) {
	return s.orders.PendingForClients(ctx, tenantID, clientIDs, time.Now().Add(-recentOrderWindow))
}

// mutate locks an open order and applies fn, returning the updated order.
func (s *OrderService) mutate(ctx context.Context, tenantID, orderID string, fn func(tx *gorm.DB, o *model.Order) error) (*model.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || orderID == NewOrderID {
		return nil, apperror.New("Se requiere el id de una orden existente")
	}

	var order *model.Order
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.lockOpen(tx, tenantID, orderID); err != nil {
			return err
		}
		o, err := s.orders.WithItems(tx, tenantID, orderID)
		if err != nil {
			return err
		}
		if err := fn(tx, o); err != nil {
			return err
		}
		order, err = s.orders.WithItems(tx, tenantID, orderID)
		return err
	})
	return order, err
}

// resolveOrder returns the order items are added to and whether it was created.
func (s *OrderService) resolveOrder(tx *gorm.DB, tenantID, orderID string, client *model.CommercialClient) (*model.Order, bool, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" || orderID == NewOrderID {
		open, err := s.orders.OpenForClient(tx, client.ID)
		if err == nil {
			return nil, false, apperror.Newf("El cliente %s ya tiene la orden %s abierta (id %s). Debe confirmarla o cancelarla antes de iniciar una nueva", client.Name, model.FormatOrderNumber(open.OrderNumber), open.ID)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, false, err
		}
		return s.openOrder(tx, tenantID, client)
	}

	o, err := s.lockOpen(tx, tenantID, orderID)
	if err != nil {
		return nil, false, err
	}
	if o.ComClientID != client.ID {
		return nil, false, apperror.Newf("La orden %s no pertenece al cliente %s", model.FormatOrderNumber(o.OrderNumber), client.Name)
	}
	return o, false, nil
}

// openOrder returns the client's open order or creates it with the next number.
func (s *OrderService) openOrder(tx *gorm.DB, tenantID string, client *model.CommercialClient) (*model.Order, bool, error) {
	o, err := s.orders.OpenForClient(tx, client.ID)
	if err == nil {
		return o, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	n, err := s.orders.NextNumber(tx, tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to allocate order number: %w", err)
	}
	o = &model.Order{
		TenantID:    tenantID,
		ComClientID: client.ID,
		OrderNumber: n,
		Status:      model.OrderStatusOrdering,
	}
	if err := s.orders.Create(tx, o); err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// lockOpen locks an order and fails unless it is still Ordering.
func (s *OrderService) lockOpen(tx *gorm.DB, tenantID, orderID string) (*model.Order, error) {
	o, err := s.orders.Lock(tx, tenantID, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Newf("No se encontró una orden con id %s", orderID)
	}
	if err != nil {
		return nil, err
	}
	switch o.Status {
	case model.OrderStatusConfirmed:
		return nil, apperror.Newf("La orden %s ya está confirmada y no puede modificarse", model.FormatOrderNumber(o.OrderNumber))
	case model.OrderStatusCanceled:
		return nil, apperror.Newf("La orden %s está cancelada y no puede modificarse", model.FormatOrderNumber(o.OrderNumber))
	}
	return o, nil
}

// inTx runs fn in a transaction, retrying once when a concurrent call opened
// the client's order first. The retry then sees that order.
func (s *OrderService) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	err := s.orders.Transaction(ctx, fn)
	if errors.Is(err, repository.ErrDuplicate) {
		err = s.orders.Transaction(ctx, fn)
	}
	return err
}
