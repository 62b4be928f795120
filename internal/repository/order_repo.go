package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

// OrderRepository holds the order primitives. Methods taking a tx must run
// inside Transaction so numbering and item upserts stay atomic.
type OrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Transaction runs fn in a database transaction.
func (r *OrderRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return translate(r.db.WithContext(ctx).Transaction(fn))
}

// NextNumber reserves the next order number of a tenant. The counter row stays
// locked until tx ends, so a rolled back order releases its number.
func (r *OrderRepository) NextNumber(tx *gorm.DB, tenantID string) (int, error) {
	var n int
	err := tx.Raw(`INSERT INTO order_counters (tenant_id, last_number) VALUES (?, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET last_number = order_counters.last_number + 1
		RETURNING last_number`, tenantID).Scan(&n).Error
	return n, translate(err)
}

// LastNumber returns the last order number handed out for a tenant.
func (r *OrderRepository) LastNumber(ctx context.Context, tenantID string) (int, error) {
	var c model.OrderCounter
	err := translate(r.db.WithContext(ctx).First(&c, "tenant_id = ?", tenantID).Error)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return c.LastNumber, nil
}

// OpenForClient returns the client's order in Ordering.
func (r *OrderRepository) OpenForClient(tx *gorm.DB, clientID string) (*model.Order, error) {
	var o model.Order
	err := tx.First(&o, "com_client_id = ? AND status = ?", clientID, model.OrderStatusOrdering).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

// Create inserts an order. A second open order for the same client yields
// ErrDuplicate.
func (r *OrderRepository) Create(tx *gorm.DB, o *model.Order) error {
	return translate(tx.Create(o).Error)
}

// Lock returns an order of the tenant and locks its row until tx ends.
func (r *OrderRepository) Lock(tx *gorm.DB, tenantID, id string) (*model.Order, error) {
	var o model.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&o, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

// UpsertItem adds item to its order, incrementing the quantity when the code
// is already present.
func (r *OrderRepository) UpsertItem(tx *gorm.DB, item *model.OrderItem) error {
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "order_id"}, {Name: "code"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("order_items.quantity + excluded.quantity"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(item).Error
	return translate(err)
}

// DeleteItem removes the line with code. It returns false when no line matched.
func (r *OrderRepository) DeleteItem(tx *gorm.DB, orderID, code string) (bool, error) {
	res := tx.Where("order_id = ? AND code = ?", orderID, code).Delete(&model.OrderItem{})
	return res.RowsAffected > 0, translate(res.Error)
}

// SetItemQuantity replaces the quantity of the line with code. It returns false
// when no line matched.
func (r *OrderRepository) SetItemQuantity(tx *gorm.DB, orderID, code string, quantity int) (bool, error) {
	res := tx.Model(&model.OrderItem{}).
		Where("order_id = ? AND code = ?", orderID, code).
		Updates(map[string]any{"quantity": quantity, "updated_at": time.Now().UTC()})
	return res.RowsAffected > 0, translate(res.Error)
}

// SetStatus moves an order to status with its closing note and delivery date.
func (r *OrderRepository) SetStatus(tx *gorm.DB, id string, status model.OrderStatus, note, deliveryDate string) error {
	return translate(tx.Model(&model.Order{}).Where("id = ?", id).Updates(map[string]any{
		"status":        status,
		"note":          note,
		"delivery_date": deliveryDate,
		"updated_at":    time.Now().UTC(),
	}).Error)
}

// WithItems loads an order of the tenant with its client and lines using db,
// which may be a transaction.
func (r *OrderRepository) WithItems(db *gorm.DB, tenantID, id string) (*model.Order, error) {
	var o model.Order
	err := db.Preload("ComClient").
		Preload("Items", orderedItems).
		First(&o, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

// Get loads an order of the tenant with its client and lines.
func (r *OrderRepository) Get(ctx context.Context, tenantID, id string) (*model.Order, error) {
	return r.WithItems(r.db.WithContext(ctx), tenantID, id)
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("created_at, id")
}

// LatestConfirmedByPhone returns the most recently confirmed order, confirmed
// at or after since, of a client whose phone contains phone.
func (r *OrderRepository) LatestConfirmedByPhone(ctx context.Context, tenantID, phone string, since time.Time) (*model.Order, error) {
	var o model.Order
	err := r.db.WithContext(ctx).
		Preload("ComClient").
		Preload("Items", orderedItems).
		Joins("JOIN commercial_clients cc ON cc.id = orders.com_client_id").
		Where(`orders.tenant_id = ? AND orders.status = ? AND orders.updated_at >= ? AND LOWER(cc.phone) LIKE ? ESCAPE '\'`,
			tenantID, model.OrderStatusConfirmed, since.UTC(), containsLike(phone)).
		Order("orders.updated_at DESC").
		First(&o).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

// PendingForClients returns the open orders of the clients plus any of their
// orders created at or after since, newest first.
func (r *OrderRepository) PendingForClients(ctx context.Context, tenantID string, clientIDs []string, since time.Time) ([]model.Order, error) {
	if len(clientIDs) == 0 {
		return nil, nil
	}
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("tenant_id = ? AND com_client_id IN ? AND (status = ? OR created_at >= ?)",
			tenantID, clientIDs, model.OrderStatusOrdering, since.UTC()).
		Order("created_at DESC").
		Find(&orders).Error
	return orders, translate(err)
}
