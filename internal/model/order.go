package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order. Ordering is the only
// mutable state; the other two are terminal.
type OrderStatus string

const (
	OrderStatusOrdering  OrderStatus = "Ordering"
	OrderStatusConfirmed OrderStatus = "Confirmed"
	OrderStatusCanceled  OrderStatus = "Canceled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusConfirmed || s == OrderStatusCanceled
}

// Order belongs to a commercial client. OrderNumber is unique and gap-free per
// tenant; a client has at most one order in Ordering at any time.
type Order struct {
	Base
	TenantID     string      `gorm:"type:varchar(36);not null;uniqueIndex:idx_orders_tenant_number,priority:1" json:"tenant_id"`
	ComClientID  string      `gorm:"type:varchar(36);not null;index" json:"com_client_id"`
	OrderNumber  int         `gorm:"not null;uniqueIndex:idx_orders_tenant_number,priority:2" json:"order_number"`
	Status       OrderStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	Note         string      `gorm:"type:text;not null" json:"note"`
	DeliveryDate string      `gorm:"not null" json:"delivery_date"`

	ComClient *CommercialClient `gorm:"foreignKey:ComClientID" json:"com_client,omitempty"`
	Items     []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items,omitempty"`
}

// OrderItem is a product line. (OrderID, Code) is unique; adding an existing
// code increments Quantity.
type OrderItem struct {
	Base
	OrderID  string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_order_items_order_code,priority:1" json:"order_id"`
	Code     string          `gorm:"not null;uniqueIndex:idx_order_items_order_code,priority:2" json:"code"`
	Name     string          `gorm:"not null" json:"name"`
	Quantity int             `gorm:"not null" json:"quantity"`
	Price    decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"price"`
	Currency string          `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
}

// OrderLine is a product code and quantity to add to an order.
type OrderLine struct {
	ProductCode string `json:"productCode"`
	Quantity    int    `json:"quantity"`
}

// OrderCounter stores the last order number handed out for a tenant.
type OrderCounter struct {
	TenantID   string `gorm:"type:varchar(36);primaryKey"`
	LastNumber int    `gorm:"not null"`
}

// OrderView is the display form of an order relayed to the model and to
// integrations.
type OrderView struct {
	OrderID      string          `json:"orderId"`
	OrderNumber  string          `json:"orderNumber"`
	Status       OrderStatus     `json:"status"`
	Note         string          `json:"note"`
	DeliveryDate string          `json:"deliveryDate"`
	Date         string          `json:"date"`
	ClientCode   string          `json:"clientCode,omitempty"`
	ClientName   string          `json:"clientName,omitempty"`
	Items        []OrderItemView `json:"items"`
}

// OrderItemView is the display form of an order line.
type OrderItemView struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
}

// FormatOrderNumber renders an order number as "#" plus at least four digits.
func FormatOrderNumber(n int) string {
	return fmt.Sprintf("#%04d", n)
}

// View renders the order for display, formatting dates in loc.
func (o *Order) View(loc *time.Location) OrderView {
	if loc == nil {
		loc = time.UTC
	}
	v := OrderView{
		OrderID:      o.ID,
		OrderNumber:  FormatOrderNumber(o.OrderNumber),
		Status:       o.Status,
		Note:         o.Note,
		DeliveryDate: o.DeliveryDate,
		Date:         o.CreatedAt.In(loc).Format("02/01/2006 15:04"),
		Items:        make([]OrderItemView, 0, len(o.Items)),
	}
	if o.ComClient != nil {
		v.ClientCode = o.ComClient.Code
		v.ClientName = o.ComClient.Name
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, OrderItemView{
			ID:       it.ID,
			Code:     it.Code,
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price.StringFixed(2),
			Currency: it.Currency,
		})
	}
	return v
}
