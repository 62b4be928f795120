package model

import (
	"github.com/shopspring/decimal"
)

// ClientStatus is the lifecycle state of a commercial client.
type ClientStatus string

const (
	ClientStatusActive   ClientStatus = "ACTIVE"
	ClientStatusInactive ClientStatus = "INACTIVE"
)

// CommercialClient is a B2B customer of a tenant. Only active clients may
// place orders.
type CommercialClient struct {
	Base
	TenantID     string       `gorm:"type:varchar(36);not null;uniqueIndex:idx_comclients_tenant_code,priority:1" json:"tenant_id"`
	Code         string       `gorm:"not null;uniqueIndex:idx_comclients_tenant_code,priority:2" json:"code"`
	Name         string       `gorm:"not null" json:"name"`
	RazonSocial  string       `json:"razon_social"`
	Rut          string       `json:"rut"`
	Phone        string       `gorm:"index" json:"phone"`
	Address      string       `json:"address"`
	Departamento string       `json:"departamento"`
	Localidad    string       `json:"localidad"`
	Status       ClientStatus `gorm:"type:varchar(16);not null;default:'ACTIVE'" json:"status"`
}

// IsActive reports whether the client may place orders.
func (c *CommercialClient) IsActive() bool {
	return c.Status == ClientStatusActive
}

// Category groups products of a tenant.
type Category struct {
	Base
	TenantID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_categories_tenant_name,priority:1" json:"tenant_id"`
	Name     string `gorm:"not null;uniqueIndex:idx_categories_tenant_name,priority:2" json:"name"`
}

// Product is a sellable item. ExternalID is the ranking number assigned by the
// tenant's ERP and is the upsert key for integrations.
type Product struct {
	Base
	TenantID     string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_products_tenant_external,priority:1;index:idx_products_tenant_code,priority:1" json:"tenant_id"`
	ExternalID   string          `gorm:"not null;uniqueIndex:idx_products_tenant_external,priority:2" json:"external_id"`
	Code         string          `gorm:"not null;index:idx_products_tenant_code,priority:2" json:"code"`
	Name         string          `gorm:"not null" json:"name"`
	Description  string          `gorm:"type:text" json:"description"`
	Stock        int             `gorm:"not null;default:0" json:"stock"`
	PendingStock int             `gorm:"not null;default:0" json:"pending_stock"`
	Price        decimal.Decimal `gorm:"type:numeric(14,2);not null;default:0" json:"price"`
	Currency     string          `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`
	CategoryID   *string         `gorm:"type:varchar(36);index" json:"category_id,omitempty"`

	Category *Category `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
}

// Vendor is a salesperson of a tenant. Sales name their vendor.
type Vendor struct {
	Base
	TenantID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_vendors_tenant_name,priority:1" json:"tenant_id"`
	Name     string `gorm:"not null;uniqueIndex:idx_vendors_tenant_name,priority:2" json:"name"`
}

// Sell is a sale reported by the tenant's ERP. ExternalID is the upsert key.
type Sell struct {
	Base
	TenantID    string  `gorm:"type:varchar(36);not null;uniqueIndex:idx_sells_tenant_external,priority:1" json:"tenant_id"`
	ExternalID  string  `gorm:"not null;uniqueIndex:idx_sells_tenant_external,priority:2" json:"external_id"`
	ComClientID string  `gorm:"type:varchar(36);not null;index" json:"com_client_id"`
	VendorID    *string `gorm:"type:varchar(36);index" json:"vendor_id,omitempty"`
	Quantity    int     `gorm:"not null;default:0" json:"quantity"`
	Currency    string  `gorm:"type:varchar(8);not null;default:'USD'" json:"currency"`

	ComClient *CommercialClient `gorm:"foreignKey:ComClientID" json:"com_client,omitempty"`
	Vendor    *Vendor           `gorm:"foreignKey:VendorID" json:"vendor,omitempty"`
}

// Lead is a prospect captured during a conversation. A conversation yields at
// most one lead.
type Lead struct {
	Base
	TenantID       string `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	ConversationID string `gorm:"type:varchar(36);not null;uniqueIndex" json:"conversation_id"`
	Name           string `gorm:"not null" json:"name"`
	CompanyName    string `json:"company_name"`
	RutOrCI        string `json:"rut_or_ci"`
	Phone          string `gorm:"index" json:"phone"`
	Address        string `json:"address"`
}

// Document is reference material a tenant exposes to the model.
type Document struct {
	Base
	TenantID    string `gorm:"type:varchar(36);not null;index" json:"tenant_id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `gorm:"type:text" json:"description"`
	URL         string `json:"url,omitempty"`
	Content     string `gorm:"type:text" json:"content,omitempty"`

	// SectionsCount is filled by listings only.
	SectionsCount int `gorm:"->;-:migration" json:"sections_count"`

	Sections []Section `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"sections,omitempty"`
}

// Section is a numbered chunk of a document.
type Section struct {
	Base
	DocumentID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_sections_document_seq,priority:1" json:"document_id"`
	Sequence   int    `gorm:"not null;uniqueIndex:idx_sections_document_seq,priority:2" json:"sequence"`
	Text       string `gorm:"type:text;not null" json:"text"`
}
