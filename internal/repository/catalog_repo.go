package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

// CatalogRepository reads and writes products, categories and commercial
// clients.
type CatalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new catalog repository.
func NewCatalogRepository(db *gorm.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ProductByCode returns the first product of the tenant with code.
func (r *CatalogRepository) ProductByCode(ctx context.Context, tenantID, code string) (*model.Product, error) {
	return r.productByCode(r.db.WithContext(ctx), tenantID, code)
}

func (r *CatalogRepository) productByCode(tx *gorm.DB, tenantID, code string) (*model.Product, error) {
	var p model.Product
	err := tx.Preload("Category").
		Where("tenant_id = ? AND code = ?", tenantID, strings.TrimSpace(code)).
		Order("created_at").
		First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ProductByExternalID returns the product with the given ranking number.
func (r *CatalogRepository) ProductByExternalID(ctx context.Context, tenantID, externalID string) (*model.Product, error) {
	var p model.Product
	err := r.db.WithContext(ctx).Preload("Category").
		First(&p, "tenant_id = ? AND external_id = ?", tenantID, strings.TrimSpace(externalID)).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// ProductsByCategoryName returns the products in a category, matched case
// insensitively.
func (r *CatalogRepository) ProductsByCategoryName(ctx context.Context, tenantID, name string) ([]model.Product, error) {
	var products []model.Product
	err := r.db.WithContext(ctx).Preload("Category").
		Joins("JOIN categories c ON c.id = products.category_id").
		Where("products.tenant_id = ? AND LOWER(c.name) = ?", tenantID, strings.ToLower(strings.TrimSpace(name))).
		Order("products.external_id").
		Find(&products).Error
	return products, translate(err)
}

// ProductsByIDs returns products keeping the order of ids.
func (r *CatalogRepository) ProductsByIDs(ctx context.Context, tenantID string, ids []string) ([]model.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []model.Product
	err := r.db.WithContext(ctx).Preload("Category").
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Find(&products).Error
	if err != nil {
		return nil, translate(err)
	}
	byID := make(map[string]model.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	ordered := make([]model.Product, 0, len(products))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

// UpsertProduct inserts or updates a product by (tenant, external id). The
// category is created when it does not exist.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p *model.Product, categoryName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if name := strings.TrimSpace(categoryName); name != "" {
			cat := model.Category{TenantID: p.TenantID, Name: name}
			if err := tx.Where(model.Category{TenantID: p.TenantID, Name: name}).FirstOrCreate(&cat).Error; err != nil {
				return translate(err)
			}
			p.CategoryID = &cat.ID
		}

		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"code", "name", "description", "stock", "pending_stock", "price", "currency", "category_id", "updated_at",
			}),
		}).Create(p).Error
		if err != nil {
			return translate(err)
		}

		// the id generated for the insert is discarded on conflict
		var stored model.Product
		if err := tx.Select("id").First(&stored, "tenant_id = ? AND external_id = ?", p.TenantID, p.ExternalID).Error; err != nil {
			return translate(err)
		}
		p.ID = stored.ID
		return nil
	})
}

// ClientByCode returns the client of the tenant with exactly code.
func (r *CatalogRepository) ClientByCode(ctx context.Context, tenantID, code string) (*model.CommercialClient, error) {
	var c model.CommercialClient
	err := r.db.WithContext(ctx).
		First(&c, "tenant_id = ? AND code = ?", tenantID, strings.TrimSpace(code)).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ClientByCodeContained returns a client whose code is contained in text. It
// resolves codes the model wrapped in extra characters.
func (r *CatalogRepository) ClientByCodeContained(ctx context.Context, tenantID, text string) (*model.CommercialClient, error) {
	var c model.CommercialClient
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND code <> '' AND ? LIKE '%' || code || '%'", tenantID, strings.TrimSpace(text)).
		Order("LENGTH(code) DESC").
		First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ClientByID returns a client of the tenant.
func (r *CatalogRepository) ClientByID(ctx context.Context, tenantID, id string) (*model.CommercialClient, error) {
	var c model.CommercialClient
	err := r.db.WithContext(ctx).First(&c, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// ClientsByPhone returns the clients whose phone contains phone, case
// insensitively.
func (r *CatalogRepository) ClientsByPhone(ctx context.Context, tenantID, phone string) ([]model.CommercialClient, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, nil
	}
	var clients []model.CommercialClient
	err := r.db.WithContext(ctx).
		Where(`tenant_id = ? AND LOWER(phone) LIKE ? ESCAPE '\'`, tenantID, containsLike(phone)).
		Order("name").
		Find(&clients).Error
	return clients, translate(err)
}

// ClientsByDepartamento returns the clients located in a departamento,
// matched case insensitively.
func (r *CatalogRepository) ClientsByDepartamento(ctx context.Context, tenantID, departamento string) ([]model.CommercialClient, error) {
	return r.clientsWhere(ctx, tenantID, "departamento", departamento)
}

// ClientsByLocalidad returns the clients located in a localidad, matched case
// insensitively.
func (r *CatalogRepository) ClientsByLocalidad(ctx context.Context, tenantID, localidad string) ([]model.CommercialClient, error) {
	return r.clientsWhere(ctx, tenantID, "localidad", localidad)
}

func (r *CatalogRepository) clientsWhere(ctx context.Context, tenantID, column, value string) ([]model.CommercialClient, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return nil, nil
	}
	var clients []model.CommercialClient
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND LOWER("+column+") = ?", tenantID, value).
		Order("name").
		Find(&clients).Error
	return clients, translate(err)
}

// ClientsByIDs returns clients keeping the order of ids.
func (r *CatalogRepository) ClientsByIDs(ctx context.Context, tenantID string, ids []string) ([]model.CommercialClient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var clients []model.CommercialClient
	if err := r.db.WithContext(ctx).Where("tenant_id = ? AND id IN ?", tenantID, ids).Find(&clients).Error; err != nil {
		return nil, translate(err)
	}
	byID := make(map[string]model.CommercialClient, len(clients))
	for _, c := range clients {
		byID[c.ID] = c
	}
	ordered := make([]model.CommercialClient, 0, len(clients))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered, nil
}

// UpsertClient inserts or updates a client by (tenant, code).
func (r *CatalogRepository) UpsertClient(ctx context.Context, c *model.CommercialClient) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "tenant_id"}, {Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "razon_social", "rut", "phone", "address", "departamento", "localidad", "status", "updated_at",
			}),
		}).Create(c).Error
		if err != nil {
			return translate(err)
		}
		var stored model.CommercialClient
		if err := tx.Select("id").First(&stored, "tenant_id = ? AND code = ?", c.TenantID, c.Code).Error; err != nil {
			return translate(err)
		}
		c.ID = stored.ID
		return nil
	})
}

// UpsertSell inserts or updates a sale by (tenant, external id). The client is
// resolved by code and created when missing; the contact fields of client
// that are set overwrite the stored ones. A non-empty vendorName is resolved
// or created by name.
func (r *CatalogRepository) UpsertSell(ctx context.Context, s *model.Sell, client *model.CommercialClient, vendorName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := upsertSellClient(tx, client)
		if err != nil {
			return err
		}
		s.ComClientID = stored.ID
		s.ComClient = stored

		s.VendorID, s.Vendor = nil, nil
		if name := strings.TrimSpace(vendorName); name != "" {
			vendor := model.Vendor{TenantID: s.TenantID, Name: name}
			if err := tx.Where(model.Vendor{TenantID: s.TenantID, Name: name}).FirstOrCreate(&vendor).Error; err != nil {
				return translate(err)
			}
			s.VendorID = &vendor.ID
			s.Vendor = &vendor
		}

		err = tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"com_client_id", "vendor_id", "quantity", "currency", "updated_at"}),
		}).Create(s).Error
		if err != nil {
			return translate(err)
		}

		var sell model.Sell
		if err := tx.Select("id", "created_at").First(&sell, "tenant_id = ? AND external_id = ?", s.TenantID, s.ExternalID).Error; err != nil {
			return translate(err)
		}
		s.ID, s.CreatedAt = sell.ID, sell.CreatedAt
		return nil
	})
}

func upsertSellClient(tx *gorm.DB, c *model.CommercialClient) (*model.CommercialClient, error) {
	var stored model.CommercialClient
	err := tx.First(&stored, "tenant_id = ? AND code = ?", c.TenantID, c.Code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if c.Status == "" {
			c.Status = model.ClientStatusActive
		}
		if c.Name == "" {
			c.Name = c.Code
		}
		if err := tx.Create(c).Error; err != nil {
			return nil, translate(err)
		}
		return c, nil
	}
	if err != nil {
		return nil, translate(err)
	}

	updates := map[string]any{}
	for column, value := range map[string]string{
		"name":         c.Name,
		"phone":        c.Phone,
		"address":      c.Address,
		"departamento": c.Departamento,
		"localidad":    c.Localidad,
	} {
		if value != "" {
			updates[column] = value
		}
	}
	if len(updates) > 0 {
		if err := tx.Model(&stored).Updates(updates).Error; err != nil {
			return nil, translate(err)
		}
	}
	return &stored, nil
}

