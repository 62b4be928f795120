package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

// DocumentRepository reads tenant documents and their sections.
type DocumentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// List returns the documents of a tenant with their section count and
// without their content.
func (r *DocumentRepository) List(ctx context.Context, tenantID string) ([]model.Document, error) {
	var docs []model.Document
	err := r.db.WithContext(ctx).
		Select("documents.id, documents.tenant_id, documents.name, documents.description, documents.url, " +
			"documents.created_at, documents.updated_at, " +
			"(SELECT COUNT(*) FROM sections s WHERE s.document_id = documents.id) AS sections_count").
		Where("documents.tenant_id = ?", tenantID).
		Order("documents.name").
		Find(&docs).Error
	return docs, translate(err)
}

// Get returns a document of the tenant.
func (r *DocumentRepository) Get(ctx context.Context, tenantID, id string) (*model.Document, error) {
	var d model.Document
	if err := r.db.WithContext(ctx).First(&d, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, translate(err)
	}
	return &d, nil
}

// Section returns section seq of a document of the tenant.
func (r *DocumentRepository) Section(ctx context.Context, tenantID, documentID string, seq int) (*model.Section, error) {
	var s model.Section
	err := r.db.WithContext(ctx).
		Joins("JOIN documents d ON d.id = sections.document_id").
		Where("d.tenant_id = ? AND sections.document_id = ? AND sections.sequence = ?", tenantID, documentID, seq).
		First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// Create inserts a document with its sections.
func (r *DocumentRepository) Create(ctx context.Context, d *model.Document) error {
	return translate(r.db.WithContext(ctx).Create(d).Error)
}

// LeadRepository reads and writes leads.
type LeadRepository struct {
	db *gorm.DB
}

// NewLeadRepository creates a new lead repository.
func NewLeadRepository(db *gorm.DB) *LeadRepository {
	return &LeadRepository{db: db}
}

// Create inserts a lead. A second lead for the same conversation yields
// ErrDuplicate.
func (r *LeadRepository) Create(ctx context.Context, l *model.Lead) error {
	return translate(r.db.WithContext(ctx).Create(l).Error)
}

// Get returns a lead of the tenant.
func (r *LeadRepository) Get(ctx context.Context, tenantID, id string) (*model.Lead, error) {
	var l model.Lead
	if err := r.db.WithContext(ctx).First(&l, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

// LatestByPhone returns the most recent lead whose phone contains phone.
func (r *LeadRepository) LatestByPhone(ctx context.Context, tenantID, phone string) (*model.Lead, error) {
	var l model.Lead
	err := r.db.WithContext(ctx).
		Where(`tenant_id = ? AND LOWER(phone) LIKE ? ESCAPE '\'`, tenantID, containsLike(phone)).
		Order("created_at DESC").
		First(&l).Error
	if err != nil {
		return nil, translate(err)
	}
	return &l, nil
}

// Update saves the editable fields of a lead.
func (r *LeadRepository) Update(ctx context.Context, l *model.Lead) error {
	res := r.db.WithContext(ctx).Model(&model.Lead{}).
		Where("tenant_id = ? AND id = ?", l.TenantID, l.ID).
		Updates(map[string]any{
			"name":         l.Name,
			"company_name": l.CompanyName,
			"rut_or_ci":    l.RutOrCI,
			"phone":        l.Phone,
			"address":      l.Address,
		})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
