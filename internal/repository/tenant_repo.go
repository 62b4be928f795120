package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

// TenantRepository reads tenants and their model and function configuration.
type TenantRepository struct {
	db *gorm.DB
}

// NewTenantRepository creates a new tenant repository.
func NewTenantRepository(db *gorm.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Get returns a tenant with its model and provider.
func (r *TenantRepository) Get(ctx context.Context, id string) (*model.Tenant, error) {
	var t model.Tenant
	err := r.db.WithContext(ctx).Preload("Model.Provider").First(&t, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// List returns every tenant.
func (r *TenantRepository) List(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	err := r.db.WithContext(ctx).Preload("Model").Order("name").Find(&tenants).Error
	return tenants, translate(err)
}

// Create inserts a tenant.
func (r *TenantRepository) Create(ctx context.Context, t *model.Tenant) error {
	return translate(r.db.WithContext(ctx).Create(t).Error)
}

// ModelByName returns a model with its provider.
func (r *TenantRepository) ModelByName(ctx context.Context, name string) (*model.LLMModel, error) {
	var m model.LLMModel
	err := r.db.WithContext(ctx).Preload("Provider").First(&m, "name = ?", name).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// EnabledFunctions returns the functions enabled for a tenant, ordered by name.
func (r *TenantRepository) EnabledFunctions(ctx context.Context, tenantID string) ([]model.Function, error) {
	var fns []model.Function
	err := r.db.WithContext(ctx).
		Joins("JOIN tenant_functions tf ON tf.function_id = functions.id").
		Where("tf.tenant_id = ?", tenantID).
		Order("functions.name").
		Find(&fns).Error
	return fns, translate(err)
}

// UpsertFunction inserts or updates a function definition by name.
func (r *TenantRepository) UpsertFunction(ctx context.Context, fn *model.Function) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"description", "parameters", "updated_at"}),
	}).Create(fn).Error
	return translate(err)
}

// EnableFunctions enables the named functions for a tenant.
func (r *TenantRepository) EnableFunctions(ctx context.Context, tenantID string, names ...string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var fns []model.Function
		if err := tx.Where("name IN ?", names).Find(&fns).Error; err != nil {
			return err
		}
		if len(fns) != len(names) {
			return fmt.Errorf("enable functions: %w: %d of %d names exist", ErrNotFound, len(fns), len(names))
		}
		links := make([]model.TenantFunction, 0, len(fns))
		for _, fn := range fns {
			links = append(links, model.TenantFunction{TenantID: tenantID, FunctionID: fn.ID})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	})
}

// CreateProvider inserts a provider.
func (r *TenantRepository) CreateProvider(ctx context.Context, p *model.LLMProvider) error {
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

// CreateModel inserts a model.
func (r *TenantRepository) CreateModel(ctx context.Context, m *model.LLMModel) error {
	return translate(r.db.WithContext(ctx).Create(m).Error)
}
