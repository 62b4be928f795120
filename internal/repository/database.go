// Package repository implements persistence on top of GORM.
package repository

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a write violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
)

// containsLike is the operand of `LIKE ? ESCAPE '\'` matching values that
// contain s, lowercased. Wildcards in s match literally.
func containsLike(s string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(s))) + "%"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenPostgres connects to Postgres through pgx.
func OpenPostgres(dsn string, pool PoolConfig) (*gorm.DB, error) {
	return Open(postgres.New(postgres.Config{
		DSN:                  dsn,
		PreferSimpleProtocol: true,
	}), pool)
}

// Open connects with the given dialector and applies pool settings.
func Open(dialector gorm.Dialector, pool PoolConfig) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return db, nil
}

// Migrate creates or updates all tables, then applies the constraints GORM
// tags cannot express.
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&model.Tenant{}, "Functions", &model.TenantFunction{}); err != nil {
		return fmt.Errorf("setup join table: %w", err)
	}

	if err := db.AutoMigrate(
		&model.LLMProvider{},
		&model.LLMModel{},
		&model.Function{},
		&model.Tenant{},
		&model.TenantFunction{},
		&model.CommercialClient{},
		&model.Category{},
		&model.Product{},
		&model.Vendor{},
		&model.Sell{},
		&model.Lead{},
		&model.Document{},
		&model.Section{},
		&model.Order{},
		&model.OrderItem{},
		&model.OrderCounter{},
		&model.Conversation{},
		&model.Message{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	return applySchemaPatches(db)
}

// applySchemaPatches runs idempotent DDL. Each statement is safe to re-run.
func applySchemaPatches(db *gorm.DB) error {
	patches := []string{
		// at most one open order per client
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_open_per_client ON orders (com_client_id) WHERE status = 'Ordering'`,
	}

	if db.Dialector.Name() == "postgres" {
		patches = append(patches,
			`CREATE EXTENSION IF NOT EXISTS vector`,
			fmt.Sprintf(`ALTER TABLE products ADD COLUMN IF NOT EXISTS embedding vector(%d)`, EmbeddingDimensions),
			fmt.Sprintf(`ALTER TABLE commercial_clients ADD COLUMN IF NOT EXISTS embedding vector(%d)`, EmbeddingDimensions),
		)
	}

	for _, sql := range patches {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", sql[:min(len(sql), 60)], err)
		}
	}
	return nil
}

// EmbeddingDimensions is the vector size of text-embedding-3-large.
const EmbeddingDimensions = 3072

// translate maps GORM errors to package errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}
