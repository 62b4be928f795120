package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/capitalize-ai/commerce-agent/internal/model"
)

// ConversationRepository stores conversations and their messages.
type ConversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a new conversation repository.
func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Active returns the newest open conversation of phone with a message at or
// after since.
func (r *ConversationRepository) Active(ctx context.Context, tenantID, phone string, since time.Time) (*model.Conversation, error) {
	return r.active(r.db.WithContext(ctx), tenantID, phone, since)
}

func (r *ConversationRepository) active(tx *gorm.DB, tenantID, phone string, since time.Time) (*model.Conversation, error) {
	var c model.Conversation
	err := tx.
		Where("tenant_id = ? AND phone = ? AND closed = ? AND last_message_at >= ?", tenantID, phone, false, since.UTC()).
		Order("last_message_at DESC").
		First(&c).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// Append stores msg in the active conversation of phone, creating one when
// none is active. msg.ConversationID is set on return.
func (r *ConversationRepository) Append(ctx context.Context, tenantID, phone string, since time.Time, msg *model.Message) (*model.Conversation, error) {
	var conv *model.Conversation
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		c, err := r.active(tx.Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, phone, since)
		switch {
		case errors.Is(err, ErrNotFound):
			c = &model.Conversation{TenantID: tenantID, Phone: phone, LastMessageAt: now}
			if err := tx.Create(c).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			if err := tx.Model(c).Update("last_message_at", now).Error; err != nil {
				return err
			}
		}

		msg.ConversationID = c.ID
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		conv = c
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return conv, nil
}

// Get returns a conversation of the tenant with its messages in order.
func (r *ConversationRepository) Get(ctx context.Context, tenantID, id string) (*model.Conversation, error) {
	var c model.Conversation
	err := r.db.WithContext(ctx).
		Preload("Messages", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at, id")
		}).
		First(&c, "tenant_id = ? AND id = ?", tenantID, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// Message returns a single message.
func (r *ConversationRepository) Message(ctx context.Context, id string) (*model.Message, error) {
	var m model.Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// Messages returns the messages of a conversation oldest first.
func (r *ConversationRepository) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at, id").
		Find(&msgs).Error
	return msgs, translate(err)
}

// AddMessage stores msg in an existing conversation and bumps its activity.
func (r *ConversationRepository) AddMessage(ctx context.Context, msg *model.Message) error {
	return translate(r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&model.Conversation{}).
			Where("id = ?", msg.ConversationID).
			Update("last_message_at", time.Now().UTC()).Error
	}))
}

// List returns a page of the tenant's conversations, most recent first.
func (r *ConversationRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]model.Conversation, int64, error) {
	var total int64
	q := r.db.WithContext(ctx).Model(&model.Conversation{}).Where("tenant_id = ?", tenantID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, translate(err)
	}

	var convs []model.Conversation
	err := q.Order("last_message_at DESC").Limit(limit).Offset(offset).Find(&convs).Error
	return convs, total, translate(err)
}

// Close marks a conversation of the tenant as closed.
func (r *ConversationRepository) Close(ctx context.Context, tenantID, id string) error {
	res := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Update("closed", true)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CloseIdle closes every open conversation without messages since before.
func (r *ConversationRepository) CloseIdle(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("closed = ? AND last_message_at < ?", false, before.UTC()).
		Update("closed", true)
	return res.RowsAffected, translate(res.Error)
}

// TokenUsage is the token consumption of a tenant over a period.
type TokenUsage struct {
	TenantID         string
	PromptTokens     int64
	CompletionTokens int64
}

// TokenUsage sums message tokens per tenant for messages created in
// [from, to). An empty tenantID includes every tenant.
func (r *ConversationRepository) TokenUsage(ctx context.Context, from, to time.Time, tenantID string) ([]TokenUsage, error) {
	q := r.db.WithContext(ctx).
		Table("messages m").
		Select("c.tenant_id AS tenant_id, COALESCE(SUM(m.prompt_tokens), 0) AS prompt_tokens, COALESCE(SUM(m.completion_tokens), 0) AS completion_tokens").
		Joins("JOIN conversations c ON c.id = m.conversation_id").
		Where("m.created_at >= ? AND m.created_at < ?", from.UTC(), to.UTC()).
		Group("c.tenant_id")
	if tenantID != "" {
		q = q.Where("c.tenant_id = ?", tenantID)
	}

	var rows []TokenUsage
	if err := q.Scan(&rows).Error; err != nil {
		return nil, translate(err)
	}
	return rows, nil
}
