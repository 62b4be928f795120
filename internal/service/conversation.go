// Package service provides business logic for the commerce agent.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/repository"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
	"github.com/capitalize-ai/commerce-agent/pkg/metrics"
)

// ErrConversationNotFound is returned when a conversation does not exist for
// the tenant.
var ErrConversationNotFound = errors.New("conversation not found")

// DefaultActiveWindow is how long a conversation stays active after its last
// message.
const DefaultActiveWindow = 60 * time.Minute

// ConversationService handles conversation operations.
type ConversationService struct {
	repo         *repository.ConversationRepository
	activeWindow time.Duration
	logger       *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(repo *repository.ConversationRepository, activeWindow time.Duration, log *logger.Logger) *ConversationService {
	if activeWindow <= 0 {
		activeWindow = DefaultActiveWindow
	}
	return &ConversationService{
		repo:         repo,
		activeWindow: activeWindow,
		logger:       log,
	}
}

// MessageArrived stores a message for phone in its active conversation,
// creating a new conversation when none is active.
func (s *ConversationService) MessageArrived(ctx context.Context, tenantID, phone string, role model.Role, content, gptData string, promptTokens, completionTokens int) (*model.Message, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, errors.New("phone is required")
	}

	msg := &model.Message{
		Role:             role,
		Content:          content,
		GPTData:          gptData,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
	conv, err := s.repo.Append(ctx, tenantID, phone, time.Now().Add(-s.activeWindow), msg)
	if err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	metrics.RecordMessage(tenantID, string(role))
	s.logger.Debug("message stored",
		zap.String("tenant_id", tenantID),
		zap.String("conversation_id", conv.ID),
		zap.String("message_id", msg.ID),
		zap.String("role", string(role)),
	)
	return msg, nil
}

// AddMessage stores a message in a known conversation.
func (s *ConversationService) AddMessage(ctx context.Context, tenantID, conversationID string, role model.Role, content, gptData string, promptTokens, completionTokens int) (*model.Message, error) {
	msg := &model.Message{
		ConversationID:   conversationID,
		Role:             role,
		Content:          content,
		GPTData:          gptData,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	}
	if err := s.repo.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to store message: %w", err)
	}
	metrics.RecordMessage(tenantID, string(role))
	return msg, nil
}

// Active returns the active conversation of phone, or nil when there is none.
func (s *ConversationService) Active(ctx context.Context, tenantID, phone string) (*model.Conversation, error) {
	conv, err := s.repo.Active(ctx, tenantID, strings.TrimSpace(phone), time.Now().Add(-s.activeWindow))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return conv, err
}

// Message returns a stored message.
func (s *ConversationService) Message(ctx context.Context, id string) (*model.Message, error) {
	return s.repo.Message(ctx, id)
}

// Messages returns the messages of a conversation oldest first.
func (s *ConversationService) Messages(ctx context.Context, conversationID string) ([]model.Message, error) {
	return s.repo.Messages(ctx, conversationID)
}

// Get retrieves a conversation with its messages.
func (s *ConversationService) Get(ctx context.Context, tenantID, conversationID string) (*model.Conversation, error) {
	conv, err := s.repo.Get(ctx, tenantID, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	return conv, err
}

// List retrieves conversations for a tenant.
func (s *ConversationService) List(ctx context.Context, tenantID string, limit, offset int) (*model.ListConversationsResponse, error) {
	convs, total, err := s.repo.List(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         total,
		HasMore:       int64(offset+len(convs)) < total,
	}, nil
}

// Close closes a conversation so the next message starts a new one.
func (s *ConversationService) Close(ctx context.Context, tenantID, conversationID string) error {
	err := s.repo.Close(ctx, tenantID, conversationID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrConversationNotFound
	}
	return err
}

// CloseIdle closes conversations without messages for longer than age.
func (s *ConversationService) CloseIdle(ctx context.Context, age time.Duration) (int64, error) {
	n, err := s.repo.CloseIdle(ctx, time.Now().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("failed to close idle conversations: %w", err)
	}
	if n > 0 {
		s.logger.Info("idle conversations closed", zap.Int64("count", n))
	}
	return n, nil
}
