package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-agent/internal/middleware"
	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/internal/service"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
	"github.com/capitalize-ai/commerce-agent/pkg/metrics"
)

// ReplySubscriber delivers the replies of a tenant as they are sent.
type ReplySubscriber interface {
	SubscribeOutbound(tenantID string, fn func(model.OutboundMessage)) (func(), error)
}

// StreamHandler serves a live feed of one conversation to the back-office.
type StreamHandler struct {
	conversations Conversations
	replies       ReplySubscriber
	heartbeat     time.Duration
	logger        *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(conversations Conversations, replies ReplySubscriber, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		conversations: conversations,
		replies:       replies,
		heartbeat:     30 * time.Second,
		logger:        log,
	}
}

// ReplayCompleteEvent closes the replay of stored messages.
type ReplayCompleteEvent struct {
	MessageCount int `json:"message_count"`
}

// HeartbeatEvent keeps idle connections open.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// Stream handles GET /api/v1/conversations/{id}/stream. Stored messages are
// replayed first, then every reply sent in the conversation is pushed as it
// goes out.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID, err := scopedTenant(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	conversationID := chi.URLParam(r, "id")
	if err := middleware.ValidateID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conv, err := h.conversations.Get(ctx, tenantID, conversationID)
	if errors.Is(err, service.ErrConversationNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// subscribe before replaying so no reply falls in between
	replies := make(chan model.OutboundMessage, 16)
	unsubscribe, err := h.replies.SubscribeOutbound(tenantID, func(m model.OutboundMessage) {
		if m.ConversationID != conversationID {
			return
		}
		select {
		case replies <- m:
		default:
			h.logger.Warn("live feed is behind, reply dropped", zap.String("conversation_id", conversationID))
		}
	})
	if err != nil {
		h.logger.Error("failed to subscribe to replies", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "live feed unavailable")
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementLiveFeeds()
	defer metrics.DecrementLiveFeeds()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	for _, msg := range conv.Messages {
		if msg.Role == model.RoleSystem {
			continue
		}
		sendSSEEvent(w, flusher, "message", msg)
	}
	sendSSEEvent(w, flusher, "replay_complete", &ReplayCompleteEvent{MessageCount: len(conv.Messages)})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("live feed closed", zap.String("conversation_id", conversationID))
			return
		case m := <-replies:
			sendSSEEvent(w, flusher, "reply", m)
		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &HeartbeatEvent{Timestamp: time.Now()})
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
	flusher.Flush()

	return nil
}
