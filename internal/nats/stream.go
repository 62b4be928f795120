package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/pkg/metrics"
)

const (
	// InboundStream holds customer messages waiting for a reply.
	InboundStream = "INBOUND"
	// OutboundStream holds replies for the messaging gateway.
	OutboundStream = "OUTBOUND"
	// EventStream holds turns that failed.
	EventStream = "TURN_EVENTS"

	inboundPrefix  = "inbound"
	outboundPrefix = "outbound"
	eventPrefix    = "events"

	// DuplicateWindow is how long a provider message id is remembered.
	DuplicateWindow = 10 * time.Minute
)

// StreamManager handles JetStream stream operations.
type StreamManager struct {
	client *Client
}

// NewStreamManager creates a new stream manager.
func NewStreamManager(client *Client) *StreamManager {
	return &StreamManager{client: client}
}

// EnsureStreams creates or updates the inbound, outbound and event streams.
func (m *StreamManager) EnsureStreams(ctx context.Context) error {
	js := m.client.JetStream()
	configs := []jetstream.StreamConfig{
		{
			Name:        InboundStream,
			Subjects:    []string{inboundPrefix + ".>"},
			Retention:   jetstream.WorkQueuePolicy,
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Duplicates:  DuplicateWindow,
			Description: "Customer messages waiting to be answered",
		},
		{
			Name:        OutboundStream,
			Subjects:    []string{outboundPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      7 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Description: "Replies and notification flags for the messaging gateway",
		},
		{
			Name:        EventStream,
			Subjects:    []string{eventPrefix + ".>"},
			Retention:   jetstream.LimitsPolicy,
			MaxAge:      30 * 24 * time.Hour,
			Storage:     jetstream.FileStorage,
			Replicas:    1,
			Compression: jetstream.S2Compression,
			Description: "Turns that ended without a reply",
		},
	}
	for _, cfg := range configs {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("failed to ensure stream %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// InboundSubject returns the subject for a customer message.
func InboundSubject(tenantID, phone string) string {
	return fmt.Sprintf("%s.%s.%s", inboundPrefix, token(tenantID), token(phone))
}

// OutboundSubject returns the subject for a reply.
func OutboundSubject(tenantID string) string {
	return fmt.Sprintf("%s.%s", outboundPrefix, token(tenantID))
}

// EventSubject returns the subject for a turn event.
func EventSubject(tenantID string, eventType model.EventType) string {
	return fmt.Sprintf("%s.%s.%s", eventPrefix, token(tenantID), eventType)
}

// token makes s usable as a single subject token.
func token(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// PublishInbound queues a customer message. The provider message id is used
// for deduplication, so a webhook retried by the provider is queued once.
// duplicate reports whether the message had already been queued.
func (m *StreamManager) PublishInbound(ctx context.Context, msg *model.InboundMessage) (seq uint64, duplicate bool, err error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return 0, false, fmt.Errorf("failed to marshal inbound message: %w", err)
	}
	var opts []jetstream.PublishOpt
	if msg.ID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.TenantID+":"+msg.ID))
	}
	ack, err := m.client.JetStream().Publish(ctx, InboundSubject(msg.TenantID, msg.Phone), data, opts...)
	if err != nil {
		return 0, false, fmt.Errorf("failed to publish inbound message: %w", err)
	}
	return ack.Sequence, ack.Duplicate, nil
}

// Send publishes a reply for the messaging gateway.
func (m *StreamManager) Send(ctx context.Context, msg model.OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal outbound message: %w", err)
	}
	if _, err := m.client.JetStream().Publish(ctx, OutboundSubject(msg.TenantID), data); err != nil {
		return fmt.Errorf("failed to publish outbound message: %w", err)
	}
	return nil
}

// SubscribeOutbound delivers the replies of a tenant as they are published.
// It is a plain subscription with no replay. The returned func unsubscribes.
func (m *StreamManager) SubscribeOutbound(tenantID string, fn func(model.OutboundMessage)) (func(), error) {
	sub, err := m.client.Conn().Subscribe(OutboundSubject(tenantID), func(msg *nats.Msg) {
		var out model.OutboundMessage
		if err := json.Unmarshal(msg.Data, &out); err != nil {
			return
		}
		fn(out)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to replies: %w", err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// PublishEvent publishes a turn event.
func (m *StreamManager) PublishEvent(ctx context.Context, event *model.TurnEvent) (uint64, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}
	ack, err := m.client.JetStream().Publish(ctx, EventSubject(event.TenantID, event.Type), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}
	return ack.Sequence, nil
}

// RecordStats exports stream and consumer sizes as gauges.
func (m *StreamManager) RecordStats(ctx context.Context) error {
	js := m.client.JetStream()
	var errs []error
	for _, name := range []string{InboundStream, OutboundStream, EventStream} {
		stream, err := js.Stream(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		info, err := stream.Info(ctx)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		metrics.NATSStreamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
	}

	consumer, err := js.Consumer(ctx, InboundStream, InboundConsumer)
	if err == nil {
		if info, err := consumer.Info(ctx); err == nil {
			metrics.NATSConsumerPending.WithLabelValues(InboundStream, InboundConsumer).Set(float64(info.NumPending))
		}
	} else if !errors.Is(err, jetstream.ErrConsumerNotFound) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

