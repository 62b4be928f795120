package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-agent/internal/model"
	"github.com/capitalize-ai/commerce-agent/pkg/logger"
)

// InboundConsumer is the durable consumer the workers share.
const InboundConsumer = "orchestrator"

// Processor answers one customer message.
type Processor func(ctx context.Context, msg model.InboundMessage) error

// EventPublisher records turns that failed.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *model.TurnEvent) (uint64, error)
}

// ErrorClassifier maps a turn error to an event type.
type ErrorClassifier func(err error) model.EventType

// WorkerConfig tunes the inbound workers.
type WorkerConfig struct {
	Concurrency int
	// TurnTimeout bounds one turn including every provider call.
	TurnTimeout time.Duration
	Classify    ErrorClassifier
}

// InboundWorker consumes the inbound stream and runs turns concurrently.
// Failed turns are acknowledged and reported as events; they are not retried.
type InboundWorker struct {
	client  *Client
	process Processor
	events  EventPublisher
	cfg     WorkerConfig
	logger  *logger.Logger

	sem     chan struct{}
	wg      sync.WaitGroup
	consume jetstream.ConsumeContext
}

// NewInboundWorker creates a new inbound worker.
func NewInboundWorker(client *Client, process Processor, events EventPublisher, cfg WorkerConfig, log *logger.Logger) *InboundWorker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = 5 * time.Minute
	}
	if cfg.Classify == nil {
		cfg.Classify = func(error) model.EventType { return model.EventTypeError }
	}
	return &InboundWorker{
		client:  client,
		process: process,
		events:  events,
		cfg:     cfg,
		logger:  log,
		sem:     make(chan struct{}, cfg.Concurrency),
	}
}

// Start creates the durable consumer and begins consuming.
func (w *InboundWorker) Start(ctx context.Context) error {
	consumer, err := w.client.JetStream().CreateOrUpdateConsumer(ctx, InboundStream, jetstream.ConsumerConfig{
		Durable:       InboundConsumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       w.cfg.TurnTimeout + 30*time.Second,
		MaxDeliver:    3,
		MaxAckPending: w.cfg.Concurrency * 4,
		Description:   "Turn workers",
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		w.sem <- struct{}{}
		w.wg.Add(1)
		go func() {
			defer func() {
				<-w.sem
				w.wg.Done()
			}()
			w.handle(msg)
		}()
	}, jetstream.PullMaxMessages(w.cfg.Concurrency))
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	w.consume = cc

	w.logger.Info("inbound worker started", zap.Int("concurrency", w.cfg.Concurrency))
	return nil
}

// Stop stops consuming and waits for running turns.
func (w *InboundWorker) Stop() {
	if w.consume != nil {
		w.consume.Stop()
	}
	w.wg.Wait()
}

func (w *InboundWorker) handle(msg jetstream.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.TurnTimeout)
	defer cancel()

	switch w.run(ctx, msg.Data()) {
	case dispositionTerm:
		if err := msg.Term(); err != nil {
			w.logger.Warn("failed to terminate message", zap.Error(err))
		}
	default:
		if err := msg.Ack(); err != nil {
			w.logger.Warn("failed to ack message", zap.Error(err))
		}
	}
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionTerm
)

// run decodes and processes one payload. Undecodable payloads are
// terminated; everything else is acknowledged.
func (w *InboundWorker) run(ctx context.Context, data []byte) disposition {
	var in model.InboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		w.logger.Error("invalid inbound payload", zap.Error(err))
		return dispositionTerm
	}

	log := w.logger.WithTurn(in.TenantID, in.Phone, in.ID)
	ctx = logger.WithContext(ctx, log)

	err := w.process(ctx, in)
	if err == nil {
		return dispositionAck
	}

	eventType := w.cfg.Classify(err)
	if errors.Is(err, context.DeadlineExceeded) {
		eventType = model.EventTypeTimeout
	}
	log.Error("turn failed", zap.String("type", string(eventType)), zap.Error(err))

	if w.events != nil {
		event := &model.TurnEvent{
			ID:        uuid.NewString(),
			TenantID:  in.TenantID,
			Type:      eventType,
			Reason:    err.Error(),
			Metadata:  map[string]any{"phone": in.Phone, "message_id": in.ID},
			CreatedAt: time.Now().UTC(),
		}
		// ctx may be past its deadline already
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, perr := w.events.PublishEvent(pubCtx, event); perr != nil {
			log.Warn("failed to publish turn event", zap.Error(perr))
		}
	}
	return dispositionAck
}
