// Package publisher feeds ledger events to reporting consumers over Kafka.
//
// Publishing is fire-and-forget: a failed or skipped event never fails the
// ledger operation that produced it. A circuit breaker stops producing while
// the brokers are unhealthy.
package publisher

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"fundpool/internal/funding/models"
	"fundpool/pkg/platform/circuit"
	"fundpool/pkg/requestcontext"
)

// Event types carried in the "type" field and the record header.
const (
	EventContributionRecorded = "contribution_recorded"
	EventPoolWithdrawn        = "pool_withdrawn"
)

// Producer is the subset of *kgo.Client the publisher needs.
type Producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

type eventPayload struct {
	ID           string `json:"id,omitempty"`
	Type         string `json:"type"`
	Principal    string `json:"principal"`
	Amount       string `json:"amount"`
	Contributors int    `json:"contributors,omitempty"`
	OccurredAt   string `json:"occurred_at"`
	RequestID    string `json:"request_id,omitempty"`
}

// KafkaPublisher produces ledger events keyed by principal.
type KafkaPublisher struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	logger   *slog.Logger
	metrics  *Metrics
}

// Option configures the KafkaPublisher.
type Option func(*KafkaPublisher)

// WithLogger sets a logger for error reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(p *KafkaPublisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *KafkaPublisher) {
		p.metrics = m
	}
}

// WithBreaker replaces the default circuit breaker.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *KafkaPublisher) {
		if b != nil {
			p.breaker = b
		}
	}
}

// New creates a publisher producing to topic.
func New(producer Producer, topic string, opts ...Option) *KafkaPublisher {
	p := &KafkaPublisher{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("kafka-events", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ContributionRecorded publishes an accepted contribution.
func (p *KafkaPublisher) ContributionRecorded(ctx context.Context, c models.Contribution) {
	p.emit(ctx, eventPayload{
		ID:         c.ID.String(),
		Type:       EventContributionRecorded,
		Principal:  c.Contributor.String(),
		Amount:     c.Amount.String(),
		OccurredAt: c.Timestamp.UTC().Format(time.RFC3339Nano),
		RequestID:  requestcontext.RequestID(ctx),
	})
}

// PoolWithdrawn publishes a completed withdrawal.
func (p *KafkaPublisher) PoolWithdrawn(ctx context.Context, w models.Withdrawal) {
	p.emit(ctx, eventPayload{
		Type:         EventPoolWithdrawn,
		Principal:    w.Controller.String(),
		Amount:       w.Amount.String(),
		Contributors: w.Contributors,
		OccurredAt:   w.WithdrawnAt.UTC().Format(time.RFC3339Nano),
		RequestID:    requestcontext.RequestID(ctx),
	})
}

func (p *KafkaPublisher) emit(ctx context.Context, event eventPayload) {
	if !p.breaker.Allow() {
		p.metrics.IncDropped()
		return
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to marshal ledger event", "type", event.Type, "error", err)
		return
	}

	record := &kgo.Record{
		Topic:   p.topic,
		Key:     []byte(event.Principal),
		Value:   value,
		Headers: []kgo.RecordHeader{{Key: "type", Value: []byte(event.Type)}},
	}
	start := time.Now()

	// The record outlives the request; keep values but drop cancellation.
	p.producer.Produce(context.WithoutCancel(ctx), record, func(_ *kgo.Record, err error) {
		if err != nil {
			_, change := p.breaker.RecordFailure()
			p.metrics.IncFailed()
			if change.Opened {
				p.metrics.SetBreakerOpen(true)
				p.logger.Warn("event feed circuit opened", "breaker", p.breaker.Name())
			}
			p.logger.Error("failed to publish ledger event",
				"type", event.Type,
				"principal", event.Principal,
				"request_id", event.RequestID,
				"error", err,
			)
			return
		}
		_, change := p.breaker.RecordSuccess()
		if change.Closed {
			p.metrics.SetBreakerOpen(false)
			p.logger.Info("event feed circuit closed", "breaker", p.breaker.Name())
		}
		p.metrics.IncPublished(event.Type)
		p.metrics.ObserveLatency(time.Since(start).Seconds())
	})
}
