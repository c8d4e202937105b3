package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/application"
	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Inventory-Reservation-System/pkg/idempotency"
	"github.com/dmehra2102/Inventory-Reservation-System/pkg/tracing"
)

// Event types published by the payment integration.
const (
	EventPaymentSettled  = "PaymentSettled"
	EventPaymentFailed   = "PaymentFailed"
	EventPaymentTimedOut = "PaymentTimedOut"
)

type paymentOutcomeEvent struct {
	PaymentRef string `json:"payment_ref"`
	Reason     string `json:"reason,omitempty"`
}

type deduper interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Consumer feeds payment outcomes from the payment events topic into the
// confirmation coordinator.
type Consumer struct {
	log         *slog.Logger
	reader      *kafka.Reader
	coordinator *application.Coordinator
	idem        deduper
	tracer      trace.Tracer
}

func NewConsumer(log *slog.Logger, brokers []string, topic, group string, coordinator *application.Coordinator, idem *idempotency.Store) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: group,
	})
	return &Consumer{
		log:         log,
		reader:      r,
		coordinator: coordinator,
		idem:        idem,
		tracer:      otel.Tracer("payment-outcome-consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		if c.process(ctx, msg) {
			_ = c.reader.CommitMessages(ctx, msg)
		}
	}
}

// process handles one message and reports whether its offset should be
// committed. Only transient failures return false: malformed or stale
// messages can never succeed on redelivery, so retrying them would wedge
// the partition.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		c.log.Error("idempotency check failed", "err", err)
		return false
	}
	if seen {
		c.log.Info("duplicate message skipped", "key", key)
		return true
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumePaymentOutcome")
	defer span.End()

	eventType := headerValue(msg.Headers, "event_type")
	outcome, known := outcomeFor(eventType)
	if !known {
		c.log.Info("skipping unrelated event", "event_type", eventType)
		return true
	}

	var event paymentOutcomeEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.log.Error("unmarshal failed, skipping message", "err", err)
		return true
	}

	traceparent := headerValue(msg.Headers, tracing.TraceparentHeader)
	err = c.coordinator.Handle(msgCtx, event.PaymentRef, outcome, traceparent)

	switch {
	case err == nil:
		c.log.Info("payment outcome applied", "payment_ref", event.PaymentRef, "outcome", outcome)
		return true
	case errors.Is(err, domain.ErrOrphanPayment):
		// Already recorded and escalated; nothing left to retry here.
		return true
	case errors.Is(err, domain.ErrReservationClosed):
		// A failed/timed-out payment racing a completed confirmation. The
		// reservation's terminal state stands; retrying cannot change it.
		c.log.Info("payment outcome arrived after reservation closed", "payment_ref", event.PaymentRef, "outcome", outcome)
		return true
	case errors.Is(err, domain.ErrInvalidInput):
		c.log.Error("malformed payment event, skipping message", "payment_ref", event.PaymentRef, "err", err)
		return true
	default:
		// Transient store failure: unmark the message and leave the offset
		// uncommitted so it is redelivered.
		c.log.Error("payment outcome failed, will be redelivered", "payment_ref", event.PaymentRef, "err", err)
		_ = c.idem.Forget(ctx, key)
		return false
	}
}

func outcomeFor(eventType string) (application.PaymentOutcome, bool) {
	switch eventType {
	case EventPaymentSettled:
		return application.OutcomeSucceeded, true
	case EventPaymentFailed:
		return application.OutcomeFailed, true
	case EventPaymentTimedOut:
		return application.OutcomeTimedOut, true
	default:
		return "", false
	}
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
