package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/application"
	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/domain"
	"github.com/dmehra2102/Inventory-Reservation-System/internal/reservation/infrastructure/memory"
)

type memDeduper struct {
	seen      map[string]bool
	forgotten []string
	seenErr   error
}

func newMemDeduper() *memDeduper {
	return &memDeduper{seen: map[string]bool{}}
}

func (d *memDeduper) Key(topic string, partition int, offset int64) string {
	return fmt.Sprintf("%s:%d:%d", topic, partition, offset)
}

func (d *memDeduper) Seen(_ context.Context, key string) (bool, error) {
	if d.seenErr != nil {
		return false, d.seenErr
	}
	was := d.seen[key]
	d.seen[key] = true
	return was, nil
}

func (d *memDeduper) Forget(_ context.Context, key string) error {
	d.forgotten = append(d.forgotten, key)
	delete(d.seen, key)
	return nil
}

// flakyStore fails reads by payment reference until told otherwise.
type flakyStore struct {
	*memory.Store
	lookupErr error
}

func (s *flakyStore) GetByPaymentRef(ctx context.Context, ref string) (domain.Reservation, error) {
	if s.lookupErr != nil {
		return domain.Reservation{}, s.lookupErr
	}
	return s.Store.GetByPaymentRef(ctx, ref)
}

type consumerFixture struct {
	consumer *Consumer
	store    *memory.Store
	manager  *application.Manager
	dedupe   *memDeduper
}

func newConsumerFixture(t *testing.T, store application.ReservationStore) consumerFixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	var mem *memory.Store
	switch s := store.(type) {
	case *memory.Store:
		mem = s
	case *flakyStore:
		mem = s.Store
	}
	mem.SeedVariant(domain.Variant{ID: "variant-1", SKU: "SKU-1", PriceCents: 9900, TotalStock: 10})

	manager := application.NewManager(log, store, time.Minute)
	coordinator := application.NewCoordinator(log, store, manager)
	dedupe := newMemDeduper()
	return consumerFixture{
		consumer: &Consumer{
			log:         log,
			coordinator: coordinator,
			idem:        dedupe,
			tracer:      otel.Tracer("payment-outcome-consumer-test"),
		},
		store:   mem,
		manager: manager,
		dedupe:  dedupe,
	}
}

func (f consumerFixture) reserveWithRef(t *testing.T, ref string) domain.Reservation {
	t.Helper()
	res, err := f.manager.CreateReservation(context.Background(), application.CreateReservationInput{
		VariantID: "variant-1",
		Quantity:  2,
		SessionID: "session-1",
	}, "")
	require.NoError(t, err)
	require.NoError(t, f.manager.AttachPaymentRef(context.Background(), res.ID, ref))
	return res
}

func paymentMessage(offset int64, eventType, body string) segkafka.Message {
	return segkafka.Message{
		Topic:     "payment.events",
		Partition: 0,
		Offset:    offset,
		Value:     []byte(body),
		Headers: []segkafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}
}

func TestConsumerProcess_SettledConfirms(t *testing.T) {
	f := newConsumerFixture(t, memory.NewStore())
	res := f.reserveWithRef(t, "pay-1")

	commit := f.consumer.process(context.Background(), paymentMessage(1, EventPaymentSettled, `{"payment_ref":"pay-1"}`))
	require.True(t, commit)

	got, err := f.store.Get(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateConfirmed, got.State)
}

func TestConsumerProcess_DuplicateOffsetSkipped(t *testing.T) {
	f := newConsumerFixture(t, memory.NewStore())
	f.reserveWithRef(t, "pay-1")

	msg := paymentMessage(1, EventPaymentSettled, `{"payment_ref":"pay-1"}`)
	require.True(t, f.consumer.process(context.Background(), msg))
	require.True(t, f.consumer.process(context.Background(), msg))
	require.Empty(t, f.dedupe.forgotten)
}

func TestConsumerProcess_FailureAfterConfirmCommits(t *testing.T) {
	f := newConsumerFixture(t, memory.NewStore())
	res := f.reserveWithRef(t, "pay-1")
	_, err := f.manager.Confirm(context.Background(), res.ID, "")
	require.NoError(t, err)

	// A late failure for a settled payment is final for the reservation;
	// it must not circulate as a poison message.
	commit := f.consumer.process(context.Background(), paymentMessage(2, EventPaymentFailed, `{"payment_ref":"pay-1"}`))
	require.True(t, commit)
	require.Empty(t, f.dedupe.forgotten)

	got, err := f.store.Get(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateConfirmed, got.State)
}

func TestConsumerProcess_MissingPaymentRefCommits(t *testing.T) {
	f := newConsumerFixture(t, memory.NewStore())

	commit := f.consumer.process(context.Background(), paymentMessage(3, EventPaymentSettled, `{}`))
	require.True(t, commit)
	require.Empty(t, f.dedupe.forgotten)
}

func TestConsumerProcess_MalformedBodyCommits(t *testing.T) {
	f := newConsumerFixture(t, memory.NewStore())

	commit := f.consumer.process(context.Background(), paymentMessage(4, EventPaymentSettled, `not json`))
	require.True(t, commit)
}

func TestConsumerProcess_UnrelatedEventCommits(t *testing.T) {
	f := newConsumerFixture(t, memory.NewStore())

	commit := f.consumer.process(context.Background(), paymentMessage(5, "SomethingElse", `{"payment_ref":"pay-1"}`))
	require.True(t, commit)
}

func TestConsumerProcess_OrphanCommits(t *testing.T) {
	f := newConsumerFixture(t, memory.NewStore())

	commit := f.consumer.process(context.Background(), paymentMessage(6, EventPaymentSettled, `{"payment_ref":"pay-unknown"}`))
	require.True(t, commit)
	require.Contains(t, f.store.Orphans(), "pay-unknown")
}

func TestConsumerProcess_TransientErrorRedelivers(t *testing.T) {
	flaky := &flakyStore{Store: memory.NewStore(), lookupErr: errors.New("connection reset")}
	f := newConsumerFixture(t, flaky)

	msg := paymentMessage(7, EventPaymentSettled, `{"payment_ref":"pay-1"}`)
	commit := f.consumer.process(context.Background(), msg)
	require.False(t, commit)
	require.Len(t, f.dedupe.forgotten, 1)

	// Store recovers; the redelivered message goes through.
	flaky.lookupErr = nil
	res := f.reserveWithRef(t, "pay-1")
	require.True(t, f.consumer.process(context.Background(), msg))

	got, err := f.store.Get(context.Background(), res.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StateConfirmed, got.State)
}

func TestConsumerProcess_DeduperErrorRedelivers(t *testing.T) {
	f := newConsumerFixture(t, memory.NewStore())
	f.dedupe.seenErr = errors.New("redis down")

	commit := f.consumer.process(context.Background(), paymentMessage(8, EventPaymentSettled, `{"payment_ref":"pay-1"}`))
	require.False(t, commit)
}
