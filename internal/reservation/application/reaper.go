package application

import (
	"context"
	"log/slog"
	"time"
)

// Reaper reclaims stock held by abandoned reservations. It keeps no timer
// state of its own: every sweep reads expires_at from the store, so a
// restart or an overlapping run from another instance is harmless because
// the underlying transition is an idempotent compare-and-set.
type Reaper struct {
	log       *slog.Logger
	manager   *Manager
	store     ReservationStore
	interval  time.Duration
	batchSize int
}

func NewReaper(log *slog.Logger, manager *Manager, store ReservationStore, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{
		log:       log,
		manager:   manager,
		store:     store,
		interval:  interval,
		batchSize: 100,
	}
}

func (r *Reaper) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("reaper stopping")
			return nil
		case <-t.C:
			if _, err := r.Sweep(ctx); err != nil {
				r.log.Error("reaper sweep error", "err", err)
			}
		}
	}
}

// Sweep expires one batch of overdue reservations. A single reservation
// failing does not abort the batch: expires_at stays in the past, so the
// next sweep retries it.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	overdue, err := r.store.ListExpired(ctx, time.Now().UTC(), r.batchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, res := range overdue {
		if err := r.manager.Expire(ctx, res.ID, ""); err != nil {
			r.log.Error("expire failed, will retry next sweep", "reservation_id", res.ID, "err", err)
			continue
		}
		expired++
	}
	if expired > 0 {
		r.log.Info("reaper sweep complete", "expired", expired, "scanned", len(overdue))
	}
	return expired, nil
}
