package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"clinicdesk/queue-service/internal/models"
	"clinicdesk/queue-service/internal/store"
)

// NoShowSweeper moves CALLED items that nobody started within the grace
// period to NO_SHOW. It goes through Service.Transition like any other caller.
type NoShowSweeper struct {
	service   *Service
	store     store.QueueItemStore
	grace     time.Duration
	batchSize int
	logger    *slog.Logger
}

func NewNoShowSweeper(service *Service, grace time.Duration, batchSize int) *NoShowSweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &NoShowSweeper{
		service:   service,
		store:     service.store,
		grace:     grace,
		batchSize: batchSize,
		logger:    service.logger,
	}
}

// Sweep processes one batch and returns how many items were marked NO_SHOW.
func (w *NoShowSweeper) Sweep(ctx context.Context) (int, error) {
	if w.grace <= 0 {
		return 0, nil
	}
	before := w.service.clock.Now().Add(-w.grace)
	stale, err := w.store.ListStale(ctx, models.StatusCalled, before, w.batchSize)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, item := range stale {
		_, err := w.service.Transition(ctx, TransitionInput{
			ClinicID: item.ClinicID,
			ID:       item.ID,
			Status:   models.StatusNoShow,
		}, SystemActor)
		switch {
		case err == nil:
			count++
		case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound):
			// advanced by staff since the scan
			continue
		default:
			return count, err
		}
	}
	return count, nil
}

// Run sweeps on every tick until ctx is done.
func (w *NoShowSweeper) Run(ctx context.Context, interval time.Duration) {
	if w.grace <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			count, err := w.Sweep(sweepCtx)
			cancel()
			if err != nil {
				w.logger.Error("auto no-show error", "error", err)
				continue
			}
			if count > 0 {
				w.logger.Info("auto no-show processed items", "count", count)
			}
		}
	}
}
