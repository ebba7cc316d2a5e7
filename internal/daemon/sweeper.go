package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vetrail/vetrail/internal/run"
)

const (
	// DefaultRetention keeps run records for a week.
	DefaultRetention = 7 * 24 * time.Hour

	// DefaultSweepInterval is how often the retention sweep runs.
	DefaultSweepInterval = time.Hour
)

// Sweeper periodically removes old run records so the store does not
// grow without bound in serve mode.
type Sweeper struct {
	logger    *slog.Logger
	store     *run.Store
	retention time.Duration
	interval  time.Duration

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper creates a retention sweeper. Non-positive durations use the
// defaults.
func NewSweeper(logger *slog.Logger, store *run.Store, retention, interval time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		logger:    logger,
		store:     store,
		retention: retention,
		interval:  interval,
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.store.DeleteOlderThan(ctx, s.retention)
	if err != nil {
		s.logger.Warn("retention sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("retention sweep removed runs", "removed", n)
	}
}
