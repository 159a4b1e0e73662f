// Package scheduler runs the periodic weather cache sweep.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/errorutil"
	"github.com/shamanicyogi/insurance-compliance-web-sub000/internal/logger"
)

const (
	// DefaultInterval is used when no sweep interval is configured.
	DefaultInterval = 15 * time.Minute
	sweepTimeout    = 30 * time.Second
)

// ExpiredDeleter removes cache entries that have expired at now.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Sweeper physically deletes expired weather cache records. Reads never
// delete, so without it expired rows accumulate.
type Sweeper struct {
	scheduler *gocron.Scheduler
	cache     ExpiredDeleter
	interval  time.Duration
	now       func() time.Time
}

// New creates a sweeper over cache running every interval.
func New(cache ExpiredDeleter, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{
		scheduler: gocron.NewScheduler(time.UTC),
		cache:     cache,
		interval:  interval,
		now:       time.Now,
	}
}

// Start schedules the sweep and starts the scheduler in the background.
// The first sweep runs immediately.
func (s *Sweeper) Start() error {
	_, err := s.scheduler.Every(s.interval).Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		if _, err := s.Sweep(ctx); err != nil {
			errorutil.LogWarning(logger.Get().Logger, "cache sweep", err)
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	logger.Info("Cache sweeper started, interval %s", s.interval)
	return nil
}

// Sweep runs one pass synchronously and returns how many records it removed.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	complete := logger.LogOperationStart("cache_sweep", nil)

	removed, err := s.cache.DeleteExpired(ctx, s.now().UTC())
	complete(err)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		logger.LogWithFields(logger.InfoLevel, "Expired weather cache records removed", map[string]any{
			"removed": removed,
		})
	}
	return removed, nil
}

// Stop stops the scheduler and cancels future sweeps.
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
