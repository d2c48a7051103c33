package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Warmer re-populates the caches for a set of cities. Implemented by
// cache.Warmer.
type Warmer interface {
	Warm(ctx context.Context, cities []string) error
}

// Scheduler periodically re-warms the caches for tracked cities so their
// dashboards never hit a cold archive fetch.
type Scheduler struct {
	scheduler *gocron.Scheduler
	warmer    Warmer
	cities    []string
	interval  time.Duration
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. jobTimeout bounds each warming run; archive fetches
// for several cities can take a while on a cold cache.
func New(warmer Warmer, cities []string, interval, jobTimeout time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		scheduler: gocron.NewScheduler(time.UTC),
		warmer:    warmer,
		cities:    cities,
		interval:  interval,
		timeout:   jobTimeout,
		logger:    logger,
	}
}

// Start schedules the periodic warming job and starts the underlying
// scheduler. With no tracked cities there is nothing to schedule.
func (s *Scheduler) Start() error {
	if len(s.cities) == 0 {
		s.logger.Info("scheduler: no tracked cities configured; nothing to schedule")
		return nil
	}

	minutes := int(s.interval.Minutes())
	if minutes <= 0 {
		minutes = 30
	}

	// StartImmediately makes the first warming run happen at startup instead
	// of waiting a full interval.
	_, err := s.scheduler.Every(minutes).Minutes().StartImmediately().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := s.warmer.Warm(ctx, s.cities); err != nil {
			s.logger.Warn("scheduled cache warming failed", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started",
		zap.Int("tracked_cities", len(s.cities)),
		zap.Int("interval_minutes", minutes))
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
