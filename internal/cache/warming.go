package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dmcandrews/climate-anomaly-dashboard/internal/models"
	"github.com/dmcandrews/climate-anomaly-dashboard/internal/observability"
)

// Analyzer is implemented by the service layer to run a full analysis for a
// city. Used by Warmer to avoid a circular dependency on the service package;
// running an analysis populates the geocode, current, and historical caches.
type Analyzer interface {
	Analyze(ctx context.Context, city string) (models.AnomalyReport, error)
}

// Warmer warms the caches by prefetching analyses for a list of cities.
type Warmer struct {
	analyzer Analyzer
	logger   *zap.Logger
}

// NewWarmer creates a Warmer that uses the given analyzer and logger.
func NewWarmer(analyzer Analyzer, logger *zap.Logger) *Warmer {
	return &Warmer{analyzer: analyzer, logger: logger}
}

// Warm runs an analysis for each city concurrently, populating the caches via
// the analyzer. Returns an error if any city failed (aggregated).
func (w *Warmer) Warm(ctx context.Context, cities []string) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	if w.logger != nil {
		w.logger.Info("warming caches", zap.Int("cities", len(cities)))
	}
	var wg sync.WaitGroup
	errCh := make(chan error, len(cities))
	for _, city := range cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.analyzer.Analyze(ctx, city)
			if err != nil {
				errCh <- fmt.Errorf("warm %s: %w", city, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)
	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if w.logger != nil {
		w.logger.Info("cache warming complete",
			zap.Int("cities", len(cities)),
			zap.Int("errors", len(errs)),
			zap.Float64("duration_seconds", time.Since(start).Seconds()))
	}
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %v", errs)
	}
	return nil
}
