package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// CityRefresher fetches current conditions and forecast for a city, populating
// the cache and the state store. Implemented by the service layer; declared here
// to avoid a dependency from cache on service.
type CityRefresher interface {
	RefreshCity(ctx context.Context, city models.City) error
}

// CacheWarmer prefetches weather for a set of cities, typically the favorites.
type CacheWarmer struct {
	refresher CityRefresher
	logger    *zap.Logger
}

// NewCacheWarmer creates a CacheWarmer. logger may be nil.
func NewCacheWarmer(refresher CityRefresher, logger *zap.Logger) *CacheWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CacheWarmer{refresher: refresher, logger: logger}
}

// Warm refreshes every city concurrently and returns the joined errors of the
// cities that failed.
func (w *CacheWarmer) Warm(ctx context.Context, cities []models.City) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var wg sync.WaitGroup
	errCh := make(chan error, len(cities))
	for _, city := range cities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.refresher.RefreshCity(ctx, city); err != nil {
				errCh <- fmt.Errorf("warm %s (%s): %w", city.Name, city.ID, err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}
