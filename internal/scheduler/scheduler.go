// Package scheduler periodically refreshes weather for the user's favorites
// so the dashboard opens on fresh data.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// Warmer refreshes a set of cities. Implemented by cache.CacheWarmer.
type Warmer interface {
	Warm(ctx context.Context, cities []models.City) error
}

// Scheduler runs a refresh of the favorites every interval.
type Scheduler struct {
	scheduler  *gocron.Scheduler
	warmer     Warmer
	favorites  func() []models.City
	interval   time.Duration
	jobTimeout time.Duration
	logger     *zap.Logger
}

// New creates a Scheduler. favorites is read at every run.
func New(interval, jobTimeout time.Duration, warmer Warmer, favorites func() []models.City, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if jobTimeout <= 0 {
		jobTimeout = 30 * time.Second
	}
	return &Scheduler{
		scheduler:  gocron.NewScheduler(time.Local),
		warmer:     warmer,
		favorites:  favorites,
		interval:   interval,
		jobTimeout: jobTimeout,
		logger:     logger,
	}
}

// Start schedules the refresh job. An interval of zero or less disables it.
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		s.logger.Info("favorites refresh disabled")
		return nil
	}

	_, err := s.scheduler.Every(s.interval).WaitForSchedule().SingletonMode().Do(s.run)
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("favorites refresh scheduled", zap.Duration("interval", s.interval))
	return nil
}

// RunNow performs one refresh synchronously.
func (s *Scheduler) RunNow() {
	s.run()
}

func (s *Scheduler) run() {
	cities := s.favorites()
	if len(cities) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	s.logger.Debug("refreshing favorites", zap.Int("cities", len(cities)))
	if err := s.warmer.Warm(ctx, cities); err != nil {
		s.logger.Warn("favorites refresh failed", zap.Error(err))
	}
}

// Stop stops the scheduler and cancels any future runs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil && s.scheduler.IsRunning() {
		s.scheduler.Stop()
	}
}
