package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/cache"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/forecast"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/units"
)

// Cache operation names; also the cache key prefixes.
const (
	OperationCurrent  = "current"
	OperationForecast = "forecast"
)

const (
	// MinQueryLength is the shortest trimmed query sent upstream.
	MinQueryLength = 2
	// SearchLimit caps geocoding results.
	SearchLimit = 5
	// ForecastSamples is the number of three-hour samples requested (five days).
	ForecastSamples = 40
)

// Options configures a WeatherService.
type Options struct {
	// Location is the zone used for daily forecast buckets. Nil means time.Local.
	Location *time.Location
	// Coalesce shares one upstream call among concurrent misses on the same key.
	Coalesce bool
	// Now overrides the clock used for UpdatedAt and FetchedAt.
	Now func() time.Time
}

// WeatherService orchestrates city search, current conditions and forecasts
// using a cache-aside pattern in front of the upstream client.
type WeatherService struct {
	client    client.WeatherClient
	current   cache.Cache[models.CurrentSnapshot]
	forecasts cache.Cache[models.ForecastBundle]
	location  *time.Location
	now       func() time.Time
	misses    *stampedeTracker
	coalescer *requestCoalescer
}

// NewWeatherService creates a WeatherService. Each operation gets its own cache.
func NewWeatherService(c client.WeatherClient, current cache.Cache[models.CurrentSnapshot], forecasts cache.Cache[models.ForecastBundle], opts Options) *WeatherService {
	s := &WeatherService{
		client:    c,
		current:   current,
		forecasts: forecasts,
		location:  opts.Location,
		now:       opts.Now,
		misses:    newStampedeTracker(),
	}
	if s.location == nil {
		s.location = time.Local
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Coalesce {
		s.coalescer = newRequestCoalescer()
	}
	return s
}

// Location returns the zone used for daily buckets.
func (s *WeatherService) Location() *time.Location {
	return s.location
}

// SearchCities resolves a free-text query into at most SearchLimit cities.
// A trimmed query shorter than MinQueryLength returns an empty slice without
// calling upstream.
func (s *WeatherService) SearchCities(ctx context.Context, query string) ([]models.City, error) {
	q := strings.TrimSpace(query)
	if utf8.RuneCountInString(q) < MinQueryLength {
		observability.CitySearchesTotal.WithLabelValues("skipped").Inc()
		return []models.City{}, nil
	}

	results, err := s.client.Geocode(ctx, q, SearchLimit)
	if err != nil {
		observability.CitySearchesTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("search cities %q: %w", q, err)
	}
	if len(results) > SearchLimit {
		results = results[:SearchLimit]
	}

	cities := make([]models.City, 0, len(results))
	for _, r := range results {
		cities = append(cities, models.NewCity(r.Name, r.Country, r.Lat, r.Lon))
	}
	if len(cities) == 0 {
		observability.CitySearchesTotal.WithLabelValues("empty").Inc()
	} else {
		observability.CitySearchesTotal.WithLabelValues("success").Inc()
	}
	observability.LoggerFromContext(ctx).Debug("city search", zap.String("query", q), zap.Int("results", len(cities)))
	return cities, nil
}

// GetCurrentWeather returns normalized current conditions for a coordinate,
// served from cache while fresh.
func (s *WeatherService) GetCurrentWeather(ctx context.Context, lat, lon float64, cityName, country string) (models.CurrentSnapshot, error) {
	key := cache.Key(OperationCurrent, lat, lon)
	snap, err := fetchThrough(ctx, s, OperationCurrent, key, s.current, func(ctx context.Context) (models.CurrentSnapshot, error) {
		resp, err := s.client.CurrentConditions(ctx, lat, lon)
		if err != nil {
			return models.CurrentSnapshot{}, err
		}
		return normalizeCurrent(resp, lat, lon, cityName, country, s.now()), nil
	})
	if err != nil {
		return models.CurrentSnapshot{}, fmt.Errorf("current weather for %s: %w", key, err)
	}
	return snap, nil
}

// GetForecast returns the hourly and daily forecast for a coordinate, served
// from cache while fresh.
func (s *WeatherService) GetForecast(ctx context.Context, lat, lon float64, cityName string) (models.ForecastBundle, error) {
	key := cache.Key(OperationForecast, lat, lon)
	b, err := fetchThrough(ctx, s, OperationForecast, key, s.forecasts, func(ctx context.Context) (models.ForecastBundle, error) {
		samples, err := s.client.Forecast(ctx, lat, lon, ForecastSamples)
		if err != nil {
			return models.ForecastBundle{}, err
		}
		return models.ForecastBundle{
			CityID:    models.CityID(lat, lon),
			CityName:  cityName,
			Hourly:    forecast.DeriveHourly(samples),
			Daily:     forecast.DeriveDaily(samples, s.location),
			FetchedAt: s.now(),
		}, nil
	})
	if err != nil {
		return models.ForecastBundle{}, fmt.Errorf("forecast for %s: %w", key, err)
	}
	return b, nil
}

func normalizeCurrent(resp client.CurrentResponse, lat, lon float64, cityName, country string, now time.Time) models.CurrentSnapshot {
	snap := models.CurrentSnapshot{
		CityID:     models.CityID(lat, lon),
		CityName:   cityName,
		Country:    country,
		Temp:       units.Round(resp.Main.Temp),
		FeelsLike:  units.Round(resp.Main.FeelsLike),
		Humidity:   resp.Main.Humidity,
		WindSpeed:  float64(units.Round(resp.Wind.Speed)),
		WindDeg:    resp.Wind.Deg,
		Pressure:   resp.Main.Pressure,
		Icon:       forecast.DefaultIcon,
		Visibility: resp.Visibility,
		UpdatedAt:  now,
	}
	if len(resp.Weather) > 0 {
		snap.Description = resp.Weather[0].Description
		if resp.Weather[0].Icon != "" {
			snap.Icon = resp.Weather[0].Icon
		}
	}
	return snap
}

// fetchThrough is the cache-aside path shared by every operation. Cache
// errors are logged and treated as misses; a failed Set never fails the call.
func fetchThrough[V any](ctx context.Context, s *WeatherService, operation, key string, c cache.Cache[V], fetch func(context.Context) (V, error)) (V, error) {
	logger := observability.LoggerFromContext(ctx)

	if v, ok, err := c.Get(ctx, key); err != nil {
		observability.CacheErrorsTotal.WithLabelValues(operation, "get").Inc()
		logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues(operation).Inc()
		logger.Debug("cache hit", zap.String("key", key))
		return v, nil
	}

	observability.CacheMissesTotal.WithLabelValues(operation).Inc()
	if n := s.misses.RecordMiss(key); n > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(operation).Inc()
	}
	defer s.misses.Done(key)
	logger.Debug("cache miss, fetching upstream", zap.String("key", key))

	var (
		v   V
		err error
	)
	if s.coalescer != nil {
		var shared bool
		// the shared fetch outlives any one caller's cancellation
		fetchCtx := context.WithoutCancel(ctx)
		v, err, shared = coalesce(s.coalescer, key, func() (V, error) { return fetch(fetchCtx) })
		if shared {
			observability.RequestCoalescingHitsTotal.WithLabelValues(operation).Inc()
		}
	} else {
		v, err = fetch(ctx)
	}
	if err != nil {
		return v, err
	}

	if err := c.Set(ctx, key, v); err != nil {
		observability.CacheErrorsTotal.WithLabelValues(operation, "set").Inc()
		logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}
