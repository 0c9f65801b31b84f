package service

import (
	"context"
	"errors"

	"github.com/kjstillabower/weather-dashboard/internal/models"
)

// StateWriter receives successful fetches. Implemented by store.State.
type StateWriter interface {
	PutCurrent(models.CurrentSnapshot)
	PutForecast(models.ForecastBundle)
}

// CityRefresher fetches both views of a city and writes each success into the
// state. It satisfies cache.CityRefresher.
type CityRefresher struct {
	weather *WeatherService
	state   StateWriter
}

// NewCityRefresher creates a CityRefresher.
func NewCityRefresher(ws *WeatherService, state StateWriter) *CityRefresher {
	return &CityRefresher{weather: ws, state: state}
}

// RefreshCity fetches current conditions and forecast for city concurrently.
// A failure in one does not discard the other; the errors are joined.
func (r *CityRefresher) RefreshCity(ctx context.Context, city models.City) error {
	var currentErr, forecastErr error
	done := make(chan struct{})

	go func() {
		defer close(done)
		b, err := r.weather.GetForecast(ctx, city.Lat, city.Lon, city.Name)
		if err != nil {
			forecastErr = err
			return
		}
		r.state.PutForecast(b)
	}()

	snap, err := r.weather.GetCurrentWeather(ctx, city.Lat, city.Lon, city.Name, city.Country)
	if err != nil {
		currentErr = err
	} else {
		r.state.PutCurrent(snap)
	}

	<-done
	return errors.Join(currentErr, forecastErr)
}
