// Package store holds the dashboard's client state: the latest fetched
// weather per city, the favorites list, and the display unit. Favorites and
// unit are persisted through a KV on every change and loaded once at startup.
package store

import (
	"encoding/json"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/units"
)

// Persisted keys.
const (
	FavoritesKey = "weather-favorites"
	UnitKey      = "weather-unit"
)

// State is the single owned state container. All methods are safe for
// concurrent use.
type State struct {
	mu        sync.RWMutex
	kv        KV
	logger    *zap.Logger
	current   map[string]models.CurrentSnapshot
	forecasts map[string]models.ForecastBundle
	favorites []models.City
	unit      units.Unit
}

// NewState loads favorites and unit from kv. A missing or unreadable
// document yields no favorites and Celsius. kv and logger may be nil.
func NewState(kv KV, logger *zap.Logger) *State {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &State{
		kv:        kv,
		logger:    logger,
		current:   make(map[string]models.CurrentSnapshot),
		forecasts: make(map[string]models.ForecastBundle),
		favorites: []models.City{},
		unit:      units.Celsius,
	}
	s.load()
	observability.FavoritesCount.Set(float64(len(s.favorites)))
	return s
}

func (s *State) load() {
	if s.kv == nil {
		return
	}

	if b, err := s.kv.Get(FavoritesKey); err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			s.persistenceFailed(FavoritesKey, "read", err)
		}
	} else {
		var favs []models.City
		if err := json.Unmarshal(b, &favs); err != nil {
			s.persistenceFailed(FavoritesKey, "decode", err)
		} else {
			s.favorites = dedupe(favs)
		}
	}

	if b, err := s.kv.Get(UnitKey); err != nil {
		if !errors.Is(err, ErrKeyNotFound) {
			s.persistenceFailed(UnitKey, "read", err)
		}
	} else {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			s.persistenceFailed(UnitKey, "decode", err)
		} else if u, ok := units.ParseUnit(raw); ok {
			s.unit = u
		}
	}
}

func dedupe(in []models.City) []models.City {
	seen := make(map[string]bool, len(in))
	out := make([]models.City, 0, len(in))
	for _, c := range in {
		if c.ID == "" {
			c.ID = models.CityID(c.Lat, c.Lon)
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		out = append(out, c)
	}
	return out
}

// PutCurrent replaces the stored snapshot for its city.
func (s *State) PutCurrent(snap models.CurrentSnapshot) {
	s.mu.Lock()
	s.current[snap.CityID] = snap
	s.mu.Unlock()
}

// PutForecast replaces the stored forecast for its city.
func (s *State) PutForecast(b models.ForecastBundle) {
	s.mu.Lock()
	s.forecasts[b.CityID] = b
	s.mu.Unlock()
}

// Current returns the last stored snapshot for cityID.
func (s *State) Current(cityID string) (models.CurrentSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.current[cityID]
	return snap, ok
}

// Forecast returns the last stored forecast for cityID.
func (s *State) Forecast(cityID string) (models.ForecastBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.forecasts[cityID]
	return b, ok
}

// Favorites returns a copy of the favorites in insertion order.
func (s *State) Favorites() []models.City {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.City, len(s.favorites))
	copy(out, s.favorites)
	return out
}

// IsFavorite reports whether cityID is pinned.
func (s *State) IsFavorite(cityID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return indexOf(s.favorites, cityID) >= 0
}

// AddFavorite appends city unless its id is already present. It reports
// whether the list changed.
func (s *State) AddFavorite(city models.City) bool {
	if city.ID == "" {
		city.ID = models.CityID(city.Lat, city.Lon)
	}

	s.mu.Lock()
	if indexOf(s.favorites, city.ID) >= 0 {
		s.mu.Unlock()
		return false
	}
	s.favorites = append(s.favorites, city)
	s.saveFavoritesLocked()
	s.mu.Unlock()
	return true
}

// RemoveFavorite deletes cityID, keeping the order of the remaining entries.
// It reports whether the list changed.
func (s *State) RemoveFavorite(cityID string) bool {
	s.mu.Lock()
	i := indexOf(s.favorites, cityID)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	s.favorites = append(s.favorites[:i:i], s.favorites[i+1:]...)
	s.saveFavoritesLocked()
	s.mu.Unlock()
	return true
}

// LookupCity resolves cityID against favorites first, then the default cities.
func (s *State) LookupCity(cityID string) (models.City, bool) {
	s.mu.RLock()
	i := indexOf(s.favorites, cityID)
	if i >= 0 {
		c := s.favorites[i]
		s.mu.RUnlock()
		return c, true
	}
	s.mu.RUnlock()

	for _, c := range DefaultCities() {
		if c.ID == cityID {
			return c, true
		}
	}
	return models.City{}, false
}

// Unit returns the display unit.
func (s *State) Unit() units.Unit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unit
}

// SetUnit changes and persists the display unit.
func (s *State) SetUnit(u units.Unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unit = u
	s.save(UnitKey, string(u))
}

// ToggleUnit flips the display unit, persists it, and returns the new value.
func (s *State) ToggleUnit() units.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unit = s.unit.Toggle()
	s.save(UnitKey, string(s.unit))
	return s.unit
}

// saveFavoritesLocked persists the favorites; writes happen under mu so the
// stored document always matches the latest in-memory list.
func (s *State) saveFavoritesLocked() {
	observability.FavoritesCount.Set(float64(len(s.favorites)))
	s.save(FavoritesKey, s.favorites)
}

func (s *State) save(key string, v interface{}) {
	if s.kv == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		s.persistenceFailed(key, "encode", err)
		return
	}
	if err := s.kv.Set(key, b); err != nil {
		s.persistenceFailed(key, "write", err)
	}
}

func (s *State) persistenceFailed(key, action string, err error) {
	observability.PersistenceErrorsTotal.WithLabelValues(key, action).Inc()
	s.logger.Debug("persistence failed", zap.String("key", key), zap.String("action", action), zap.Error(err))
}

func indexOf(cities []models.City, id string) int {
	for i, c := range cities {
		if c.ID == id {
			return i
		}
	}
	return -1
}
