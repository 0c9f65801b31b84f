package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/auth"
	"github.com/kjstillabower/weather-dashboard/internal/client"
	"github.com/kjstillabower/weather-dashboard/internal/forecast"
	"github.com/kjstillabower/weather-dashboard/internal/models"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
	"github.com/kjstillabower/weather-dashboard/internal/service"
	"github.com/kjstillabower/weather-dashboard/internal/store"
	"github.com/kjstillabower/weather-dashboard/internal/traffic"
	"github.com/kjstillabower/weather-dashboard/internal/units"
	"github.com/kjstillabower/weather-dashboard/internal/validation"
)

const (
	maxQueryLength = 100
	maxBodyBytes   = 1 << 16
)

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	DegradedWindow   time.Duration
	DegradedErrorPct int
	// Overloaded when tracked outcomes in OverloadWindow exceed
	// OverloadThresholdPct of the rate limiter's capacity for that window.
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	// OnDegraded, when set, is called each time the upstream is reported
	// unreachable or over the error threshold.
	OnDegraded func()
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
}

// Options carries optional Handler dependencies.
type Options struct {
	IconHost string
	Health   *HealthConfig
	// Auth is nil when the identity provider is disabled.
	Auth     *auth.Authenticator
	Sessions *auth.Sessions
	// SecureCookies marks session cookies Secure. Off for the default
	// loopback listener, which serves plain HTTP.
	SecureCookies bool
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather   *service.WeatherService
	refresher *service.CityRefresher
	state     *store.State
	client    client.WeatherClient
	traffic   *traffic.Tracker
	logger    *zap.Logger

	iconHost      string
	health        *HealthConfig
	auth          *auth.Authenticator
	sessions      *auth.Sessions
	secureCookies bool

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. Fetch results are written into state.
func NewHandler(ws *service.WeatherService, state *store.State, c client.WeatherClient, tracker *traffic.Tracker, logger *zap.Logger, opts Options) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = traffic.NewTracker()
	}
	if opts.IconHost == "" {
		opts.IconHost = "openweathermap.org"
	}
	if opts.Sessions == nil {
		opts.Sessions = auth.NewSessions(0)
	}
	return &Handler{
		weather:       ws,
		refresher:     service.NewCityRefresher(ws, state),
		state:         state,
		client:        c,
		traffic:       tracker,
		logger:        logger,
		iconHost:      opts.IconHost,
		health:        opts.Health,
		auth:          opts.Auth,
		sessions:      opts.Sessions,
		secureCookies: opts.SecureCookies,
	}
}

// SetShuttingDown flips the health endpoint to shutting-down. Call when
// SIGTERM/SIGINT is received.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

type citiesResponse struct {
	Cities   []models.City `json:"cities"`
	Degraded bool          `json:"degraded,omitempty"`
}

// SearchCities handles GET /api/cities?q=. Invalid queries and upstream
// failures both answer with an empty list; failures set degraded.
func (h *Handler) SearchCities(w http.ResponseWriter, r *http.Request) {
	q, err := validation.ValidateQuery(r.URL.Query().Get("q"), service.MinQueryLength, maxQueryLength)
	if err != nil {
		if !errors.Is(err, validation.ErrQueryTooShort) {
			observability.LoggerFromContext(r.Context()).Debug("search query rejected", zap.Error(err))
		}
		writeJSON(w, http.StatusOK, citiesResponse{Cities: []models.City{}})
		return
	}

	cities, err := h.weather.SearchCities(r.Context(), q)
	if err != nil {
		h.traffic.RecordError()
		observability.LoggerFromContext(r.Context()).Warn("city search failed", zap.String("query", q), zap.Error(err))
		writeJSON(w, http.StatusOK, citiesResponse{Cities: []models.City{}, Degraded: true})
		return
	}
	h.traffic.RecordSuccess()
	writeJSON(w, http.StatusOK, citiesResponse{Cities: cities})
}

// DefaultCities handles GET /api/cities/defaults.
func (h *Handler) DefaultCities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, citiesResponse{Cities: store.DefaultCities()})
}

type dashboardResponse struct {
	Cities        []models.City `json:"cities"`
	UsingDefaults bool          `json:"usingDefaults"`
	Unit          units.Unit    `json:"unit"`
}

// GetDashboard handles GET /api/dashboard: the favorites, or the default
// cities when there are none, plus the display unit.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	resp := dashboardResponse{Cities: h.state.Favorites(), Unit: h.state.Unit()}
	if len(resp.Cities) == 0 {
		resp.Cities = store.DefaultCities()
		resp.UsingDefaults = true
	}
	writeJSON(w, http.StatusOK, resp)
}

type currentView struct {
	models.CurrentSnapshot
	DisplayTemp      int    `json:"displayTemp"`
	DisplayFeelsLike int    `json:"displayFeelsLike"`
	TempLabel        string `json:"tempLabel"`
	IconURL          string `json:"iconUrl"`
}

type dailyView struct {
	models.DailyAggregate
	DisplayMin int    `json:"displayMin"`
	DisplayMax int    `json:"displayMax"`
	IconURL    string `json:"iconUrl"`
}

type forecastView struct {
	models.ForecastBundle
	DailyView []dailyView `json:"dailyView"`
}

type weatherResponse struct {
	City       models.City   `json:"city"`
	Unit       units.Unit    `json:"unit"`
	IsFavorite bool          `json:"isFavorite"`
	Current    *currentView  `json:"current"`
	Forecast   *forecastView `json:"forecast"`
	Stale      bool          `json:"stale"`
}

// GetWeather handles GET /api/weather/{cityId}. Current conditions and the
// forecast are fetched through the cache and written into the state store.
// When upstream fails the last stored entries are returned with stale set.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	city, ok := h.resolveCity(w, r)
	if !ok {
		return
	}

	err := h.refresher.RefreshCity(r.Context(), city)
	if err != nil {
		h.traffic.RecordError()
		if errors.Is(err, client.ErrInvalidCredentials) {
			writeMisconfigured(w, r, err)
			return
		}
	} else {
		h.traffic.RecordSuccess()
	}

	resp := h.weatherView(city)
	if err != nil {
		if resp.Current == nil && resp.Forecast == nil {
			writeServiceError(w, r, err)
			return
		}
		resp.Stale = true
		observability.LoggerFromContext(r.Context()).Info("serving stale weather", zap.String("city_id", city.ID), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCharts handles GET /api/weather/{cityId}/charts in the current unit.
func (h *Handler) GetCharts(w http.ResponseWriter, r *http.Request) {
	city, ok := h.resolveCity(w, r)
	if !ok {
		return
	}

	b, err := h.weather.GetForecast(r.Context(), city.Lat, city.Lon, city.Name)
	if err != nil {
		h.traffic.RecordError()
		if errors.Is(err, client.ErrInvalidCredentials) {
			writeMisconfigured(w, r, err)
			return
		}
		stored, ok := h.state.Forecast(city.ID)
		if !ok {
			writeServiceError(w, r, err)
			return
		}
		b = stored
	} else {
		h.traffic.RecordSuccess()
		h.state.PutForecast(b)
	}
	writeJSON(w, http.StatusOK, forecast.BuildCharts(b, h.state.Unit(), h.weather.Location()))
}

// resolveCity parses {cityId} and finds its name: favorites, then default
// cities, then the name and country query parameters of a searched city.
func (h *Handler) resolveCity(w http.ResponseWriter, r *http.Request) (models.City, bool) {
	id := mux.Vars(r)["cityId"]
	lat, lon, err := models.ParseCityID(id)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY_ID", "city id must be <lat>-<lon>")
		return models.City{}, false
	}
	if city, ok := h.state.LookupCity(id); ok {
		return city, true
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		name = id
	}
	city := models.NewCity(name, strings.TrimSpace(r.URL.Query().Get("country")), lat, lon)
	if err := validation.ValidateCity(city); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return models.City{}, false
	}
	return city, true
}

func (h *Handler) weatherView(city models.City) weatherResponse {
	unit := h.state.Unit()
	resp := weatherResponse{
		City:       city,
		Unit:       unit,
		IsFavorite: h.state.IsFavorite(city.ID),
	}
	if snap, ok := h.state.Current(city.ID); ok {
		t := units.ToDisplayTemperature(float64(snap.Temp), unit)
		resp.Current = &currentView{
			CurrentSnapshot:  snap,
			DisplayTemp:      t,
			DisplayFeelsLike: units.ToDisplayTemperature(float64(snap.FeelsLike), unit),
			TempLabel:        strconv.Itoa(t) + units.TemperatureSuffix(unit),
			IconURL:          models.IconURL(h.iconHost, snap.Icon),
		}
	}
	if b, ok := h.state.Forecast(city.ID); ok {
		fv := &forecastView{ForecastBundle: b, DailyView: make([]dailyView, 0, len(b.Daily))}
		for _, d := range b.Daily {
			icon := forecast.DefaultIcon
			if len(d.Weather) > 0 {
				icon = d.Weather[0].Icon
			}
			fv.DailyView = append(fv.DailyView, dailyView{
				DailyAggregate: d,
				DisplayMin:     units.ToDisplayTemperature(float64(d.Temp.Min), unit),
				DisplayMax:     units.ToDisplayTemperature(float64(d.Temp.Max), unit),
				IconURL:        models.IconURL(h.iconHost, icon),
			})
		}
		resp.Forecast = fv
	}
	return resp
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	}
	if h.health != nil && h.health.CachePing != nil {
		if h.health.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-dashboard",
		"version":   "dev",
		"checks":    checks,
		"favorites": len(h.state.Favorites()),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates, in order: shutting-down, API key rejected,
// overloaded, upstream error rate, healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		if errors.Is(err, client.ErrInvalidCredentials) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
		}
		h.notifyDegraded()
		return healthResult{"degraded", http.StatusServiceUnavailable, "upstream_unreachable"}
	}
	if h.health != nil && h.health.RateLimitRPS > 0 && h.health.OverloadWindow > 0 && h.health.OverloadThresholdPct > 0 {
		threshold := float64(h.health.RateLimitRPS) * h.health.OverloadWindow.Seconds() * float64(h.health.OverloadThresholdPct) / 100
		if float64(h.traffic.RequestCount(h.health.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if h.health != nil && h.health.DegradedWindow > 0 && h.health.DegradedErrorPct > 0 {
		if h.traffic.Degraded(h.health.DegradedWindow, float64(h.health.DegradedErrorPct)/100, 1) {
			h.notifyDegraded()
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) notifyDegraded() {
	if h.health != nil && h.health.OnDegraded != nil {
		h.health.OnDegraded()
	}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError writes a 503 for upstream failures with no stored fallback.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	observability.LoggerFromContext(r.Context()).Debug("upstream error", zap.Error(err))
}

// writeMisconfigured reports a rejected API key. The provider's message is
// passed through so the UI can show a configuration problem instead of "offline".
func writeMisconfigured(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusBadGateway, "SERVICE_MISCONFIGURED", credentialsMessage(err))
	observability.LoggerFromContext(r.Context()).Error("weather API rejected credentials", zap.Error(err))
}

func credentialsMessage(err error) string {
	msg := err.Error()
	marker := client.ErrInvalidCredentials.Error() + ": "
	if i := strings.Index(msg, marker); i >= 0 {
		if rest := strings.TrimSpace(msg[i+len(marker):]); rest != "" {
			if j := strings.Index(rest, "\n"); j >= 0 {
				rest = rest[:j]
			}
			return rest
		}
	}
	return "Invalid API key"
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
