package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

// RouterConfig controls the middleware applied by NewRouter.
type RouterConfig struct {
	// RequestTimeout bounds the routes that call the weather provider.
	RequestTimeout time.Duration
	// Limiter is applied to /api routes. Nil disables rate limiting.
	Limiter *rate.Limiter
}

// NewRouter registers every route on a new mux.Router. /health and /metrics
// bypass rate limiting so probes keep working under load.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.Use(CorrelationIDMiddleware(logger))
	r.Use(MetricsMiddleware)

	r.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	r.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter, h.traffic))

	upstream := api.NewRoute().Subrouter()
	upstream.Use(TimeoutMiddleware(cfg.RequestTimeout))
	upstream.HandleFunc("/cities", h.SearchCities).Methods(http.MethodGet)
	upstream.HandleFunc("/weather/{cityId}", h.GetWeather).Methods(http.MethodGet)
	upstream.HandleFunc("/weather/{cityId}/charts", h.GetCharts).Methods(http.MethodGet)

	api.HandleFunc("/cities/defaults", h.DefaultCities).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", h.GetDashboard).Methods(http.MethodGet)
	api.HandleFunc("/favorites", h.ListFavorites).Methods(http.MethodGet)
	api.HandleFunc("/favorites", h.AddFavorite).Methods(http.MethodPost)
	api.HandleFunc("/favorites/{cityId}", h.RemoveFavorite).Methods(http.MethodDelete)
	api.HandleFunc("/settings/unit", h.GetUnit).Methods(http.MethodGet)
	api.HandleFunc("/settings/unit", h.SetUnit).Methods(http.MethodPut)
	api.HandleFunc("/settings/unit/toggle", h.ToggleUnit).Methods(http.MethodPost)

	authRoutes := r.PathPrefix("/auth").Subrouter()
	authRoutes.HandleFunc("/login", h.Login).Methods(http.MethodGet)
	authRoutes.HandleFunc("/callback", h.Callback).Methods(http.MethodGet)
	authRoutes.HandleFunc("/logout", h.Logout).Methods(http.MethodGet)
	authRoutes.HandleFunc("/profile", h.Profile).Methods(http.MethodGet)

	return r
}
