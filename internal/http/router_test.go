package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestNewRouter_Routes(t *testing.T) {
	env := newTestEnv(t, newMockClient(), nil, Options{})

	tests := []struct {
		method   string
		path     string
		template string
	}{
		{http.MethodGet, "/health", "/health"},
		{http.MethodGet, "/metrics", "/metrics"},
		{http.MethodGet, "/api/cities?q=lo", "/api/cities"},
		{http.MethodGet, "/api/cities/defaults", "/api/cities/defaults"},
		{http.MethodGet, "/api/dashboard", "/api/dashboard"},
		{http.MethodGet, "/api/weather/51.5074--0.1278", "/api/weather/{cityId}"},
		{http.MethodGet, "/api/weather/51.5074--0.1278/charts", "/api/weather/{cityId}/charts"},
		{http.MethodGet, "/api/favorites", "/api/favorites"},
		{http.MethodPost, "/api/favorites", "/api/favorites"},
		{http.MethodDelete, "/api/favorites/51.5074--0.1278", "/api/favorites/{cityId}"},
		{http.MethodGet, "/api/settings/unit", "/api/settings/unit"},
		{http.MethodPut, "/api/settings/unit", "/api/settings/unit"},
		{http.MethodPost, "/api/settings/unit/toggle", "/api/settings/unit/toggle"},
		{http.MethodGet, "/auth/login", "/auth/login"},
		{http.MethodGet, "/auth/callback", "/auth/callback"},
		{http.MethodGet, "/auth/logout", "/auth/logout"},
		{http.MethodGet, "/auth/profile", "/auth/profile"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var match mux.RouteMatch
			if !env.router.Match(httptest.NewRequest(tt.method, tt.path, nil), &match) || match.MatchErr != nil {
				t.Fatalf("no route (err = %v)", match.MatchErr)
			}
			got, err := match.Route.GetPathTemplate()
			if err != nil {
				t.Fatalf("GetPathTemplate() error = %v", err)
			}
			if got != tt.template {
				t.Errorf("template = %q, want %q", got, tt.template)
			}
		})
	}
}

func TestNewRouter_MethodMismatch(t *testing.T) {
	env := newTestEnv(t, newMockClient(), nil, Options{})

	var match mux.RouteMatch
	env.router.Match(httptest.NewRequest(http.MethodPatch, "/api/favorites", nil), &match)
	if !errors.Is(match.MatchErr, mux.ErrMethodMismatch) {
		t.Errorf("MatchErr = %v, want ErrMethodMismatch", match.MatchErr)
	}
}
