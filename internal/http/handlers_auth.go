package http

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/auth"
	"github.com/kjstillabower/weather-dashboard/internal/observability"
)

const (
	sessionCookie = "wd_session"
	stateCookie   = "wd_oauth_state"
	stateTTL      = 10 * time.Minute
)

// Login handles GET /auth/login: stores a state cookie and redirects to the
// identity provider.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		writeError(w, r, http.StatusNotFound, "AUTH_DISABLED", "sign-in is not configured")
		return
	}
	state := auth.NewState()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.auth.AuthCodeURL(state), http.StatusFound)
}

// Callback handles GET /auth/callback from the identity provider.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		writeError(w, r, http.StatusNotFound, "AUTH_DISABLED", "sign-in is not configured")
		return
	}
	logger := observability.LoggerFromContext(r.Context())

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || c.Value != r.URL.Query().Get("state") {
		writeError(w, r, http.StatusBadRequest, "INVALID_STATE", "state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth", MaxAge: -1})

	if e := r.URL.Query().Get("error"); e != "" {
		logger.Warn("identity provider returned error", zap.String("error", e), zap.String("description", r.URL.Query().Get("error_description")))
		writeError(w, r, http.StatusUnauthorized, "LOGIN_FAILED", e)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, r, http.StatusBadRequest, "MISSING_CODE", "authorization code missing")
		return
	}

	profile, err := h.auth.Exchange(r.Context(), code)
	if err != nil {
		logger.Warn("code exchange failed", zap.Error(err))
		writeError(w, r, http.StatusUnauthorized, "LOGIN_FAILED", "could not verify identity")
		return
	}
	id := h.sessions.Create(profile)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(auth.DefaultSessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	logger.Info("user signed in", zap.String("sub", profile.Subject))
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout handles GET /auth/logout: ends the local session and redirects to
// the provider's logout endpoint.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookie); err == nil {
		h.sessions.Delete(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Path: "/", MaxAge: -1})
	if h.auth == nil {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	http.Redirect(w, r, h.auth.LogoutURL(), http.StatusFound)
}

type profileResponse struct {
	Enabled       bool          `json:"enabled"`
	Authenticated bool          `json:"authenticated"`
	Profile       *auth.Profile `json:"profile,omitempty"`
}

// Profile handles GET /auth/profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil {
		writeJSON(w, http.StatusOK, profileResponse{})
		return
	}
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, profileResponse{Enabled: true})
		return
	}
	p, ok := h.sessions.Get(c.Value)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, profileResponse{Enabled: true})
		return
	}
	writeJSON(w, http.StatusOK, profileResponse{Enabled: true, Authenticated: true, Profile: &p})
}
