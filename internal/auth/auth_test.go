package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newFakeIssuer(t *testing.T, withEndSession bool) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			doc := map[string]interface{}{
				"issuer":                                srv.URL,
				"authorization_endpoint":                srv.URL + "/authorize",
				"token_endpoint":                        srv.URL + "/oauth/token",
				"jwks_uri":                              srv.URL + "/.well-known/jwks.json",
				"id_token_signing_alg_values_supported": []string{"RS256"},
			}
			if withEndSession {
				doc["end_session_endpoint"] = srv.URL + "/oidc/logout"
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(doc)
		case "/oauth/token":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"at","token_type":"Bearer","expires_in":3600}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(issuer string) Config {
	return Config{
		Enabled:      true,
		IssuerURL:    issuer,
		ClientID:     "client-123",
		ClientSecret: "secret",
		RedirectURL:  "http://127.0.0.1:8787/auth/callback",
		ReturnTo:     "http://127.0.0.1:8787/",
	}
}

func TestNew_Disabled(t *testing.T) {
	if _, err := New(context.Background(), Config{}); !errors.Is(err, ErrDisabled) {
		t.Errorf("New(disabled) error = %v, want ErrDisabled", err)
	}
}

func TestNew_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	if _, err := New(context.Background(), testConfig(srv.URL)); err == nil {
		t.Error("New() error = nil, want discovery failure")
	}
}

func TestAuthCodeURL_PinsConnection(t *testing.T) {
	issuer := newFakeIssuer(t, false)
	a, err := New(context.Background(), testConfig(issuer.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	u, err := url.Parse(a.AuthCodeURL("state-xyz"))
	if err != nil {
		t.Fatal(err)
	}
	q := u.Query()
	if u.Path != "/authorize" {
		t.Errorf("path = %s", u.Path)
	}
	if q.Get("connection") != DefaultConnection {
		t.Errorf("connection = %q, want %q", q.Get("connection"), DefaultConnection)
	}
	if q.Get("state") != "state-xyz" || q.Get("client_id") != "client-123" {
		t.Errorf("query = %s", u.RawQuery)
	}
	if q.Get("scope") != "openid profile email" {
		t.Errorf("scope = %q", q.Get("scope"))
	}
}

func TestLogoutURL(t *testing.T) {
	tests := []struct {
		name           string
		withEndSession bool
		wantPath       string
	}{
		{"discovered end session endpoint", true, "/oidc/logout"},
		{"fallback logout path", false, "/v2/logout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issuer := newFakeIssuer(t, tt.withEndSession)
			a, err := New(context.Background(), testConfig(issuer.URL))
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			u, _ := url.Parse(a.LogoutURL())
			if u.Path != tt.wantPath {
				t.Errorf("path = %s, want %s", u.Path, tt.wantPath)
			}
			if u.Query().Get("returnTo") != "http://127.0.0.1:8787/" || u.Query().Get("client_id") != "client-123" {
				t.Errorf("query = %s", u.RawQuery)
			}
		})
	}
}

func TestExchange_MissingIDToken(t *testing.T) {
	issuer := newFakeIssuer(t, false)
	a, err := New(context.Background(), testConfig(issuer.URL))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := a.Exchange(context.Background(), "code"); !errors.Is(err, ErrNoIDToken) {
		t.Errorf("Exchange() error = %v, want ErrNoIDToken", err)
	}
}

func TestNewState_Unique(t *testing.T) {
	a, b := NewState(), NewState()
	if a == "" || a == b {
		t.Errorf("NewState() = %q, %q", a, b)
	}
}

func TestSessions(t *testing.T) {
	s := NewSessions(time.Hour)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	id := s.Create(Profile{Subject: "u1", Name: "Ada", Email: "ada@example.com"})
	if p, ok := s.Get(id); !ok || p.Name != "Ada" {
		t.Errorf("Get() = %+v, %v", p, ok)
	}

	now = now.Add(2 * time.Hour)
	if _, ok := s.Get(id); ok {
		t.Error("expired session still valid")
	}

	id = s.Create(Profile{Subject: "u2"})
	s.Delete(id)
	if _, ok := s.Get(id); ok {
		t.Error("deleted session still valid")
	}
}
