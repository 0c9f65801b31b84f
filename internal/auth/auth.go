// Package auth wraps the OIDC identity provider: login redirect restricted to
// one federated connection, code exchange with ID token verification, and the
// provider logout URL.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

// DefaultConnection is the federated connection used when none is configured.
const DefaultConnection = "google-oauth2"

var (
	// ErrDisabled is returned when identity is not configured.
	ErrDisabled = errors.New("identity provider disabled")
	// ErrNoIDToken is returned when the token response lacks an id_token.
	ErrNoIDToken = errors.New("no id_token in token response")
)

// Config holds the identity provider settings.
type Config struct {
	Enabled      bool
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Connection   string
	ReturnTo     string
}

// Profile is the subset of ID token claims exposed to the UI.
type Profile struct {
	Subject string `json:"sub"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture string `json:"picture"`
}

// Authenticator performs the authorization-code flow against one issuer.
type Authenticator struct {
	oauth      oauth2.Config
	verifier   *oidc.IDTokenVerifier
	connection string
	returnTo   string
	endSession string
}

// New discovers the issuer's configuration and returns an Authenticator.
func New(ctx context.Context, cfg Config) (*Authenticator, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("discover issuer %s: %w", cfg.IssuerURL, err)
	}

	var meta struct {
		EndSession string `json:"end_session_endpoint"`
	}
	_ = provider.Claims(&meta)
	if meta.EndSession == "" {
		meta.EndSession = strings.TrimRight(cfg.IssuerURL, "/") + "/v2/logout"
	}

	connection := cfg.Connection
	if connection == "" {
		connection = DefaultConnection
	}

	return &Authenticator{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		connection: connection,
		returnTo:   cfg.ReturnTo,
		endSession: meta.EndSession,
	}, nil
}

// AuthCodeURL returns the provider login URL for state, pinned to the
// configured connection.
func (a *Authenticator) AuthCodeURL(state string) string {
	return a.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("connection", a.connection))
}

// Exchange trades an authorization code for a verified profile.
func (a *Authenticator) Exchange(ctx context.Context, code string) (Profile, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return Profile{}, fmt.Errorf("exchange code: %w", err)
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return Profile{}, ErrNoIDToken
	}
	idToken, err := a.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return Profile{}, fmt.Errorf("verify id_token: %w", err)
	}

	var p Profile
	if err := idToken.Claims(&p); err != nil {
		return Profile{}, fmt.Errorf("parse claims: %w", err)
	}
	if p.Subject == "" {
		p.Subject = idToken.Subject
	}
	return p, nil
}

// LogoutURL returns the provider logout endpoint carrying the return URL.
func (a *Authenticator) LogoutURL() string {
	u, err := url.Parse(a.endSession)
	if err != nil {
		return a.endSession
	}
	q := u.Query()
	q.Set("client_id", a.oauth.ClientID)
	if a.returnTo != "" {
		q.Set("returnTo", a.returnTo)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// NewState returns a random value for the OAuth state parameter.
func NewState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
