package credentials

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"example.com/healthsync/internal/domain"
)

// OAuthSettings carries the client registration for the provider.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

func (s OAuthSettings) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURL:  s.RedirectURI,
		Scopes:       s.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  s.AuthURL,
			TokenURL: s.TokenURL,
		},
	}
}

// stateTTL bounds how long a pending authorization may sit between redirect
// and callback.
const stateTTL = 10 * time.Minute

// Authorizer drives the authorization-code grant: it issues provider redirect
// URLs with an opaque state token and exchanges callback codes for
// credentials. State is verified on callback to tie it to the originating
// owner and reject forged callbacks.
type Authorizer struct {
	cfg   *oauth2.Config
	store *Store

	mu      sync.Mutex
	pending map[string]pendingAuth
	now     func() time.Time
}

type pendingAuth struct {
	ownerID   string
	createdAt time.Time
}

// NewAuthorizer constructs an Authorizer writing completed grants to store.
func NewAuthorizer(settings OAuthSettings, store *Store) *Authorizer {
	return &Authorizer{
		cfg:     settings.config(),
		store:   store,
		pending: make(map[string]pendingAuth),
		now:     time.Now,
	}
}

// BeginAuthorization returns the provider consent URL for the owner. The
// embedded state token is single-use.
func (a *Authorizer) BeginAuthorization(ownerID string) (string, error) {
	if ownerID == "" {
		return "", &domain.ValidationError{Field: "ownerId"}
	}

	state := uuid.NewString()
	a.mu.Lock()
	a.prune()
	a.pending[state] = pendingAuth{ownerID: ownerID, createdAt: a.now()}
	a.mu.Unlock()

	return a.cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// CompleteAuthorization validates the callback state, exchanges the code, and
// persists the resulting credential for the owner bound to that state.
func (a *Authorizer) CompleteAuthorization(ctx context.Context, state, code string) (domain.Credential, error) {
	if code == "" {
		return domain.Credential{}, &domain.ValidationError{Field: "code"}
	}

	a.mu.Lock()
	pend, ok := a.pending[state]
	if ok {
		delete(a.pending, state)
	}
	a.mu.Unlock()
	if !ok || a.now().Sub(pend.createdAt) > stateTTL {
		return domain.Credential{}, &domain.ValidationError{Field: "state"}
	}

	tok, err := a.cfg.Exchange(ctx, code)
	if err != nil {
		return domain.Credential{}, classifyTokenError(err)
	}

	accountID, _ := tok.Extra("provider_account_id").(string)
	cred := domain.Credential{
		OwnerID:           pend.ownerID,
		AccessToken:       tok.AccessToken,
		RefreshToken:      tok.RefreshToken,
		ExpiresAt:         tok.Expiry.UTC(),
		Scopes:            a.cfg.Scopes,
		ProviderAccountID: accountID,
		State:             domain.CredentialAuthorized,
	}
	if err := a.store.Save(ctx, cred); err != nil {
		return domain.Credential{}, err
	}
	return cred, nil
}

// prune drops stale pending states. Callers hold a.mu.
func (a *Authorizer) prune() {
	cutoff := a.now().Add(-stateTTL)
	for state, pend := range a.pending {
		if pend.createdAt.Before(cutoff) {
			delete(a.pending, state)
		}
	}
}

// OAuthRefresher performs the refresh-token grant against the provider.
type OAuthRefresher struct {
	cfg *oauth2.Config
}

// NewOAuthRefresher constructs an OAuthRefresher.
func NewOAuthRefresher(settings OAuthSettings) *OAuthRefresher {
	return &OAuthRefresher{cfg: settings.config()}
}

// Refresh exchanges the stored refresh token for a new access token. A
// provider rejection of the refresh token maps to ReauthRequired; transport
// failures map to transient NetworkError so the store can retry.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error) {
	if cred.RefreshToken == "" {
		return domain.Credential{}, &domain.AuthError{Reason: domain.AuthReauthRequired}
	}

	src := r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return domain.Credential{}, classifyTokenError(err)
	}

	refreshed := cred
	refreshed.AccessToken = tok.AccessToken
	refreshed.ExpiresAt = tok.Expiry.UTC()
	// Providers may rotate the refresh token; keep the old one otherwise.
	if tok.RefreshToken != "" {
		refreshed.RefreshToken = tok.RefreshToken
	}
	return refreshed, nil
}

func classifyTokenError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch {
		case retrieveErr.ErrorCode == "invalid_grant",
			retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusBadRequest,
			retrieveErr.Response != nil && retrieveErr.Response.StatusCode == http.StatusUnauthorized:
			return &domain.AuthError{Reason: domain.AuthReauthRequired, Err: err}
		}
		return &domain.NetworkError{Transient: retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= 500, Err: err}
	}
	return &domain.NetworkError{Transient: true, Err: err}
}
