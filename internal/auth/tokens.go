// Package auth implements the OAuth2 authorization-code and refresh flows
// against the Netatmo cloud, along with the in-memory token state they share.
package auth

import (
	"sync"
	"time"
)

// TokenStore holds the current bearer token, its expiry and the refresh
// token. It is a pure state holder: all I/O (token exchange, persistence)
// lives in the FlowController.
type TokenStore struct {
	mu           sync.Mutex
	accessToken  string
	expiry       time.Time
	refreshToken string
}

// NewTokenStore creates an empty token store
func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

// NeedsAuth reports whether authentication is required. It is true exactly
// when no access token is held.
func (t *TokenStore) NeedsAuth() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accessToken == ""
}

// Current returns the held access token. The second return value is false
// when no token is held.
func (t *TokenStore) Current() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.accessToken == "" {
		return "", false
	}
	return t.accessToken, true
}

// Invalidate discards the access token and its expiry together, so a cleared
// token can never carry a stale expiry that would suppress re-authentication.
// The refresh token is kept.
func (t *TokenStore) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accessToken = ""
	t.expiry = time.Time{}
}

// SetTokens installs a freshly issued token set
func (t *TokenStore) SetTokens(access string, expiry time.Time, refresh string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accessToken = access
	t.expiry = expiry
	t.refreshToken = refresh
}

// SetRefreshToken installs a refresh token without an access token, as when
// restoring a persisted session after restart. NeedsAuth stays true until the
// next refresh succeeds.
func (t *TokenStore) SetRefreshToken(refresh string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshToken = refresh
}

// RefreshToken returns the held refresh token. The second return value is
// false when no refresh token is held.
func (t *TokenStore) RefreshToken() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refreshToken == "" {
		return "", false
	}
	return t.refreshToken, true
}

// Expiry returns the expiry of the held access token (zero when none is held)
func (t *TokenStore) Expiry() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.expiry
}
