package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/tim-hellhake/netatmo-weather-adapter/pkg/config"
	"go.uber.org/zap"
)

// memStore is an in-memory config.Store for tests
type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Load() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := make(map[string]string, len(m.data))
	for k, v := range m.data {
		cfg[k] = v
	}
	return cfg, nil
}

func (m *memStore) Save(partial map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range partial {
		m.data[k] = v
	}
	return nil
}

func (m *memStore) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStore) Close() error { return nil }

func newTestFlow(t *testing.T, store config.Store) (*FlowController, *TokenStore) {
	t.Helper()
	tokens := NewTokenStore()
	flow := NewFlowController(context.Background(), "client-1", "secret-1", tokens, store, zap.NewNop().Sugar())
	t.Cleanup(flow.Close)
	return flow, tokens
}

// tokenServer fakes the cloud token endpoint. Each request's form values are
// recorded for inspection.
func tokenServer(t *testing.T, status int, body string) (*httptest.Server, *[]url.Values) {
	t.Helper()
	var requests []url.Values
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		mu.Lock()
		requests = append(requests, r.PostForm)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

const tokenResponse = `{"access_token":"at-1","refresh_token":"rt-1","expires_in":3600,"token_type":"bearer"}`

func TestBeginBuildsAuthorizeURL(t *testing.T) {
	flow, _ := newTestFlow(t, newMemStore())

	pending, err := flow.Begin([]string{"read_station", "read_homecoach"}, "http://localhost:8888/callback/abc")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	parsed, err := url.Parse(pending.AuthorizeURL)
	if err != nil {
		t.Fatalf("authorize URL does not parse: %v", err)
	}
	query := parsed.Query()

	if query.Get("client_id") != "client-1" {
		t.Errorf("client_id = %q", query.Get("client_id"))
	}
	if query.Get("redirect_uri") != "http://localhost:8888/callback/abc" {
		t.Errorf("redirect_uri = %q", query.Get("redirect_uri"))
	}
	if query.Get("scope") != "read_station read_homecoach" {
		t.Errorf("scope = %q", query.Get("scope"))
	}
	if query.Get("state") == "" {
		t.Error("authorize URL carries no state nonce")
	}
	if query.Get("state") != pending.state {
		t.Error("authorize URL state differs from the pending nonce")
	}
}

func TestBeginIssuesUnpredictableNonces(t *testing.T) {
	flow, _ := newTestFlow(t, newMemStore())

	first, err := flow.Begin(nil, "http://localhost/cb")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	second, err := flow.Begin(nil, "http://localhost/cb")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if first.state == second.state {
		t.Error("two attempts issued the same nonce")
	}
}

func TestCompleteRedirectValidation(t *testing.T) {
	tests := []struct {
		name       string
		redirected func(state string) string
		reason     FlowReason
	}{
		{
			name:       "missing state",
			redirected: func(string) string { return "code=abc" },
			reason:     ReasonMissingState,
		},
		{
			name:       "state mismatch",
			redirected: func(string) string { return "state=forged&code=abc" },
			reason:     ReasonStateMismatch,
		},
		{
			name:       "missing code",
			redirected: func(state string) string { return "state=" + state },
			reason:     ReasonMissingCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow, tokens := newTestFlow(t, newMemStore())
			pending, err := flow.Begin(nil, "http://localhost/cb")
			if err != nil {
				t.Fatalf("Begin: %v", err)
			}

			err = flow.Complete(context.Background(), pending, tt.redirected(pending.state))

			var flowErr *FlowError
			if !errors.As(err, &flowErr) {
				t.Fatalf("Complete returned %v, expected *FlowError", err)
			}
			if flowErr.Reason != tt.reason {
				t.Errorf("reason = %q, expected %q", flowErr.Reason, tt.reason)
			}
			if !tokens.NeedsAuth() {
				t.Error("failed attempt must leave the token store unauthenticated")
			}
		})
	}
}

func TestCompleteExchangeFailure(t *testing.T) {
	server, _ := tokenServer(t, http.StatusBadRequest, `{"error":"invalid_grant"}`)

	flow, tokens := newTestFlow(t, newMemStore())
	flow.TokenURL = server.URL

	pending, err := flow.Begin(nil, "http://localhost/cb")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	err = flow.Complete(context.Background(), pending, "state="+pending.state+"&code=abc")

	var flowErr *FlowError
	if !errors.As(err, &flowErr) {
		t.Fatalf("Complete returned %v, expected *FlowError", err)
	}
	if flowErr.Reason != ReasonExchangeFailed {
		t.Errorf("reason = %q, expected %q", flowErr.Reason, ReasonExchangeFailed)
	}
	if !tokens.NeedsAuth() {
		t.Error("failed exchange must leave the token store unauthenticated")
	}
}

func TestCompleteSuccessStoresAndPersistsTokens(t *testing.T) {
	server, requests := tokenServer(t, http.StatusOK, tokenResponse)

	store := newMemStore()
	flow, tokens := newTestFlow(t, store)
	flow.TokenURL = server.URL

	pending, err := flow.Begin([]string{"read_station"}, "http://localhost/cb")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if err := flow.Complete(context.Background(), pending, "state="+pending.state+"&code=code-1"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if token, ok := tokens.Current(); !ok || token != "at-1" {
		t.Errorf("Current = (%q, %v), expected (at-1, true)", token, ok)
	}
	if refresh, ok := tokens.RefreshToken(); !ok || refresh != "rt-1" {
		t.Errorf("RefreshToken = (%q, %v), expected (rt-1, true)", refresh, ok)
	}

	persisted, _ := store.Load()
	if persisted[config.KeyRefreshToken] != "rt-1" {
		t.Errorf("persisted refresh token = %q", persisted[config.KeyRefreshToken])
	}
	if _, err := time.Parse(time.RFC3339, persisted[config.KeyTokenExpiry]); err != nil {
		t.Errorf("persisted expiry %q does not parse: %v", persisted[config.KeyTokenExpiry], err)
	}

	if len(*requests) != 1 {
		t.Fatalf("token endpoint saw %d requests, expected 1", len(*requests))
	}
	form := (*requests)[0]
	if form.Get("grant_type") != "authorization_code" {
		t.Errorf("grant_type = %q", form.Get("grant_type"))
	}
	if form.Get("code") != "code-1" {
		t.Errorf("code = %q", form.Get("code"))
	}
	if form.Get("scope") != "read_station" {
		t.Errorf("scope = %q", form.Get("scope"))
	}
	if form.Get("client_id") != "client-1" || form.Get("client_secret") != "secret-1" {
		t.Error("client credentials missing from the token request body")
	}
}

func TestRefreshWithoutRefreshTokenIsSilent(t *testing.T) {
	flow, tokens := newTestFlow(t, newMemStore())

	if err := flow.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh without token returned %v, expected nil", err)
	}
	if !tokens.NeedsAuth() {
		t.Error("store should still need auth")
	}
}

func TestRefreshFailureLeavesTokenCleared(t *testing.T) {
	server, _ := tokenServer(t, http.StatusInternalServerError, `{"error":"server_error"}`)

	flow, tokens := newTestFlow(t, newMemStore())
	flow.TokenURL = server.URL
	tokens.SetTokens("at-old", time.Now().Add(time.Hour), "rt-old")

	if err := flow.Refresh(context.Background()); err == nil {
		t.Fatal("Refresh against a failing endpoint should return an error")
	}
	if !tokens.NeedsAuth() {
		t.Error("failed refresh must leave NeedsAuth true")
	}
}

func TestRefreshSuccessRotatesTokens(t *testing.T) {
	server, requests := tokenServer(t, http.StatusOK, tokenResponse)

	store := newMemStore()
	flow, tokens := newTestFlow(t, store)
	flow.TokenURL = server.URL
	tokens.SetTokens("at-old", time.Now().Add(time.Hour), "rt-old")

	if err := flow.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if token, ok := tokens.Current(); !ok || token != "at-1" {
		t.Errorf("Current = (%q, %v), expected (at-1, true)", token, ok)
	}
	persisted, _ := store.Load()
	if persisted[config.KeyRefreshToken] != "rt-1" {
		t.Errorf("persisted refresh token = %q, expected rt-1", persisted[config.KeyRefreshToken])
	}

	form := (*requests)[0]
	if form.Get("grant_type") != "refresh_token" {
		t.Errorf("grant_type = %q", form.Get("grant_type"))
	}
	if form.Get("refresh_token") != "rt-old" {
		t.Errorf("refresh_token = %q", form.Get("refresh_token"))
	}
}

func TestRestoreSchedulesImmediateRefreshForStaleExpiry(t *testing.T) {
	server, requests := tokenServer(t, http.StatusOK, tokenResponse)

	store := newMemStore()
	store.Save(map[string]string{
		config.KeyRefreshToken: "rt-persisted",
		config.KeyTokenExpiry:  time.Now().Add(-time.Hour).Format(time.RFC3339),
	})

	flow, tokens := newTestFlow(t, store)
	flow.TokenURL = server.URL

	if err := flow.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for tokens.NeedsAuth() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if tokens.NeedsAuth() {
		t.Fatal("restored session did not refresh within the deadline")
	}
	if len(*requests) == 0 {
		t.Fatal("token endpoint saw no refresh request")
	}
	if (*requests)[0].Get("refresh_token") != "rt-persisted" {
		t.Errorf("refresh used token %q, expected rt-persisted", (*requests)[0].Get("refresh_token"))
	}
}

func TestRestoreWithoutPersistedSession(t *testing.T) {
	flow, tokens := newTestFlow(t, newMemStore())

	if err := flow.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, ok := tokens.RefreshToken(); ok {
		t.Error("nothing should be restored from an empty store")
	}
}
