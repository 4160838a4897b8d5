package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tim-hellhake/netatmo-weather-adapter/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Default Netatmo OAuth2 endpoints
const (
	DefaultAuthURL  = "https://api.netatmo.com/oauth2/authorize"
	DefaultTokenURL = "https://api.netatmo.com/oauth2/token"
)

// FlowReason identifies why an authorization attempt was rejected
type FlowReason string

const (
	ReasonMissingState   FlowReason = "redirect is missing the state parameter"
	ReasonStateMismatch  FlowReason = "redirect state does not match the issued nonce"
	ReasonMissingCode    FlowReason = "redirect is missing the code parameter"
	ReasonExchangeFailed FlowReason = "code exchange failed"
)

// FlowError reports a failed authorization attempt. The attempt is over once
// one of these is returned; the token store is left unauthenticated.
type FlowError struct {
	Reason FlowReason
	Err    error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authorization failed: %s", e.Reason)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

// PendingAuthorization is one in-flight authorization attempt: the URL the
// user must visit plus the nonce the redirect has to echo back. It is
// discarded once Complete returns, whether it succeeded or not.
type PendingAuthorization struct {
	AuthorizeURL string
	RedirectURI  string
	Scopes       []string
	state        string
}

// FlowController drives the two-phase authorization-code exchange and the
// silent refresh cycle. New tokens are handed to the token store and the
// refresh token is persisted through the config store so a restart can
// re-authenticate without user interaction.
type FlowController struct {
	ctx    context.Context
	tokens *TokenStore
	store  config.Store
	logger *zap.SugaredLogger

	clientID     string
	clientSecret string

	// AuthURL and TokenURL default to the Netatmo cloud endpoints and are
	// overridable for tests. HTTPClient, when set, is used for all token
	// endpoint calls.
	AuthURL    string
	TokenURL   string
	HTTPClient *http.Client

	mu           sync.Mutex
	refreshTimer *time.Timer
	closed       bool
}

// NewFlowController creates a flow controller bound to the given token store
// and config store
func NewFlowController(ctx context.Context, clientID, clientSecret string, tokens *TokenStore, store config.Store, logger *zap.SugaredLogger) *FlowController {
	return &FlowController{
		ctx:          ctx,
		tokens:       tokens,
		store:        store,
		logger:       logger,
		clientID:     clientID,
		clientSecret: clientSecret,
		AuthURL:      DefaultAuthURL,
		TokenURL:     DefaultTokenURL,
	}
}

// Begin starts a new authorization attempt: it generates an unpredictable
// state nonce and builds the authorize URL the user has to visit. The caller
// presents the URL through the pairing UI and resumes with Complete once the
// redirected URL comes back on the callback channel.
func (c *FlowController) Begin(scopes []string, redirectURI string) (*PendingAuthorization, error) {
	nonce, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state nonce: %w", err)
	}

	state := nonce.String()
	authorizeURL := c.oauthConfig(redirectURI, scopes).AuthCodeURL(state)

	c.logger.Debugf("Authorization started, redirect URI [%s]", redirectURI)

	return &PendingAuthorization{
		AuthorizeURL: authorizeURL,
		RedirectURI:  redirectURI,
		Scopes:       scopes,
		state:        state,
	}, nil
}

// Complete resumes a pending authorization attempt with the redirected URL
// (or its bare query string). It validates the echoed state against the
// issued nonce, exchanges the code for tokens, stores and persists them, and
// schedules the first refresh. Validation and exchange failures are reported
// as *FlowError.
func (c *FlowController) Complete(ctx context.Context, pending *PendingAuthorization, redirectedURL string) error {
	query, err := parseRedirect(redirectedURL)
	if err != nil {
		return &FlowError{Reason: ReasonMissingState, Err: err}
	}

	state := query.Get("state")
	if state == "" {
		return &FlowError{Reason: ReasonMissingState}
	}
	if state != pending.state {
		return &FlowError{Reason: ReasonStateMismatch}
	}

	code := query.Get("code")
	if code == "" {
		return &FlowError{Reason: ReasonMissingCode}
	}

	// Netatmo expects the granted scope to be repeated in the token request
	token, err := c.oauthConfig(pending.RedirectURI, pending.Scopes).Exchange(
		c.httpContext(ctx),
		code,
		oauth2.SetAuthURLParam("scope", strings.Join(pending.Scopes, " ")),
	)
	if err != nil {
		return &FlowError{Reason: ReasonExchangeFailed, Err: err}
	}

	c.logger.Info("Authorization completed, tokens acquired")
	c.storeTokens(token)
	return nil
}

// Refresh exchanges the held refresh token for a fresh token set. With no
// refresh token held it logs and returns nil. The access token is cleared
// before the attempt, so a failed refresh leaves NeedsAuth true; the error is
// returned for the caller to log, nothing is retried automatically.
func (c *FlowController) Refresh(ctx context.Context) error {
	refresh, ok := c.tokens.RefreshToken()
	if !ok {
		c.logger.Warn("No refresh token held, skipping token refresh")
		return nil
	}

	// Clear first: a failed refresh must leave NeedsAuth true
	c.tokens.Invalidate()

	source := c.oauthConfig("", nil).TokenSource(c.httpContext(ctx), &oauth2.Token{RefreshToken: refresh})
	token, err := source.Token()
	if err != nil {
		c.logger.Errorf("Token refresh failed: %v", err)
		return fmt.Errorf("token refresh failed: %w", err)
	}

	c.logger.Debugf("Token refreshed, expires at %s", token.Expiry.Format(time.RFC3339))
	c.storeTokens(token)
	return nil
}

// Restore reloads a persisted refresh token from the config store and, when
// one exists, schedules an immediate-or-deadline refresh from the persisted
// expiry. NeedsAuth stays true until that refresh succeeds.
func (c *FlowController) Restore() error {
	cfg, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load persisted session: %w", err)
	}

	refresh := cfg[config.KeyRefreshToken]
	if refresh == "" {
		c.logger.Debug("No persisted refresh token, pairing required")
		return nil
	}

	c.tokens.SetRefreshToken(refresh)

	expiry := time.Time{}
	if raw := cfg[config.KeyTokenExpiry]; raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.logger.Warnf("Ignoring unparseable persisted token expiry %q: %v", raw, err)
		} else {
			expiry = parsed
		}
	}

	c.logger.Infof("Restored persisted session, scheduling token refresh for %s", expiry.Format(time.RFC3339))
	c.scheduleRefresh(expiry)
	return nil
}

// Close cancels any pending scheduled refresh. The controller must not be
// used afterwards.
func (c *FlowController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
}

// storeTokens installs a token set, persists the refresh token and expiry,
// and schedules the next refresh at the expiry
func (c *FlowController) storeTokens(token *oauth2.Token) {
	c.tokens.SetTokens(token.AccessToken, token.Expiry, token.RefreshToken)

	err := c.store.Save(map[string]string{
		config.KeyRefreshToken: token.RefreshToken,
		config.KeyTokenExpiry:  token.Expiry.Format(time.RFC3339),
	})
	if err != nil {
		c.logger.Errorf("Failed to persist tokens: %v", err)
	}

	c.scheduleRefresh(token.Expiry)
}

// scheduleRefresh arms the refresh timer for the token expiry. An expiry in
// the past (stale persisted config after a restart) fires immediately.
func (c *FlowController) scheduleRefresh(expiry time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
	}

	delay := time.Until(expiry)
	if delay < 0 {
		delay = 0
	}

	c.refreshTimer = time.AfterFunc(delay, func() {
		if c.ctx.Err() != nil {
			return
		}
		if err := c.Refresh(c.ctx); err != nil {
			c.logger.Errorf("Scheduled token refresh failed: %v", err)
		}
	})
}

func (c *FlowController) oauthConfig(redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.clientID,
		ClientSecret: c.clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (c *FlowController) httpContext(ctx context.Context) context.Context {
	if c.HTTPClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	}
	return ctx
}

// parseRedirect accepts either a full redirected URL or just its query string
func parseRedirect(redirected string) (url.Values, error) {
	if idx := strings.Index(redirected, "?"); idx >= 0 {
		redirected = redirected[idx+1:]
	}
	return url.ParseQuery(redirected)
}
