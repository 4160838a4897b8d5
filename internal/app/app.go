// Package app wires the adapter together: config store, token state, OAuth
// flow, callback server, API client, registry, synchronization engine and
// polling scheduler.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/auth"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/callback"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/devices"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/log"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/netatmo"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/pairing"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/poll"
	"github.com/tim-hellhake/netatmo-weather-adapter/internal/syncer"
	"github.com/tim-hellhake/netatmo-weather-adapter/pkg/config"
	"go.uber.org/zap"
)

// Extra config keys consumed by the app layer
const (
	// KeyCallbackBaseURL overrides the externally reachable base URL of the
	// callback server (defaults to http://<listen-addr>)
	KeyCallbackBaseURL = "callback_base_url"
)

// restoredSessionWait bounds how long startup waits for a restored session's
// scheduled refresh before falling back to interactive pairing
const restoredSessionWait = 10 * time.Second

// App represents the adapter daemon
type App struct {
	store      config.Store
	listenAddr string
	logger     *zap.SugaredLogger
}

// New creates a new application instance
func New(store config.Store, listenAddr string, logger *zap.SugaredLogger) *App {
	return &App{
		store:      store,
		listenAddr: listenAddr,
		logger:     logger,
	}
}

// Run starts the adapter and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := a.store.Load()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}

	clientID := cfg[config.KeyClientID]
	clientSecret := cfg[config.KeyClientSecret]
	if clientID == "" || clientSecret == "" {
		return fmt.Errorf("client_id and client_secret must be configured")
	}

	tokens := auth.NewTokenStore()
	flow := auth.NewFlowController(ctx, clientID, clientSecret, tokens, a.store, a.logger)
	defer flow.Close()

	client, err := netatmo.NewClient("", tokens, a.logger)
	if err != nil {
		return fmt.Errorf("error creating API client: %w", err)
	}

	registry := devices.NewMemoryRegistry(a.logger)
	scheduler := poll.NewScheduler(ctx, &wg, registry, client, 0, a.logger)
	engine := syncer.New(registry, scheduler, a.logger)
	scheduler.SetReconciler(engine)

	callbackServer := callback.NewServer(ctx, &wg, a.listenAddr, a.logger)
	callbackServer.Start()

	if err := flow.Restore(); err != nil {
		a.logger.Warnf("Failed to restore persisted session: %v", err)
	}

	prompter := pairing.NewConsolePrompter(a.logger)
	baseURL := cfg[KeyCallbackBaseURL]
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s", a.listenAddr)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.startSession(ctx, flow, tokens, client, engine, callbackServer, prompter, baseURL); err != nil {
			a.logger.Errorf("Failed to establish session: %v", err)
		}
	}()

	log.Info("Adapter started successfully")

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()
	log.Info("shutdown complete")

	return nil
}

// startSession authenticates (restored session first, interactive pairing as
// fallback) and runs the initial device discovery
func (a *App) startSession(ctx context.Context, flow *auth.FlowController, tokens *auth.TokenStore, client *netatmo.Client, engine *syncer.Engine, callbackServer *callback.Server, prompter pairing.Prompter, baseURL string) error {
	if _, restored := tokens.RefreshToken(); restored {
		a.waitForRefresh(ctx, tokens)
	}

	if tokens.NeedsAuth() {
		if err := a.pair(ctx, flow, callbackServer, prompter, baseURL); err != nil {
			return err
		}
	}

	a.initialSync(ctx, client, engine)
	return nil
}

// waitForRefresh gives a restored session's scheduled refresh a bounded
// window to produce an access token before pairing is offered instead
func (a *App) waitForRefresh(ctx context.Context, tokens *auth.TokenStore) {
	deadline := time.Now().Add(restoredSessionWait)
	for time.Now().Before(deadline) {
		if !tokens.NeedsAuth() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// pair drives one interactive authorization attempt end to end
func (a *App) pair(ctx context.Context, flow *auth.FlowController, callbackServer *callback.Server, prompter pairing.Prompter, baseURL string) error {
	listenerID := uuid.NewString()
	redirectURI := fmt.Sprintf("%s/callback/%s", baseURL, listenerID)

	scopes := []string{netatmo.ScopeReadStation, netatmo.ScopeReadHealthCoach}
	pending, err := flow.Begin(scopes, redirectURI)
	if err != nil {
		return err
	}

	redirects, cancelWaiter := callbackServer.Register(listenerID)
	defer cancelWaiter()

	prompter.PromptUser("Visit this URL to authorize the adapter", pending.AuthorizeURL)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case redirected := <-redirects:
		return flow.Complete(ctx, pending, redirected)
	}
}

// initialSync populates the registry with both device families. Polling
// takes over from here.
func (a *App) initialSync(ctx context.Context, client *netatmo.Client, engine *syncer.Engine) {
	stations, err := client.GetStations(ctx, "")
	if err != nil {
		a.logger.Errorf("Initial station fetch failed: %v", err)
	} else {
		engine.Reconcile(stations)
	}

	coaches, err := client.GetHealthCoaches(ctx, "")
	if err != nil {
		a.logger.Errorf("Initial health coach fetch failed: %v", err)
	} else {
		engine.Reconcile(coaches)
	}
}
