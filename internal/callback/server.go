// Package callback exposes the adapter's OAuth redirect endpoint: a single
// HTTP path accepting the redirected-URL query string and handing it to
// exactly one pending authorization waiter, matched by listener id.
package callback

import (
	"context"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server is the callback channel HTTP server
type Server struct {
	ctx    context.Context
	wg     *sync.WaitGroup
	server http.Server
	logger *zap.SugaredLogger

	mu      sync.Mutex
	waiters map[string]chan string
}

// NewServer creates a callback server listening on the given address
func NewServer(ctx context.Context, wg *sync.WaitGroup, listenAddr string, logger *zap.SugaredLogger) *Server {
	s := &Server{
		ctx:     ctx,
		wg:      wg,
		logger:  logger,
		waiters: make(map[string]chan string),
	}

	router := mux.NewRouter()
	router.HandleFunc("/callback/{listener}", s.handleCallback).Methods(http.MethodPost)

	s.server.Addr = listenAddr
	s.server.Handler = router
	return s
}

// Handler returns the HTTP handler, for tests that drive the server without
// a listener
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start runs the server until the context is cancelled
func (s *Server) Start() {
	s.logger.Infof("Starting callback server on %s", s.server.Addr)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Errorf("Callback server error: %v", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		s.logger.Info("Shutting down the callback server...")
		s.server.Shutdown(context.Background())
	}()
}

// Register creates a waiter for the given listener id. The returned channel
// receives at most one redirected URL; the cancel function deregisters the
// waiter when the authorization attempt is abandoned.
func (s *Server) Register(listenerID string) (<-chan string, func()) {
	ch := make(chan string, 1)

	s.mu.Lock()
	s.waiters[listenerID] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.waiters, listenerID)
		s.mu.Unlock()
	}
	return ch, cancel
}

// handleCallback delivers the request body to the pending waiter matching
// the listener id. A listener with no pending waiter is a 404; a second
// delivery for the same listener finds no waiter and is rejected the same
// way.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	listenerID := mux.Vars(r)["listener"]

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	ch, ok := s.waiters[listenerID]
	if ok {
		delete(s.waiters, listenerID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.Warnf("Callback for unknown listener [%s]", listenerID)
		http.Error(w, "unknown listener", http.StatusNotFound)
		return
	}

	s.logger.Debugf("Delivering callback to listener [%s]", listenerID)
	ch <- string(body)
	w.WriteHeader(http.StatusOK)
}
