// Package api exposes the scan engine and the diagnostic tool runner
// over HTTP: start a scan, poll it, cancel it, or follow its progress
// events over a websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/d1childress/neo/pkg/config"
	"github.com/d1childress/neo/pkg/logger"
	"github.com/d1childress/neo/pkg/models"
	"github.com/d1childress/neo/pkg/runner"
	"github.com/d1childress/neo/pkg/scan"
	"github.com/d1childress/neo/pkg/scanner"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	shutdownTimeout  = 10 * time.Second
	toolBatchWorkers = 4
)

var errTooManySessions = errors.New("too many active scans")

type Server struct {
	listenAddr  string
	defaults    models.ScanOptions
	maxSessions int
	logger      logger.Logger
	router      *mux.Router
	runner      *runner.Runner
	upgrader    websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session

	// newScanner is a seam for tests to substitute a stub prober.
	newScanner func(models.ScanTarget, models.ScanOptions) *scanner.PortScanner

	httpServer *http.Server
}

func NewServer(cfg *config.ScanServiceConfig, log logger.Logger) *Server {
	s := &Server{
		listenAddr:  cfg.ListenAddr,
		defaults:    cfg.ScanDefaults(),
		maxSessions: cfg.MaxSessions,
		logger:      log,
		router:      mux.NewRouter(),
		runner:      runner.New(toolBatchWorkers, log),
		sessions:    make(map[string]*session),
	}

	s.newScanner = func(target models.ScanTarget, opts models.ScanOptions) *scanner.PortScanner {
		return scanner.New(target, opts, log)
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/scans", s.createScan).Methods("POST")
	s.router.HandleFunc("/api/scans", s.listScans).Methods("GET")
	s.router.HandleFunc("/api/scans/{id}", s.getScan).Methods("GET")
	s.router.HandleFunc("/api/scans/{id}/cancel", s.cancelScan).Methods("POST")
	s.router.HandleFunc("/api/scans/{id}/events", s.scanEvents).Methods("GET")
	s.router.HandleFunc("/api/tools/{name}", s.runTool).Methods("GET")
}

// Router exposes the handler for embedding and tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until the context ends or the listener
// fails. Implements lifecycle.Service.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.listenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info().Str("addr", s.listenAddr).Msg("API server listening")

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return fmt.Errorf("API server failed: %w", err)
	}
}

// Stop cancels every active scan and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	for _, sess := range s.sessions {
		sess.scanner.Cancel()
	}
	s.mu.RUnlock()

	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) createScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	target := models.ScanTarget{
		Host:      req.Host,
		StartPort: req.StartPort,
		EndPort:   req.EndPort,
		Verbose:   req.Verbose,
	}

	if req.Ports != "" {
		ports, err := scan.ParsePortSpec(req.Ports)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}

		target.Ports = ports
	}

	opts := s.defaults
	if req.Concurrency > 0 {
		opts.Concurrency = req.Concurrency
	}

	if d := time.Duration(req.Timeout); d > 0 {
		opts.Timeout = d
	}

	if req.RatePerSecond > 0 {
		opts.RatePerSecond = req.RatePerSecond
	}

	sess, err := s.startSession(target, opts)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, errTooManySessions) {
			status = http.StatusTooManyRequests
		}

		s.writeError(w, status, err)

		return
	}

	s.writeJSON(w, http.StatusCreated, sess.status())
}

func (s *Server) startSession(target models.ScanTarget, opts models.ScanOptions) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.sessions) >= s.maxSessions && !s.evictLocked() {
		return nil, errTooManySessions
	}

	sc := s.newScanner(target, opts)

	// The scan outlives the HTTP request; cancellation comes through the
	// cancel endpoint or server shutdown, not a request context.
	progress, err := sc.Start(context.Background())
	if err != nil {
		return nil, err
	}

	sess := newSession(uuid.New().String(), target, sc)
	s.sessions[sess.id] = sess

	go sess.pump(progress)

	s.logger.Info().
		Str("scan_id", sess.id).
		Str("host", target.Host).
		Int("concurrency", opts.Concurrency).
		Msg("scan started")

	return sess, nil
}

// evictLocked drops the oldest finished session to make room. Callers
// hold s.mu.
func (s *Server) evictLocked() bool {
	var oldest *session

	for _, sess := range s.sessions {
		if !sess.terminal() {
			continue
		}

		if oldest == nil || sess.createdAt.Before(oldest.createdAt) {
			oldest = sess
		}
	}

	if oldest == nil {
		return false
	}

	delete(s.sessions, oldest.id)

	return true
}

func (s *Server) listScans(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()

	statuses := make([]ScanStatus, 0, len(s.sessions))
	for _, sess := range s.sessions {
		statuses = append(statuses, sess.status())
	}

	s.mu.RUnlock()

	s.writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) getScan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("scan not found"))
		return
	}

	s.writeJSON(w, http.StatusOK, sess.status())
}

func (s *Server) cancelScan(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("scan not found"))
		return
	}

	sess.scanner.Cancel()

	s.writeJSON(w, http.StatusAccepted, sess.status())
}

// scanEvents upgrades to a websocket and pushes progress snapshots until
// the scan finishes. A subscriber joining a finished scan gets the final
// status and an immediate close.
func (s *Server) scanEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(mux.Vars(r)["id"])
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("scan not found"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	defer func() {
		if cerr := conn.Close(); cerr != nil {
			s.logger.Debug().Err(cerr).Msg("failed to close websocket")
		}
	}()

	sub, live := sess.subscribe()
	if live {
		defer sess.unsubscribe(sub)

		for p := range sub {
			if err := conn.WriteJSON(p); err != nil {
				return
			}
		}
	}

	// Scan is over: deliver the terminal status so late or slow
	// subscribers always see the report.
	if err := conn.WriteJSON(sess.status()); err != nil {
		return
	}

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished"))
}

// runTool executes one allowlisted diagnostic tool and streams its
// combined output verbatim as chunked plain text.
func (s *Server) runTool(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	target := r.URL.Query().Get("target")

	if name != "netstat" && target == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("missing target parameter"))
		return
	}

	cmd, err := runner.Tool(name, target)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	out, err := s.runner.Run(r.Context(), []runner.Command{cmd})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	for ev := range out {
		if ev.Done {
			if ev.Err != nil {
				fmt.Fprintf(w, "command failed: %v\n", ev.Err)
			}

			break
		}

		fmt.Fprintln(w, ev.Line)

		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) lookup(id string) (*session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]

	return sess, ok
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
