// Package api is the daemon's local control surface: entity state and
// commands, raw rule access, the change journal, and an event stream.
package api

import (
	"bufio"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"grimm.is/boxwatch/internal/brand"
	"grimm.is/boxwatch/internal/coordinator"
	"grimm.is/boxwatch/internal/entity"
	"grimm.is/boxwatch/internal/events"
	"grimm.is/boxwatch/internal/history"
	"grimm.is/boxwatch/internal/logging"
	"grimm.is/boxwatch/internal/metrics"
	"grimm.is/boxwatch/internal/msp"
)

// Coordinator is the slice of the refresh coordinator the API serves.
type Coordinator interface {
	Snapshot() *coordinator.Snapshot
	Status() coordinator.Status
	Refresh(ctx context.Context) error
	PauseRule(ctx context.Context, id string) error
	UnpauseRule(ctx context.Context, id string) error
	CreateRule(ctx context.Context, nr msp.NewRule) (msp.Rule, error)
}

// Journal is the slice of the history store the API serves.
type Journal interface {
	Recent(ruleID string, limit int) ([]history.Entry, error)
}

// Registry is the entity lookup surface.
type Registry interface {
	List() []entity.Entity
	Get(id string) (entity.Entity, bool)
}

// ServerOptions holds dependencies for the API server.
type ServerOptions struct {
	Listen        string
	APIKey        string // empty disables auth (localhost-only default listen)
	EnableMetrics bool
	Coordinator   Coordinator
	Registry      Registry
	Journal       Journal // optional
	Hub           *events.Hub
	Logger        *logging.Logger
}

// Server handles local API requests.
type Server struct {
	listen        string
	apiKeyHash    []byte // sha256 of the configured key, nil when auth is off
	enableMetrics bool
	coord         Coordinator
	registry      Registry
	journal       Journal
	hub           *events.Hub
	logger        *logging.Logger
	reg           *metrics.Registry
	ws            *WSManager
	startTime     time.Time

	mux  *http.ServeMux
	http *http.Server
}

// NewServer creates the API server and registers its routes.
func NewServer(opts ServerOptions) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.WithComponent("api")
	}

	s := &Server{
		listen:        opts.Listen,
		enableMetrics: opts.EnableMetrics,
		coord:         opts.Coordinator,
		registry:      opts.Registry,
		journal:       opts.Journal,
		hub:           opts.Hub,
		logger:        logger,
		reg:           metrics.Get(),
		startTime:     time.Now(),
		mux:           http.NewServeMux(),
	}
	if opts.APIKey != "" {
		hash := sha256.Sum256([]byte(opts.APIKey))
		s.apiKeyHash = hash[:]
	}
	if opts.Hub != nil {
		s.ws = NewWSManager(opts.Hub, logger)
	}

	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	mux := s.mux

	// Public: liveness only.
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.Handle("GET /api/entities", s.require(http.HandlerFunc(s.handleListEntities)))
	mux.Handle("GET /api/entities/{id}", s.require(http.HandlerFunc(s.handleGetEntity)))
	mux.Handle("POST /api/entities/{id}/turn_on", s.require(http.HandlerFunc(s.handleTurnOn)))
	mux.Handle("POST /api/entities/{id}/turn_off", s.require(http.HandlerFunc(s.handleTurnOff)))

	mux.Handle("GET /api/rules", s.require(http.HandlerFunc(s.handleListRules)))
	mux.Handle("POST /api/rules", s.require(http.HandlerFunc(s.handleCreateRule)))
	mux.Handle("GET /api/rules/{id}", s.require(http.HandlerFunc(s.handleGetRule)))
	mux.Handle("POST /api/rules/{id}/pause", s.require(http.HandlerFunc(s.handlePauseRule)))
	mux.Handle("POST /api/rules/{id}/unpause", s.require(http.HandlerFunc(s.handleUnpauseRule)))

	mux.Handle("GET /api/devices", s.require(http.HandlerFunc(s.handleListDevices)))
	mux.Handle("GET /api/changes", s.require(http.HandlerFunc(s.handleChanges)))
	mux.Handle("POST /api/refresh", s.require(http.HandlerFunc(s.handleRefresh)))
	mux.Handle("GET /api/status", s.require(http.HandlerFunc(s.handleStatus)))
	mux.Handle("GET /api/logs", s.require(http.HandlerFunc(s.handleLogs)))

	if s.ws != nil {
		mux.Handle("GET /api/ws", s.require(http.HandlerFunc(s.ws.HandleWS)))
	}

	if s.enableMetrics {
		mux.Handle("GET /metrics", s.require(promhttp.Handler()))
	}
}

// require wraps a handler with API-key auth and request accounting.
func (s *Server) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if s.apiKeyHash != nil {
			key := r.Header.Get("X-API-Key")
			hash := sha256.Sum256([]byte(key))
			if subtle.ConstantTimeCompare(hash[:], s.apiKeyHash) != 1 {
				s.reg.RecordAPIRequest(r.Method, r.Pattern, http.StatusUnauthorized, time.Since(start).Seconds())
				WriteError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.reg.RecordAPIRequest(r.Method, r.Pattern, rec.status, time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade reach the underlying connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving. It returns once the listener stops.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              s.listen,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 16,
	}
	s.logger.Info("api listening", "addr", s.listen, "auth", s.apiKeyHash != nil)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.ws != nil {
		s.ws.Close()
	}
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": brand.Version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}
