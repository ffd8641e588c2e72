package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jaliph/qrbridge/api"
	"github.com/jaliph/qrbridge/utils"
)

const shutdownTimeout = 10 * time.Second

// Guard wraps handlers that need an admin session
type Guard interface {
	Require(next http.Handler) http.Handler
}

// Options selects the routes bound at start
type Options struct {
	// QRRoute is read once; changing it needs a restart
	QRRoute string
	// Metrics is mounted at /metrics when non-nil
	Metrics http.Handler
}

// Server represents the HTTP server
type Server struct {
	handler *api.Handler
	guard   Guard
	opts    Options
	logger  *slog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer creates a new HTTP server
func NewServer(handler *api.Handler, guard Guard, opts Options, logger *slog.Logger) *Server {
	return &Server{
		handler: handler,
		guard:   guard,
		opts:    opts,
		logger:  utils.Or(logger),
	}
}

// Router builds the route table
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestID, s.logRequests)

	h := s.handler
	protect := func(fn http.HandlerFunc) http.Handler { return s.guard.Require(fn) }

	r.HandleFunc(s.opts.QRRoute, h.HandleQRCode).Methods(http.MethodGet)
	r.HandleFunc("/login", h.HandleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", h.HandleLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.HandleLogout).Methods(http.MethodPost)
	r.Handle("/settings", protect(h.HandleSettingsPage)).Methods(http.MethodGet)
	r.Handle("/settings", protect(h.HandleSettingsUpdate)).Methods(http.MethodPost)
	r.Handle("/check_update", protect(h.HandleCheckUpdate)).Methods(http.MethodPost)
	r.Handle("/manual_update", protect(h.HandleManualUpdate)).Methods(http.MethodPost)
	r.Handle("/stats", protect(h.HandleGetStats)).Methods(http.MethodGet)
	r.Handle("/history", protect(h.HandleGetHistory)).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics).Methods(http.MethodGet)
	}
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	}).Methods(http.MethodGet)

	return r
}

// Start listens on addr and serves until ctx is cancelled or Stop is called
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or Stop is called
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := s.Stop(sctx); err != nil {
				s.logger.Warn("HTTP server shutdown incomplete", "error", err)
			}
		case <-stopped:
		}
	}()

	s.logger.Info("Starting HTTP server", "addr", ln.Addr().String(), "qr_route", s.opts.QRRoute)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// requestID tags every request and response with an X-Request-ID
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
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

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			"id", r.Header.Get("X-Request-ID"),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
