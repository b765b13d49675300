package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/goodtune/licensewatch/internal/license"
	"github.com/goodtune/licensewatch/internal/storage"
)

// Inventory is the read side of the license inventory.
type Inventory interface {
	AvailableTools() []string
	Current(ctx context.Context) (*storage.Pass, error)
	ByTool(ctx context.Context, tool string) ([]license.Feature, error)
	FeatureDetail(ctx context.Context, tool, feature string) (license.FeatureDetail, bool, error)
}

// ChangeChecker runs a directory change check on behalf of a request.
type ChangeChecker interface {
	CheckNow(ctx context.Context) (bool, error)
}

// Config holds the API server configuration.
type Config struct {
	ListenAddr      string
	CheckRateLimit  int           // Change checks per client per window; 0 disables the limit
	RateLimitWindow time.Duration // Defaults to one minute
}

// Server represents the license API HTTP server.
type Server struct {
	config   Config
	server   *http.Server
	router   *mux.Router
	feed     *Broadcaster
	limiter  *RateLimiter
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
	logger   zerolog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, inventory Inventory, checker ChangeChecker, feed *Broadcaster, logger zerolog.Logger) *Server {
	router := mux.NewRouter()

	s := &Server{
		config: cfg,
		router: router,
		feed:   feed,
		logger: logger.With().Str("component", "api").Logger(),
	}

	if cfg.CheckRateLimit > 0 {
		window := cfg.RateLimitWindow
		if window == 0 {
			window = time.Minute
		}
		s.limiter = NewRateLimiter(cfg.CheckRateLimit, window)
	}

	s.setupRoutes(NewLicenseHandler(inventory, checker, logger))

	s.server = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes(h *LicenseHandler) {
	s.router.Use(LoggingMiddleware(s.logger))

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.Health).Methods("GET")
	api.HandleFunc("/tools", h.Tools).Methods("GET")
	api.HandleFunc("/licenses", h.Licenses).Methods("GET")
	api.Handle("/licenses/refresh", s.limitChecks(h.Refresh)).Methods("POST")
	api.HandleFunc("/licenses/{tool}", h.LicensesForTool).Methods("GET")
	api.HandleFunc("/feature/{tool}/{feature}", h.Feature).Methods("GET")
	api.Handle("/check-changes", s.limitChecks(h.CheckChanges)).Methods("GET")

	if s.feed != nil {
		s.router.HandleFunc("/ws", s.feed.ServeWS(h.inventory)).Methods("GET")
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})
}

// limitChecks wraps the endpoints that make the watcher scan the directory.
func (s *Server) limitChecks(h http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return h
	}
	return RateLimitMiddleware(s.limiter)(h)
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the API server.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.config.ListenAddr).Msg("Starting API server")

	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully stops the API server and disconnects feed clients.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.feed != nil {
		s.feed.Close()
	}

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}

	return nil
}
