package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Parse metrics
	FilesParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "licensewatch_files_parsed_total",
			Help: "Status dumps parsed, by tool and result",
		},
		[]string{"tool", "result"},
	)

	ParseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "licensewatch_parse_duration_seconds",
			Help:    "Time spent parsing a single status dump",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"tool"},
	)

	ParseCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licensewatch_parse_cache_hits_total",
			Help: "Parsed file results served from cache",
		},
	)

	ParseCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licensewatch_parse_cache_misses_total",
			Help: "Parsed file results not found in cache",
		},
	)

	// Inventory metrics
	Features = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "licensewatch_features",
			Help: "Features reported by the last inventory pass",
		},
		[]string{"tool"},
	)

	SeatsIssued = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "licensewatch_seats_issued",
			Help: "Licenses issued per feature",
		},
		[]string{"tool", "feature"},
	)

	SeatsInUse = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "licensewatch_seats_in_use",
			Help: "Licenses in use per feature",
		},
		[]string{"tool", "feature"},
	)

	// Watcher metrics
	DirectoryChanges = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licensewatch_directory_changes_total",
			Help: "Changes detected in the watched directory",
		},
	)

	SnapshotErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "licensewatch_snapshot_errors_total",
			Help: "Failed attempts to capture the watched directory state",
		},
	)

	WatchedFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "licensewatch_watched_files",
			Help: "Regular files in the watched directory at the last change",
		},
	)

	// Change feed metrics
	FeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "licensewatch_feed_clients",
			Help: "Connected websocket change feed clients",
		},
	)
)

func init() {
	prometheus.MustRegister(
		FilesParsed,
		ParseDuration,
		ParseCacheHits,
		ParseCacheMisses,
		Features,
		SeatsIssued,
		SeatsInUse,
		DirectoryChanges,
		SnapshotErrors,
		WatchedFiles,
		FeedClients,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
