package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Auth metrics
	LoginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnest_logins_total",
			Help: "Total login attempts by role and outcome",
		},
		[]string{"role", "outcome"},
	)

	LimitDeniedLogins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnest_limit_denied_logins_total",
			Help: "Child logins refused because the daily limit was reached",
		},
	)

	ActiveAuthSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatnest_active_auth_sessions",
			Help: "Number of active authenticated sessions",
		},
	)

	// Usage metrics
	UsageMinutesConsumed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnest_usage_minutes_consumed_total",
			Help: "Total usage minutes consumed per child",
		},
		[]string{"subject"},
	)

	// Chat metrics
	ChatTurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatnest_chat_turns_total",
			Help: "Total chat turns proxied to the assistant",
		},
		[]string{"topic", "outcome"},
	)

	AssistantRequestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatnest_assistant_request_duration_seconds",
			Help:    "Assistant upstream request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AssistantUpstreamErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnest_assistant_upstream_errors_total",
			Help: "Assistant upstream request failures",
		},
	)

	AssistantCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatnest_assistant_cache_hits_total",
			Help: "Assistant reply cache hits",
		},
	)
)

func init() {
	prometheus.MustRegister(
		LoginsTotal,
		LimitDeniedLogins,
		ActiveAuthSessions,
		UsageMinutesConsumed,
		ChatTurnsTotal,
		AssistantRequestDuration,
		AssistantUpstreamErrors,
		AssistantCacheHits,
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
