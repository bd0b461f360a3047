package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"meridian/internal/command"
	"meridian/internal/logging"
)

// StatusSource is any daemon that publishes the common status shape.
type StatusSource interface {
	ID() string
	Status() command.DaemonStatus
	Ping() error
}

// NewRegistry builds a registry with the daemon gauges plus the standard
// process and Go runtime collectors.
func NewRegistry(source StatusSource) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"daemon": source.ID()}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "meridian",
			Name:        "daemon_up",
			Help:        "1 when the daemon control loop answers ping.",
			ConstLabels: labels,
		}, func() float64 {
			if source.Ping() != nil {
				return 0
			}
			return 1
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "meridian",
			Name:        "daemon_busy",
			Help:        "1 while a command is executing.",
			ConstLabels: labels,
		}, func() float64 {
			if source.Status().State == command.StateBusy {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "meridian",
			Name:        "daemon_faulted",
			Help:        "1 while the daemon is in its error state.",
			ConstLabels: labels,
		}, func() float64 {
			if source.Status().State == command.StateError {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "meridian",
			Name:        "daemon_queue_depth",
			Help:        "Commands or entries waiting to execute.",
			ConstLabels: labels,
		}, func() float64 {
			return float64(source.Status().QueueDepth)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "meridian",
			Name:        "daemon_uptime_seconds",
			Help:        "Seconds since the daemon started.",
			ConstLabels: labels,
		}, func() float64 {
			started := source.Status().StartedAt
			if started.IsZero() {
				return 0
			}
			return time.Since(started).Seconds()
		}),
	)
	return registry
}

// Server serves /metrics for one daemon.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
}

// NewServer binds the metrics endpoint. An empty bind disables metrics
// and returns a nil server.
func NewServer(bind string, source StatusSource, logger *slog.Logger) (*Server, error) {
	if bind == "" {
		return nil, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, err
	}

	registry := NewRegistry(source)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return &Server{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: listener,
		logger:   logger.With(logging.String(logging.FieldComponent, "metrics")),
	}, nil
}

// Serve blocks until Close. Nil servers are a no-op.
func (s *Server) Serve() {
	if s == nil {
		return
	}
	s.logger.Info("metrics listening",
		logging.String("addr", s.listener.Addr().String()))
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("metrics server stopped",
			logging.Error(err),
			logging.String(logging.FieldEventType, "metrics_server_error"))
	}
}

// Addr returns the bound address, or "" for a disabled server.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down.
func (s *Server) Close() {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}
