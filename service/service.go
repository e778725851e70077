// Package service runs the optional HTTP side servers: a liveness endpoint
// for supervised runs and a Prometheus metrics endpoint.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
)

// ServerConfig configures one side server.
type ServerConfig struct {
	Enabled bool
	Host    string
	Port    string
}

// Config configures the side servers.
type Config struct {
	Healthz ServerConfig
	Metrics ServerConfig
}

type Service struct {
	cfg     Config
	log     *slog.Logger
	Healthz *HealthzServer
	Metrics *MetricsServer
}

func New(cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		log:     log,
		Healthz: &HealthzServer{},
		Metrics: &MetricsServer{},
	}
}

func (s *Service) Start(ctx context.Context) {
	if s.cfg.Healthz.Enabled {
		addr := net.JoinHostPort(s.cfg.Healthz.Host, s.cfg.Healthz.Port)
		s.log.Info("Starting healthz server", "addr", addr)
		go func() {
			if err := s.Healthz.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("Healthz server failed", "error", err)
			}
		}()
	}

	if s.cfg.Metrics.Enabled {
		addr := net.JoinHostPort(s.cfg.Metrics.Host, s.cfg.Metrics.Port)
		s.log.Info("Starting metrics server", "addr", addr)
		go func() {
			if err := s.Metrics.Start(ctx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("Metrics server failed", "error", err)
			}
		}()
	}
}

func (s *Service) Shutdown() {
	if s.cfg.Healthz.Enabled {
		s.Healthz.Shutdown() //nolint:errcheck
	}
	if s.cfg.Metrics.Enabled {
		s.Metrics.Shutdown() //nolint:errcheck
	}
}
