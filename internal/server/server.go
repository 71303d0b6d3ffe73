package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"broadcast-engine/api/router"
	"broadcast-engine/config"
	"broadcast-engine/pkg/logger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer    *http.Server
	metricsServer *http.Server
	logger        *logger.Logger
}

func NewServer(cfg *config.Config, logger *logger.Logger, h router.Handlers) *Server {
	r := router.Setup(logger, h, cfg)

	// Create metrics server
	metricsAddr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
		metricsServer: metricsServer,
		logger:        logger,
	}
}

func (s *Server) Start() error {
	// Start metrics server in a goroutine
	go func() {
		s.logger.Info("Metrics server starting on port " + s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("metrics server error: %v", err)
		}
	}()

	// Start main HTTP server
	s.logger.Info("Server starting on " + s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown() error {
	s.logger.Info("Server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.metricsServer.Shutdown(ctx); err != nil {
		s.logger.Errorf("failed to stop metrics server: %v", err)
	}
	return s.httpServer.Shutdown(ctx)
}
