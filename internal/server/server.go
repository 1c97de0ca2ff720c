// Package server - HTTP поверхность сервиса: маркеры, запуск симуляций,
// SSE-трансляции, экспорт результатов.
package server

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"urbansim/pkg/config"
	"urbansim/pkg/logger"
	"urbansim/pkg/ratelimit"
)

// Server HTTP сервер сервиса
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
}

// New собирает сервер с маршрутами и цепочкой middleware
func New(cfg *config.Config, handlers *Handlers, limiter ratelimit.Limiter) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /markers", handlers.ListMarkers)
	mux.HandleFunc("POST /markers", handlers.CreateMarker)
	mux.HandleFunc("DELETE /markers", handlers.DeleteMarkers)

	simulate := rateLimitMiddleware(cfg, limiter)
	mux.Handle("POST /simulate", simulate(http.HandlerFunc(handlers.Simulate)))
	mux.Handle("GET /simulate/stream", simulate(http.HandlerFunc(handlers.SimulateStream)))
	mux.Handle("GET /simulate/live", simulate(http.HandlerFunc(handlers.SimulateLive)))

	mux.HandleFunc("GET /results/{id}/export", handlers.ExportResult)

	mux.HandleFunc("GET /health", handlers.Health)
	mux.HandleFunc("GET /ready", handlers.Ready)

	var handler http.Handler = mux
	handler = metricsMiddleware(handler)
	handler = loggingMiddleware(handler)
	if cfg.HTTP.CORS.Enabled {
		handler = corsMiddleware(cfg.HTTP.CORS)(handler)
	}
	handler = recoverMiddleware(handler)

	// h2c позволяет HTTP/2 без TLS за обратным прокси
	h2s := &http2.Server{}

	return &Server{
		cfg: cfg,
		httpServer: &http.Server{
			Addr:        fmt.Sprintf(":%d", cfg.HTTP.Port),
			Handler:     h2c.NewHandler(handler, h2s),
			ReadTimeout: cfg.HTTP.ReadTimeout,
			// WriteTimeout нулевой: SSE-потоки живут дольше любого таймаута
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}
}

// Start запускает сервер и блокируется до его остановки
func (s *Server) Start() error {
	logger.Info("HTTP server listening", "addr", s.httpServer.Addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
