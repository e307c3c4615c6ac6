package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"

	"sessionhost/config"
	"sessionhost/http/handlers"
	apxmiddlewares "sessionhost/http/middleware"
	"sessionhost/logger"
	"sessionhost/services/health"
)

// Server binds the gateway's four routes (plus ambient health/metrics
// endpoints) onto a chi router and owns the listener's lifecycle.
type Server struct {
	Logger        *zap.Logger
	Conf          *config.Config
	Handlers      *handlers.Handlers
	HealthHandler *health.Handler
}

func NewServer(conf *config.Config, h *handlers.Handlers, healthHandler *health.Handler) *Server {
	return &Server{Logger: logger.Logger, Conf: conf, Handlers: h, HealthHandler: healthHandler}
}

func (s *Server) Listen(ctx context.Context, addr string) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(apxmiddlewares.NewLoggerWithMetrics(s.Logger, &apxmiddlewares.Opts{
		WithReferer:   false,
		WithUserAgent: false,
	}))
	r.Use(middleware.Recoverer)
	r.Use(apxmiddlewares.EnabCors(s.Conf.Cors.AllowedOrigins))

	r.Get("/ping", s.Handlers.Ping)
	r.Post("/new", s.Handlers.New)
	r.HandleFunc("/session/{id}", s.Handlers.Session)
	r.HandleFunc("/capacity", s.Handlers.Capacity)

	r.Get("/healthz", s.HealthHandler.ServeHTTP)
	r.Get("/metrics", s.HealthHandler.ServeMetrics)

	errch := make(chan error, 1)
	server := &http.Server{Addr: addr, Handler: r}
	go func() {
		logger.Info("starting server", zap.String("addr", addr))
		errch <- server.ListenAndServe()
	}()

	select {
	case err := <-errch:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
