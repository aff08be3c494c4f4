package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/YCLstock/finnews-bot/internal/clustering"
	"github.com/YCLstock/finnews-bot/internal/db"
	"github.com/YCLstock/finnews-bot/internal/globaltime"
	"github.com/YCLstock/finnews-bot/internal/schedule"
	"github.com/YCLstock/finnews-bot/internal/topics"
)

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server exposes the read-only operational API: health, topic-mapping
// preview and clustering preview. No auth; it is meant for operators
// and the subscription frontend, not the public internet.
type Server struct {
	pool      *db.Pool
	mapper    *topics.Mapper
	clusterer *clustering.Clusterer
	scheduler *schedule.Scheduler
	logger    zerolog.Logger
	opts      Options
}

func NewServer(
	pool *db.Pool,
	mapper *topics.Mapper,
	clusterer *clustering.Clusterer,
	scheduler *schedule.Scheduler,
	logger zerolog.Logger,
	opts Options,
) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		pool:      pool,
		mapper:    mapper,
		clusterer: clusterer,
		scheduler: scheduler,
		logger:    logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

// Start serves until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.mapper == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	errCh := make(chan error, 1)
	go func() {
		address := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
		s.logger.Info().Str("address", address).Msg("operational API listening")
		errCh <- e.Start(address)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = s.opts.ReadTimeout
	e.Server.WriteTimeout = s.opts.WriteTimeout

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	s.registerRoutes(e)
	return e
}

func (s *Server) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", s.handleHealthz)

	api := e.Group("/api/v1")
	api.GET("/topics", s.handleTopicList)
	api.GET("/topics/preview", s.handleTopicPreview)
	api.GET("/clustering/preview", s.handleClusteringPreview)
	api.GET("/schedule/preview", s.handleSchedulePreview)
}

func (s *Server) handleHealthz(c echo.Context) error {
	data := map[string]any{
		"time":               globaltime.UTC().Format(time.RFC3339),
		"vocabulary_version": s.mapper.Vocabulary().Version,
	}
	if s.pool != nil {
		if err := s.pool.DB().PingContext(c.Request().Context()); err != nil {
			data["database"] = "unreachable"
			return internalError(c, "database unreachable")
		}
		data["database"] = "ok"
	}
	return success(c, data)
}
