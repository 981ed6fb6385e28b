// Package httpapi is the connection upgrader: it accepts WebSocket upgrade
// requests, registers the new identity with the Link Manager, and spawns
// the matching session actor.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"videobroker/internal/link"
	"videobroker/internal/session"
)

// Server is the Echo application exposing the greeting route and the two
// WebSocket upgrade endpoints.
type Server struct {
	echo    *echo.Echo
	manager *link.Manager
	spawn   session.SpawnIngest

	upgrader websocket.Upgrader

	maxConnections int64
	connCount      atomic.Int64
}

// New constructs the HTTP application. maxConnections of 0 disables the
// limit.
func New(manager *link.Manager, spawn session.SpawnIngest, maxConnections int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
	}))
	e.Use(requestLogger())

	s := &Server{
		echo:           e,
		manager:        manager,
		spawn:          spawn,
		maxConnections: int64(maxConnections),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
	s.registerRoutes()
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			req := c.Request()
			slog.Debug("http request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleGreeting)
	s.echo.GET("/user", s.handleUserUpgrade)
	s.echo.GET("/device", s.handleDeviceUpgrade)
}

func (s *Server) handleGreeting(c echo.Context) error {
	return c.String(http.StatusOK, "videobroker session brokering service")
}

func (s *Server) atCapacity() bool {
	return s.maxConnections > 0 && s.connCount.Load() >= s.maxConnections
}

// handleUserUpgrade implements §4.5 for the user endpoint.
func (s *Server) handleUserUpgrade(c echo.Context) error {
	id := c.QueryParam("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "id is required"})
	}
	if s.atCapacity() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "too many connections"})
	}

	result, err := s.manager.NewUser(c.Request().Context(), link.UserID(id))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if result.Duplicate {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "The ID already exists"})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("httpapi: user upgrade failed", "user_id", id, "err", err)
		return nil
	}
	defer conn.Close()

	s.connCount.Add(1)
	defer s.connCount.Add(-1)

	slog.Info("httpapi: user connected", "user_id", id, "remote", c.RealIP())
	session.NewUserSession(link.UserID(id), conn, s.manager, result.Outbox).Run(c.Request().Context())
	return nil
}

// handleDeviceUpgrade implements §4.5 for the device endpoint.
func (s *Server) handleDeviceUpgrade(c echo.Context) error {
	id := c.QueryParam("id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "id is required"})
	}
	if s.atCapacity() {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "too many connections"})
	}

	result, err := s.manager.NewDevice(c.Request().Context(), link.DeviceID(id))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if result.Duplicate {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "The ID already exists"})
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error("httpapi: device upgrade failed", "device_id", id, "err", err)
		return nil
	}
	defer conn.Close()

	s.connCount.Add(1)
	defer s.connCount.Add(-1)

	slog.Info("httpapi: device connected", "device_id", id, "remote", c.RealIP())
	session.NewDeviceSession(link.DeviceID(id), conn, s.manager, result.Outbox, s.spawn).Run(c.Request().Context())
	return nil
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("httpapi: shutting down")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("httpapi: stopped")
		return nil
	}
}
