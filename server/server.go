// Package server is the bridge's HTTP boundary: the chat transport webhook,
// the hook's response ingest, and the internal notify endpoint.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/crewmux/bridge"
	"github.com/hrygo/crewmux/chat"
	"github.com/hrygo/crewmux/chat/channels/telegram"
	"github.com/hrygo/crewmux/internal/profile"
	"github.com/hrygo/crewmux/internal/version"
	"github.com/hrygo/crewmux/metrics"
)

// webhookSecretHeader is the header Telegram echoes the secret_token back in.
const webhookSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxWebhookBody caps how much of an update payload is read. Attachments
// arrive as file ids, not bytes, so real updates are far smaller.
const maxWebhookBody = 1 << 20

// Bridge is the part of the routing service the boundary server drives.
type Bridge interface {
	HandleUpdate(ctx context.Context, ev *chat.InboundEvent)
	HandleResponse(ctx context.Context, worker, text string) error
	Notify(ctx context.Context, text string) int
}

type Server struct {
	Profile *profile.Profile

	echoServer *echo.Echo
	bridge     Bridge
	metrics    *metrics.Exporter

	// updateSemaphore bounds concurrent update processing. Inbound rates
	// are low and the per-worker locks serialize the real work, so a small
	// pool is enough.
	updateSemaphore *semaphore.Weighted
}

func NewServer(p *profile.Profile, b Bridge, exporter *metrics.Exporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		Profile:         p,
		echoServer:      e,
		bridge:          b,
		metrics:         exporter,
		updateSemaphore: semaphore.NewWeighted(8),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("server: request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			)
			return nil
		},
	}))

	e.GET("/", s.handleHealth)
	e.POST("/", s.handleWebhook)
	e.POST("/response", s.handleResponse)
	e.POST("/notify", s.handleNotify)
	if p.MetricsEnabled && exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	return s
}

// Start binds the listener and serves in the background. Binding happens
// here so a port conflict surfaces as a startup error instead of a log
// line from the serve goroutine.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", address)
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server: failed to serve", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("server: failed to shut down gracefully", "error", err)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "crewmux bridge "+version.String())
}

// handleWebhook ingests one chat transport update. Processing is handed to
// a goroutine and the transport gets its 200 immediately; a slow webhook
// makes Telegram re-deliver, which the duplicate window then has to absorb.
func (s *Server) handleWebhook(c echo.Context) error {
	if secret := s.Profile.WebhookSecret; secret != "" {
		if c.Request().Header.Get(webhookSecretHeader) != secret {
			s.metrics.RecordDrop("bad_secret")
			slog.Warn("server: webhook secret mismatch", "remote", c.RealIP())
			return echo.NewHTTPError(http.StatusForbidden, "webhook secret mismatch")
		}
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read payload")
	}

	ev, err := telegram.ParseUpdate(payload)
	if err != nil {
		// Acknowledge anyway: a poison update would otherwise be
		// re-delivered forever.
		s.metrics.RecordDrop("unparseable")
		return c.NoContent(http.StatusOK)
	}
	if ev == nil {
		return c.NoContent(http.StatusOK)
	}

	go s.processUpdate(context.Background(), ev)

	return c.NoContent(http.StatusOK)
}

func (s *Server) processUpdate(ctx context.Context, ev *chat.InboundEvent) {
	if err := s.updateSemaphore.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.updateSemaphore.Release(1)
	s.bridge.HandleUpdate(ctx, ev)
}

type responseRequest struct {
	Session string `json:"session"`
	Text    string `json:"text"`
}

func (s *Server) handleResponse(c echo.Context) error {
	var req responseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := s.bridge.HandleResponse(c.Request().Context(), req.Session, req.Text)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, bridge.ErrEmptyResponse):
		return echo.NewHTTPError(http.StatusBadRequest, "session and text are required")
	case errors.Is(err, bridge.ErrNoChatID):
		return echo.NewHTTPError(http.StatusNotFound, "no chat recorded for session")
	default:
		slog.Error("server: response ingest failed", "session", req.Session, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to deliver response")
	}
}

type notifyRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleNotify(c echo.Context) error {
	var req notifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	sent := s.bridge.Notify(c.Request().Context(), req.Text)
	return c.JSON(http.StatusOK, map[string]int{"sent": sent})
}
