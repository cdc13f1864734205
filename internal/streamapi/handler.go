// Package streamapi exposes the orchestrator's internal stage-completed
// pub/sub Bus over a WebSocket (SPEC_FULL.md §6's GET /ws/stage-events), a
// supplemented feature grounded on pkg/api/handler_ws.go's
// websocket.Accept idiom and pkg/events/manager.go's connection lifecycle
// (register on connect, blocking read/write loop, deregister on close).
package streamapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/tarsy/internal/orchestrator"
)

// Handler upgrades HTTP connections to WebSocket and streams StageEvents
// from a Bus, scoped by the tenant_id (and optional exception_id) query
// parameters.
type Handler struct {
	Bus    *orchestrator.Bus
	Logger *slog.Logger
}

// NewHandler constructs a Handler over bus.
func NewHandler(bus *orchestrator.Bus, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Bus: bus, Logger: logger}
}

// ServeWS handles GET /ws/stage-events?tenant_id=...&exception_id=....
// Origin validation is deferred (matching the teacher's current
// InsecureSkipVerify posture) since this endpoint is not yet gated by an
// external auth proxy.
func (h *Handler) ServeWS(c *echo.Context) error {
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id query parameter is required")
	}
	exceptionID := c.QueryParam("exception_id")

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	var events <-chan orchestrator.StageEvent
	var unsubscribe func()
	if exceptionID != "" {
		events, unsubscribe = h.Bus.SubscribeException(tenantID, exceptionID)
	} else {
		events, unsubscribe = h.Bus.SubscribeTenant(tenantID)
	}
	defer unsubscribe()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeJSON(ctx, conn, evt); err != nil {
				h.Logger.Warn("stage-events: write failed, closing connection", "error", err)
				return nil
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
