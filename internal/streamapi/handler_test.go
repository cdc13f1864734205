package streamapi

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/tarsy/internal/orchestrator"
)

func setupTestServer(t *testing.T, bus *orchestrator.Bus) *httptest.Server {
	t.Helper()
	e := echo.New()
	h := NewHandler(bus, nil)
	e.GET("/ws/stage-events", h.ServeWS)
	server := httptest.NewServer(e)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "/ws/stage-events?" + query
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestServeWSStreamsTenantScopedEvents(t *testing.T) {
	bus := orchestrator.NewBus()
	server := setupTestServer(t, bus)

	conn := dial(t, server, "tenant_id=acme")

	// give the server goroutine time to register its subscription before
	// publishing, since Subscribe/Publish race otherwise.
	time.Sleep(50 * time.Millisecond)

	bus.Publish(orchestrator.StageEvent{
		TenantID:    "acme",
		ExceptionID: "exc-1",
		Stage:       "triage",
		Timestamp:   time.Now().UTC(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var evt orchestrator.StageEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, "acme", evt.TenantID)
	require.Equal(t, "exc-1", evt.ExceptionID)
	require.Equal(t, "triage", evt.Stage)
}

func TestServeWSScopesToExceptionWhenGiven(t *testing.T) {
	bus := orchestrator.NewBus()
	server := setupTestServer(t, bus)

	conn := dial(t, server, "tenant_id=acme&exception_id=exc-1")
	time.Sleep(50 * time.Millisecond)

	bus.Publish(orchestrator.StageEvent{TenantID: "acme", ExceptionID: "exc-2", Stage: "triage"})
	bus.Publish(orchestrator.StageEvent{TenantID: "acme", ExceptionID: "exc-1", Stage: "policy"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	var evt orchestrator.StageEvent
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, "exc-1", evt.ExceptionID)
	require.Equal(t, "policy", evt.Stage)
}

func TestServeWSRequiresTenantID(t *testing.T) {
	bus := orchestrator.NewBus()
	server := setupTestServer(t, bus)

	url := "ws" + server.URL[len("http"):] + "/ws/stage-events"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
}
