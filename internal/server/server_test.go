package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optflow-sim-go/internal/config"
	"optflow-sim-go/internal/types"
)

func TestHandleConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Namespace = "uav1"
	cfg.Port = 9999
	srv := New(cfg, Callbacks{}, zerolog.Nop())

	req := httptest.NewRequest("GET", "/config", nil)
	rec := httptest.NewRecorder()
	srv.handleConfig(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "uav1", payload["namespace"])
	assert.Equal(t, 9999.0, payload["port"])
	cameras, ok := payload["cameras"].([]any)
	require.True(t, ok)
	require.Len(t, cameras, 1)
	assert.Equal(t, "iris::camera", cameras[0].(map[string]any)["name"])
}

func TestHandleConfigUsesCallback(t *testing.T) {
	reloaded := config.Default()
	reloaded.Cameras[0].HFOV = 0.8
	srv := New(config.Default(), Callbacks{Config: func() config.AppConfig { return reloaded }}, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.handleConfig(rec, httptest.NewRequest("GET", "/config", nil))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	cam := payload["cameras"].([]any)[0].(map[string]any)
	assert.Equal(t, 0.8, cam["hfov"])
}

func TestHandleStatusAddsClientCount(t *testing.T) {
	srv := New(config.Default(), Callbacks{Status: func() map[string]any {
		return map[string]any{"session": "abc", "metrics": map[string]any{"frames_total": 3}}
	}}, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.handleStatus(rec, httptest.NewRequest("GET", "/status", nil))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "abc", payload["session"])
	metrics := payload["metrics"].(map[string]any)
	assert.Equal(t, 0.0, metrics["ws_clients"])
	assert.Equal(t, 3.0, metrics["frames_total"])
}

func TestHandleReset(t *testing.T) {
	calls := 0
	srv := New(config.Default(), Callbacks{Reset: func() error {
		calls++
		if calls > 1 {
			return errors.New("reset already pending")
		}
		return nil
	}}, zerolog.Nop())

	rec := httptest.NewRecorder()
	srv.handleReset(rec, httptest.NewRequest("GET", "/reset", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, calls)

	rec = httptest.NewRecorder()
	srv.handleReset(rec, httptest.NewRequest("POST", "/reset", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	srv.handleReset(rec, httptest.NewRequest("POST", "/reset", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, 2, calls)

	srv = New(config.Default(), Callbacks{}, zerolog.Nop())
	rec = httptest.NewRecorder()
	srv.handleReset(rec, httptest.NewRequest("POST", "/reset", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestWebsocketReceivesConfigAndBroadcast(t *testing.T) {
	srv := New(config.Default(), Callbacks{}, zerolog.Nop())
	handler, err := srv.Handler()
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "config", hello["type"])

	messages := make(chan any, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.broadcast(ctx, messages)
	messages <- types.FlowUpdate{Type: "flow", Camera: "iris::camera", ImageID: 5}

	var update types.FlowUpdate
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, "iris::camera", update.Camera)
	assert.Equal(t, 5, update.ImageID)
}

func TestIndexIsServed(t *testing.T) {
	srv := New(config.Default(), Callbacks{}, zerolog.Nop())
	handler, err := srv.Handler()
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "optical flow")
}
