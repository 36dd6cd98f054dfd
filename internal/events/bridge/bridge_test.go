package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/nodeforge/internal/common/logger"
	"github.com/kandev/nodeforge/internal/events/bus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eventBus := bus.NewMemoryEventBus(logger.Default())
	t.Cleanup(eventBus.Close)
	s, err := NewServer(eventBus, nil, logger.Default(), nil)
	require.NoError(t, err)
	return s
}

func TestStreamChunkRejectsMissingBearer(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(chunkRequest{WorkerID: "coder", Chunk: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/stream/chunk", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamChunkRejectsWrongBearer(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(chunkRequest{WorkerID: "coder", Chunk: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/stream/chunk", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamChunkAcceptsCorrectBearer(t *testing.T) {
	s := newTestServer(t)
	body, _ := json.Marshal(chunkRequest{WorkerID: "coder", Chunk: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/v1/stream/chunk", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+s.Token)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["ok"])
	assert.NotNil(t, resp["timestamp"])
}

func TestStreamChunkRejectsMalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/stream/chunk", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Authorization", "Bearer "+s.Token)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownPathReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/nonexistent", nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWrongMethodReturns405(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/v1/stream/chunk", nil)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPublishEventInjectsMissingWorkerID(t *testing.T) {
	s := newTestServer(t)

	var received *bus.Event
	done := make(chan struct{})
	_, err := s.Bus.Subscribe("orchestra.skill.permission", func(ctx context.Context, e *bus.Event) error {
		received = e
		close(done)
		return nil
	})
	require.NoError(t, err)

	reqBody, _ := json.Marshal(publishEventRequest{
		Type:     "orchestra.skill.permission",
		Data:     map[string]interface{}{"skillId": "memory-write"},
		WorkerID: "coder",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader(reqBody))
	req.Header.Set("Authorization", "Bearer "+s.Token)
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event was never published")
	}

	require.NotNil(t, received)
	data, ok := received.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "coder", data["workerId"])
}

func TestEventsEndpointRequiresBearer(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/events", bytes.NewReader([]byte(`{"type":"x"}`)))
	rec := httptest.NewRecorder()

	s.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGenerateTokenIsURLSafeAndNonEmpty(t *testing.T) {
	token, err := generateToken()
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.NotContains(t, token, "+")
	assert.NotContains(t, token, "/")
}
