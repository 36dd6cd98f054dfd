package bridge

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kandev/nodeforge/internal/events/bus"
)

type publishEventRequest struct {
	Type     string                 `json:"type" binding:"required"`
	Data     map[string]interface{} `json:"data"`
	WorkerID string                 `json:"workerId,omitempty"`
}

// handlePublishEvent normalizes and republishes an event reported by a
// remote worker process, injecting worker identity into the payload when
// the worker didn't set it itself.
func (s *Server) handlePublishEvent(c *gin.Context) {
	var req publishEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	data := req.Data
	if data == nil {
		data = map[string]interface{}{}
	}
	if req.WorkerID != "" {
		if _, ok := data["workerId"]; !ok {
			data["workerId"] = req.WorkerID
		}
	}

	event := &bus.Event{
		Version:   1,
		ID:        uuid.NewString(),
		Type:      bus.EventType(req.Type),
		Timestamp: nowMillis(),
		Data:      data,
	}

	if s.Bus != nil {
		if err := s.Bus.Publish(context.Background(), req.Type, event); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to publish event"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "id": event.ID})
}

// handleEventsSSE streams every orchestrator event as Server-Sent Events.
func (s *Server) handleEventsSSE(c *gin.Context) {
	events := make(chan *bus.Event, 64)

	sub, err := s.Bus.Subscribe(bus.SubjectAll, func(ctx context.Context, event *bus.Event) error {
		select {
		case events <- event:
		default:
			// Slow SSE client: drop rather than block publishers.
		}
		return nil
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
		return
	}
	defer sub.Unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := newKeepaliveTicker()
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-events:
			if !ok {
				return false
			}
			writeEventFrame(w, event)
			return true
		case <-ticker.C:
			writeKeepalive(w)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
