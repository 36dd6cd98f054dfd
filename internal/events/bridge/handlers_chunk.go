package bridge

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kandev/nodeforge/internal/events/bus"
)

type chunkRequest struct {
	WorkerID string `json:"workerId" binding:"required"`
	JobID    string `json:"jobId,omitempty"`
	Chunk    string `json:"chunk" binding:"required"`
	Final    bool   `json:"final,omitempty"`
}

// handleStreamChunk ingests one chunk of worker output: it touches the
// worker's lastActivity, fans the chunk out to matching /v1/stream
// listeners, and publishes orchestra.worker.stream on the typed event bus.
func (s *Server) handleStreamChunk(c *gin.Context) {
	var req chunkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	if s.Pool != nil {
		s.Pool.Touch(req.WorkerID)
	}

	chunk := Chunk{WorkerID: req.WorkerID, JobID: req.JobID, Chunk: req.Chunk, Final: req.Final, Timestamp: nowMillis()}
	s.chunks.publish(chunk)

	if s.Bus != nil {
		event := &bus.Event{
			Version:   1,
			ID:        uuid.NewString(),
			Type:      bus.EventWorkerStream,
			Timestamp: chunk.Timestamp,
			Data:      chunk,
		}
		if err := s.Bus.Publish(context.Background(), string(bus.EventWorkerStream), event); err != nil {
			s.logger.WithError(err).Warn("failed to publish worker stream event")
		}
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "timestamp": chunk.Timestamp})
}

// handleStreamSSE streams chunks matching the optional workerId/jobId
// query filter to the caller as Server-Sent Events.
func (s *Server) handleStreamSSE(c *gin.Context) {
	sub := s.chunks.subscribe(c.Query("workerId"), c.Query("jobId"))
	defer s.chunks.unsubscribe(sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ticker := newKeepaliveTicker()
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case chunk, ok := <-sub.ch:
			if !ok {
				return false
			}
			writeChunkData(w, chunk)
			return true
		case <-ticker.C:
			writeKeepalive(w)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
