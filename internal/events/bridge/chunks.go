package bridge

import (
	"sync"
	"time"
)

// Chunk is one delivered fragment of worker output, matching the
// stream_chunk ingress payload.
type Chunk struct {
	WorkerID  string `json:"workerId"`
	JobID     string `json:"jobId,omitempty"`
	Chunk     string `json:"chunk"`
	Final     bool   `json:"final,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// chunkSubscriber receives every chunk matching its filter.
type chunkSubscriber struct {
	workerID string
	jobID    string
	ch       chan Chunk
}

func (s *chunkSubscriber) matches(c Chunk) bool {
	if s.workerID != "" && s.workerID != c.WorkerID {
		return false
	}
	if s.jobID != "" && s.jobID != c.JobID {
		return false
	}
	return true
}

// chunkEmitter fans out ingested chunks to every connected /v1/stream
// client whose filter matches, independent of the typed orchestrator
// event bus. It never blocks a publisher on a slow subscriber.
type chunkEmitter struct {
	mu   sync.Mutex
	subs map[*chunkSubscriber]struct{}
}

func newChunkEmitter() *chunkEmitter {
	return &chunkEmitter{subs: make(map[*chunkSubscriber]struct{})}
}

func (e *chunkEmitter) subscribe(workerID, jobID string) *chunkSubscriber {
	sub := &chunkSubscriber{workerID: workerID, jobID: jobID, ch: make(chan Chunk, 32)}
	e.mu.Lock()
	e.subs[sub] = struct{}{}
	e.mu.Unlock()
	return sub
}

func (e *chunkEmitter) unsubscribe(sub *chunkSubscriber) {
	e.mu.Lock()
	delete(e.subs, sub)
	e.mu.Unlock()
	close(sub.ch)
}

func (e *chunkEmitter) publish(c Chunk) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sub := range e.subs {
		if !sub.matches(c) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			// Slow consumer: drop rather than block the ingress handler.
		}
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
