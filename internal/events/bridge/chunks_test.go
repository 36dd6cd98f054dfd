package bridge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEmitterFiltersByWorkerID(t *testing.T) {
	e := newChunkEmitter()
	subCoder := e.subscribe("coder", "")
	subDocs := e.subscribe("docs", "")
	defer e.unsubscribe(subCoder)
	defer e.unsubscribe(subDocs)

	e.publish(Chunk{WorkerID: "coder", Chunk: "hello"})

	select {
	case c := <-subCoder.ch:
		assert.Equal(t, "hello", c.Chunk)
	case <-time.After(time.Second):
		t.Fatal("matching subscriber never received the chunk")
	}

	select {
	case c := <-subDocs.ch:
		t.Fatalf("non-matching subscriber should not receive chunk, got %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChunkEmitterFiltersByJobID(t *testing.T) {
	e := newChunkEmitter()
	sub := e.subscribe("coder", "job-1")
	defer e.unsubscribe(sub)

	e.publish(Chunk{WorkerID: "coder", JobID: "job-2", Chunk: "wrong job"})
	e.publish(Chunk{WorkerID: "coder", JobID: "job-1", Chunk: "right job"})

	select {
	case c := <-sub.ch:
		assert.Equal(t, "right job", c.Chunk)
	case <-time.After(time.Second):
		t.Fatal("matching subscriber never received the chunk")
	}
}

func TestChunkEmitterUnfilteredReceivesEverything(t *testing.T) {
	e := newChunkEmitter()
	sub := e.subscribe("", "")
	defer e.unsubscribe(sub)

	e.publish(Chunk{WorkerID: "coder", Chunk: "a"})
	e.publish(Chunk{WorkerID: "docs", Chunk: "b"})

	first := <-sub.ch
	second := <-sub.ch
	assert.ElementsMatch(t, []string{"a", "b"}, []string{first.Chunk, second.Chunk})
}

func TestChunkEmitterDropsOnSlowSubscriberInsteadOfBlocking(t *testing.T) {
	e := newChunkEmitter()
	sub := e.subscribe("coder", "")
	defer e.unsubscribe(sub)

	for i := 0; i < 64; i++ {
		e.publish(Chunk{WorkerID: "coder", Chunk: "x"})
	}
	require.NotPanics(t, func() {
		e.publish(Chunk{WorkerID: "coder", Chunk: "overflow"})
	})
}
