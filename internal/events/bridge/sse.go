package bridge

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/kandev/nodeforge/internal/events/bus"
)

const keepaliveInterval = 30 * time.Second

func newKeepaliveTicker() *time.Ticker {
	return time.NewTicker(keepaliveInterval)
}

func writeKeepalive(w io.Writer) {
	fmt.Fprint(w, ": ping\n\n")
}

// writeChunkData writes a /v1/stream frame: plain "data:" lines with no
// event/id fields, matching the chunk-ingress contract.
func writeChunkData(w io.Writer, chunk Chunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// writeEventFrame writes a /v1/events frame in the full
// "event:\nid:\ndata:\n\n" format.
func writeEventFrame(w io.Writer, event *bus.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\nid: %s\ndata: %s\n\n", event.Type, event.ID, data)
}
