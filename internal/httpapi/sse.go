package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relayforge/agentctl/internal/apierr"
	"github.com/relayforge/agentctl/internal/logger"
	"github.com/relayforge/agentctl/internal/metrics"
	"github.com/relayforge/agentctl/internal/orchestrator"
	"github.com/relayforge/agentctl/internal/streambus"
)

const heartbeatInterval = 15 * time.Second

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// parseCursor resolves the replay cursor from ?cursor= or Last-Event-ID,
// per §6's SSE resume contract. A malformed or absent cursor means "from
// the start of retained history".
func parseCursor(r *http.Request) uint64 {
	if c := r.URL.Query().Get("cursor"); c != "" {
		if n, err := strconv.ParseUint(c, 10, 64); err == nil {
			return n
		}
	}
	if h := r.Header.Get("Last-Event-ID"); h != "" {
		if n, err := strconv.ParseUint(h, 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// eventTypeOf returns the SSE "event:" field for a published entry.
// orchestrator.Event is the only producer today; anything else streams
// under a generic "message" type rather than failing the connection.
func eventTypeOf(ev any) string {
	if oe, ok := ev.(orchestrator.Event); ok {
		return oe.Type
	}
	return "message"
}

// streamSSE frames bus's retained-and-live entries for streamID as
// id:/event:/data: per §6, starting after afterSeq, with a :heartbeat
// comment every 15 seconds and a terminal run.closed event once the stream
// closes. It blocks until the client disconnects or the stream closes.
func streamSSE(w http.ResponseWriter, r *http.Request, bus *streambus.Bus, streamID string, afterSeq uint64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		apierr.WriteError(w, apierr.Internal(fmt.Errorf("httpapi: response writer does not support flushing")))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.IncStreamSubscribers()
	defer metrics.DecStreamSubscribers()

	var writeMu sync.Mutex
	closed := make(chan struct{})
	var closeOnce sync.Once

	writeEntry := func(e streambus.Entry) {
		payload, err := json.Marshal(e.Event)
		if err != nil {
			logger.ErrorContext(r.Context(), "httpapi: marshal SSE event failed", "stream_id", streamID, "error", err)
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Seq, eventTypeOf(e.Event), payload)
		flusher.Flush()
	}

	onClose := func() {
		writeMu.Lock()
		fmt.Fprintf(w, "event: run.closed\ndata: {\"runId\":%q}\n\n", streamID)
		flusher.Flush()
		writeMu.Unlock()
		closeOnce.Do(func() { close(closed) })
	}

	unsubscribe := bus.Subscribe(streamID, afterSeq, writeEntry, onClose)
	defer unsubscribe()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-heartbeat.C:
			writeMu.Lock()
			_, _ = w.Write([]byte(":heartbeat\n\n"))
			flusher.Flush()
			writeMu.Unlock()
		}
	}
}
