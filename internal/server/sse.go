package server

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"
)

// clientBuffer is the live-event headroom given to each subscriber on top of
// the replayed history.
const clientBuffer = 256

// keepAliveInterval spaces SSE comment lines on idle streams so proxies keep
// the connection open while a long stage runs.
var keepAliveInterval = 15 * time.Second

// Broadcaster fans out progress events to SSE clients. One per run.
type Broadcaster struct {
	mu      sync.Mutex
	history []map[string]any
	clients map[uint64]chan map[string]any
	nextID  uint64
	closed  bool
	doneCh  chan struct{} // closed only by Close, not by slow-client drops
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[uint64]chan map[string]any),
		doneCh:  make(chan struct{}),
	}
}

// Send is the engine's progress sink. The event is copied because the
// engine encodes the same map to progress.ndjson after the sink returns.
func (b *Broadcaster) Send(ev map[string]any) {
	ev = maps.Clone(ev)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			// Slow client: drop it rather than block the run.
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns an events channel, a done channel and an unsubscribe
// function. The events channel replays history, then carries live events.
// The done channel closes only when the run finishes, so callers can tell
// completion apart from being dropped as a slow client.
func (b *Broadcaster) Subscribe() (<-chan map[string]any, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Sized to fit the whole replay, so this never blocks under the mutex.
	ch := make(chan map[string]any, len(b.history)+clientBuffer)
	for _, ev := range b.history {
		ch <- ev
	}
	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	id := b.nextID
	b.nextID++
	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close signals that no more events will be sent. Safe to call twice.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// History returns a copy of all events received so far.
func (b *Broadcaster) History() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]map[string]any, len(b.history))
	copy(out, b.history)
	return out
}

// WriteSSE streams a Broadcaster to w as server-sent events. Each event
// carries its position in the run's history as the SSE id.
func WriteSSE(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, doneCh, unsub := b.Subscribe()
	defer unsub()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	seq := 0
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				select {
				case <-doneCh:
					fmt.Fprint(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
					// Dropped as a slow client; the caller may reconnect.
				}
				return
			}
			seq++
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", seq, data)
			flusher.Flush()
		}
	}
}
