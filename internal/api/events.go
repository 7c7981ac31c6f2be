package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"agentflow/internal/core"
)

// eventStream fans engine events out to connected SSE clients. Slow
// clients are dropped rather than allowed to stall the listener.
type eventStream struct {
	engine *core.Engine
	logger *slog.Logger

	mu       sync.Mutex
	clients  map[chan core.Event]struct{}
	closed   bool
	listener int
}

func newEventStream(engine *core.Engine, logger *slog.Logger) *eventStream {
	es := &eventStream{
		engine:  engine,
		logger:  logger,
		clients: make(map[chan core.Event]struct{}),
	}
	es.listener = engine.Subscribe(es.broadcast)
	return es
}

func (es *eventStream) broadcast(ev core.Event) {
	es.mu.Lock()
	defer es.mu.Unlock()
	for ch := range es.clients {
		select {
		case ch <- ev:
		default:
			// Client is not keeping up; disconnect it.
			delete(es.clients, ch)
			close(ch)
		}
	}
}

func (es *eventStream) register() (chan core.Event, bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.closed {
		return nil, false
	}
	ch := make(chan core.Event, 16)
	es.clients[ch] = struct{}{}
	return ch, true
}

func (es *eventStream) unregister(ch chan core.Event) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, ok := es.clients[ch]; ok {
		delete(es.clients, ch)
		close(ch)
	}
}

func (es *eventStream) close() {
	es.engine.Unsubscribe(es.listener)
	es.mu.Lock()
	defer es.mu.Unlock()
	es.closed = true
	for ch := range es.clients {
		delete(es.clients, ch)
		close(ch)
	}
}

func (es *eventStream) serve(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	ch, ok := es.register()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "server shutting down")
		return
	}
	defer es.unregister(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, open := <-ch:
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				es.logger.Error("encode event", "err", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
