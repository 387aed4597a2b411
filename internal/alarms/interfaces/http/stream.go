package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/auth"
)

const streamKeepAlive = 30 * time.Second

type streamEvent struct {
	tenantID string
	payload  []byte
}

// SSEBroker fans out lifecycle messages to connected clients.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan []byte]string
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan []byte]string)}
}

// PushLifecycleMessage implements application.LifecyclePublisher.
func (b *SSEBroker) PushLifecycleMessage(_ context.Context, tenantID string, _ alarms.EntityID, msg alarmapp.LifecycleMessage, _ string) error {
	if b == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	b.broadcast(streamEvent{tenantID: tenantID, payload: payload})
	return nil
}

// Subscribe registers a client channel. An empty tenant receives every tenant's messages.
func (b *SSEBroker) Subscribe(tenantID string) chan []byte {
	if b == nil {
		return nil
	}
	ch := make(chan []byte, 16)
	b.mu.Lock()
	b.clients[ch] = tenantID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client channel.
func (b *SSEBroker) Unsubscribe(ch chan []byte) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// Clients returns the number of connected clients.
func (b *SSEBroker) Clients() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

func (b *SSEBroker) broadcast(ev streamEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, tenantID := range b.clients {
		if tenantID != "" && tenantID != ev.tenantID {
			continue
		}
		// Slow clients miss messages rather than stalling the engine.
		select {
		case ch <- ev.payload:
		default:
		}
	}
}

// StreamHandler serves the SSE lifecycle stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/alarms/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenantId")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := h.broker.Subscribe(tenantID)
	defer h.broker.Unsubscribe(ch)

	_, _ = w.Write([]byte("event: ready\ndata: {}\n\n"))
	flusher.Flush()

	keepAlive := time.NewTicker(streamKeepAlive)
	defer keepAlive.Stop()
	notify := r.Context().Done()
	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("event: alarm\n"))
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-keepAlive.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}
