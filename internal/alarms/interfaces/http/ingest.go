package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	alarmapp "alarm-engine/internal/alarms/application"
	ingest "alarm-engine/internal/alarms/interfaces"
)

const maxIngestBody = 1 << 20

// Ingester accepts one raw inbound message.
type Ingester interface {
	Ingest(ctx context.Context, data []byte) (alarmapp.Event, error)
}

// IngestHandler receives inbound events on POST /api/v1/events.
type IngestHandler struct {
	ingester Ingester
	logger   *zap.Logger
}

// NewIngestHandler constructs an ingest handler.
func NewIngestHandler(ingester Ingester, logger *zap.Logger) (*IngestHandler, error) {
	if ingester == nil {
		return nil, errors.New("ingest handler: nil ingester")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{ingester: ingester, logger: logger}, nil
}

// ServeHTTP handles inbound events.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBody+1))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if len(body) > maxIngestBody {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	ev, err := h.ingester.Ingest(r.Context(), body)
	switch {
	case err == nil:
	case errors.Is(err, ingest.ErrBadEvent):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, alarmapp.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		http.Error(w, "queue full", http.StatusServiceUnavailable)
		return
	case errors.Is(err, alarmapp.ErrEngineStopped):
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	default:
		h.logger.Error("ingest failed", zap.Error(err))
		http.Error(w, "ingest failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": ev.ID, "status": "queued"})
}
