package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
	"alarm-engine/internal/auth"
)

// RuleReloader rebuilds the rule table on demand.
type RuleReloader interface {
	ReloadRules(ctx context.Context) error
}

// Handler provides alarm HTTP endpoints.
type Handler struct {
	service  *alarmapp.Service
	reloader RuleReloader
	logger   *zap.Logger
}

// NewHandler constructs a handler. reloader may be nil.
func NewHandler(service *alarmapp.Service, reloader RuleReloader, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("alarms handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, reloader: reloader, logger: logger}, nil
}

// ServeHTTP handles /api/v1/alarms, its subroutes and /api/v1/rules/reload.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/alarms":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case r.URL.Path == "/api/v1/rules/reload":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleReload(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/alarms/"):
		h.handleAction(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	originator := alarms.EntityID{
		Type: alarms.EntityType(strings.ToUpper(query.Get("entityType"))),
		ID:   query.Get("entityId"),
	}
	if err := originator.Validate(); err != nil {
		http.Error(w, "entityType and entityId are required", http.StatusBadRequest)
		return
	}
	list, err := h.service.ListAlarms(r.Context(), query.Get("tenantId"), originator)
	if err != nil {
		respondError(w, err)
		return
	}
	if list == nil {
		list = []alarms.Alarm{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/alarms/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id := parts[0]
	action := parts[1]

	var (
		alarm *alarms.Alarm
		err   error
	)
	switch action {
	case "ack":
		alarm, err = h.service.AckAlarm(r.Context(), id)
	case "clear":
		alarm, err = h.service.ClearAlarm(r.Context(), id)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		respondError(w, err)
		return
	}
	caller, _ := auth.IdentityFrom(r.Context())
	h.logger.Info("alarm action",
		zap.String("action", action),
		zap.String("alarm_id", id),
		zap.String("subject", caller.Subject))
	writeJSON(w, http.StatusOK, alarm)
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil {
		http.Error(w, "rule reload unavailable", http.StatusNotImplemented)
		return
	}
	err := h.reloader.ReloadRules(r.Context())
	if err != nil && !errors.Is(err, alarms.ErrInvalidRule) {
		h.logger.Error("rule reload failed", zap.Error(err))
		http.Error(w, "rule reload failed", http.StatusInternalServerError)
		return
	}
	resp := reloadResponse{Status: "reloaded"}
	if err != nil {
		resp.Rejected = strings.Split(err.Error(), "\n")
	}
	writeJSON(w, http.StatusOK, resp)
}

type reloadResponse struct {
	Status   string   `json:"status"`
	Rejected []string `json:"rejected,omitempty"`
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, alarms.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
