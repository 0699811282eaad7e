package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/profundo/internal/api"
	"github.com/cloo-solutions/profundo/internal/service"
)

type StatusProvider interface {
	Status(ctx context.Context) (*service.Status, error)
}

// IndexTrigger schedules a background index run.
type IndexTrigger interface {
	Trigger()
}

type StatusHandler struct {
	status  StatusProvider
	trigger IndexTrigger
}

func NewStatusHandler(status StatusProvider, trigger IndexTrigger) *StatusHandler {
	return &StatusHandler{status: status, trigger: trigger}
}

func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.status.Status(r.Context())
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.Success(w, http.StatusOK, st)
}

// Reindex answers POST /index by scheduling a run. It does not wait for
// the run to finish.
func (h *StatusHandler) Reindex(w http.ResponseWriter, r *http.Request) {
	if h.trigger == nil {
		api.Error(w, http.StatusServiceUnavailable, "background indexing is disabled")
		return
	}
	h.trigger.Trigger()
	api.Success(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}
