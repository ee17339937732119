package api

import (
	"log/slog"
	"net/http"
)

// GetStatus handles GET /api/status
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.supervisor.Status())
}

// BackgroundCheck handles POST /api/check, the hook for an external
// time-boxed scheduler to trigger one poll-and-detect cycle
func (h *Handler) BackgroundCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.supervisor.PerformBackgroundCheck(r.Context()); err != nil {
		h.logger.Error("background check failed",
			slog.String("error", err.Error()),
		)
		h.respondRemoteError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}
