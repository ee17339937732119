package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkovalv/pvewatch/internal/model"
	"github.com/mkovalv/pvewatch/internal/orchestrator"
	"github.com/mkovalv/pvewatch/internal/proxmox"
	"github.com/mkovalv/pvewatch/internal/scheduler"
)

// ListGuests handles GET /api/guests
func (h *Handler) ListGuests(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.latestSnapshot()
	if !ok {
		// Nothing cached yet (monitoring just started or disabled); fall
		// back to one manual refresh.
		poller := h.supervisor.Poller()
		if poller == nil {
			h.respondError(w, http.StatusServiceUnavailable, "monitoring is not running")
			return
		}
		var err error
		snapshot, err = poller.RefreshOnce(r.Context())
		if err != nil {
			h.respondRemoteError(w, err)
			return
		}
	}

	h.respondJSON(w, http.StatusOK, snapshot.Guests)
}

// ListNodes handles GET /api/nodes
func (h *Handler) ListNodes(w http.ResponseWriter, r *http.Request) {
	snapshot, ok := h.latestSnapshot()
	if !ok {
		h.respondError(w, http.StatusServiceUnavailable, "no snapshot available yet")
		return
	}
	h.respondJSON(w, http.StatusOK, snapshot.Nodes)
}

// GetGuest handles GET /api/guests/{node}/{vmid}
func (h *Handler) GetGuest(w http.ResponseWriter, r *http.Request) {
	key, kind, ok := h.guestParams(w, r)
	if !ok {
		return
	}

	cacheKey := "detail/" + key.String()
	if cached, found := h.cache.Get(cacheKey); found {
		h.respondJSON(w, http.StatusOK, cached)
		return
	}

	detail, err := h.client.GuestDetail(r.Context(), key, kind)
	if err != nil {
		h.respondRemoteError(w, err)
		return
	}

	h.cache.Set(cacheKey, detail, 2*time.Second)
	h.respondJSON(w, http.StatusOK, detail)
}

// GetGuestHistory handles GET /api/guests/{node}/{vmid}/history
func (h *Handler) GetGuestHistory(w http.ResponseWriter, r *http.Request) {
	key, kind, ok := h.guestParams(w, r)
	if !ok {
		return
	}

	window := h.cfg.Poll.DashboardWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			h.respondError(w, http.StatusBadRequest, "invalid window")
			return
		}
		window = parsed
	}

	samples, err := h.client.HistoricalSamples(r.Context(), key, kind, window)
	if err != nil {
		h.respondRemoteError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, samples)
}

// PerformAction handles POST /api/guests/{node}/{vmid}/{action}
func (h *Handler) PerformAction(w http.ResponseWriter, r *http.Request) {
	key, kind, ok := h.guestParams(w, r)
	if !ok {
		return
	}

	action := model.ActionKind(chi.URLParam(r, "action"))
	if !action.Valid() {
		h.respondError(w, http.StatusBadRequest, "unsupported action")
		return
	}

	opts := orchestrator.Options{
		Force: r.URL.Query().Get("force") == "true",
	}

	guest := model.Guest{Key: key, Kind: kind}
	if snapshot, found := h.latestSnapshot(); found {
		if g, present := snapshot.Guest(key); present {
			guest = g
		}
	}

	if err := h.orchestrator.Perform(r.Context(), guest, action, opts); err != nil {
		h.logger.Error("action failed",
			slog.String("guest", key.String()),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		h.respondRemoteError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{
		"guest":  key.String(),
		"action": string(action),
		"result": "ok",
	})
}

// guestParams extracts and validates the {node}/{vmid} pair plus the kind
// query parameter (default qemu)
func (h *Handler) guestParams(w http.ResponseWriter, r *http.Request) (model.GuestKey, model.GuestKind, bool) {
	node := chi.URLParam(r, "node")
	vmidRaw := chi.URLParam(r, "vmid")

	vmid, err := strconv.Atoi(vmidRaw)
	if node == "" || err != nil || vmid <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid guest identifier")
		return model.GuestKey{}, "", false
	}

	kind := model.GuestKind(r.URL.Query().Get("kind"))
	switch kind {
	case "":
		kind = model.KindQemu
	case model.KindQemu, model.KindLXC:
	default:
		h.respondError(w, http.StatusBadRequest, "kind must be qemu or lxc")
		return model.GuestKey{}, "", false
	}

	return model.GuestKey{Node: node, VMID: vmid}, kind, true
}

func (h *Handler) latestSnapshot() (model.PollSnapshot, bool) {
	cached, found := h.cache.Get(scheduler.SnapshotCacheKey)
	if !found {
		return model.PollSnapshot{}, false
	}
	snapshot, ok := cached.(model.PollSnapshot)
	return snapshot, ok
}

// respondRemoteError maps the client and orchestrator error taxonomy to
// HTTP status codes
func (h *Handler) respondRemoteError(w http.ResponseWriter, err error) {
	var reqErr *proxmox.RequestError
	var decodeErr *proxmox.DecodeError

	switch {
	case errors.Is(err, proxmox.ErrInvalidTarget):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, proxmox.ErrNoEntities):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrJobPollTimeout):
		h.respondError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, scheduler.ErrRefreshInFlight):
		h.respondError(w, http.StatusConflict, err.Error())
	case errors.As(err, &reqErr), errors.As(err, &decodeErr):
		h.respondError(w, http.StatusBadGateway, err.Error())
	default:
		h.respondError(w, http.StatusInternalServerError, err.Error())
	}
}
