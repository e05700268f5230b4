package depreciation

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-assets/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-assets/internal/rbac"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

type depreciationService interface {
	PreviewSchedule(ctx context.Context, assetID int64) (Schedule, error)
	PersistSchedule(ctx context.Context, assetID, actorID int64) (Schedule, error)
	CurrentValuation(ctx context.Context, assetID int64) (Valuation, error)
	ValuationAt(ctx context.Context, assetID int64, at time.Time) (Valuation, error)
}

// RefreshQueue schedules background depreciation refreshes.
type RefreshQueue interface {
	EnqueueDepreciationRefresh(ctx context.Context, assetID int64) (string, error)
}

// Handler exposes depreciation endpoints.
type Handler struct {
	logger  *slog.Logger
	service depreciationService
	queue   RefreshQueue
	rbac    rbac.Middleware
}

// NewHandler constructs depreciation handler.
func NewHandler(logger *slog.Logger, service depreciationService, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// WithRefreshQueue enables POST /depreciation/refresh.
func (h *Handler) WithRefreshQueue(queue RefreshQueue) *Handler {
	h.queue = queue
	return h
}

// MountRoutes registers depreciation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/assets/{id}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermDepreciationView, shared.PermDepreciationManage))
			r.Get("/depreciation/schedule", h.previewSchedule)
			r.Get("/valuation", h.valuation)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermDepreciationManage))
			r.Post("/depreciation/schedule", h.persistSchedule)
		})
	})
	r.With(h.rbac.RequireAll(shared.PermDepreciationManage)).Post("/depreciation/refresh", h.enqueueRefresh)
}

func (h *Handler) previewSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	schedule, err := h.service.PreviewSchedule(r.Context(), id)
	if err != nil {
		h.fail(w, "preview schedule", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, schedule)
}

func (h *Handler) persistSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	schedule, err := h.service.PersistSchedule(r.Context(), id, shared.ActorID(r.Context()))
	if err != nil {
		h.fail(w, "persist schedule", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, schedule)
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var v Valuation
	if raw := r.URL.Query().Get("at"); raw != "" {
		at, perr := time.Parse("2006-01-02", raw)
		if perr != nil {
			httpx.RespondError(w, shared.Validationf("invalid at date %q", raw))
			return
		}
		v, err = h.service.ValuationAt(r.Context(), id, at)
	} else {
		v, err = h.service.CurrentValuation(r.Context(), id)
	}
	if err != nil {
		h.fail(w, "valuation", id, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) enqueueRefresh(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "background refresh is not configured")
		return
	}
	var assetID int64
	if raw := r.URL.Query().Get("asset"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			httpx.RespondError(w, shared.Validationf("invalid asset %q", raw))
			return
		}
		assetID = id
	}
	taskID, err := h.queue.EnqueueDepreciationRefresh(r.Context(), assetID)
	if err != nil {
		h.fail(w, "enqueue refresh", assetID, err)
		return
	}
	httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID, "asset_id": assetID})
}

func (h *Handler) fail(w http.ResponseWriter, op string, assetID int64, err error) {
	if h.logger != nil {
		h.logger.Error("depreciation "+op, slog.Int64("asset_id", assetID), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
