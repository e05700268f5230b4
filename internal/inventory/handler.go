package inventory

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-assets/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-assets/internal/rbac"
	"github.com/odyssey-erp/odyssey-assets/internal/shared"
)

type auditService interface {
	CreateCycle(ctx context.Context, input CreateCycleInput) (Cycle, error)
	GetCycle(ctx context.Context, id int64) (Cycle, error)
	Start(ctx context.Context, cycleID, actorID int64) (Cycle, error)
	CaptureAsset(ctx context.Context, cycleID int64, input CaptureInput) (Capture, error)
	ListCaptures(ctx context.Context, cycleID int64) ([]Capture, error)
	Finalize(ctx context.Context, cycleID, actorID int64) ([]Discrepancy, error)
	Complete(ctx context.Context, cycleID, actorID int64) (Cycle, error)
	ListDiscrepancies(ctx context.Context, cycleID int64) ([]Discrepancy, error)
	Approve(ctx context.Context, discrepancyID, approverID int64, notes string) (Discrepancy, error)
	Reject(ctx context.Context, discrepancyID, approverID int64, reason string) (Discrepancy, error)
	Transitions(ctx context.Context, discrepancyID int64) ([]DiscrepancyStatus, error)
	ApprovalHistory(ctx context.Context, discrepancyID int64) ([]shared.ApprovalLog, error)
}

// Handler wires HTTP endpoints for audit cycles and discrepancies.
type Handler struct {
	logger  *slog.Logger
	service auditService
	rbac    rbac.Middleware
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service auditService, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/audit-cycles", func(r chi.Router) {
		r.With(h.rbac.RequireAll(shared.PermAuditManage)).Post("/", h.createCycle)
		r.Route("/{id}", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.RequireAny(shared.PermAuditView, shared.PermAuditManage))
				r.Get("/", h.getCycle)
				r.Get("/captures", h.listCaptures)
				r.Get("/discrepancies", h.listDiscrepancies)
			})
			r.Group(func(r chi.Router) {
				r.Use(h.rbac.RequireAll(shared.PermAuditManage))
				r.Post("/start", h.startCycle)
				r.Post("/finalize", h.finalizeCycle)
				r.Post("/complete", h.completeCycle)
			})
			r.With(h.rbac.RequireAny(shared.PermAuditCapture, shared.PermAuditManage)).Post("/captures", h.captureAsset)
		})
	})
	r.Route("/discrepancies/{id}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(shared.PermAuditView, shared.PermAuditApprove))
			r.Get("/transitions", h.transitions)
			r.Get("/approvals", h.approvals)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(shared.PermAuditApprove))
			r.Post("/approve", h.approve)
			r.Post("/reject", h.reject)
		})
	})
}

type createCycleRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	LocationID  *int64 `json:"location_id"`
}

type captureRequest struct {
	AssetCode   string `json:"asset_code"`
	LocationID  int64  `json:"location_id"`
	CustodianID *int64 `json:"custodian_id"`
}

type decisionRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

func (h *Handler) createCycle(w http.ResponseWriter, r *http.Request) {
	var req createCycleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	cycle, err := h.service.CreateCycle(r.Context(), CreateCycleInput{
		Title:       req.Title,
		Description: req.Description,
		LocationID:  req.LocationID,
		ActorID:     shared.ActorID(r.Context()),
	})
	if err != nil {
		h.fail(w, "create cycle", 0, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cycle)
}

func (h *Handler) getCycle(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, "get cycle", func(ctx context.Context, id int64) (any, int, error) {
		cycle, err := h.service.GetCycle(ctx, id)
		return cycle, http.StatusOK, err
	})
}

func (h *Handler) startCycle(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, "start cycle", func(ctx context.Context, id int64) (any, int, error) {
		cycle, err := h.service.Start(ctx, id, shared.ActorID(ctx))
		return cycle, http.StatusOK, err
	})
}

func (h *Handler) captureAsset(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.withID(w, r, "capture asset", func(ctx context.Context, id int64) (any, int, error) {
		capture, err := h.service.CaptureAsset(ctx, id, CaptureInput{
			AssetCode:   req.AssetCode,
			LocationID:  req.LocationID,
			CustodianID: req.CustodianID,
			ActorID:     shared.ActorID(ctx),
		})
		return capture, http.StatusCreated, err
	})
}

func (h *Handler) listCaptures(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, "list captures", func(ctx context.Context, id int64) (any, int, error) {
		captures, err := h.service.ListCaptures(ctx, id)
		if captures == nil {
			captures = []Capture{}
		}
		return captures, http.StatusOK, err
	})
}

func (h *Handler) finalizeCycle(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, "finalize cycle", func(ctx context.Context, id int64) (any, int, error) {
		found, err := h.service.Finalize(ctx, id, shared.ActorID(ctx))
		if found == nil {
			found = []Discrepancy{}
		}
		return found, http.StatusOK, err
	})
}

func (h *Handler) completeCycle(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, "complete cycle", func(ctx context.Context, id int64) (any, int, error) {
		cycle, err := h.service.Complete(ctx, id, shared.ActorID(ctx))
		return cycle, http.StatusOK, err
	})
}

func (h *Handler) listDiscrepancies(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, "list discrepancies", func(ctx context.Context, id int64) (any, int, error) {
		rows, err := h.service.ListDiscrepancies(ctx, id)
		if rows == nil {
			rows = []Discrepancy{}
		}
		return rows, http.StatusOK, err
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.withID(w, r, "approve discrepancy", func(ctx context.Context, id int64) (any, int, error) {
		d, err := h.service.Approve(ctx, id, shared.ActorID(ctx), req.Notes)
		return d, http.StatusOK, err
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req decisionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.withID(w, r, "reject discrepancy", func(ctx context.Context, id int64) (any, int, error) {
		d, err := h.service.Reject(ctx, id, shared.ActorID(ctx), req.Reason)
		return d, http.StatusOK, err
	})
}

func (h *Handler) transitions(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, "discrepancy transitions", func(ctx context.Context, id int64) (any, int, error) {
		next, err := h.service.Transitions(ctx, id)
		return map[string]any{"discrepancy_id": id, "transitions": next}, http.StatusOK, err
	})
}

func (h *Handler) approvals(w http.ResponseWriter, r *http.Request) {
	h.withID(w, r, "discrepancy approvals", func(ctx context.Context, id int64) (any, int, error) {
		logs, err := h.service.ApprovalHistory(ctx, id)
		if logs == nil {
			logs = []shared.ApprovalLog{}
		}
		return logs, http.StatusOK, err
	})
}

func (h *Handler) withID(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, int64) (any, int, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	body, status, err := fn(r.Context(), id)
	if err != nil {
		h.fail(w, op, id, err)
		return
	}
	httpx.JSON(w, status, body)
}

func (h *Handler) fail(w http.ResponseWriter, op string, id int64, err error) {
	if h.logger != nil {
		h.logger.Warn("audit "+op, slog.Int64("id", id), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
