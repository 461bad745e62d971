package transfer

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-retail/meridian-pos/internal/ledger"
	"github.com/meridian-retail/meridian-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the transfer workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the transfer handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers transfer routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.show)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
}

type createForm struct {
	FromBranchID int64          `json:"from_branch_id" validate:"required"`
	ToBranchID   int64          `json:"to_branch_id" validate:"required"`
	Note         string         `json:"note"`
	Items        []itemLineForm `json:"items" validate:"required,min=1,dive"`
}

type itemLineForm struct {
	ProductID int64   `json:"product_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
}

type transferResponse struct {
	ID           int64          `json:"id"`
	Number       string         `json:"number"`
	FromBranchID int64          `json:"from_branch_id"`
	ToBranchID   int64          `json:"to_branch_id"`
	Status       Status         `json:"status"`
	Note         string         `json:"note,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ApprovedAt   *time.Time     `json:"approved_at,omitempty"`
	Items        []itemResponse `json:"items,omitempty"`
}

type itemResponse struct {
	ProductID int64   `json:"product_id"`
	Qty       float64 `json:"qty"`
}

func toTransferResponse(tr Transfer) transferResponse {
	resp := transferResponse{
		ID:           tr.ID,
		Number:       tr.Number,
		FromBranchID: tr.FromBranchID,
		ToBranchID:   tr.ToBranchID,
		Status:       tr.Status,
		Note:         tr.Note,
		CreatedAt:    tr.CreatedAt,
	}
	if !tr.ApprovedAt.IsZero() {
		t := tr.ApprovedAt
		resp.ApprovedAt = &t
	}
	for _, item := range tr.Items {
		resp.Items = append(resp.Items, itemResponse{ProductID: item.ProductID, Qty: item.Qty})
	}
	return resp
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var form createForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := CreateInput{FromBranchID: form.FromBranchID, ToBranchID: form.ToBranchID, Note: form.Note}
	for _, item := range form.Items {
		input.Items = append(input.Items, ItemInput{ProductID: item.ProductID, Qty: item.Qty})
	}
	tr, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransferResponse(tr))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.BranchID, _ = strconv.ParseInt(q.Get("branch_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	transfers, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]transferResponse, 0, len(transfers))
	for _, tr := range transfers {
		out = append(out, toTransferResponse(tr))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transfers": out})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	tr, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(tr))
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	tr, err := h.service.Complete(r.Context(), id, 0)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(tr))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid transfer id")
		return
	}
	tr, err := h.service.Cancel(r.Context(), id, 0)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransferResponse(tr))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientStockError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrSameBranch), errors.Is(err, ErrBranchRequired), errors.Is(err, ErrNoItems), errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ledger.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent update, retry the operation")
	default:
		h.logger.Error("transfer request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
