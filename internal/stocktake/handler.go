package stocktake

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

// Handler wires HTTP endpoints for the stocktake workflow.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the stocktake handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers stocktake routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.show)
	r.Post("/{id}/counts", h.recordCount)
	r.Post("/{id}/complete", h.complete)
	r.Post("/{id}/cancel", h.cancel)
}

type createForm struct {
	BranchID   int64   `json:"branch_id"`
	Note       string  `json:"note"`
	ProductIDs []int64 `json:"product_ids" validate:"dive,required"`
}

type countForm struct {
	ProductID  int64    `json:"product_id" validate:"required"`
	CountedQty *float64 `json:"counted_qty" validate:"required"`
}

type completeForm struct {
	ApplyAdjustments bool `json:"apply_adjustments"`
}

type stocktakeResponse struct {
	ID          int64          `json:"id"`
	Number      string         `json:"number"`
	BranchID    int64          `json:"branch_id,omitempty"`
	Status      Status         `json:"status"`
	Note        string         `json:"note,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Items       []itemResponse `json:"items,omitempty"`
}

type itemResponse struct {
	ProductID  int64   `json:"product_id"`
	SystemQty  float64 `json:"system_qty"`
	CountedQty float64 `json:"counted_qty"`
	Counted    bool    `json:"counted"`
	Variance   float64 `json:"variance"`
}

func toStocktakeResponse(st Stocktake) stocktakeResponse {
	resp := stocktakeResponse{
		ID:        st.ID,
		Number:    st.Number,
		BranchID:  st.BranchID,
		Status:    st.Status,
		Note:      st.Note,
		CreatedAt: st.CreatedAt,
	}
	if !st.CompletedAt.IsZero() {
		t := st.CompletedAt
		resp.CompletedAt = &t
	}
	for _, item := range st.Items {
		resp.Items = append(resp.Items, toItemResponse(item))
	}
	return resp
}

func toItemResponse(item Item) itemResponse {
	return itemResponse{
		ProductID:  item.ProductID,
		SystemQty:  item.SystemQty,
		CountedQty: item.CountedQty,
		Counted:    item.Counted,
		Variance:   item.Variance(),
	}
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

	st, err := h.service.Create(r.Context(), CreateInput{BranchID: form.BranchID, Note: form.Note, ProductIDs: form.ProductIDs})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toStocktakeResponse(st))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.BranchID, _ = strconv.ParseInt(q.Get("branch_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	stocktakes, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]stocktakeResponse, 0, len(stocktakes))
	for _, st := range stocktakes {
		out = append(out, toStocktakeResponse(st))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"stocktakes": out})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid stocktake id")
		return
	}
	st, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toStocktakeResponse(st))
}

func (h *Handler) recordCount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid stocktake id")
		return
	}
	var form countForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	item, err := h.service.RecordCount(r.Context(), id, CountInput{ProductID: form.ProductID, CountedQty: *form.CountedQty})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid stocktake id")
		return
	}
	form := completeForm{ApplyAdjustments: true}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &form); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
			return
		}
	}

	st, err := h.service.Complete(r.Context(), id, 0, form.ApplyAdjustments)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toStocktakeResponse(st))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid stocktake id")
		return
	}
	st, err := h.service.Cancel(r.Context(), id, 0)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toStocktakeResponse(st))
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientStockError
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidState):
		httpx.Problem(w, http.StatusConflict, "Invalid State", err.Error())
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrNoProducts), errors.Is(err, ErrDuplicateProduct), errors.Is(err, ErrNegativeCount), errors.Is(err, ErrItemNotFound), errors.Is(err, ledger.ErrProductRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrNothingCounted):
		httpx.Problem(w, http.StatusConflict, "Nothing Counted", err.Error())
	case errors.Is(err, ledger.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ledger.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent update, retry the operation")
	default:
		h.logger.Error("stocktake request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
