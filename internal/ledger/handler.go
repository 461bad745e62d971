package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-retail/meridian-pos/internal/platform/httpx"
	"github.com/meridian-retail/meridian-pos/internal/shared"
)

// Handler wires HTTP endpoints for the stock ledger.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/movements", h.recordMovement)
	r.Get("/movements", h.listMovements)
	r.Get("/products/{id}/reconstructed", h.reconstruct)
	r.Post("/products/{id}/rebuild", h.rebuild)
}

type movementForm struct {
	ProductID int64   `json:"product_id" validate:"required"`
	BranchID  int64   `json:"branch_id"`
	Kind      string  `json:"kind" validate:"required,oneof=IN OUT ADJUSTMENT"`
	Qty       float64 `json:"qty" validate:"required"`
	BatchNo   string  `json:"batch_no"`
	ExpiresAt string  `json:"expires_at"`
	RefModule string  `json:"ref_module"`
	RefID     string  `json:"ref_id"`
	Note      string  `json:"note"`
}

type movementResponse struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	BranchID  int64     `json:"branch_id,omitempty"`
	Kind      Kind      `json:"kind"`
	Qty       float64   `json:"qty"`
	BatchNo   string    `json:"batch_no,omitempty"`
	ExpiresAt string    `json:"expires_at,omitempty"`
	RefModule string    `json:"ref_module,omitempty"`
	RefID     string    `json:"ref_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	PostedAt  time.Time `json:"posted_at"`
}

func toMovementResponse(mv Movement) movementResponse {
	resp := movementResponse{
		ID:        mv.ID,
		ProductID: mv.ProductID,
		BranchID:  mv.BranchID,
		Kind:      mv.Kind,
		Qty:       mv.Qty,
		BatchNo:   mv.Batch,
		RefModule: mv.RefModule,
		RefID:     mv.RefID,
		Note:      mv.Note,
		PostedAt:  mv.PostedAt,
	}
	if !mv.Expiry.IsZero() {
		resp.ExpiresAt = mv.Expiry.Format("2006-01-02")
	}
	return resp
}

func (h *Handler) recordMovement(w http.ResponseWriter, r *http.Request) {
	var form movementForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "request body must be valid JSON")
		return
	}
	if err := h.validate.Struct(form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := MovementInput{
		ProductID:      form.ProductID,
		BranchID:       form.BranchID,
		Kind:           Kind(form.Kind),
		Qty:            form.Qty,
		Batch:          form.BatchNo,
		RefModule:      form.RefModule,
		RefID:          form.RefID,
		Note:           form.Note,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if input.RefModule == "" {
		input.RefModule = "MANUAL"
	}
	if form.ExpiresAt != "" {
		expiry, err := time.Parse("2006-01-02", form.ExpiresAt)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "expires_at must be YYYY-MM-DD")
			return
		}
		input.Expiry = expiry
	}

	mv, err := h.service.Record(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toMovementResponse(mv))
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := Filter{
		Kind:      Kind(q.Get("kind")),
		RefModule: q.Get("ref_module"),
		RefID:     q.Get("ref_id"),
	}
	filter.ProductID, _ = strconv.ParseInt(q.Get("product_id"), 10, 64)
	filter.BranchID, _ = strconv.ParseInt(q.Get("branch_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if from := q.Get("from"); from != "" {
		t, err := time.Parse("2006-01-02", from)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "from must be YYYY-MM-DD")
			return
		}
		filter.From = t
	}
	if to := q.Get("to"); to != "" {
		t, err := time.Parse("2006-01-02", to)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "to must be YYYY-MM-DD")
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}

	movements, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, mv := range movements {
		out = append(out, toMovementResponse(mv))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) reconstruct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	sum, err := h.service.Reconstruct(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": id, "reconstructed_stock": sum})
}

func (h *Handler) rebuild(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid product id")
		return
	}
	qty, err := h.service.Rebuild(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": id, "stock": qty})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientStockError
	switch {
	case errors.As(err, &insufficient):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficient.Error())
	case errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidKind), errors.Is(err, ErrProductRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent update, retry the operation")
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		h.logger.Error("ledger request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
