package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-retail/meridian-pos/internal/ledger"
	"github.com/meridian-retail/meridian-pos/internal/platform/httpx"
)

// Handler wires HTTP endpoints for sales.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs the billing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers sale routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{id}", h.show)
	r.Post("/{id}/pay", h.markPaid)
	r.Post("/{id}/cancel", h.cancel)
}

type createForm struct {
	BranchID     int64          `json:"branch_id"`
	CustomerName string         `json:"customer_name"`
	Note         string         `json:"note"`
	Lines        []lineLineForm `json:"lines" validate:"required,min=1,dive"`
}

type lineLineForm struct {
	ProductID int64   `json:"product_id" validate:"required"`
	Qty       float64 `json:"qty" validate:"required,gt=0"`
	UnitPrice string  `json:"unit_price" validate:"required"`
}

type saleResponse struct {
	ID           int64          `json:"id"`
	Number       string         `json:"number"`
	BranchID     int64          `json:"branch_id,omitempty"`
	Status       Status         `json:"status"`
	CustomerName string         `json:"customer_name,omitempty"`
	Note         string         `json:"note,omitempty"`
	Total        string         `json:"total"`
	CreatedAt    time.Time      `json:"created_at"`
	PaidAt       *time.Time     `json:"paid_at,omitempty"`
	CancelledAt  *time.Time     `json:"cancelled_at,omitempty"`
	Lines        []lineResponse `json:"lines,omitempty"`
}

type lineResponse struct {
	ProductID int64   `json:"product_id"`
	Qty       float64 `json:"qty"`
	UnitPrice string  `json:"unit_price"`
	LineTotal string  `json:"line_total"`
}

func toSaleResponse(sale Sale) saleResponse {
	resp := saleResponse{
		ID:           sale.ID,
		Number:       sale.Number,
		BranchID:     sale.BranchID,
		Status:       sale.Status,
		CustomerName: sale.CustomerName,
		Note:         sale.Note,
		Total:        sale.Total.StringFixed(2),
		CreatedAt:    sale.CreatedAt,
	}
	if !sale.PaidAt.IsZero() {
		t := sale.PaidAt
		resp.PaidAt = &t
	}
	if !sale.CancelledAt.IsZero() {
		t := sale.CancelledAt
		resp.CancelledAt = &t
	}
	for _, line := range sale.Lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ProductID: line.ProductID,
			Qty:       line.Qty,
			UnitPrice: line.UnitPrice.StringFixed(2),
			LineTotal: line.LineTotal.StringFixed(2),
		})
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

	input := CreateInput{BranchID: form.BranchID, CustomerName: form.CustomerName, Note: form.Note}
	for i, line := range form.Lines {
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line "+strconv.Itoa(i+1)+": invalid unit price")
			return
		}
		input.Lines = append(input.Lines, LineInput{ProductID: line.ProductID, Qty: line.Qty, UnitPrice: price})
	}

	sale, err := h.service.Create(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSaleResponse(sale))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Status: Status(q.Get("status"))}
	filter.BranchID, _ = strconv.ParseInt(q.Get("branch_id"), 10, 64)
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if from := q.Get("from"); from != "" {
		filter.From, _ = time.Parse(time.RFC3339, from)
	}
	if to := q.Get("to"); to != "" {
		filter.To, _ = time.Parse(time.RFC3339, to)
	}

	sales, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, err)
		return
	}
	out := make([]saleResponse, 0, len(sales))
	for _, sale := range sales {
		out = append(out, toSaleResponse(sale))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sales": out})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sale id")
		return
	}
	sale, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) markPaid(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sale id")
		return
	}
	sale, err := h.service.MarkPaid(r.Context(), id, 0)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid sale id")
		return
	}
	sale, err := h.service.Cancel(r.Context(), id, 0)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
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
	case errors.Is(err, ErrNoLines), errors.Is(err, ErrInvalidQuantity), errors.Is(err, ErrInvalidPrice):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ledger.ErrProductNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ledger.ErrConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", "concurrent update, retry the operation")
	default:
		h.logger.Error("sale request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}
