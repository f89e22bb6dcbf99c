package payment

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	errors "github.com/mistic96/payment-broker/internal"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	"github.com/mistic96/payment-broker/internal/transport"
)

type Handler struct {
	transport.BaseHandler
	PaymentService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(paymentService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		PaymentService: paymentService,
		Logger:         logger,
	}
}

// CreatePayment handles POST /api/v1/payments
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("CreatePayment: failed to parse request body", "error", err)
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}

	if req.UserID == "" {
		req.UserID = errors.UserIDFromContext(r.Context())
	}
	if req.CorrelationID == "" {
		req.CorrelationID = errors.CorrelationIDFromContext(r.Context())
	}

	p, err := h.PaymentService.CreatePayment(r.Context(), &req)
	if err != nil {
		h.Logger.Error("CreatePayment: service error", "error", err, "currency", req.Currency)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("CreatePayment: payment created",
		"payment_id", p.ID,
		"status", string(p.Status),
		"amount_cents", p.AmountCents,
		"currency", p.Currency)

	h.WriteJSON(w, http.StatusCreated, ToPaymentResponse(p))
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.HandleError(w, errors.NewValidationError("payment id is required", errors.ErrCodeValidationFailed))
		return
	}

	p, err := h.PaymentService.GetPayment(r.Context(), id)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, ToPaymentResponse(p))
}

// ListPayments handles GET /api/v1/payments
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		UserID:   r.URL.Query().Get("user_id"),
		Currency: r.URL.Query().Get("currency"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = paymentmodel.Status(status)
	}
	if paymentType := r.URL.Query().Get("type"); paymentType != "" {
		filter.Type = paymentmodel.Type(paymentType)
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			filter.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil {
			filter.Offset = n
		}
	}

	payments, err := h.PaymentService.ListPayments(r.Context(), filter)
	if err != nil {
		h.HandleServiceError(w, err)
		return
	}

	responses := make([]*PaymentResponse, 0, len(payments))
	for _, p := range payments {
		responses = append(responses, ToPaymentResponse(p))
	}
	h.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": responses})
}

// RetryPayment handles POST /api/v1/payments/{id}/retry
func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.HandleError(w, errors.NewValidationError("payment id is required", errors.ErrCodeValidationFailed))
		return
	}

	attempt, err := h.PaymentService.Retry(r.Context(), id)
	if err != nil {
		h.Logger.Error("RetryPayment: service error", "error", err, "payment_id", id)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("RetryPayment: retry executed",
		"payment_id", id,
		"attempt_number", attempt.AttemptNumber,
		"attempt_status", string(attempt.Status))

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id":     id,
		"attempt_number": attempt.AttemptNumber,
		"attempt_status": string(attempt.Status),
	})
}

// CancelPayment handles POST /api/v1/payments/{id}/cancel
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.HandleError(w, errors.NewValidationError("payment id is required", errors.ErrCodeValidationFailed))
		return
	}

	var req CancelPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeValidationFailed))
		return
	}
	if err := req.Validate(); err != nil {
		h.HandleServiceError(w, err)
		return
	}

	if err := h.PaymentService.Cancel(r.Context(), id, req.Reason); err != nil {
		h.Logger.Error("CancelPayment: service error", "error", err, "payment_id", id)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"payment_id": id,
		"status":     string(paymentmodel.StatusCancelled),
	})
}
