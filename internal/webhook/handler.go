package webhook

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"

	errors "github.com/mistic96/payment-broker/internal"
	"github.com/mistic96/payment-broker/internal/transport"
)

// maxBodyBytes caps inbound webhook payloads.
const maxBodyBytes = 1 << 20

type Handler struct {
	transport.BaseHandler
	WebhookService ServiceAPI
	Logger         *slog.Logger
}

func NewHandler(webhookService ServiceAPI, logger *slog.Logger) *Handler {
	return &Handler{
		WebhookService: webhookService,
		Logger:         logger,
	}
}

// Receive handles POST /webhooks/{provider}. The sender gets an
// acknowledgment once the record is durably stored, even when no payment
// could be resolved; only signature and payload failures are rejected.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	if provider == "" {
		h.HandleError(w, errors.NewValidationError("provider is required", errors.ErrCodeValidationFailed))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.Logger.Error("Receive: failed to read webhook body", "error", err, "provider", provider)
		h.HandleError(w, errors.NewValidationError("unreadable request body", errors.ErrCodeInvalidPayload))
		return
	}

	signature := r.Header.Get("X-Webhook-Signature")

	record, err := h.WebhookService.Process(r.Context(), provider, body, signature)
	if err != nil {
		h.Logger.Warn("Receive: webhook rejected", "error", err, "provider", provider)
		h.HandleServiceError(w, err)
		return
	}

	h.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"webhook_id": record.ID,
		"status":     string(record.Status),
	})
}
