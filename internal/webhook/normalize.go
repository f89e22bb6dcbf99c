package webhook

import (
	"encoding/json"
	"strings"

	errors "github.com/mistic96/payment-broker/internal"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	"github.com/mistic96/payment-broker/internal/provider"
)

// genericPayload covers the field names the supported providers use. Each
// provider fills a subset; normalization reads whichever is present.
type genericPayload struct {
	EventID       string `json:"event_id"`
	ID            string `json:"id"`
	EventType     string `json:"event_type"`
	Type          string `json:"type"`
	Status        string `json:"status"`
	State         string `json:"state"`
	ExternalTxID  string `json:"external_tx_id"`
	TransactionID string `json:"transaction_id"`
	PaymentID     string `json:"payment_id"`
	CorrelationID string `json:"correlation_id"`
	OrderID       string `json:"order_id"`
	FailureReason string `json:"failure_reason"`
}

// squareStatuses maps Square payment states. APPROVED means authorized but
// not yet captured.
var squareStatuses = map[string]paymentmodel.Status{
	"COMPLETED": paymentmodel.StatusCompleted,
	"APPROVED":  paymentmodel.StatusProcessing,
	"PENDING":   paymentmodel.StatusProcessing,
	"FAILED":    paymentmodel.StatusFailed,
	"CANCELED":  paymentmodel.StatusCancelled,
}

// pixStatuses maps the instant-payment rail's transfer states.
var pixStatuses = map[string]paymentmodel.Status{
	"CONCLUIDA":              paymentmodel.StatusCompleted,
	"ATIVA":                  paymentmodel.StatusProcessing,
	"EM_PROCESSAMENTO":       paymentmodel.StatusProcessing,
	"DEVOLVIDA":              paymentmodel.StatusFailed,
	"REMOVIDA_PELO_USUARIO":  paymentmodel.StatusCancelled,
	"REMOVIDA_PELO_PSP":      paymentmodel.StatusCancelled,
	"NAO_REALIZADO":          paymentmodel.StatusFailed,
}

var moonpayStatuses = map[string]paymentmodel.Status{
	"completed":      paymentmodel.StatusCompleted,
	"pending":        paymentmodel.StatusProcessing,
	"waitingPayment": paymentmodel.StatusProcessing,
	"failed":         paymentmodel.StatusFailed,
}

var coinbaseStatuses = map[string]paymentmodel.Status{
	"charge:confirmed": paymentmodel.StatusCompleted,
	"charge:resolved":  paymentmodel.StatusCompleted,
	"charge:created":   paymentmodel.StatusProcessing,
	"charge:pending":   paymentmodel.StatusProcessing,
	"charge:failed":    paymentmodel.StatusFailed,
	"charge:expired":   paymentmodel.StatusFailed,
}

var dotsStatuses = map[string]paymentmodel.Status{
	"completed": paymentmodel.StatusCompleted,
	"created":   paymentmodel.StatusProcessing,
	"pending":   paymentmodel.StatusProcessing,
	"failed":    paymentmodel.StatusFailed,
	"cancelled": paymentmodel.StatusCancelled,
}

// internalStatuses covers the internal wallet and the sandbox, which speak
// our own status vocabulary.
var internalStatuses = map[string]paymentmodel.Status{
	"completed":  paymentmodel.StatusCompleted,
	"processing": paymentmodel.StatusProcessing,
	"pending":    paymentmodel.StatusProcessing,
	"failed":     paymentmodel.StatusFailed,
	"cancelled":  paymentmodel.StatusCancelled,
}

var providerStatusMaps = map[string]map[string]paymentmodel.Status{
	string(provider.TypeSquare):         squareStatuses,
	string(provider.TypePIX):            pixStatuses,
	string(provider.TypeMoonPay):        moonpayStatuses,
	string(provider.TypeCoinbase):       coinbaseStatuses,
	string(provider.TypeDots):           dotsStatuses,
	string(provider.TypeInternalWallet): internalStatuses,
}

// Normalize translates a provider's native payload into the reconciler's
// event shape. An unmapped (eventType, status) pair yields Processing: never
// dropped, never assumed terminal.
func Normalize(providerName string, body []byte) (*NormalizedEvent, error) {
	var p genericPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, errors.NewReconciliationError("webhook payload is not valid JSON", errors.ErrCodeInvalidPayload).WithCause(err)
	}

	event := &NormalizedEvent{
		Provider:      providerName,
		EventType:     firstNonEmpty(p.EventType, p.Type),
		ExternalTxID:  firstNonEmpty(p.ExternalTxID, p.TransactionID, p.PaymentID),
		CorrelationID: firstNonEmpty(p.CorrelationID, p.OrderID),
		FailureReason: p.FailureReason,
		RawPayload:    body,
	}
	event.ExternalEventID = firstNonEmpty(p.EventID, p.ID)
	if event.ExternalEventID == "" && event.EventType == "" && event.ExternalTxID == "" && event.CorrelationID == "" {
		return nil, errors.NewReconciliationError("webhook payload carries no recognizable fields", errors.ErrCodeInvalidPayload)
	}

	event.Status = mapStatus(providerName, event.EventType, firstNonEmpty(p.Status, p.State))
	return event, nil
}

func mapStatus(providerName, eventType, providerStatus string) paymentmodel.Status {
	statuses, ok := providerStatusMaps[strings.ToLower(providerName)]
	if !ok {
		return paymentmodel.StatusProcessing
	}
	if s, ok := statuses[providerStatus]; ok {
		return s
	}
	// Some providers put the state in the event type alone.
	if s, ok := statuses[eventType]; ok {
		return s
	}
	return paymentmodel.StatusProcessing
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
