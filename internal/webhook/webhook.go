package webhook

import (
	"context"

	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	webhookmodel "github.com/mistic96/payment-broker/internal/core/datamodel/webhook"
)

// NormalizedEvent is the reconciler's sole input shape: every provider's
// native payload is translated into this before any payment is touched.
type NormalizedEvent struct {
	Provider        string
	EventType       string
	ExternalEventID string
	ExternalTxID    string
	CorrelationID   string
	Status          paymentmodel.Status
	FailureReason   string
	RawPayload      []byte
}

// RepositoryAPI persists the per-delivery reconciliation record: one row per
// inbound call, created before any side effect, resolved exactly once.
type RepositoryAPI interface {
	Create(ctx context.Context, w *webhookmodel.Webhook) error
	MarkProcessed(ctx context.Context, id int64, paymentID *string) error
	MarkFailed(ctx context.Context, id int64, errorDetail string) error
	GetByID(ctx context.Context, id int64) (*webhookmodel.Webhook, error)
}

// PaymentAPI is the slice of the payment lifecycle the reconciler drives.
type PaymentAPI interface {
	GetPaymentByExternalTxID(ctx context.Context, externalTxID string) (*paymentmodel.Payment, error)
	GetPaymentByCorrelationID(ctx context.Context, correlationID string) (*paymentmodel.Payment, error)
	ApplyResult(ctx context.Context, paymentID string, newStatus paymentmodel.Status, gatewayTxID string) (bool, error)
	ResolveOpenAttempt(ctx context.Context, paymentID string, status paymentmodel.Status) error
}

// ServiceAPI processes one raw provider delivery end to end.
type ServiceAPI interface {
	Process(ctx context.Context, provider string, body []byte, signature string) (*webhookmodel.Webhook, error)
}
