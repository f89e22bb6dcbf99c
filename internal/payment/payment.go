package payment

import (
	"context"
	"encoding/json"
	"time"

	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	"github.com/mistic96/payment-broker/internal/gateway"
	"github.com/mistic96/payment-broker/internal/provider"
)

// RepositoryAPI is the payment storage contract. Per-payment mutations go
// through UpdateGuarded so concurrent retry and webhook updates on the same
// payment serialize on the row's updated_at, never on a global lock.
type RepositoryAPI interface {
	Create(ctx context.Context, p *paymentmodel.Payment) error
	GetByID(ctx context.Context, id string) (*paymentmodel.Payment, error)
	GetByExternalTxID(ctx context.Context, externalTxID string) (*paymentmodel.Payment, error)
	GetByCorrelationID(ctx context.Context, correlationID string) (*paymentmodel.Payment, error)
	List(ctx context.Context, filter ListFilter) ([]*paymentmodel.Payment, error)

	// UpdateGuarded applies updates only when the row's updated_at still
	// equals expectedUpdatedAt. Returns false when the row changed
	// underneath the caller.
	UpdateGuarded(ctx context.Context, id string, expectedUpdatedAt time.Time, updates map[string]interface{}) (bool, error)

	CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error)
	CountFailedByUserSince(ctx context.Context, userID string, since time.Time) (int64, error)
	CountSameAmountSince(ctx context.Context, userID string, amountCents int64, since time.Time) (int64, error)
	SumAmountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error)
	FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*paymentmodel.Payment, error)

	CreateAttempt(ctx context.Context, a *paymentmodel.Attempt) error
	CountAttempts(ctx context.Context, paymentID string) (int, error)
	LatestAttempt(ctx context.Context, paymentID string) (*paymentmodel.Attempt, error)
	UpdateAttempt(ctx context.Context, id int64, status paymentmodel.AttemptStatus, gatewayResponse json.RawMessage, durationMs int64) error
}

// ListFilter narrows List queries for the admin surface.
type ListFilter struct {
	UserID   string
	Status   paymentmodel.Status
	Type     paymentmodel.Type
	Currency string
	Limit    int
	Offset   int
}

// CacheAPI is the best-effort cache capability. Failures never fail the
// primary path.
type CacheAPI interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
}

// DepositCodeAPI is what the lifecycle needs from the deposit code engine.
type DepositCodeAPI interface {
	Validate(ctx context.Context, ownerID, code string, amountCents int64, currency string) error
	Consume(ctx context.Context, code, paymentID string) error
}

// RouterAPI selects a provider type for a request.
type RouterAPI interface {
	SelectProvider(req gateway.RouteRequest) (provider.Type, error)
	IsAvailable(p provider.Type, currency string, amountCents int64) bool
}

// CatalogAPI resolves concrete gateway configuration rows.
type CatalogAPI interface {
	GetBestGateway(ctx context.Context, amountCents int64, currency, paymentType, country string) (*gatewaymodel.Gateway, error)
	GetGateway(ctx context.Context, id int64) (*gatewaymodel.Gateway, error)
}

// RefundSender returns rejected deposit funds to the sender. The capability
// is optional: when absent the rejection path records the payment and stops.
type RefundSender interface {
	SendReturn(ctx context.Context, p *paymentmodel.Payment, netCents int64, reason string) error
}

// ServiceAPI is the lifecycle contract consumed by handlers and the webhook
// reconciler.
type ServiceAPI interface {
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*paymentmodel.Payment, error)
	GetPayment(ctx context.Context, id string) (*paymentmodel.Payment, error)
	GetPaymentByExternalTxID(ctx context.Context, externalTxID string) (*paymentmodel.Payment, error)
	GetPaymentByCorrelationID(ctx context.Context, correlationID string) (*paymentmodel.Payment, error)
	ListPayments(ctx context.Context, filter ListFilter) ([]*paymentmodel.Payment, error)
	ApplyResult(ctx context.Context, paymentID string, newStatus paymentmodel.Status, gatewayTxID string) (bool, error)
	Retry(ctx context.Context, paymentID string) (*paymentmodel.Attempt, error)
	Cancel(ctx context.Context, paymentID, reason string) error
	ResolveOpenAttempt(ctx context.Context, paymentID string, status paymentmodel.Status) error
}
