package gateway

import (
	"context"

	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
)

// RepositoryAPI is the catalog storage contract, declared here on the
// consumer side.
type RepositoryAPI interface {
	GetByID(ctx context.Context, id int64) (*gatewaymodel.Gateway, error)
	GetAll(ctx context.Context) ([]*gatewaymodel.Gateway, error)
	GetActive(ctx context.Context) ([]*gatewaymodel.Gateway, error)
	Upsert(ctx context.Context, gw *gatewaymodel.Gateway) error
}

// ServiceAPI is what the payment lifecycle needs from the catalog.
type ServiceAPI interface {
	GetBestGateway(ctx context.Context, amountCents int64, currency, paymentType, country string) (*gatewaymodel.Gateway, error)
	GetGateway(ctx context.Context, id int64) (*gatewaymodel.Gateway, error)
	ListGateways(ctx context.Context) ([]*gatewaymodel.Gateway, error)
}

// HealthAPI answers whether a configured gateway is currently usable and
// records provider outcomes that feed that answer.
type HealthAPI interface {
	IsHealthy(ctx context.Context, gatewayID int64) bool
	MarkUnhealthy(ctx context.Context, gatewayID int64)
	MarkHealthy(ctx context.Context, gatewayID int64)
}
