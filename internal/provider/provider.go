package provider

import (
	"context"
	"fmt"
	"sync"

	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
)

// Type identifies an external payment rail. The core dispatches through this
// tag and the Registry; it never depends on a concrete integration type.
type Type string

const (
	TypeSquare         Type = "square"
	TypePIX            Type = "pix"
	TypeMoonPay        Type = "moonpay"
	TypeCoinbase       Type = "coinbase"
	TypeDots           Type = "dots"
	TypeInternalWallet Type = "internal_wallet"
)

func (t Type) Valid() bool {
	switch t {
	case TypeSquare, TypePIX, TypeMoonPay, TypeCoinbase, TypeDots, TypeInternalWallet:
		return true
	}
	return false
}

// Result is the synchronous-style outcome of one provider call. Pending or
// Processing results are resolved later by webhook reconciliation.
type Result struct {
	Status       paymentmodel.Status
	ExternalTxID string
	RawResponse  []byte
}

// Verification is the outcome of a payment-method check against a provider.
type Verification struct {
	IsValid  bool
	Metadata map[string]string
}

// GatewayIntegration is the narrow capability the core uses to reach a
// provider. Implementations live outside the lifecycle core; the sandbox
// integration in this package exists for test mode only.
type GatewayIntegration interface {
	Execute(ctx context.Context, p *paymentmodel.Payment) (*Result, error)
	VerifyMethod(ctx context.Context, methodID string) (*Verification, error)
}

// Registry is the dispatch table from provider type to integration.
type Registry struct {
	mu           sync.RWMutex
	integrations map[Type]GatewayIntegration
}

func NewRegistry() *Registry {
	return &Registry{integrations: make(map[Type]GatewayIntegration)}
}

func (r *Registry) Register(t Type, integration GatewayIntegration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integrations[t] = integration
}

func (r *Registry) Resolve(t Type) (GatewayIntegration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	integration, ok := r.integrations[t]
	if !ok {
		return nil, fmt.Errorf("no integration registered for provider %s", t)
	}
	return integration, nil
}

func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]Type, 0, len(r.integrations))
	for t := range r.integrations {
		types = append(types, t)
	}
	return types
}
