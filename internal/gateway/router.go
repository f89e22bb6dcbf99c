package gateway

import (
	"log/slog"
	"strings"

	errors "github.com/mistic96/payment-broker/internal"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	"github.com/mistic96/payment-broker/internal/provider"
)

// RouteRequest is the routing view of a payment request.
type RouteRequest struct {
	AmountCents       int64
	Currency          string
	Type              paymentmodel.Type
	PreferredProvider provider.Type
}

// providerFloor encodes a provider's hard constraints: minimum amount and
// supported currency set. An empty currency list means any currency.
type providerFloor struct {
	minAmountCents int64
	currencies     []string
}

var providerFloors = map[provider.Type]providerFloor{
	provider.TypeSquare:         {minAmountCents: 100, currencies: []string{"USD", "CAD", "GBP", "EUR", "AUD", "JPY"}},
	provider.TypePIX:            {minAmountCents: 100, currencies: []string{"BRL"}},
	provider.TypeMoonPay:        {minAmountCents: 2000, currencies: []string{"USD", "EUR", "GBP"}},
	provider.TypeCoinbase:       {minAmountCents: 100, currencies: []string{"USD", "EUR", "GBP", "BTC", "ETH", "USDC"}},
	provider.TypeDots:           {minAmountCents: 100, currencies: []string{"USD"}},
	provider.TypeInternalWallet: {minAmountCents: 1},
}

// fiatPreference is the fixed currency-to-provider preference table used when
// the caller expressed no usable preference.
var fiatPreference = map[string]provider.Type{
	"USD": provider.TypeSquare,
	"BRL": provider.TypePIX,
	"EUR": provider.TypeMoonPay,
}

const fallbackProvider = provider.TypeSquare

// Router picks a provider type for a transaction. It is deliberately
// stateless: catalog-level filtering and health live in the Service, the
// router only encodes the preference table and provider floors.
type Router struct {
	logger *slog.Logger
}

func NewRouter(logger *slog.Logger) *Router {
	return &Router{logger: logger}
}

// SelectProvider honors an explicit caller preference when the provider can
// take the amount/currency, routes crypto payments to the internal wallet,
// and routes fiat by the currency preference table. The returned provider is
// always available for the request; an unroutable request is a routing
// failure, not a provider failure.
func (r *Router) SelectProvider(req RouteRequest) (provider.Type, error) {
	if req.PreferredProvider != "" {
		if !req.PreferredProvider.Valid() {
			return "", errors.NewValidationError("unknown provider preference", errors.ErrCodeValidationFailed)
		}
		if r.IsAvailable(req.PreferredProvider, req.Currency, req.AmountCents) {
			r.logger.Debug("honoring provider preference", "provider", req.PreferredProvider)
			return req.PreferredProvider, nil
		}
		r.logger.Info("preferred provider unavailable for request, falling back to routing table",
			"provider", req.PreferredProvider,
			"currency", req.Currency,
			"amount_cents", req.AmountCents)
	}

	var selected provider.Type
	if req.Type == paymentmodel.TypeCrypto {
		selected = provider.TypeInternalWallet
	} else if preferred, ok := fiatPreference[strings.ToUpper(req.Currency)]; ok {
		selected = preferred
	} else {
		selected = fallbackProvider
	}

	if !r.IsAvailable(selected, req.Currency, req.AmountCents) {
		r.logger.Warn("no provider available",
			"currency", req.Currency,
			"amount_cents", req.AmountCents,
			"type", req.Type)
		return "", errors.ErrNoGatewayAvailable
	}

	return selected, nil
}

// IsAvailable checks a provider's floor constraints. This predicate must pass
// before any provider call is attempted.
func (r *Router) IsAvailable(p provider.Type, currency string, amountCents int64) bool {
	floor, ok := providerFloors[p]
	if !ok {
		return false
	}
	if amountCents < floor.minAmountCents {
		return false
	}
	if len(floor.currencies) == 0 {
		return true
	}
	currency = strings.ToUpper(currency)
	for _, c := range floor.currencies {
		if c == currency {
			return true
		}
	}
	return false
}
