// Package fees computes rejection and gateway fee breakdowns. Everything here
// is a pure function of its inputs; the values below are the fallback schedule
// used when no external fee service answered.
package fees

import (
	"strings"

	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
)

// Default fiat rejection schedule, all amounts in cents.
const (
	defaultWireFeeCents     = 2500 // flat return-wire fee
	defaultInternalFeeCents = 1000 // flat handling fee
	processorFeeRate        = 0.029
)

// Default crypto rejection schedule.
const (
	btcNetworkFeeCents        = 2500
	ethNetworkFeeCents        = 2000
	stablecoinNetworkFeeCents = 1000
	trcStablecoinFeeCents     = 1500
	fallbackNetworkFeeCents   = 1500
	cryptoInternalFeeRate     = 0.01
)

// FiatBreakdown is the fee decomposition for a rejected fiat deposit.
// NetCents is clamped at zero; Clamped marks results where computed fees
// exceeded the deposit, so callers can warn instead of failing the rejection.
type FiatBreakdown struct {
	WireFeeCents      int64
	ProcessorFeeCents int64
	InternalFeeCents  int64
	TotalFeeCents     int64
	NetCents          int64
	Clamped           bool
}

// CryptoBreakdown is the fee decomposition for a rejected crypto deposit.
type CryptoBreakdown struct {
	NetworkFeeCents  int64
	InternalFeeCents int64
	TotalFeeCents    int64
	NetCents         int64
	Clamped          bool
}

// FiatRejectionFees computes the return economics for a rejected fiat
// deposit: flat wire fee + percentage processor fee + flat internal fee.
// gatewayType, methodType and reason are reserved for schedule overrides and
// currently do not change the default schedule.
func FiatRejectionFees(amountCents int64, currency, gatewayType, methodType, reason string) FiatBreakdown {
	b := FiatBreakdown{
		WireFeeCents:      defaultWireFeeCents,
		ProcessorFeeCents: int64(float64(amountCents) * processorFeeRate),
		InternalFeeCents:  defaultInternalFeeCents,
	}
	b.TotalFeeCents = b.WireFeeCents + b.ProcessorFeeCents + b.InternalFeeCents
	b.NetCents = amountCents - b.TotalFeeCents
	if b.NetCents < 0 {
		b.NetCents = 0
		b.Clamped = true
	}
	return b
}

// CryptoRejectionFees computes the return economics for a rejected crypto
// deposit: symbol-specific flat network fee + 1% internal fee.
func CryptoRejectionFees(amountCents int64, symbol, network, reason string) CryptoBreakdown {
	b := CryptoBreakdown{
		NetworkFeeCents:  networkFeeFor(symbol, network),
		InternalFeeCents: int64(float64(amountCents) * cryptoInternalFeeRate),
	}
	b.TotalFeeCents = b.NetworkFeeCents + b.InternalFeeCents
	b.NetCents = amountCents - b.TotalFeeCents
	if b.NetCents < 0 {
		b.NetCents = 0
		b.Clamped = true
	}
	return b
}

func networkFeeFor(symbol, network string) int64 {
	switch strings.ToUpper(symbol) {
	case "BTC":
		return btcNetworkFeeCents
	case "ETH":
		return ethNetworkFeeCents
	case "USDC", "DAI":
		return stablecoinNetworkFeeCents
	case "USDT":
		// TRC20 transfers are cheap but the exchanges charge a higher
		// flat withdrawal fee for them.
		if strings.EqualFold(network, "TRC20") {
			return trcStablecoinFeeCents
		}
		return stablecoinNetworkFeeCents
	default:
		return fallbackNetworkFeeCents
	}
}

// GatewayFees applies a gateway's percentage + fixed fee model to a payment
// amount, returning (feeCents, netCents). Used on the happy path at creation.
func GatewayFees(amountCents int64, gw *gatewaymodel.Gateway) (int64, int64) {
	fee := gw.TotalFeeCents(amountCents)
	net := amountCents - fee
	if net < 0 {
		net = 0
		fee = amountCents
	}
	return fee, net
}
