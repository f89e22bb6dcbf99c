package gateway

import (
	"time"

	errors "github.com/mistic96/payment-broker/internal"
	"github.com/mistic96/payment-broker/internal/core/common/validation"
	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
	"github.com/mistic96/payment-broker/internal/provider"
)

// UpsertGatewayRequest is the administrative shape for catalog rows. A zero
// ID inserts; a non-zero ID replaces the existing row.
type UpsertGatewayRequest struct {
	ID                  int64   `json:"id,omitempty"`
	Name                string  `json:"name"`
	Provider            string  `json:"provider"`
	IsActive            bool    `json:"is_active"`
	IsTestMode          bool    `json:"is_test_mode"`
	FeePercent          float64 `json:"fee_percent"`
	FeeFixedCents       int64   `json:"fee_fixed_cents"`
	MinAmountCents      int64   `json:"min_amount_cents"`
	MaxAmountCents      int64   `json:"max_amount_cents"`
	SupportedCurrencies string  `json:"supported_currencies"`
	SupportedCountries  string  `json:"supported_countries,omitempty"`
	Priority            int     `json:"priority"`
}

func (r *UpsertGatewayRequest) Validate() *errors.AppError {
	validator := validation.NewValidator()

	validator.Field("name", r.Name).Required().MaxLength(100)
	validator.Field("provider", r.Provider).Required()
	validator.Field("supported_currencies", r.SupportedCurrencies).Required()

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}

	if !provider.Type(r.Provider).Valid() {
		return errors.NewValidationError("unknown provider", errors.ErrCodeValidationFailed)
	}
	if r.FeePercent < 0 || r.FeeFixedCents < 0 {
		return errors.NewValidationError("fees cannot be negative", errors.ErrCodeValidationFailed)
	}
	if r.MaxAmountCents > 0 && r.MaxAmountCents < r.MinAmountCents {
		return errors.NewValidationError("max_amount_cents is below min_amount_cents", errors.ErrCodeValidationFailed)
	}
	return nil
}

func (r *UpsertGatewayRequest) ToGateway() *gatewaymodel.Gateway {
	return &gatewaymodel.Gateway{
		ID:                  r.ID,
		Name:                r.Name,
		Provider:            r.Provider,
		IsActive:            r.IsActive,
		IsTestMode:          r.IsTestMode,
		FeePercent:          r.FeePercent,
		FeeFixedCents:       r.FeeFixedCents,
		MinAmountCents:      r.MinAmountCents,
		MaxAmountCents:      r.MaxAmountCents,
		SupportedCurrencies: r.SupportedCurrencies,
		SupportedCountries:  r.SupportedCountries,
		Priority:            r.Priority,
	}
}

// GatewayResponse is the outbound catalog row shape.
type GatewayResponse struct {
	ID                  int64     `json:"id"`
	Name                string    `json:"name"`
	Provider            string    `json:"provider"`
	IsActive            bool      `json:"is_active"`
	IsTestMode          bool      `json:"is_test_mode"`
	FeePercent          float64   `json:"fee_percent"`
	FeeFixedCents       int64     `json:"fee_fixed_cents"`
	MinAmountCents      int64     `json:"min_amount_cents"`
	MaxAmountCents      int64     `json:"max_amount_cents"`
	SupportedCurrencies string    `json:"supported_currencies"`
	SupportedCountries  string    `json:"supported_countries,omitempty"`
	Priority            int       `json:"priority"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func ToGatewayResponse(gw *gatewaymodel.Gateway) *GatewayResponse {
	return &GatewayResponse{
		ID:                  gw.ID,
		Name:                gw.Name,
		Provider:            gw.Provider,
		IsActive:            gw.IsActive,
		IsTestMode:          gw.IsTestMode,
		FeePercent:          gw.FeePercent,
		FeeFixedCents:       gw.FeeFixedCents,
		MinAmountCents:      gw.MinAmountCents,
		MaxAmountCents:      gw.MaxAmountCents,
		SupportedCurrencies: gw.SupportedCurrencies,
		SupportedCountries:  gw.SupportedCountries,
		Priority:            gw.Priority,
		UpdatedAt:           gw.UpdatedAt,
	}
}
