package payment

import (
	"time"

	errors "github.com/mistic96/payment-broker/internal"
	"github.com/mistic96/payment-broker/internal/core/common/validation"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	"github.com/mistic96/payment-broker/internal/provider"
)

// CreatePaymentRequest is the inbound shape for payment creation. UserID is
// optional: system-generated deposits carry no owner.
type CreatePaymentRequest struct {
	UserID            string                 `json:"user_id,omitempty"`
	AmountCents       int64                  `json:"amount_cents"`
	Currency          string                 `json:"currency"`
	Type              paymentmodel.Type      `json:"type"`
	DepositCode       string                 `json:"deposit_code,omitempty"`
	PreferredProvider provider.Type          `json:"preferred_provider,omitempty"`
	Country           string                 `json:"country,omitempty"`
	PaymentMethodID   string                 `json:"payment_method_id,omitempty"`
	CorrelationID     string                 `json:"correlation_id,omitempty"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

var paymentTypes = []string{
	string(paymentmodel.TypeDeposit),
	string(paymentmodel.TypeWithdrawal),
	string(paymentmodel.TypeCrypto),
	string(paymentmodel.TypeRefund),
}

// Validate checks request shape only; business rules (limits, routing,
// deposit codes) belong to the service.
func (r *CreatePaymentRequest) Validate() error {
	validator := validation.NewValidator()

	validator.Field("amount_cents", r.AmountCents).Required().MinInt(1, errors.ErrCodeInvalidAmount)
	validator.Field("currency", r.Currency).Required().CurrencyCode()
	validator.Field("type", string(r.Type)).Required().OneOf(paymentTypes, errors.ErrCodeValidationFailed)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}

	if appErr := validation.ValidateMetadata(r.Metadata); appErr != nil {
		return appErr
	}
	return nil
}

type CancelPaymentRequest struct {
	Reason string `json:"reason"`
}

func (r *CancelPaymentRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("reason", r.Reason).Required().MaxLength(255)

	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

// PaymentResponse is the outbound payment shape.
type PaymentResponse struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id,omitempty"`
	AmountCents  int64             `json:"amount_cents"`
	Currency     string            `json:"currency"`
	Type         paymentmodel.Type `json:"type"`
	Status       string            `json:"status"`
	FeeCents     int64             `json:"fee_cents"`
	NetCents     int64             `json:"net_cents"`
	ExternalTxID string            `json:"external_tx_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
}

func ToPaymentResponse(p *paymentmodel.Payment) *PaymentResponse {
	resp := &PaymentResponse{
		ID:           p.ID,
		AmountCents:  p.AmountCents,
		Currency:     p.Currency,
		Type:         p.Type,
		Status:       string(p.Status),
		FeeCents:     p.FeeCents,
		NetCents:     p.NetCents,
		ExternalTxID: p.ExternalTxID,
		CreatedAt:    p.CreatedAt,
		CompletedAt:  p.CompletedAt,
		ExpiresAt:    p.ExpiresAt,
	}
	if p.UserID != nil {
		resp.UserID = *p.UserID
	}
	return resp
}
