package depositcode

import (
	"time"

	errors "github.com/mistic96/payment-broker/internal"
	"github.com/mistic96/payment-broker/internal/core/common/validation"
	codemodel "github.com/mistic96/payment-broker/internal/core/datamodel/depositcode"
)

// GenerateCodeRequest creates a new code. All fields are optional: an empty
// owner means anyone can use the code, a zero amount and empty currency mean
// the code is unconstrained.
type GenerateCodeRequest struct {
	UserID      string `json:"user_id,omitempty"`
	AmountCents int64  `json:"amount_cents,omitempty"`
	Currency    string `json:"currency,omitempty"`
}

func (r *GenerateCodeRequest) Validate() error {
	validator := validation.NewValidator()
	if r.AmountCents != 0 {
		validator.Field("amount_cents", r.AmountCents).MinInt(1, errors.ErrCodeInvalidAmount)
	}
	if r.Currency != "" {
		validator.Field("currency", r.Currency).CurrencyCode()
	}
	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type RejectCodeRequest struct {
	Reason string `json:"reason"`
}

func (r *RejectCodeRequest) Validate() error {
	validator := validation.NewValidator()
	validator.Field("reason", r.Reason).Required().MaxLength(255)
	if appErr := validator.Validate(); appErr != nil {
		return appErr
	}
	return nil
}

type CodeResponse struct {
	ID          int64     `json:"id"`
	Code        string    `json:"code"`
	UserID      string    `json:"user_id,omitempty"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency,omitempty"`
	PaymentID   string    `json:"payment_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func ToCodeResponse(c *codemodel.Code) *CodeResponse {
	resp := &CodeResponse{
		ID:          c.ID,
		Code:        c.Code,
		Status:      string(c.Status),
		AmountCents: c.AmountCents,
		Currency:    c.Currency,
		CreatedAt:   c.CreatedAt,
		ExpiresAt:   c.ExpiresAt,
	}
	if c.UserID != nil {
		resp.UserID = *c.UserID
	}
	if c.PaymentID != nil {
		resp.PaymentID = *c.PaymentID
	}
	return resp
}
