package depositcode

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusUnderReview Status = "under_review"
	StatusUsed        Status = "used"
	StatusRejected    Status = "rejected"
	StatusExpired     Status = "expired"
)

// Code is a single-use deposit code. Codes are stored upper-cased and
// uniqueness is enforced case-insensitively by the storage layer (unique
// index on lower(code)).
type Code struct {
	ID          int64           `gorm:"primaryKey"`
	Code        string          `gorm:"column:code;not null"`
	UserID      *string         `gorm:"column:user_id;index"`
	Status      Status          `gorm:"column:status;default:active;index"`
	AmountCents int64           `gorm:"column:amount_cents"`
	Currency    string          `gorm:"column:currency"`
	PaymentID   *string         `gorm:"column:payment_id"`
	Metadata    json.RawMessage `gorm:"column:metadata;type:jsonb"`
	CreatedAt   time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;default:now()"`
	ExpiresAt   time.Time       `gorm:"column:expires_at"`
}

func (Code) TableName() string {
	return "deposit_codes"
}

// IsExpired reports whether the code's expiry has passed.
func (c *Code) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Unconstrained reports whether the code accepts any amount and currency.
// A zero amount means "any amount"; an empty currency means "any currency".
func (c *Code) Unconstrained() bool {
	return c.AmountCents == 0 && c.Currency == ""
}
