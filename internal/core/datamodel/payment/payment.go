package payment

import (
	"encoding/json"
	"time"
)

type Type string

const (
	TypeDeposit    Type = "deposit"
	TypeWithdrawal Type = "withdrawal"
	TypeCrypto     Type = "crypto"
	TypeRefund     Type = "refund"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// IsTerminal reports whether no further transition is legal from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransitionTo encodes the lifecycle machine:
// Pending -> Processing -> {Completed, Failed, Cancelled}, Failed -> Pending
// (retry) or Processing, any non-terminal -> Cancelled.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return false
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCompleted ||
			next == StatusFailed || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	case StatusFailed:
		return next == StatusPending || next == StatusProcessing || next == StatusCancelled
	default:
		return false
	}
}

type Payment struct {
	ID              string          `gorm:"primaryKey"`
	UserID          *string         `gorm:"column:user_id;index"`
	AmountCents     int64           `gorm:"column:amount_cents;not null"`
	Currency        string          `gorm:"column:currency;not null"`
	Type            Type            `gorm:"column:type;not null"`
	Status          Status          `gorm:"column:status;default:pending;index"`
	GatewayID       *int64          `gorm:"column:gateway_id"`
	PaymentMethodID *string         `gorm:"column:payment_method_id"`
	FeeCents        int64           `gorm:"column:fee_cents"`
	NetCents        int64           `gorm:"column:net_cents"`
	Metadata        json.RawMessage `gorm:"column:metadata;type:jsonb"`
	ExternalTxID    string          `gorm:"column:external_tx_id;index"`
	CorrelationID   string          `gorm:"column:correlation_id;index"`
	CreatedAt       time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;default:now()"`
	CompletedAt     *time.Time      `gorm:"column:completed_at"`
	ExpiresAt       time.Time       `gorm:"column:expires_at"`
}

func (Payment) TableName() string {
	return "payments"
}

// IsExpired reports whether the payment's expiry window has passed.
func (p *Payment) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}

type AttemptStatus string

const (
	AttemptPending    AttemptStatus = "pending"
	AttemptProcessing AttemptStatus = "processing"
	AttemptSucceeded  AttemptStatus = "succeeded"
	AttemptFailed     AttemptStatus = "failed"
	AttemptCancelled  AttemptStatus = "cancelled"
)

// Attempt is one execution try of a payment against a provider. Attempts are
// append-only: terminal attempts are never mutated again.
type Attempt struct {
	ID              int64           `gorm:"primaryKey"`
	PaymentID       string          `gorm:"column:payment_id;not null;index"`
	AttemptNumber   int             `gorm:"column:attempt_number;not null"`
	Status          AttemptStatus   `gorm:"column:status;default:pending"`
	GatewayResponse json.RawMessage `gorm:"column:gateway_response;type:jsonb"`
	DurationMs      int64           `gorm:"column:duration_ms"`
	CreatedAt       time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Attempt) TableName() string {
	return "payment_attempts"
}
