package webhook

import (
	"encoding/json"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Webhook is the reconciliation record for one inbound provider delivery.
// Exactly one row is persisted per inbound call regardless of processing
// outcome; the row is the audit trail and the idempotency anchor.
type Webhook struct {
	ID              int64           `gorm:"primaryKey"`
	Provider        string          `gorm:"column:provider;not null;index"`
	RawPayload      json.RawMessage `gorm:"column:raw_payload;type:jsonb"`
	ExternalEventID string          `gorm:"column:external_event_id;index"`
	Signature       string          `gorm:"column:signature"`
	Status          Status          `gorm:"column:status;default:pending"`
	PaymentID       *string         `gorm:"column:payment_id"`
	ErrorDetail     *string         `gorm:"column:error_detail"`
	CreatedAt       time.Time       `gorm:"column:created_at;default:now()"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;default:now()"`
}

func (Webhook) TableName() string {
	return "payment_webhooks"
}
