package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypePaymentCompleted    = "payment.completed"
	EventTypePaymentFailed       = "payment.failed"
	EventTypePaymentRejected     = "payment.rejected"
	EventTypePaymentCancelled    = "payment.cancelled"
	EventTypeDepositCodeCreated  = "deposit_code.created"
	EventTypeDepositCodeConsumed = "deposit_code.consumed"
)

type PaymentCompletedEvent struct {
	BaseEvent
	PaymentID    string `json:"payment_id"`
	UserID       string `json:"user_id,omitempty"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	ExternalTxID string `json:"external_tx_id"`
}

func NewPaymentCompletedEvent(paymentID, userID string, amountCents int64, currency, externalTxID string) *PaymentCompletedEvent {
	return &PaymentCompletedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentCompleted,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":     paymentID,
				"amount_cents":   amountCents,
				"currency":       currency,
				"external_tx_id": externalTxID,
			},
		},
		PaymentID:    paymentID,
		UserID:       userID,
		AmountCents:  amountCents,
		Currency:     currency,
		ExternalTxID: externalTxID,
	}
}

type PaymentFailedEvent struct {
	BaseEvent
	PaymentID    string `json:"payment_id"`
	UserID       string `json:"user_id,omitempty"`
	AmountCents  int64  `json:"amount_cents"`
	Reason       string `json:"reason"`
	AttemptCount int    `json:"attempt_count"`
}

func NewPaymentFailedEvent(paymentID, userID string, amountCents int64, reason string, attemptCount int) *PaymentFailedEvent {
	return &PaymentFailedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentFailed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":    paymentID,
				"amount_cents":  amountCents,
				"reason":        reason,
				"attempt_count": attemptCount,
			},
		},
		PaymentID:    paymentID,
		UserID:       userID,
		AmountCents:  amountCents,
		Reason:       reason,
		AttemptCount: attemptCount,
	}
}

// PaymentRejectedEvent fires when a deposit takes the rejection path: the
// funds arrived but validation failed, so a Failed payment was recorded with
// rejection fees and a net return amount.
type PaymentRejectedEvent struct {
	BaseEvent
	PaymentID   string `json:"payment_id"`
	UserID      string `json:"user_id,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	FeeCents    int64  `json:"fee_cents"`
	NetCents    int64  `json:"net_cents"`
	Reason      string `json:"reason"`
}

func NewPaymentRejectedEvent(paymentID, userID string, amountCents, feeCents, netCents int64, reason string) *PaymentRejectedEvent {
	return &PaymentRejectedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypePaymentRejected,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"payment_id":   paymentID,
				"amount_cents": amountCents,
				"fee_cents":    feeCents,
				"net_cents":    netCents,
				"reason":       reason,
			},
		},
		PaymentID:   paymentID,
		UserID:      userID,
		AmountCents: amountCents,
		FeeCents:    feeCents,
		NetCents:    netCents,
		Reason:      reason,
	}
}

type DepositCodeCreatedEvent struct {
	BaseEvent
	Code   string `json:"code"`
	UserID string `json:"user_id,omitempty"`
}

func NewDepositCodeCreatedEvent(code, userID string) *DepositCodeCreatedEvent {
	return &DepositCodeCreatedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeDepositCodeCreated,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"code": code,
			},
		},
		Code:   code,
		UserID: userID,
	}
}

type DepositCodeConsumedEvent struct {
	BaseEvent
	Code      string `json:"code"`
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id,omitempty"`
}

func NewDepositCodeConsumedEvent(code, paymentID, userID string) *DepositCodeConsumedEvent {
	return &DepositCodeConsumedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeDepositCodeConsumed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"code":       code,
				"payment_id": paymentID,
			},
		},
		Code:      code,
		PaymentID: paymentID,
		UserID:    userID,
	}
}
