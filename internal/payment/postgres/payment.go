package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/mistic96/payment-broker/internal"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	paymentpkg "github.com/mistic96/payment-broker/internal/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) Create(ctx context.Context, p *paymentmodel.Payment) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByExternalTxID(ctx context.Context, externalTxID string) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.WithContext(ctx).Where("external_tx_id = ?", externalTxID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*paymentmodel.Payment, error) {
	var p paymentmodel.Payment
	err := r.db.WithContext(ctx).Where("correlation_id = ?", correlationID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrPaymentNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepository) List(ctx context.Context, filter paymentpkg.ListFilter) ([]*paymentmodel.Payment, error) {
	query := r.db.WithContext(ctx).Model(&paymentmodel.Payment{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.Currency != "" {
		query = query.Where("currency = ?", filter.Currency)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var payments []*paymentmodel.Payment
	err := query.Order("created_at DESC").Find(&payments).Error
	return payments, err
}

// UpdateGuarded applies updates only when updated_at still matches the value
// the caller read. RowsAffected tells whether the guard held, so concurrent
// writers against the same payment serialize without a global lock.
func (r *PaymentRepository) UpdateGuarded(ctx context.Context, id string, expectedUpdatedAt time.Time, updates map[string]interface{}) (bool, error) {
	updates["updated_at"] = time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&paymentmodel.Payment{}).
		Where("id = ? AND updated_at = ?", id, expectedUpdatedAt).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *PaymentRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&paymentmodel.Payment{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Count(&count).Error
	return count, err
}

func (r *PaymentRepository) CountFailedByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&paymentmodel.Payment{}).
		Where("user_id = ? AND status = ? AND created_at >= ?", userID, paymentmodel.StatusFailed, since).
		Count(&count).Error
	return count, err
}

func (r *PaymentRepository) CountSameAmountSince(ctx context.Context, userID string, amountCents int64, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&paymentmodel.Payment{}).
		Where("user_id = ? AND amount_cents = ? AND created_at >= ?", userID, amountCents, since).
		Count(&count).Error
	return count, err
}

func (r *PaymentRepository) SumAmountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total *int64
	err := r.db.WithContext(ctx).
		Model(&paymentmodel.Payment{}).
		Select("SUM(amount_cents)").
		Where("user_id = ? AND created_at >= ?", userID, since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

func (r *PaymentRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*paymentmodel.Payment, error) {
	var payments []*paymentmodel.Payment
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", []paymentmodel.Status{paymentmodel.StatusPending, paymentmodel.StatusProcessing}, now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&payments).Error
	return payments, err
}

func (r *PaymentRepository) CreateAttempt(ctx context.Context, a *paymentmodel.Attempt) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *PaymentRepository) CountAttempts(ctx context.Context, paymentID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&paymentmodel.Attempt{}).
		Where("payment_id = ?", paymentID).
		Count(&count).Error
	return int(count), err
}

func (r *PaymentRepository) LatestAttempt(ctx context.Context, paymentID string) (*paymentmodel.Attempt, error) {
	var attempt paymentmodel.Attempt
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("attempt_number DESC").
		First(&attempt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &attempt, nil
}

func (r *PaymentRepository) UpdateAttempt(ctx context.Context, id int64, status paymentmodel.AttemptStatus, gatewayResponse json.RawMessage, durationMs int64) error {
	updates := map[string]interface{}{
		"status":      status,
		"duration_ms": durationMs,
		"updated_at":  time.Now().UTC(),
	}
	if len(gatewayResponse) > 0 {
		updates["gateway_response"] = gatewayResponse
	}
	return r.db.WithContext(ctx).
		Model(&paymentmodel.Attempt{}).
		Where("id = ?", id).
		Updates(updates).Error
}
