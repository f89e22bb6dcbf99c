package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/mistic96/payment-broker/internal/alerts"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
)

type StatsRepository struct {
	db *gorm.DB
}

func NewStatsRepository(db *gorm.DB) alerts.StatsAPI {
	return &StatsRepository{
		db: db,
	}
}

func (r *StatsRepository) CountFailedSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&paymentmodel.Payment{}).
		Where("status = ? AND updated_at >= ?", paymentmodel.StatusFailed, since).
		Count(&count).Error
	return count, err
}

func (r *StatsRepository) CountStuckSince(ctx context.Context, olderThan time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&paymentmodel.Payment{}).
		Where("status IN ? AND created_at < ?",
			[]paymentmodel.Status{paymentmodel.StatusPending, paymentmodel.StatusProcessing}, olderThan).
		Count(&count).Error
	return count, err
}
