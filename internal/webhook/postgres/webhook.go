package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/mistic96/payment-broker/internal"
	webhookmodel "github.com/mistic96/payment-broker/internal/core/datamodel/webhook"
	webhookpkg "github.com/mistic96/payment-broker/internal/webhook"
)

type WebhookRepository struct {
	db *gorm.DB
}

func NewWebhookRepository(db *gorm.DB) webhookpkg.RepositoryAPI {
	return &WebhookRepository{
		db: db,
	}
}

func (r *WebhookRepository) Create(ctx context.Context, w *webhookmodel.Webhook) error {
	return r.db.WithContext(ctx).Create(w).Error
}

func (r *WebhookRepository) MarkProcessed(ctx context.Context, id int64, paymentID *string) error {
	updates := map[string]interface{}{
		"status":     webhookmodel.StatusProcessed,
		"updated_at": time.Now().UTC(),
	}
	if paymentID != nil {
		updates["payment_id"] = *paymentID
	}
	return r.db.WithContext(ctx).
		Model(&webhookmodel.Webhook{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *WebhookRepository) MarkFailed(ctx context.Context, id int64, errorDetail string) error {
	return r.db.WithContext(ctx).
		Model(&webhookmodel.Webhook{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       webhookmodel.StatusFailed,
			"error_detail": errorDetail,
			"updated_at":   time.Now().UTC(),
		}).Error
}

func (r *WebhookRepository) GetByID(ctx context.Context, id int64) (*webhookmodel.Webhook, error) {
	var w webhookmodel.Webhook
	err := r.db.WithContext(ctx).First(&w, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.NewNotFoundError("webhook not found", apperrors.ErrCodeWebhookNotFound)
		}
		return nil, err
	}
	return &w, nil
}
