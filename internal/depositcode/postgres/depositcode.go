package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/mistic96/payment-broker/internal"
	codemodel "github.com/mistic96/payment-broker/internal/core/datamodel/depositcode"
	codepkg "github.com/mistic96/payment-broker/internal/depositcode"
)

type DepositCodeRepository struct {
	db *gorm.DB
}

func NewDepositCodeRepository(db *gorm.DB) codepkg.RepositoryAPI {
	return &DepositCodeRepository{
		db: db,
	}
}

func (r *DepositCodeRepository) Create(ctx context.Context, c *codemodel.Code) error {
	c.Code = strings.ToUpper(c.Code)
	err := r.db.WithContext(ctx).Create(c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return apperrors.ErrDepositCodeCollision
		}
		return err
	}
	return nil
}

// isUniqueViolation covers drivers whose errors gorm does not translate.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint")
}

func (r *DepositCodeRepository) GetByCode(ctx context.Context, code string) (*codemodel.Code, error) {
	var c codemodel.Code
	err := r.db.WithContext(ctx).Where("LOWER(code) = LOWER(?)", code).First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrDepositCodeNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *DepositCodeRepository) GetByID(ctx context.Context, id int64) (*codemodel.Code, error) {
	var c codemodel.Code
	err := r.db.WithContext(ctx).First(&c, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrDepositCodeNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *DepositCodeRepository) List(ctx context.Context, filter codepkg.ListFilter) ([]*codemodel.Code, error) {
	query := r.db.WithContext(ctx).Model(&codemodel.Code{})
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var codes []*codemodel.Code
	err := query.Order("created_at DESC").Find(&codes).Error
	return codes, err
}

// ConsumeActive is the single-use guarantee: the WHERE clause only matches an
// Active row, so a second consumer updates zero rows.
func (r *DepositCodeRepository) ConsumeActive(ctx context.Context, code, paymentID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&codemodel.Code{}).
		Where("LOWER(code) = LOWER(?) AND status = ?", code, codemodel.StatusActive).
		Updates(map[string]interface{}{
			"status":     codemodel.StatusUsed,
			"payment_id": paymentID,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *DepositCodeRepository) UpdateStatus(ctx context.Context, id int64, status codemodel.Status, metadata json.RawMessage) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if len(metadata) > 0 {
		updates["metadata"] = metadata
	}
	return r.db.WithContext(ctx).
		Model(&codemodel.Code{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *DepositCodeRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&codemodel.Code{}).
		Where("status = ? AND expires_at < ?", codemodel.StatusActive, now).
		Updates(map[string]interface{}{
			"status":     codemodel.StatusExpired,
			"updated_at": now,
		})
	return result.RowsAffected, result.Error
}
