package postgres

import (
	"context"

	"gorm.io/gorm"

	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
	gatewaypkg "github.com/mistic96/payment-broker/internal/gateway"
)

type GatewayRepository struct {
	db *gorm.DB
}

func NewGatewayRepository(db *gorm.DB) gatewaypkg.RepositoryAPI {
	return &GatewayRepository{
		db: db,
	}
}

func (r *GatewayRepository) GetByID(ctx context.Context, id int64) (*gatewaymodel.Gateway, error) {
	var gw gatewaymodel.Gateway
	err := r.db.WithContext(ctx).First(&gw, id).Error
	if err != nil {
		return nil, err
	}
	return &gw, nil
}

func (r *GatewayRepository) GetAll(ctx context.Context) ([]*gatewaymodel.Gateway, error) {
	var gateways []*gatewaymodel.Gateway
	err := r.db.WithContext(ctx).Order("priority ASC").Find(&gateways).Error
	return gateways, err
}

func (r *GatewayRepository) GetActive(ctx context.Context) ([]*gatewaymodel.Gateway, error) {
	var gateways []*gatewaymodel.Gateway
	err := r.db.WithContext(ctx).Where("is_active = ?", true).Order("priority ASC").Find(&gateways).Error
	return gateways, err
}

func (r *GatewayRepository) Upsert(ctx context.Context, gw *gatewaymodel.Gateway) error {
	return r.db.WithContext(ctx).Save(gw).Error
}
