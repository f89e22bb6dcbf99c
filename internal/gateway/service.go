package gateway

import (
	"context"
	"log/slog"
	"sort"

	errors "github.com/mistic96/payment-broker/internal"
	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
)

// Service is the gateway catalog: provider configuration read by routing,
// mutated only by administrative operations.
type Service struct {
	repository RepositoryAPI
	health     HealthAPI
	logger     *slog.Logger
}

func NewService(repository RepositoryAPI, health HealthAPI, logger *slog.Logger) *Service {
	return &Service{
		repository: repository,
		health:     health,
		logger:     logger,
	}
}

// GetBestGateway filters the catalog by active flag, currency support, amount
// bounds and (when given) country support, orders by ascending priority then
// ascending total fee, and returns the first candidate that is currently
// healthy. Live health is checked per candidate so a degraded preferred
// gateway falls through to the next one.
func (s *Service) GetBestGateway(ctx context.Context, amountCents int64, currency, paymentType, country string) (*gatewaymodel.Gateway, error) {
	gateways, err := s.repository.GetActive(ctx)
	if err != nil {
		s.logger.Error("failed to load gateway catalog", "error", err)
		return nil, errors.NewInternalError("failed to load gateway catalog", err)
	}

	candidates := make([]*gatewaymodel.Gateway, 0, len(gateways))
	for _, gw := range gateways {
		if !gw.SupportsCurrency(currency) {
			continue
		}
		if !gw.InAmountRange(amountCents) {
			continue
		}
		if country != "" && !gw.SupportsCountry(country) {
			continue
		}
		candidates = append(candidates, gw)
	}

	if len(candidates) == 0 {
		s.logger.Warn("no gateway matches request",
			"amount_cents", amountCents,
			"currency", currency,
			"type", paymentType,
			"country", country)
		return nil, errors.ErrGatewayNotFound
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].TotalFeeCents(amountCents) < candidates[j].TotalFeeCents(amountCents)
	})

	for _, gw := range candidates {
		if s.health.IsHealthy(ctx, gw.ID) {
			s.logger.Debug("selected gateway",
				"gateway_id", gw.ID,
				"provider", gw.Provider,
				"priority", gw.Priority)
			return gw, nil
		}
		s.logger.Warn("skipping unhealthy gateway", "gateway_id", gw.ID, "provider", gw.Provider)
	}

	return nil, errors.ErrGatewayNotFound
}

func (s *Service) GetGateway(ctx context.Context, id int64) (*gatewaymodel.Gateway, error) {
	gw, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return nil, errors.ErrGatewayNotFound.WithCause(err)
	}
	return gw, nil
}

func (s *Service) ListGateways(ctx context.Context) ([]*gatewaymodel.Gateway, error) {
	return s.repository.GetAll(ctx)
}

// UpsertGateway is the administrative write path for catalog rows.
func (s *Service) UpsertGateway(ctx context.Context, gw *gatewaymodel.Gateway) error {
	if gw.Name == "" || gw.Provider == "" {
		return errors.NewValidationError("gateway name and provider are required", errors.ErrCodeValidationFailed)
	}
	if gw.MinAmountCents < 0 || (gw.MaxAmountCents > 0 && gw.MaxAmountCents < gw.MinAmountCents) {
		return errors.NewValidationError("gateway amount bounds are inconsistent", errors.ErrCodeInvalidAmount)
	}

	if err := s.repository.Upsert(ctx, gw); err != nil {
		s.logger.Error("failed to upsert gateway", "error", err, "provider", gw.Provider)
		return errors.NewInternalError("failed to save gateway", err)
	}

	s.logger.Info("gateway saved", "gateway_id", gw.ID, "provider", gw.Provider, "active", gw.IsActive)
	return nil
}
