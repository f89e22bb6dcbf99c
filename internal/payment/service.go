package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mistic96/payment-broker/internal"
	"github.com/mistic96/payment-broker/internal/cache"
	"github.com/mistic96/payment-broker/internal/core/events"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	"github.com/mistic96/payment-broker/internal/fees"
	"github.com/mistic96/payment-broker/internal/gateway"
	"github.com/mistic96/payment-broker/internal/provider"
)

const guardRetries = 3

type Service struct {
	repository RepositoryAPI
	cache      CacheAPI
	codes      DepositCodeAPI
	router     RouterAPI
	catalog    CatalogAPI
	providers  *provider.Registry
	refunds    RefundSender
	eventBus   *events.EventBus
	cfg        *internal.PaymentConfig
	logger     *slog.Logger
}

// NewService wires the payment lifecycle. codes and refunds may be nil: the
// service then skips deposit-code handling and return transfers respectively.
func NewService(
	repository RepositoryAPI,
	cacheAPI CacheAPI,
	codes DepositCodeAPI,
	router RouterAPI,
	catalog CatalogAPI,
	providers *provider.Registry,
	refunds RefundSender,
	eventBus *events.EventBus,
	cfg *internal.PaymentConfig,
	logger *slog.Logger,
) *Service {
	return &Service{
		repository: repository,
		cache:      cacheAPI,
		codes:      codes,
		router:     router,
		catalog:    catalog,
		providers:  providers,
		refunds:    refunds,
		eventBus:   eventBus,
		cfg:        cfg,
		logger:     logger,
	}
}

// CreatePayment validates the request, routes it, persists it Pending and
// runs the first attempt. Deposit requests that carry a deposit code and fail
// validation take the rejection path: a Failed payment is recorded with
// rejection fees instead of surfacing the error.
func (s *Service) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*paymentmodel.Payment, error) {
	if err := req.Validate(); err != nil {
		if appErr, ok := internal.IsAppError(err); ok && isRejectionCandidate(req) {
			return s.recordRejection(ctx, req, appErr)
		}
		return nil, err
	}

	if appErr := s.validateBusinessRules(ctx, req); appErr != nil {
		if appErr.Type == internal.ErrorTypeInternal {
			return nil, appErr
		}
		if isRejectionCandidate(req) {
			return s.recordRejection(ctx, req, appErr)
		}
		return nil, appErr
	}

	if req.Type == paymentmodel.TypeDeposit && req.DepositCode != "" && s.codes != nil {
		if err := s.codes.Validate(ctx, req.UserID, req.DepositCode, req.AmountCents, req.Currency); err != nil {
			if appErr, ok := internal.IsAppError(err); ok {
				return s.recordRejection(ctx, req, appErr)
			}
			return nil, err
		}
	}

	providerType, err := s.router.SelectProvider(gateway.RouteRequest{
		AmountCents:       req.AmountCents,
		Currency:          req.Currency,
		Type:              req.Type,
		PreferredProvider: req.PreferredProvider,
	})
	if err != nil {
		return nil, err
	}

	gw, err := s.catalog.GetBestGateway(ctx, req.AmountCents, req.Currency, string(req.Type), req.Country)
	if err != nil {
		return nil, err
	}

	feeCents, netCents := fees.GatewayFees(req.AmountCents, gw)

	now := time.Now().UTC()
	p := &paymentmodel.Payment{
		ID:            uuid.New().String(),
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Type:          req.Type,
		Status:        paymentmodel.StatusPending,
		GatewayID:     &gw.ID,
		FeeCents:      feeCents,
		NetCents:      netCents,
		CorrelationID: req.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.ExpiryWindow),
	}
	if req.UserID != "" {
		p.UserID = &req.UserID
	}
	if req.PaymentMethodID != "" {
		p.PaymentMethodID = &req.PaymentMethodID
	}
	if p.CorrelationID == "" {
		p.CorrelationID = uuid.New().String()
	}
	if len(req.Metadata) > 0 {
		raw, merr := json.Marshal(req.Metadata)
		if merr != nil {
			return nil, internal.NewInternalError("failed to encode payment metadata", merr)
		}
		p.Metadata = raw
	}

	if err := s.repository.Create(ctx, p); err != nil {
		return nil, internal.NewInternalError("failed to create payment", err)
	}

	if req.DepositCode != "" && s.codes != nil {
		if err := s.codes.Consume(ctx, req.DepositCode, p.ID); err != nil {
			// The payment exists; a stuck Active code is recoverable by
			// the expiry sweep, losing the payment is not.
			s.logger.Error("failed to consume deposit code",
				"payment_id", p.ID, "error", err)
		} else {
			_ = s.eventBus.Publish(ctx, events.NewDepositCodeConsumedEvent(req.DepositCode, p.ID, req.UserID))
		}
	}

	if _, err := s.process(ctx, p, providerType); err != nil {
		s.logger.Error("initial payment attempt failed",
			"payment_id", p.ID, "provider", string(providerType), "error", err)
	}

	refreshed, err := s.repository.GetByID(ctx, p.ID)
	if err != nil {
		return p, nil
	}
	return refreshed, nil
}

// recordRejection persists a validation failure on the deposit path as a
// Failed payment with rejection fees and a shortened expiry, then triggers a
// best-effort return transfer when a refund capability is configured.
func (s *Service) recordRejection(ctx context.Context, req *CreatePaymentRequest, cause *internal.AppError) (*paymentmodel.Payment, error) {
	breakdown := fees.FiatRejectionFees(req.AmountCents, req.Currency, "", "", string(cause.Code))
	if breakdown.Clamped {
		s.logger.Warn("rejection fees exceeded deposit amount",
			"amount_cents", req.AmountCents, "total_fee_cents", breakdown.TotalFeeCents)
	}

	meta := map[string]interface{}{
		"rejection_reason": cause.GetDetailedMessage(),
		"rejection_code":   string(cause.Code),
		"original_request": req,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, internal.NewInternalError("failed to encode rejection metadata", err)
	}

	now := time.Now().UTC()
	p := &paymentmodel.Payment{
		ID:            uuid.New().String(),
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		Type:          req.Type,
		Status:        paymentmodel.StatusFailed,
		FeeCents:      breakdown.TotalFeeCents,
		NetCents:      breakdown.NetCents,
		Metadata:      raw,
		CorrelationID: req.CorrelationID,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     now.Add(s.cfg.RejectionExpiry),
	}
	if req.UserID != "" {
		p.UserID = &req.UserID
	}

	if err := s.repository.Create(ctx, p); err != nil {
		return nil, internal.NewInternalError("failed to record rejected payment", err)
	}

	s.logger.Info("deposit rejected",
		"payment_id", p.ID, "code", string(cause.Code),
		"fee_cents", breakdown.TotalFeeCents, "net_cents", breakdown.NetCents)

	_ = s.eventBus.Publish(ctx, events.NewPaymentRejectedEvent(
		p.ID, req.UserID, p.AmountCents, p.FeeCents, p.NetCents, cause.GetDetailedMessage()))

	if s.refunds != nil && breakdown.NetCents > 0 {
		go func(p *paymentmodel.Payment, net int64, reason string) {
			rctx, cancel := context.WithTimeout(context.Background(), s.cfg.ProviderTimeout)
			defer cancel()
			if err := s.refunds.SendReturn(rctx, p, net, reason); err != nil {
				s.logger.Error("return transfer failed",
					"payment_id", p.ID, "net_cents", net, "error", err)
			}
		}(p, breakdown.NetCents, cause.GetDetailedMessage())
	}

	return p, nil
}

// process runs one attempt of p against the given provider type: creates the
// attempt record, flips the payment to Processing, executes the provider call
// under the configured timeout, and records the outcome on both rows.
// Provider errors are returned to the caller after the rows are marked
// Failed.
func (s *Service) process(ctx context.Context, p *paymentmodel.Payment, providerType provider.Type) (*paymentmodel.Attempt, error) {
	integration, err := s.providers.Resolve(providerType)
	if err != nil {
		return nil, err
	}

	count, err := s.repository.CountAttempts(ctx, p.ID)
	if err != nil {
		return nil, internal.NewInternalError("failed to count payment attempts", err)
	}

	attempt := &paymentmodel.Attempt{
		PaymentID:     p.ID,
		AttemptNumber: count + 1,
		Status:        paymentmodel.AttemptProcessing,
	}
	if err := s.repository.CreateAttempt(ctx, attempt); err != nil {
		return nil, internal.NewInternalError("failed to create payment attempt", err)
	}

	if _, err := s.ApplyResult(ctx, p.ID, paymentmodel.StatusProcessing, ""); err != nil {
		return attempt, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	start := time.Now()
	result, err := integration.Execute(callCtx, p)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		if uerr := s.repository.UpdateAttempt(ctx, attempt.ID, paymentmodel.AttemptFailed, nil, durationMs); uerr != nil {
			s.logger.Error("failed to mark attempt failed", "payment_id", p.ID, "error", uerr)
		}
		// A timeout is recoverable by webhook; leave the payment in
		// Processing rather than guessing a terminal state.
		if callCtx.Err() != nil {
			s.logger.Warn("provider call timed out",
				"payment_id", p.ID, "provider", string(providerType))
			return attempt, internal.NewProviderError("provider call timed out", err)
		}
		if _, aerr := s.ApplyResult(ctx, p.ID, paymentmodel.StatusFailed, ""); aerr != nil {
			s.logger.Error("failed to mark payment failed", "payment_id", p.ID, "error", aerr)
		}
		attempt.Status = paymentmodel.AttemptFailed
		return attempt, internal.NewProviderError(
			fmt.Sprintf("provider %s rejected the payment", providerType), err)
	}

	switch result.Status {
	case paymentmodel.StatusCompleted:
		attempt.Status = paymentmodel.AttemptSucceeded
	case paymentmodel.StatusFailed:
		attempt.Status = paymentmodel.AttemptFailed
	default:
		// Pending or Processing: the attempt stays open until a webhook
		// resolves it.
		attempt.Status = paymentmodel.AttemptProcessing
	}
	if uerr := s.repository.UpdateAttempt(ctx, attempt.ID, attempt.Status, result.RawResponse, durationMs); uerr != nil {
		s.logger.Error("failed to update attempt", "payment_id", p.ID, "error", uerr)
	}

	target := result.Status
	if target == paymentmodel.StatusPending {
		target = paymentmodel.StatusProcessing
	}
	if target != paymentmodel.StatusProcessing {
		if _, aerr := s.ApplyResult(ctx, p.ID, target, result.ExternalTxID); aerr != nil {
			s.logger.Error("failed to apply provider result", "payment_id", p.ID, "error", aerr)
		}
	} else if result.ExternalTxID != "" {
		if _, aerr := s.ApplyResult(ctx, p.ID, paymentmodel.StatusProcessing, result.ExternalTxID); aerr != nil {
			s.logger.Error("failed to store external transaction id", "payment_id", p.ID, "error", aerr)
		}
	}

	return attempt, nil
}

// ApplyResult transitions a payment to newStatus idempotently. Same-status
// calls and illegal transitions are no-ops; completedAt is stamped only on
// the first transition to Completed; the cached copy is invalidated (never
// rewritten) on every applied transition. The boolean reports whether the
// row actually changed.
func (s *Service) ApplyResult(ctx context.Context, paymentID string, newStatus paymentmodel.Status, gatewayTxID string) (bool, error) {
	for i := 0; i < guardRetries; i++ {
		p, err := s.repository.GetByID(ctx, paymentID)
		if err != nil {
			return false, err
		}

		if p.Status == newStatus {
			if gatewayTxID != "" && p.ExternalTxID == "" {
				updates := map[string]interface{}{"external_tx_id": gatewayTxID}
				if ok, uerr := s.repository.UpdateGuarded(ctx, paymentID, p.UpdatedAt, updates); uerr != nil || !ok {
					continue
				}
				s.invalidate(ctx, paymentID)
			}
			return false, nil
		}

		if !p.Status.CanTransitionTo(newStatus) {
			s.logger.Warn("ignoring illegal status transition",
				"payment_id", paymentID, "from", string(p.Status), "to", string(newStatus))
			return false, nil
		}

		updates := map[string]interface{}{"status": newStatus}
		if gatewayTxID != "" && p.ExternalTxID == "" {
			updates["external_tx_id"] = gatewayTxID
		}
		if newStatus == paymentmodel.StatusCompleted && p.CompletedAt == nil {
			updates["completed_at"] = time.Now().UTC()
		}

		ok, err := s.repository.UpdateGuarded(ctx, paymentID, p.UpdatedAt, updates)
		if err != nil {
			return false, internal.NewInternalError("failed to update payment status", err)
		}
		if !ok {
			// Lost the race; reload and re-evaluate.
			continue
		}

		s.invalidate(ctx, paymentID)
		s.publishTransition(ctx, p, newStatus, gatewayTxID)
		return true, nil
	}
	return false, internal.NewConflictError("payment is being updated concurrently", internal.ErrCodeInvalidTransition)
}

func (s *Service) publishTransition(ctx context.Context, p *paymentmodel.Payment, newStatus paymentmodel.Status, gatewayTxID string) {
	userID := ""
	if p.UserID != nil {
		userID = *p.UserID
	}
	switch newStatus {
	case paymentmodel.StatusCompleted:
		externalTxID := p.ExternalTxID
		if externalTxID == "" {
			externalTxID = gatewayTxID
		}
		_ = s.eventBus.Publish(ctx, events.NewPaymentCompletedEvent(
			p.ID, userID, p.AmountCents, p.Currency, externalTxID))
	case paymentmodel.StatusFailed:
		count, err := s.repository.CountAttempts(ctx, p.ID)
		if err != nil {
			count = 0
		}
		_ = s.eventBus.Publish(ctx, events.NewPaymentFailedEvent(
			p.ID, userID, p.AmountCents, "provider reported failure", count))
	}
}

func (s *Service) invalidate(ctx context.Context, paymentID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Remove(ctx, cache.PaymentKey(paymentID)); err != nil {
		s.logger.Warn("failed to invalidate payment cache", "payment_id", paymentID, "error", err)
	}
}

// Retry re-runs a Failed payment. Legal only while the payment is Failed,
// under the attempt ceiling and not expired. Provider errors propagate to
// the caller after the attempt and payment are marked Failed.
func (s *Service) Retry(ctx context.Context, paymentID string) (*paymentmodel.Attempt, error) {
	p, err := s.repository.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	if p.Status != paymentmodel.StatusFailed {
		return nil, internal.ErrRetryNotAllowed
	}
	count, err := s.repository.CountAttempts(ctx, paymentID)
	if err != nil {
		return nil, internal.NewInternalError("failed to count payment attempts", err)
	}
	if count >= s.cfg.MaxAttempts {
		return nil, internal.ErrRetryNotAllowed
	}
	if p.IsExpired(time.Now().UTC()) {
		return nil, internal.ErrRetryNotAllowed
	}

	providerType, err := s.resolveProviderType(ctx, p)
	if err != nil {
		return nil, err
	}

	changed, err := s.ApplyResult(ctx, paymentID, paymentmodel.StatusPending, "")
	if err != nil {
		return nil, err
	}
	if !changed {
		// Another actor moved the payment first.
		return nil, internal.ErrRetryNotAllowed
	}
	p.Status = paymentmodel.StatusPending

	return s.process(ctx, p, providerType)
}

// resolveProviderType maps a persisted payment back to its provider: through
// the stored gateway row when present, otherwise re-routing the request.
func (s *Service) resolveProviderType(ctx context.Context, p *paymentmodel.Payment) (provider.Type, error) {
	if p.GatewayID != nil {
		gw, err := s.catalog.GetGateway(ctx, *p.GatewayID)
		if err == nil {
			t := provider.Type(gw.Provider)
			if t.Valid() {
				return t, nil
			}
		}
	}
	return s.router.SelectProvider(gateway.RouteRequest{
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		Type:        p.Type,
	})
}

// Cancel moves a payment to Cancelled, recording the reason and timestamp in
// metadata. Completed and already-cancelled payments cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, paymentID, reason string) error {
	for i := 0; i < guardRetries; i++ {
		p, err := s.repository.GetByID(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Status == paymentmodel.StatusCompleted || p.Status == paymentmodel.StatusCancelled {
			return internal.ErrCancelNotAllowed
		}

		meta := map[string]interface{}{}
		if len(p.Metadata) > 0 {
			if uerr := json.Unmarshal(p.Metadata, &meta); uerr != nil {
				meta = map[string]interface{}{}
			}
		}
		meta["cancel_reason"] = reason
		meta["cancelled_at"] = time.Now().UTC().Format(time.RFC3339)
		raw, merr := json.Marshal(meta)
		if merr != nil {
			return internal.NewInternalError("failed to encode cancel metadata", merr)
		}

		updates := map[string]interface{}{
			"status":   paymentmodel.StatusCancelled,
			"metadata": raw,
		}
		ok, err := s.repository.UpdateGuarded(ctx, paymentID, p.UpdatedAt, updates)
		if err != nil {
			return internal.NewInternalError("failed to cancel payment", err)
		}
		if !ok {
			continue
		}

		s.invalidate(ctx, paymentID)
		if err := s.ResolveOpenAttempt(ctx, paymentID, paymentmodel.StatusCancelled); err != nil {
			s.logger.Warn("failed to resolve open attempt on cancel", "payment_id", paymentID, "error", err)
		}
		s.logger.Info("payment cancelled", "payment_id", paymentID, "reason", reason)
		return nil
	}
	return internal.NewConflictError("payment is being updated concurrently", internal.ErrCodeCancelNotAllowed)
}

// GetPayment reads through the cache: a hit skips storage, a miss loads from
// storage and repopulates best-effort. Cache failures degrade to storage.
func (s *Service) GetPayment(ctx context.Context, id string) (*paymentmodel.Payment, error) {
	if s.cache != nil {
		var cached paymentmodel.Payment
		if err := s.cache.Get(ctx, cache.PaymentKey(id), &cached); err == nil {
			return &cached, nil
		} else if err != cache.ErrMiss {
			s.logger.Warn("payment cache read failed", "payment_id", id, "error", err)
		}
	}

	p, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, cache.PaymentKey(id), p, 0); err != nil {
			s.logger.Warn("payment cache write failed", "payment_id", id, "error", err)
		}
	}
	return p, nil
}

func (s *Service) GetPaymentByExternalTxID(ctx context.Context, externalTxID string) (*paymentmodel.Payment, error) {
	return s.repository.GetByExternalTxID(ctx, externalTxID)
}

func (s *Service) GetPaymentByCorrelationID(ctx context.Context, correlationID string) (*paymentmodel.Payment, error) {
	return s.repository.GetByCorrelationID(ctx, correlationID)
}

func (s *Service) ListPayments(ctx context.Context, filter ListFilter) ([]*paymentmodel.Payment, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return s.repository.List(ctx, filter)
}

// ResolveOpenAttempt closes the latest attempt, if still open, to the
// attempt status mirroring the given payment status. Used by the webhook
// reconciler after ApplyResult reports an actual change.
func (s *Service) ResolveOpenAttempt(ctx context.Context, paymentID string, status paymentmodel.Status) error {
	attempt, err := s.repository.LatestAttempt(ctx, paymentID)
	if err != nil {
		return err
	}
	if attempt == nil {
		return nil
	}
	if attempt.Status == paymentmodel.AttemptSucceeded ||
		attempt.Status == paymentmodel.AttemptFailed ||
		attempt.Status == paymentmodel.AttemptCancelled {
		return nil
	}

	var next paymentmodel.AttemptStatus
	switch status {
	case paymentmodel.StatusCompleted:
		next = paymentmodel.AttemptSucceeded
	case paymentmodel.StatusFailed:
		next = paymentmodel.AttemptFailed
	case paymentmodel.StatusCancelled:
		next = paymentmodel.AttemptCancelled
	default:
		next = paymentmodel.AttemptProcessing
	}
	if next == attempt.Status {
		return nil
	}
	return s.repository.UpdateAttempt(ctx, attempt.ID, next, attempt.GatewayResponse, attempt.DurationMs)
}

// ExpirePending sweeps payments whose expiry window passed while still
// Pending or Processing and fails them. Run periodically by the worker.
func (s *Service) ExpirePending(ctx context.Context) (int, error) {
	expired, err := s.repository.FindExpiredPending(ctx, time.Now().UTC(), 100)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, p := range expired {
		changed, err := s.ApplyResult(ctx, p.ID, paymentmodel.StatusFailed, "")
		if err != nil {
			s.logger.Error("failed to expire payment", "payment_id", p.ID, "error", err)
			continue
		}
		if changed {
			if err := s.ResolveOpenAttempt(ctx, p.ID, paymentmodel.StatusFailed); err != nil {
				s.logger.Warn("failed to resolve attempt for expired payment", "payment_id", p.ID, "error", err)
			}
			count++
		}
	}
	if count > 0 {
		s.logger.Info("expired pending payments", "count", count)
	}
	return count, nil
}
