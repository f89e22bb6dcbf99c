package depositcode

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/mistic96/payment-broker/internal"
	codemodel "github.com/mistic96/payment-broker/internal/core/datamodel/depositcode"
	"github.com/mistic96/payment-broker/internal/core/events"
	"github.com/mistic96/payment-broker/internal/ledger"
)

const defaultCodeTTL = 24 * time.Hour

type Service struct {
	repository RepositoryAPI
	ledger     ledger.Mirror
	eventBus   *events.EventBus
	codeTTL    time.Duration
	logger     *slog.Logger
}

// NewService wires the deposit code engine. mirror may be nil: the engine
// then works purely against local storage.
func NewService(repository RepositoryAPI, mirror ledger.Mirror, eventBus *events.EventBus, logger *slog.Logger) *Service {
	return &Service{
		repository: repository,
		ledger:     mirror,
		eventBus:   eventBus,
		codeTTL:    defaultCodeTTL,
		logger:     logger,
	}
}

// GenerateCode draws codes until one survives the storage uniqueness check,
// up to the retry bound. The unique index is the arbiter: two processes
// drawing the same code race on the insert and exactly one wins.
func (s *Service) GenerateCode(ctx context.Context, req *GenerateCodeRequest) (*codemodel.Code, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := 0; i < maxGenerationRetries; i++ {
		raw, err := NewCode()
		if err != nil {
			return nil, internal.NewInternalError("failed to draw random code", err)
		}

		c := &codemodel.Code{
			Code:        raw,
			Status:      codemodel.StatusActive,
			AmountCents: req.AmountCents,
			Currency:    strings.ToUpper(req.Currency),
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(s.codeTTL),
		}
		if req.UserID != "" {
			c.UserID = &req.UserID
		}

		err = s.repository.Create(ctx, c)
		if err == nil {
			s.logger.Info("deposit code generated", "code_id", c.ID, "attempts", i+1)
			s.mirrorCreation(ctx, c)
			_ = s.eventBus.Publish(ctx, events.NewDepositCodeCreatedEvent(c.Code, req.UserID))
			return c, nil
		}
		if appErr, ok := internal.IsAppError(err); ok && appErr.Code == internal.ErrCodeCodeCollision {
			s.logger.Warn("deposit code collision, retrying", "attempt", i+1)
			continue
		}
		return nil, internal.NewInternalError("failed to store deposit code", err)
	}
	return nil, internal.ErrGenerationExhausted
}

func (s *Service) mirrorCreation(ctx context.Context, c *codemodel.Code) {
	if s.ledger == nil {
		return
	}
	entry := ledger.Entry{
		Code:        c.Code,
		AmountCents: c.AmountCents,
		Currency:    c.Currency,
	}
	if c.UserID != nil {
		entry.UserID = *c.UserID
	}
	if !s.ledger.RecordCreation(ctx, entry) {
		s.logger.Warn("ledger mirror rejected code creation", "code_id", c.ID)
	}
}

// Validate runs the ordered rejection checks: format, ledger existence,
// local lookup, status, expiry, amount, currency, ownership. Each failure
// carries its own reason; the check is side-effect free.
func (s *Service) Validate(ctx context.Context, ownerID, code string, amountCents int64, currency string) error {
	if !ValidFormat(code) {
		return internal.ErrDepositCodeBadFormat
	}
	normalized := strings.ToUpper(code)

	if s.ledger != nil {
		exists, err := s.ledger.Exists(ctx, normalized)
		if err != nil {
			s.logger.Warn("ledger existence check failed, falling back to local lookup", "error", err)
		} else if !exists {
			return internal.ErrDepositCodeNotFound
		}
	}

	c, err := s.repository.GetByCode(ctx, normalized)
	if err != nil {
		return err
	}

	if c.Status != codemodel.StatusActive {
		return internal.ErrDepositCodeWrongStatus
	}
	if c.IsExpired(time.Now().UTC()) {
		return internal.ErrDepositCodeExpired
	}
	if c.AmountCents != 0 {
		diff := c.AmountCents - amountCents
		if diff < 0 {
			diff = -diff
		}
		if diff > 1 {
			return internal.ErrDepositCodeAmount
		}
	}
	if c.Currency != "" && !strings.EqualFold(c.Currency, currency) {
		return internal.ErrDepositCodeCurrency
	}
	if c.UserID != nil && *c.UserID != ownerID {
		return internal.ErrDepositCodeUnauthorized
	}
	return nil
}

// Consume flips an Active code to Used with the payment id attached, exactly
// once: the conditional update loses against any concurrent consumer.
func (s *Service) Consume(ctx context.Context, code, paymentID string) error {
	normalized := strings.ToUpper(code)

	ok, err := s.repository.ConsumeActive(ctx, normalized, paymentID)
	if err != nil {
		return internal.NewInternalError("failed to consume deposit code", err)
	}
	if !ok {
		c, gerr := s.repository.GetByCode(ctx, normalized)
		if gerr != nil {
			return gerr
		}
		if c.Status == codemodel.StatusUsed {
			return internal.ErrDepositCodeUsed
		}
		return internal.ErrDepositCodeWrongStatus
	}

	if s.ledger != nil {
		if !s.ledger.RecordUsage(ctx, ledger.Entry{Code: normalized, PaymentID: paymentID}) {
			s.logger.Warn("ledger mirror rejected code usage", "payment_id", paymentID)
		}
	}
	s.logger.Info("deposit code consumed", "payment_id", paymentID)
	return nil
}

// RejectCode moves a code to Rejected with the reason stored in metadata.
// Used codes stay Used; rejection is an admin action on not-yet-consumed
// codes.
func (s *Service) RejectCode(ctx context.Context, id int64, reason string) error {
	c, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if c.Status == codemodel.StatusUsed {
		return internal.ErrDepositCodeUsed
	}
	if c.Status == codemodel.StatusRejected {
		return nil
	}

	meta := map[string]interface{}{
		"rejection_reason": reason,
		"rejected_at":      time.Now().UTC().Format(time.RFC3339),
	}
	raw, merr := json.Marshal(meta)
	if merr != nil {
		return internal.NewInternalError("failed to encode rejection metadata", merr)
	}

	if err := s.repository.UpdateStatus(ctx, id, codemodel.StatusRejected, raw); err != nil {
		return internal.NewInternalError("failed to reject deposit code", err)
	}

	if s.ledger != nil {
		if !s.ledger.RecordRejection(ctx, ledger.Entry{Code: c.Code, Reason: reason}) {
			s.logger.Warn("ledger mirror rejected code rejection", "code_id", id)
		}
	}
	s.logger.Info("deposit code rejected", "code_id", id, "reason", reason)
	return nil
}

func (s *Service) GetCode(ctx context.Context, code string) (*codemodel.Code, error) {
	if !ValidFormat(code) {
		return nil, internal.ErrDepositCodeBadFormat
	}
	return s.repository.GetByCode(ctx, strings.ToUpper(code))
}

func (s *Service) ListCodes(ctx context.Context, filter ListFilter) ([]*codemodel.Code, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return s.repository.List(ctx, filter)
}

// ExpireStale marks Active codes past their expiry Expired. Run periodically
// by the worker.
func (s *Service) ExpireStale(ctx context.Context) (int64, error) {
	count, err := s.repository.ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, internal.NewInternalError("failed to expire deposit codes", err)
	}
	if count > 0 {
		s.logger.Info("expired stale deposit codes", "count", count)
	}
	return count, nil
}
