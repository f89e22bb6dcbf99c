package payment

import (
	"context"
	"fmt"
	"time"

	errors "github.com/mistic96/payment-broker/internal"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
)

const (
	velocityWindow     = time.Hour
	velocityLimit      = 5
	sameAmountLimit    = 3
	failureBurstWindow = time.Hour
	failureBurstLimit  = 3
)

// validateBusinessRules enforces the limits that shape validation cannot:
// amount bounds, currency support, per-user daily limits and the burst
// patterns that usually precede fraud. Each rule fails with its own code so
// callers and rejection records can tell them apart.
func (s *Service) validateBusinessRules(ctx context.Context, req *CreatePaymentRequest) *errors.AppError {
	if req.AmountCents < s.cfg.MinAmountCents {
		return errors.NewValidationError(
			fmt.Sprintf("amount %d is below the minimum of %d cents", req.AmountCents, s.cfg.MinAmountCents),
			errors.ErrCodeAmountTooLow)
	}
	if req.AmountCents > s.cfg.MaxAmountCents {
		return errors.NewValidationError(
			fmt.Sprintf("amount %d exceeds the maximum of %d cents", req.AmountCents, s.cfg.MaxAmountCents),
			errors.ErrCodeAmountTooHigh)
	}

	if !s.currencySupported(req.Currency) {
		return errors.NewValidationError(
			fmt.Sprintf("currency %s is not supported", req.Currency),
			errors.ErrCodeUnsupportedCurrency)
	}

	// Anonymous payments have no history to check.
	if req.UserID == "" {
		return nil
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	dailyCount, err := s.repository.CountByUserSince(ctx, req.UserID, dayStart)
	if err != nil {
		return errors.NewInternalError("failed to check daily payment count", err)
	}
	if dailyCount >= int64(s.cfg.DailyCountLimit) {
		return errors.NewValidationError(
			fmt.Sprintf("daily payment count limit of %d reached", s.cfg.DailyCountLimit),
			errors.ErrCodeDailyCountExceeded)
	}

	dailySum, err := s.repository.SumAmountByUserSince(ctx, req.UserID, dayStart)
	if err != nil {
		return errors.NewInternalError("failed to check daily payment volume", err)
	}
	if dailySum+req.AmountCents > s.cfg.DailyAmountCents {
		return errors.NewValidationError(
			fmt.Sprintf("daily payment amount limit of %d cents exceeded", s.cfg.DailyAmountCents),
			errors.ErrCodeDailyAmountExceeded)
	}

	hourlyCount, err := s.repository.CountByUserSince(ctx, req.UserID, now.Add(-velocityWindow))
	if err != nil {
		return errors.NewInternalError("failed to check payment velocity", err)
	}
	if hourlyCount >= velocityLimit {
		return errors.NewValidationError(
			fmt.Sprintf("more than %d payments in the last hour", velocityLimit-1),
			errors.ErrCodeVelocityExceeded)
	}

	sameAmount, err := s.repository.CountSameAmountSince(ctx, req.UserID, req.AmountCents, dayStart)
	if err != nil {
		return errors.NewInternalError("failed to check duplicate amount pattern", err)
	}
	if sameAmount >= sameAmountLimit {
		return errors.NewValidationError(
			fmt.Sprintf("%d or more identical amounts today", sameAmountLimit),
			errors.ErrCodeDuplicateAmounts)
	}

	failures, err := s.repository.CountFailedByUserSince(ctx, req.UserID, now.Add(-failureBurstWindow))
	if err != nil {
		return errors.NewInternalError("failed to check recent failures", err)
	}
	if failures >= failureBurstLimit {
		return errors.NewValidationError(
			fmt.Sprintf("%d or more failed payments in the last hour", failureBurstLimit),
			errors.ErrCodeRepeatedFailures)
	}

	return nil
}

func (s *Service) currencySupported(currency string) bool {
	for _, c := range s.cfg.Currencies() {
		if c == currency {
			return true
		}
	}
	return false
}

// isRejectionCandidate decides whether a failed validation records a Failed
// payment instead of surfacing the error: only deposits that arrived with a
// deposit code take the rejection path.
func isRejectionCandidate(req *CreatePaymentRequest) bool {
	return req.Type == paymentmodel.TypeDeposit && req.DepositCode != ""
}
