package webhook

import (
	"context"
	"log/slog"
	"time"

	"github.com/mistic96/payment-broker/internal"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	webhookmodel "github.com/mistic96/payment-broker/internal/core/datamodel/webhook"
)

type Service struct {
	repository RepositoryAPI
	payments   PaymentAPI
	verifier   *Verifier
	logger     *slog.Logger
}

func NewService(repository RepositoryAPI, payments PaymentAPI, verifier *Verifier, logger *slog.Logger) *Service {
	return &Service{
		repository: repository,
		payments:   payments,
		verifier:   verifier,
		logger:     logger,
	}
}

// Process reconciles one inbound delivery. The raw record is persisted
// before any side effect; signature failure and unparseable payloads mark it
// Failed without touching any payment; an event for an untracked transaction
// still ends Processed. Replayed event ids are harmless because ApplyResult
// ignores repeated and illegal transitions.
func (s *Service) Process(ctx context.Context, provider string, body []byte, signature string) (*webhookmodel.Webhook, error) {
	now := time.Now().UTC()
	record := &webhookmodel.Webhook{
		Provider:   provider,
		RawPayload: body,
		Signature:  signature,
		Status:     webhookmodel.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repository.Create(ctx, record); err != nil {
		return nil, internal.NewInternalError("failed to persist webhook record", err)
	}

	if err := s.verifier.Verify(provider, body, signature); err != nil {
		s.markFailed(ctx, record, "signature verification failed")
		s.logger.Warn("webhook signature rejected", "provider", provider, "webhook_id", record.ID)
		return record, err
	}

	event, err := Normalize(provider, body)
	if err != nil {
		s.markFailed(ctx, record, err.Error())
		s.logger.Warn("webhook payload rejected", "provider", provider, "webhook_id", record.ID, "error", err)
		return record, err
	}
	record.ExternalEventID = event.ExternalEventID

	p := s.resolvePayment(ctx, event)
	if p == nil {
		// A webhook for a transaction we do not track is not an error.
		if err := s.repository.MarkProcessed(ctx, record.ID, nil); err != nil {
			return record, internal.NewInternalError("failed to resolve webhook record", err)
		}
		record.Status = webhookmodel.StatusProcessed
		s.logger.Info("webhook for untracked transaction",
			"provider", provider,
			"external_event_id", event.ExternalEventID,
			"external_tx_id", event.ExternalTxID)
		return record, nil
	}

	changed, err := s.payments.ApplyResult(ctx, p.ID, event.Status, event.ExternalTxID)
	if err != nil {
		s.markFailed(ctx, record, err.Error())
		return record, err
	}
	if changed {
		if err := s.payments.ResolveOpenAttempt(ctx, p.ID, event.Status); err != nil {
			s.logger.Warn("failed to resolve open attempt",
				"payment_id", p.ID, "webhook_id", record.ID, "error", err)
		}
	}

	if err := s.repository.MarkProcessed(ctx, record.ID, &p.ID); err != nil {
		return record, internal.NewInternalError("failed to resolve webhook record", err)
	}
	record.Status = webhookmodel.StatusProcessed
	record.PaymentID = &p.ID

	s.logger.Info("webhook reconciled",
		"provider", provider,
		"webhook_id", record.ID,
		"payment_id", p.ID,
		"status", string(event.Status),
		"changed", changed)
	return record, nil
}

func (s *Service) resolvePayment(ctx context.Context, event *NormalizedEvent) *paymentmodel.Payment {
	if event.ExternalTxID != "" {
		if p, err := s.payments.GetPaymentByExternalTxID(ctx, event.ExternalTxID); err == nil {
			return p
		}
	}
	if event.CorrelationID != "" {
		if p, err := s.payments.GetPaymentByCorrelationID(ctx, event.CorrelationID); err == nil {
			return p
		}
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, record *webhookmodel.Webhook, detail string) {
	if err := s.repository.MarkFailed(ctx, record.ID, detail); err != nil {
		s.logger.Error("failed to mark webhook failed", "webhook_id", record.ID, "error", err)
		return
	}
	record.Status = webhookmodel.StatusFailed
	record.ErrorDetail = &detail
}
