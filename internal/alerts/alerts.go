package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/mistic96/payment-broker/internal"
)

// StatsAPI reads the aggregate health signals the alert check evaluates.
type StatsAPI interface {
	CountFailedSince(ctx context.Context, since time.Time) (int64, error)
	CountStuckSince(ctx context.Context, olderThan time.Time) (int64, error)
}

// Service runs a fixed-interval health check over the payment store: a
// failure burst or payments sitting non-terminal past the stuck threshold
// are logged loudly for the on-call. The ticker is the only long-running
// loop in the process and is independently cancellable.
type Service struct {
	stats  StatsAPI
	cfg    *internal.AlertsConfig
	logger *slog.Logger
}

func NewService(stats StatsAPI, cfg *internal.AlertsConfig, logger *slog.Logger) *Service {
	return &Service{
		stats:  stats,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks until ctx is cancelled, checking once per interval. A failing
// check never stops the loop.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.logger.Info("alert checks disabled")
		return
	}

	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("alert checks started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("alert checks stopped")
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check runs one evaluation pass.
func (s *Service) Check(ctx context.Context) {
	now := time.Now().UTC()

	failed, err := s.stats.CountFailedSince(ctx, now.Add(-time.Hour))
	if err != nil {
		s.logger.Error("alert check: failed payment count unavailable", "error", err)
	} else if failed >= int64(s.cfg.FailureThreshold) {
		s.logger.Warn("alert: failure burst",
			"failed_last_hour", failed,
			"threshold", s.cfg.FailureThreshold)
	}

	stuckBefore := now.Add(-s.cfg.StuckPendingDuration)
	stuck, err := s.stats.CountStuckSince(ctx, stuckBefore)
	if err != nil {
		s.logger.Error("alert check: stuck payment count unavailable", "error", err)
	} else if stuck > 0 {
		s.logger.Warn("alert: payments stuck in non-terminal state",
			"count", stuck,
			"older_than", s.cfg.StuckPendingDuration.String())
	}
}
