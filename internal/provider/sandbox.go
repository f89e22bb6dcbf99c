package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
)

// sandboxJob is one simulated settlement queued behind the worker pool.
type sandboxJob struct {
	PaymentID    string
	ExternalTxID string
	AmountCents  int64
	Currency     string
}

type sandboxWorker struct {
	ID         int
	WorkerPool chan chan sandboxJob
	JobChannel chan sandboxJob
	Logger     *slog.Logger
}

func newSandboxWorker(id int, workerPool chan chan sandboxJob, logger *slog.Logger) *sandboxWorker {
	return &sandboxWorker{
		ID:         id,
		WorkerPool: workerPool,
		JobChannel: make(chan sandboxJob),
		Logger:     logger,
	}
}

func (w *sandboxWorker) Start(ctx context.Context, wg *sync.WaitGroup, processFunc func(sandboxJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.WorkerPool <- w.JobChannel

			select {
			case job := <-w.JobChannel:
				w.Logger.Debug("sandbox worker processing job", "worker_id", w.ID, "payment_id", job.PaymentID)
				processFunc(job)
			case <-ctx.Done():
				w.Logger.Debug("sandbox worker shutting down", "worker_id", w.ID)
				return
			}
		}
	}()
}

// Sandbox is the GatewayIntegration bound to test-mode gateways. Execute
// returns a Pending result immediately and a worker later settles the payment
// by posting a signed webhook back at the reconciler, mimicking how real
// rails confirm asynchronously.
type Sandbox struct {
	providerType  Type
	callbackURL   string
	signingSecret string
	logger        *slog.Logger

	jobQueue   chan sandboxJob
	workerPool chan chan sandboxJob
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

type SandboxConfig struct {
	ProviderType   Type
	CallbackURL    string
	SigningSecret  string
	MaxWorkers     int
	JobQueueSize   int
	WorkerPoolSize int
}

func NewSandbox(config SandboxConfig, logger *slog.Logger) *Sandbox {
	ctx, cancel := context.WithCancel(context.Background())

	maxWorkers := config.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	jobQueueSize := config.JobQueueSize
	if jobQueueSize <= 0 {
		jobQueueSize = 100
	}

	workerPoolSize := config.WorkerPoolSize
	if workerPoolSize <= 0 {
		workerPoolSize = maxWorkers
	}

	s := &Sandbox{
		providerType:  config.ProviderType,
		callbackURL:   config.CallbackURL,
		signingSecret: config.SigningSecret,
		logger:        logger,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan sandboxJob, jobQueueSize),
		workerPool: make(chan chan sandboxJob, workerPoolSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	s.startWorkerPool()

	return s
}

func (s *Sandbox) startWorkerPool() {
	s.once.Do(func() {
		for i := 0; i < s.maxWorkers; i++ {
			worker := newSandboxWorker(i, s.workerPool, s.logger)
			worker.Start(s.ctx, &s.wg, s.processJob)
		}

		go s.dispatch()

		s.logger.Info("sandbox worker pool started",
			"provider", s.providerType,
			"max_workers", s.maxWorkers,
			"queue_size", cap(s.jobQueue))
	})
}

func (s *Sandbox) dispatch() {
	s.wg.Add(1)
	defer s.wg.Done()

	for {
		select {
		case job := <-s.jobQueue:
			select {
			case jobChannel := <-s.workerPool:
				select {
				case jobChannel <- job:
				case <-s.ctx.Done():
					s.logger.Info("sandbox dispatcher shutting down")
					return
				}
			case <-s.ctx.Done():
				s.logger.Info("sandbox dispatcher shutting down")
				return
			}
		case <-s.ctx.Done():
			s.logger.Info("sandbox dispatcher shutting down")
			return
		}
	}
}

func (s *Sandbox) Shutdown() {
	s.logger.Info("shutting down sandbox integration", "provider", s.providerType)
	s.cancel()
	s.wg.Wait()
	s.logger.Info("sandbox integration shutdown complete", "provider", s.providerType)
}

func (s *Sandbox) Execute(ctx context.Context, p *paymentmodel.Payment) (*Result, error) {
	externalTxID := fmt.Sprintf("sandbox_%s", uuid.New().String())

	job := sandboxJob{
		PaymentID:    p.ID,
		ExternalTxID: externalTxID,
		AmountCents:  p.AmountCents,
		Currency:     p.Currency,
	}

	select {
	case s.jobQueue <- job:
		s.logger.Info("sandbox payment queued for settlement",
			"provider", s.providerType,
			"payment_id", p.ID,
			"external_tx_id", externalTxID,
			"queue_length", len(s.jobQueue))
	default:
		s.logger.Warn("sandbox job queue full, rejecting payment",
			"provider", s.providerType,
			"payment_id", p.ID,
			"queue_capacity", cap(s.jobQueue))
		return nil, fmt.Errorf("sandbox queue full, please try again later")
	}

	return &Result{
		Status:       paymentmodel.StatusPending,
		ExternalTxID: externalTxID,
	}, nil
}

func (s *Sandbox) VerifyMethod(ctx context.Context, methodID string) (*Verification, error) {
	// Sandbox accepts everything except an obviously broken id.
	return &Verification{
		IsValid:  methodID != "",
		Metadata: map[string]string{"sandbox": "true"},
	}, nil
}

func (s *Sandbox) processJob(job sandboxJob) {
	delay := time.Duration(1+rand.Intn(4)) * time.Second

	select {
	case <-time.After(delay):
	case <-s.ctx.Done():
		s.logger.Info("sandbox job cancelled", "payment_id", job.PaymentID)
		return
	}

	status := "succeeded"
	var failureReason string
	if rand.Float32() >= 0.9 {
		status = "failed"
		failureReason = "insufficient funds"
	}

	s.logger.Info("sandbox settlement simulated",
		"payment_id", job.PaymentID,
		"status", status,
		"delay_seconds", delay.Seconds())

	s.sendCallback(job, status, failureReason)
}

func (s *Sandbox) sendCallback(job sandboxJob, status, failureReason string) {
	select {
	case <-s.ctx.Done():
		s.logger.Info("sandbox callback cancelled", "payment_id", job.PaymentID)
		return
	default:
	}

	payload := map[string]interface{}{
		"event_id":       uuid.New().String(),
		"event_type":     "payment.settled",
		"external_tx_id": job.ExternalTxID,
		"status":         status,
		"amount_cents":   job.AmountCents,
		"currency":       job.Currency,
	}
	if failureReason != "" {
		payload["failure_reason"] = failureReason
	}

	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("sandbox: failed to marshal callback", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/%s", s.callbackURL, s.providerType)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		s.logger.Error("sandbox: failed to create callback request", "error", err, "payment_id", job.PaymentID)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signPayload(body, s.signingSecret))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.logger.Error("sandbox: callback failed", "error", err, "payment_id", job.PaymentID)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		s.logger.Info("sandbox: callback delivered",
			"payment_id", job.PaymentID,
			"status_code", resp.StatusCode)
	} else {
		s.logger.Warn("sandbox: callback rejected",
			"payment_id", job.PaymentID,
			"status_code", resp.StatusCode)
	}
}

func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
