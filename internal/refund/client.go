package refund

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
)

// returnJob is one queued return transfer for a rejected deposit.
type returnJob struct {
	PaymentID string
	UserID    string
	NetCents  int64
	Currency  string
	Reason    string
}

type worker struct {
	id         int
	workerPool chan chan returnJob
	jobChannel chan returnJob
	logger     *slog.Logger
}

func newWorker(id int, workerPool chan chan returnJob, logger *slog.Logger) *worker {
	return &worker{
		id:         id,
		workerPool: workerPool,
		jobChannel: make(chan returnJob),
		logger:     logger,
	}
}

func (w *worker) start(ctx context.Context, wg *sync.WaitGroup, processFunc func(returnJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.workerPool <- w.jobChannel

			select {
			case job := <-w.jobChannel:
				w.logger.Debug("worker processing return", "worker_id", w.id, "payment_id", job.PaymentID)
				processFunc(job)
			case <-ctx.Done():
				w.logger.Debug("worker shutting down", "worker_id", w.id)
				return
			}
		}
	}()
}

// Client dispatches return transfers for rejected deposits to the treasury
// API. Transfers are queued and sent by a worker pool so the rejection path
// never blocks on treasury latency.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	logger  *slog.Logger

	jobQueue   chan returnJob
	workerPool chan chan returnJob
	maxWorkers int
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	once       sync.Once
}

type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	MaxWorkers     int
	JobQueueSize   int
	WorkerPoolSize int
}

func NewClient(config Config, logger *slog.Logger) *Client {
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

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &Client{
		baseURL: config.BaseURL,
		apiKey:  config.APIKey,
		timeout: timeout,
		logger:  logger,

		maxWorkers: maxWorkers,
		jobQueue:   make(chan returnJob, jobQueueSize),
		workerPool: make(chan chan returnJob, workerPoolSize),
		ctx:        ctx,
		cancel:     cancel,
	}

	client.startWorkerPool()

	return client
}

func (c *Client) startWorkerPool() {
	c.once.Do(func() {
		for i := 0; i < c.maxWorkers; i++ {
			w := newWorker(i, c.workerPool, c.logger)
			w.start(c.ctx, &c.wg, c.processReturnJob)
		}

		go c.dispatch()

		c.logger.Info("refund worker pool started",
			"max_workers", c.maxWorkers,
			"queue_size", cap(c.jobQueue))
	})
}

func (c *Client) dispatch() {
	c.wg.Add(1)
	defer c.wg.Done()

	for {
		select {
		case job := <-c.jobQueue:
			select {
			case jobChannel := <-c.workerPool:
				select {
				case jobChannel <- job:
				case <-c.ctx.Done():
					c.logger.Info("refund dispatcher shutting down")
					return
				}
			case <-c.ctx.Done():
				c.logger.Info("refund dispatcher shutting down")
				return
			}
		case <-c.ctx.Done():
			c.logger.Info("refund dispatcher shutting down")
			return
		}
	}
}

func (c *Client) Shutdown() {
	c.logger.Info("shutting down refund client")
	c.cancel()
	c.wg.Wait()
	c.logger.Info("refund client shutdown complete")
}

// SendReturn queues a return transfer for the net amount of a rejected
// deposit. A full queue is surfaced to the caller so the rejection can be
// flagged for manual follow-up.
func (c *Client) SendReturn(ctx context.Context, p *paymentmodel.Payment, netCents int64, reason string) error {
	if netCents <= 0 {
		return fmt.Errorf("nothing to return for payment %s", p.ID)
	}

	var userID string
	if p.UserID != nil {
		userID = *p.UserID
	}

	job := returnJob{
		PaymentID: p.ID,
		UserID:    userID,
		NetCents:  netCents,
		Currency:  p.Currency,
		Reason:    reason,
	}

	select {
	case c.jobQueue <- job:
		c.logger.Info("return transfer queued",
			"payment_id", p.ID,
			"net_cents", netCents,
			"queue_length", len(c.jobQueue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		c.logger.Warn("return queue full, rejecting transfer",
			"payment_id", p.ID,
			"queue_capacity", cap(c.jobQueue))
		return fmt.Errorf("return transfer queue full")
	}
}

func (c *Client) processReturnJob(job returnJob) {
	payload := map[string]interface{}{
		"payment_id": job.PaymentID,
		"user_id":    job.UserID,
		"net_cents":  job.NetCents,
		"currency":   job.Currency,
		"reason":     job.Reason,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal return transfer", "payment_id", job.PaymentID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/returns", bytes.NewBuffer(jsonData))
	if err != nil {
		c.logger.Error("failed to build return request", "payment_id", job.PaymentID, "error", err)
		return
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	client := &http.Client{Timeout: c.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		c.logger.Error("return transfer request failed", "payment_id", job.PaymentID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Error("treasury rejected return transfer",
			"payment_id", job.PaymentID,
			"status_code", resp.StatusCode)
		return
	}

	var apiResponse struct {
		Data struct {
			TransferID string `json:"transfer_id"`
			Status     string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		c.logger.Warn("could not decode treasury response", "payment_id", job.PaymentID, "error", err)
		return
	}

	c.logger.Info("return transfer accepted",
		"payment_id", job.PaymentID,
		"transfer_id", apiResponse.Data.TransferID,
		"status", apiResponse.Data.Status)
}
