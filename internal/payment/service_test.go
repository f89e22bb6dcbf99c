package payment_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/mistic96/payment-broker/internal"
	"github.com/mistic96/payment-broker/internal/cache"
	"github.com/mistic96/payment-broker/internal/core/events"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
	"github.com/mistic96/payment-broker/internal/gateway"
	paymentPkg "github.com/mistic96/payment-broker/internal/payment"
	"github.com/mistic96/payment-broker/internal/provider"
)

func TestPaymentService(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Payment Service Suite")
}

// Mock repository for testing
type mockPaymentRepository struct {
	payments     map[string]*paymentmodel.Payment
	attempts     map[string][]*paymentmodel.Attempt
	nextAttempt  int64
	countCalls   int
	createError  error
	getError     error
	guardError   error
	dailyCount   int64
	dailySum     int64
	hourlyCount  int64
	sameAmount   int64
	failureCount int64
}

func newMockPaymentRepository() *mockPaymentRepository {
	return &mockPaymentRepository{
		payments: make(map[string]*paymentmodel.Payment),
		attempts: make(map[string][]*paymentmodel.Attempt),
	}
}

func (m *mockPaymentRepository) Create(ctx context.Context, p *paymentmodel.Payment) error {
	if m.createError != nil {
		return m.createError
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *mockPaymentRepository) GetByID(ctx context.Context, id string) (*paymentmodel.Payment, error) {
	if m.getError != nil {
		return nil, m.getError
	}
	p, exists := m.payments[id]
	if !exists {
		return nil, apperrors.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockPaymentRepository) GetByExternalTxID(ctx context.Context, externalTxID string) (*paymentmodel.Payment, error) {
	for _, p := range m.payments {
		if p.ExternalTxID == externalTxID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperrors.ErrPaymentNotFound
}

func (m *mockPaymentRepository) GetByCorrelationID(ctx context.Context, correlationID string) (*paymentmodel.Payment, error) {
	for _, p := range m.payments {
		if p.CorrelationID == correlationID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, apperrors.ErrPaymentNotFound
}

func (m *mockPaymentRepository) List(ctx context.Context, filter paymentPkg.ListFilter) ([]*paymentmodel.Payment, error) {
	var out []*paymentmodel.Payment
	for _, p := range m.payments {
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockPaymentRepository) UpdateGuarded(ctx context.Context, id string, expectedUpdatedAt time.Time, updates map[string]interface{}) (bool, error) {
	if m.guardError != nil {
		return false, m.guardError
	}
	p, exists := m.payments[id]
	if !exists {
		return false, nil
	}
	if !p.UpdatedAt.Equal(expectedUpdatedAt) {
		return false, nil
	}
	if v, ok := updates["status"]; ok {
		p.Status = v.(paymentmodel.Status)
	}
	if v, ok := updates["external_tx_id"]; ok {
		p.ExternalTxID = v.(string)
	}
	if v, ok := updates["completed_at"]; ok {
		t := v.(time.Time)
		p.CompletedAt = &t
	}
	if v, ok := updates["metadata"]; ok {
		switch mv := v.(type) {
		case json.RawMessage:
			p.Metadata = mv
		case []byte:
			p.Metadata = json.RawMessage(mv)
		}
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

// The service checks the daily window first, then the trailing hour.
func (m *mockPaymentRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	m.countCalls++
	if m.countCalls%2 == 1 {
		return m.dailyCount, nil
	}
	return m.hourlyCount, nil
}

func (m *mockPaymentRepository) CountFailedByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return m.failureCount, nil
}

func (m *mockPaymentRepository) CountSameAmountSince(ctx context.Context, userID string, amountCents int64, since time.Time) (int64, error) {
	return m.sameAmount, nil
}

func (m *mockPaymentRepository) SumAmountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	return m.dailySum, nil
}

func (m *mockPaymentRepository) FindExpiredPending(ctx context.Context, now time.Time, limit int) ([]*paymentmodel.Payment, error) {
	var out []*paymentmodel.Payment
	for _, p := range m.payments {
		if (p.Status == paymentmodel.StatusPending || p.Status == paymentmodel.StatusProcessing) && p.IsExpired(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockPaymentRepository) CreateAttempt(ctx context.Context, a *paymentmodel.Attempt) error {
	m.nextAttempt++
	a.ID = m.nextAttempt
	cp := *a
	m.attempts[a.PaymentID] = append(m.attempts[a.PaymentID], &cp)
	return nil
}

func (m *mockPaymentRepository) CountAttempts(ctx context.Context, paymentID string) (int, error) {
	return len(m.attempts[paymentID]), nil
}

func (m *mockPaymentRepository) LatestAttempt(ctx context.Context, paymentID string) (*paymentmodel.Attempt, error) {
	list := m.attempts[paymentID]
	if len(list) == 0 {
		return nil, nil
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (m *mockPaymentRepository) UpdateAttempt(ctx context.Context, id int64, status paymentmodel.AttemptStatus, gatewayResponse json.RawMessage, durationMs int64) error {
	for _, list := range m.attempts {
		for _, a := range list {
			if a.ID == id {
				a.Status = status
				if len(gatewayResponse) > 0 {
					a.GatewayResponse = gatewayResponse
				}
				a.DurationMs = durationMs
				return nil
			}
		}
	}
	return errors.New("attempt not found")
}

// Mock cache tracking invalidations
type mockCache struct {
	entries map[string][]byte
	removed []string
	getErr  error
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string][]byte)}
}

func (m *mockCache) Get(ctx context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.entries[key]
	if !ok {
		return cache.ErrMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *mockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *mockCache) Remove(ctx context.Context, key string) error {
	delete(m.entries, key)
	m.removed = append(m.removed, key)
	return nil
}

// Mock deposit code engine
type mockDepositCodes struct {
	validateErr error
	consumed    map[string]string
	consumeErr  error
}

func newMockDepositCodes() *mockDepositCodes {
	return &mockDepositCodes{consumed: make(map[string]string)}
}

func (m *mockDepositCodes) Validate(ctx context.Context, ownerID, code string, amountCents int64, currency string) error {
	return m.validateErr
}

func (m *mockDepositCodes) Consume(ctx context.Context, code, paymentID string) error {
	if m.consumeErr != nil {
		return m.consumeErr
	}
	if _, used := m.consumed[code]; used {
		return apperrors.NewConflictError("code already used", apperrors.ErrCodeCodeAlreadyUsed)
	}
	m.consumed[code] = paymentID
	return nil
}

type mockRouter struct {
	providerType provider.Type
	selectErr    error
	available    bool
}

func (m *mockRouter) SelectProvider(req gateway.RouteRequest) (provider.Type, error) {
	if m.selectErr != nil {
		return "", m.selectErr
	}
	return m.providerType, nil
}

func (m *mockRouter) IsAvailable(p provider.Type, currency string, amountCents int64) bool {
	return m.available
}

type mockCatalog struct {
	gateway *gatewaymodel.Gateway
	err     error
}

func (m *mockCatalog) GetBestGateway(ctx context.Context, amountCents int64, currency, paymentType, country string) (*gatewaymodel.Gateway, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.gateway, nil
}

func (m *mockCatalog) GetGateway(ctx context.Context, id int64) (*gatewaymodel.Gateway, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.gateway, nil
}

// Mock provider integration
type mockIntegration struct {
	result   *provider.Result
	err      error
	calls    int
	lastCtx  context.Context
	executed []string
}

func (m *mockIntegration) Execute(ctx context.Context, p *paymentmodel.Payment) (*provider.Result, error) {
	m.calls++
	m.lastCtx = ctx
	m.executed = append(m.executed, p.ID)
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockIntegration) VerifyMethod(ctx context.Context, methodID string) (*provider.Verification, error) {
	return &provider.Verification{IsValid: true}, nil
}

type mockRefunds struct {
	calls chan int64
}

func (m *mockRefunds) SendReturn(ctx context.Context, p *paymentmodel.Payment, netCents int64, reason string) error {
	m.calls <- netCents
	return nil
}

var _ = Describe("Payment Service", func() {
	var (
		repo        *mockPaymentRepository
		cacheMock   *mockCache
		codes       *mockDepositCodes
		router      *mockRouter
		catalog     *mockCatalog
		integration *mockIntegration
		refunds     *mockRefunds
		registry    *provider.Registry
		service     *paymentPkg.Service
		cfg         *apperrors.PaymentConfig
		logger      *slog.Logger
		ctx         context.Context
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		repo = newMockPaymentRepository()
		cacheMock = newMockCache()
		codes = newMockDepositCodes()
		router = &mockRouter{providerType: provider.TypeSquare, available: true}
		catalog = &mockCatalog{
			gateway: &gatewaymodel.Gateway{
				ID:            1,
				Name:          "square-us",
				Provider:      string(provider.TypeSquare),
				IsActive:      true,
				FeePercent:    2.9,
				FeeFixedCents: 30,
				Priority:      1,
			},
		}
		integration = &mockIntegration{
			result: &provider.Result{
				Status:       paymentmodel.StatusCompleted,
				ExternalTxID: "ext_123",
			},
		}
		refunds = &mockRefunds{calls: make(chan int64, 1)}
		registry = provider.NewRegistry()
		registry.Register(provider.TypeSquare, integration)

		cfg = &apperrors.PaymentConfig{
			MinAmountCents:      100,
			MaxAmountCents:      5000000,
			SupportedCurrencies: "USD,EUR,BRL",
			DailyCountLimit:     20,
			DailyAmountCents:    10000000,
			MaxAttempts:         3,
			ProviderTimeout:     2 * time.Second,
			ExpiryWindow:        24 * time.Hour,
			RejectionExpiry:     time.Hour,
		}

		eventBus := events.NewEventBus(logger)
		service = paymentPkg.NewService(repo, cacheMock, codes, router, catalog, registry, refunds, eventBus, cfg, logger)
		ctx = context.Background()
	})

	Describe("CreatePayment", func() {
		It("creates a deposit, runs the first attempt and completes it", func() {
			req := &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
			}

			p, err := service.CreatePayment(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(p.ExternalTxID).To(Equal("ext_123"))
			Expect(p.FeeCents).To(Equal(int64(10000*29/1000 + 30)))
			Expect(p.NetCents).To(Equal(p.AmountCents - p.FeeCents))
			Expect(p.CompletedAt).NotTo(BeNil())
			Expect(integration.calls).To(Equal(1))

			attempts := repo.attempts[p.ID]
			Expect(attempts).To(HaveLen(1))
			Expect(attempts[0].AttemptNumber).To(Equal(1))
			Expect(attempts[0].Status).To(Equal(paymentmodel.AttemptSucceeded))
		})

		It("sets a 24 hour expiry on the created payment", func() {
			req := &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
			}

			p, err := service.CreatePayment(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ExpiresAt).To(BeTemporally("~", time.Now().UTC().Add(24*time.Hour), time.Minute))
		})

		It("leaves the payment Processing when the provider reports pending", func() {
			integration.result = &provider.Result{
				Status:       paymentmodel.StatusPending,
				ExternalTxID: "sandbox_42",
			}

			p, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(paymentmodel.StatusProcessing))
			Expect(p.ExternalTxID).To(Equal("sandbox_42"))
			Expect(p.CompletedAt).To(BeNil())

			attempts := repo.attempts[p.ID]
			Expect(attempts).To(HaveLen(1))
			Expect(attempts[0].Status).To(Equal(paymentmodel.AttemptProcessing))
		})

		It("marks the payment Failed when the provider errors, but still returns it", func() {
			integration.err = errors.New("connection refused")

			p, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(paymentmodel.StatusFailed))
		})

		It("surfaces validation failures for requests without a deposit code", func() {
			_, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 50,
				Currency:    "USD",
				Type:        paymentmodel.TypeWithdrawal,
			})
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeAmountTooLow))
			Expect(repo.payments).To(BeEmpty())
		})

		It("rejects unsupported currencies", func() {
			_, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "IDR",
				Type:        paymentmodel.TypeWithdrawal,
			})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeUnsupportedCurrency))
		})

		It("enforces the hourly velocity limit with its own code", func() {
			repo.hourlyCount = 5

			_, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeWithdrawal,
			})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeVelocityExceeded))
		})

		It("enforces the same-amount pattern limit with its own code", func() {
			repo.sameAmount = 3

			_, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeWithdrawal,
			})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeDuplicateAmounts))
		})

		It("enforces the recent-failure limit with its own code", func() {
			repo.failureCount = 3

			_, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeWithdrawal,
			})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeRepeatedFailures))
		})

		It("does not create the payment when routing fails", func() {
			router.selectErr = apperrors.ErrNoGatewayAvailable

			_, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
			})
			Expect(err).To(MatchError(apperrors.ErrNoGatewayAvailable))
			Expect(repo.payments).To(BeEmpty())
		})

		It("consumes the deposit code exactly once with the payment id attached", func() {
			p, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
				DepositCode: "ABCD2345",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(codes.consumed).To(HaveKeyWithValue("ABCD2345", p.ID))
		})
	})

	Describe("rejection path", func() {
		It("records an invalid deposit code as a Failed payment with rejection fees", func() {
			codes.validateErr = apperrors.ErrDepositCodeNotFound

			p, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 100000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
				DepositCode: "ABCD1234",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(paymentmodel.StatusFailed))

			// wire 2500 + 2.9% processor + internal 1000
			Expect(p.FeeCents).To(Equal(int64(2500 + 2900 + 1000)))
			Expect(p.NetCents).To(Equal(int64(100000 - 6400)))
			Expect(p.ExpiresAt).To(BeTemporally("~", time.Now().UTC().Add(time.Hour), time.Minute))

			var meta map[string]interface{}
			Expect(json.Unmarshal(p.Metadata, &meta)).To(Succeed())
			Expect(meta).To(HaveKey("rejection_reason"))
			Expect(meta).To(HaveKeyWithValue("rejection_code", string(apperrors.ErrCodeCodeNotFound)))
			Expect(meta).To(HaveKey("original_request"))
		})

		It("triggers a best-effort return transfer when net amount is positive", func() {
			codes.validateErr = apperrors.ErrDepositCodeExpired

			_, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 100000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
				DepositCode: "ABCD1234",
			})
			Expect(err).NotTo(HaveOccurred())
			Eventually(refunds.calls).Should(Receive(Equal(int64(93600))))
		})

		It("clamps net to zero instead of failing when fees exceed the deposit", func() {
			codes.validateErr = apperrors.ErrDepositCodeNotFound

			p, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 3000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
				DepositCode: "ABCD1234",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.NetCents).To(Equal(int64(0)))
			Consistently(refunds.calls).ShouldNot(Receive())
		})

		It("routes business validation failures on coded deposits to the rejection path", func() {
			repo.dailyCount = 20

			p, err := service.CreatePayment(ctx, &paymentPkg.CreatePaymentRequest{
				UserID:      "user-1",
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
				DepositCode: "ABCD1234",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(p.Status).To(Equal(paymentmodel.StatusFailed))
		})
	})

	Describe("ApplyResult", func() {
		var paymentID string

		BeforeEach(func() {
			now := time.Now().UTC()
			userID := "user-1"
			p := &paymentmodel.Payment{
				ID:          "pay-1",
				UserID:      &userID,
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
				Status:      paymentmodel.StatusProcessing,
				CreatedAt:   now,
				UpdatedAt:   now,
				ExpiresAt:   now.Add(24 * time.Hour),
			}
			repo.payments[p.ID] = p
			paymentID = p.ID
		})

		It("applies a legal transition and invalidates the cache", func() {
			changed, err := service.ApplyResult(ctx, paymentID, paymentmodel.StatusCompleted, "ext_9")
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeTrue())

			p := repo.payments[paymentID]
			Expect(p.Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(p.ExternalTxID).To(Equal("ext_9"))
			Expect(p.CompletedAt).NotTo(BeNil())
			Expect(cacheMock.removed).To(ContainElement(cache.PaymentKey(paymentID)))
		})

		It("is a no-op for a repeated status", func() {
			changed, err := service.ApplyResult(ctx, paymentID, paymentmodel.StatusProcessing, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
		})

		It("ignores illegal transitions out of a terminal state", func() {
			_, err := service.ApplyResult(ctx, paymentID, paymentmodel.StatusCompleted, "")
			Expect(err).NotTo(HaveOccurred())
			firstCompleted := *repo.payments[paymentID].CompletedAt

			changed, err := service.ApplyResult(ctx, paymentID, paymentmodel.StatusFailed, "")
			Expect(err).NotTo(HaveOccurred())
			Expect(changed).To(BeFalse())
			Expect(repo.payments[paymentID].Status).To(Equal(paymentmodel.StatusCompleted))
			Expect(*repo.payments[paymentID].CompletedAt).To(Equal(firstCompleted))
		})

		It("does not overwrite an already-set external transaction id", func() {
			repo.payments[paymentID].ExternalTxID = "ext_original"

			_, err := service.ApplyResult(ctx, paymentID, paymentmodel.StatusCompleted, "ext_other")
			Expect(err).NotTo(HaveOccurred())
			Expect(repo.payments[paymentID].ExternalTxID).To(Equal("ext_original"))
		})

		It("returns not found for an unknown payment", func() {
			_, err := service.ApplyResult(ctx, "missing", paymentmodel.StatusCompleted, "")
			Expect(err).To(MatchError(apperrors.ErrPaymentNotFound))
		})
	})

	Describe("Retry", func() {
		var paymentID string

		makeFailedPayment := func(attempts int, expired bool) string {
			now := time.Now().UTC()
			userID := "user-1"
			gatewayID := int64(1)
			p := &paymentmodel.Payment{
				ID:          fmt.Sprintf("pay-retry-%d", len(repo.payments)+1),
				UserID:      &userID,
				AmountCents: 10000,
				Currency:    "USD",
				Type:        paymentmodel.TypeDeposit,
				Status:      paymentmodel.StatusFailed,
				GatewayID:   &gatewayID,
				CreatedAt:   now,
				UpdatedAt:   now,
				ExpiresAt:   now.Add(24 * time.Hour),
			}
			if expired {
				p.ExpiresAt = now.Add(-time.Minute)
			}
			repo.payments[p.ID] = p
			for i := 0; i < attempts; i++ {
				_ = repo.CreateAttempt(ctx, &paymentmodel.Attempt{
					PaymentID:     p.ID,
					AttemptNumber: i + 1,
					Status:        paymentmodel.AttemptFailed,
				})
			}
			return p.ID
		}

		BeforeEach(func() {
			paymentID = makeFailedPayment(1, false)
		})

		It("creates a new attempt and applies the provider result", func() {
			attempt, err := service.Retry(ctx, paymentID)
			Expect(err).NotTo(HaveOccurred())
			Expect(attempt.AttemptNumber).To(Equal(2))
			Expect(attempt.Status).To(Equal(paymentmodel.AttemptSucceeded))
			Expect(repo.payments[paymentID].Status).To(Equal(paymentmodel.StatusCompleted))
		})

		It("refuses to retry a payment that is not Failed", func() {
			repo.payments[paymentID].Status = paymentmodel.StatusProcessing

			_, err := service.Retry(ctx, paymentID)
			Expect(err).To(MatchError(apperrors.ErrRetryNotAllowed))
		})

		It("refuses to retry past the attempt ceiling", func() {
			id := makeFailedPayment(3, false)

			_, err := service.Retry(ctx, id)
			Expect(err).To(MatchError(apperrors.ErrRetryNotAllowed))
			Expect(integration.calls).To(BeZero())
		})

		It("refuses to retry an expired payment", func() {
			id := makeFailedPayment(1, true)

			_, err := service.Retry(ctx, id)
			Expect(err).To(MatchError(apperrors.ErrRetryNotAllowed))
		})

		It("propagates provider errors and marks attempt and payment Failed", func() {
			integration.err = errors.New("gateway 502")

			attempt, err := service.Retry(ctx, paymentID)
			Expect(err).To(HaveOccurred())
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeProvider))
			Expect(attempt.Status).To(Equal(paymentmodel.AttemptFailed))
			Expect(repo.payments[paymentID].Status).To(Equal(paymentmodel.StatusFailed))
		})
	})

	Describe("Cancel", func() {
		BeforeEach(func() {
			now := time.Now().UTC()
			repo.payments["pay-c"] = &paymentmodel.Payment{
				ID:        "pay-c",
				Status:    paymentmodel.StatusPending,
				CreatedAt: now,
				UpdatedAt: now,
				ExpiresAt: now.Add(24 * time.Hour),
			}
		})

		It("cancels a pending payment and records the reason in metadata", func() {
			err := service.Cancel(ctx, "pay-c", "user requested")
			Expect(err).NotTo(HaveOccurred())

			p := repo.payments["pay-c"]
			Expect(p.Status).To(Equal(paymentmodel.StatusCancelled))

			var meta map[string]interface{}
			Expect(json.Unmarshal(p.Metadata, &meta)).To(Succeed())
			Expect(meta).To(HaveKeyWithValue("cancel_reason", "user requested"))
			Expect(meta).To(HaveKey("cancelled_at"))
		})

		It("refuses to cancel a completed payment", func() {
			repo.payments["pay-c"].Status = paymentmodel.StatusCompleted

			err := service.Cancel(ctx, "pay-c", "too late")
			Expect(err).To(MatchError(apperrors.ErrCancelNotAllowed))
		})

		It("refuses to cancel twice", func() {
			Expect(service.Cancel(ctx, "pay-c", "first")).To(Succeed())
			Expect(service.Cancel(ctx, "pay-c", "second")).To(MatchError(apperrors.ErrCancelNotAllowed))
		})
	})

	Describe("GetPayment", func() {
		BeforeEach(func() {
			now := time.Now().UTC()
			repo.payments["pay-g"] = &paymentmodel.Payment{
				ID:          "pay-g",
				AmountCents: 5000,
				Currency:    "USD",
				Status:      paymentmodel.StatusCompleted,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
		})

		It("populates the cache on a miss and serves the next read from it", func() {
			p, err := service.GetPayment(ctx, "pay-g")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ID).To(Equal("pay-g"))
			Expect(cacheMock.entries).To(HaveKey(cache.PaymentKey("pay-g")))

			repo.getError = errors.New("db down")
			cached, err := service.GetPayment(ctx, "pay-g")
			Expect(err).NotTo(HaveOccurred())
			Expect(cached.AmountCents).To(Equal(int64(5000)))
		})

		It("falls back to storage when the cache read fails", func() {
			cacheMock.getErr = errors.New("redis down")

			p, err := service.GetPayment(ctx, "pay-g")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.ID).To(Equal("pay-g"))
		})
	})

	Describe("ExpirePending", func() {
		It("fails payments whose expiry passed and resolves their attempts", func() {
			now := time.Now().UTC()
			repo.payments["pay-e"] = &paymentmodel.Payment{
				ID:        "pay-e",
				Status:    paymentmodel.StatusProcessing,
				CreatedAt: now.Add(-25 * time.Hour),
				UpdatedAt: now.Add(-25 * time.Hour),
				ExpiresAt: now.Add(-time.Hour),
			}
			_ = repo.CreateAttempt(ctx, &paymentmodel.Attempt{
				PaymentID:     "pay-e",
				AttemptNumber: 1,
				Status:        paymentmodel.AttemptProcessing,
			})

			count, err := service.ExpirePending(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(1))
			Expect(repo.payments["pay-e"].Status).To(Equal(paymentmodel.StatusFailed))
			Expect(repo.attempts["pay-e"][0].Status).To(Equal(paymentmodel.AttemptFailed))
		})
	})

	Describe("ResolveOpenAttempt", func() {
		It("closes an open attempt to the status mirroring the payment", func() {
			_ = repo.CreateAttempt(ctx, &paymentmodel.Attempt{
				PaymentID:     "pay-r",
				AttemptNumber: 1,
				Status:        paymentmodel.AttemptProcessing,
			})

			Expect(service.ResolveOpenAttempt(ctx, "pay-r", paymentmodel.StatusCompleted)).To(Succeed())
			Expect(repo.attempts["pay-r"][0].Status).To(Equal(paymentmodel.AttemptSucceeded))
		})

		It("never reopens a terminal attempt", func() {
			_ = repo.CreateAttempt(ctx, &paymentmodel.Attempt{
				PaymentID:     "pay-r",
				AttemptNumber: 1,
				Status:        paymentmodel.AttemptSucceeded,
			})

			Expect(service.ResolveOpenAttempt(ctx, "pay-r", paymentmodel.StatusFailed)).To(Succeed())
			Expect(repo.attempts["pay-r"][0].Status).To(Equal(paymentmodel.AttemptSucceeded))
		})

		It("is a no-op when the payment has no attempts", func() {
			Expect(service.ResolveOpenAttempt(ctx, "pay-none", paymentmodel.StatusCompleted)).To(Succeed())
		})
	})
})
