package depositcode_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/mistic96/payment-broker/internal"
	codemodel "github.com/mistic96/payment-broker/internal/core/datamodel/depositcode"
	"github.com/mistic96/payment-broker/internal/core/events"
	codepkg "github.com/mistic96/payment-broker/internal/depositcode"
	"github.com/mistic96/payment-broker/internal/ledger"
)

// Mock repository for testing; enforces case-insensitive uniqueness the way
// the unique index does.
type mockCodeRepository struct {
	codes       map[string]*codemodel.Code
	nextID      int64
	createError error
	// forcedCollisions makes the first n Create calls collide regardless
	// of the code drawn.
	forcedCollisions int
	createCalls      int
}

func newMockCodeRepository() *mockCodeRepository {
	return &mockCodeRepository{codes: make(map[string]*codemodel.Code)}
}

func (m *mockCodeRepository) Create(ctx context.Context, c *codemodel.Code) error {
	m.createCalls++
	if m.createError != nil {
		return m.createError
	}
	if m.forcedCollisions > 0 {
		m.forcedCollisions--
		return apperrors.ErrDepositCodeCollision
	}
	key := strings.ToLower(c.Code)
	if _, exists := m.codes[key]; exists {
		return apperrors.ErrDepositCodeCollision
	}
	m.nextID++
	c.ID = m.nextID
	cp := *c
	m.codes[key] = &cp
	return nil
}

func (m *mockCodeRepository) GetByCode(ctx context.Context, code string) (*codemodel.Code, error) {
	c, exists := m.codes[strings.ToLower(code)]
	if !exists {
		return nil, apperrors.ErrDepositCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCodeRepository) GetByID(ctx context.Context, id int64) (*codemodel.Code, error) {
	for _, c := range m.codes {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, apperrors.ErrDepositCodeNotFound
}

func (m *mockCodeRepository) List(ctx context.Context, filter codepkg.ListFilter) ([]*codemodel.Code, error) {
	var out []*codemodel.Code
	for _, c := range m.codes {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockCodeRepository) ConsumeActive(ctx context.Context, code, paymentID string) (bool, error) {
	c, exists := m.codes[strings.ToLower(code)]
	if !exists || c.Status != codemodel.StatusActive {
		return false, nil
	}
	c.Status = codemodel.StatusUsed
	c.PaymentID = &paymentID
	return true, nil
}

func (m *mockCodeRepository) UpdateStatus(ctx context.Context, id int64, status codemodel.Status, metadata json.RawMessage) error {
	for _, c := range m.codes {
		if c.ID == id {
			c.Status = status
			if len(metadata) > 0 {
				c.Metadata = metadata
			}
			return nil
		}
	}
	return apperrors.ErrDepositCodeNotFound
}

func (m *mockCodeRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for _, c := range m.codes {
		if c.Status == codemodel.StatusActive && c.IsExpired(now) {
			c.Status = codemodel.StatusExpired
			count++
		}
	}
	return count, nil
}

// Mock ledger mirror
type mockLedger struct {
	existing  map[string]bool
	existsErr error
	creations []ledger.Entry
	usages    []ledger.Entry
	rejects   []ledger.Entry
	recordOK  bool
}

func newMockLedger() *mockLedger {
	return &mockLedger{existing: make(map[string]bool), recordOK: true}
}

func (m *mockLedger) RecordCreation(ctx context.Context, entry ledger.Entry) bool {
	m.creations = append(m.creations, entry)
	return m.recordOK
}

func (m *mockLedger) RecordUsage(ctx context.Context, entry ledger.Entry) bool {
	m.usages = append(m.usages, entry)
	return m.recordOK
}

func (m *mockLedger) RecordRejection(ctx context.Context, entry ledger.Entry) bool {
	m.rejects = append(m.rejects, entry)
	return m.recordOK
}

func (m *mockLedger) Exists(ctx context.Context, code string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	return m.existing[strings.ToLower(code)], nil
}

var _ = Describe("Deposit Code Service", func() {
	var (
		repo       *mockCodeRepository
		mirror     *mockLedger
		service    *codepkg.Service
		ctx        context.Context
		activeCode func(code string, mutate func(*codemodel.Code)) *codemodel.Code
	)

	BeforeEach(func() {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		repo = newMockCodeRepository()
		mirror = newMockLedger()
		eventBus := events.NewEventBus(logger)
		service = codepkg.NewService(repo, mirror, eventBus, logger)
		ctx = context.Background()

		activeCode = func(code string, mutate func(*codemodel.Code)) *codemodel.Code {
			now := time.Now().UTC()
			repo.nextID++
			c := &codemodel.Code{
				ID:        repo.nextID,
				Code:      strings.ToUpper(code),
				Status:    codemodel.StatusActive,
				CreatedAt: now,
				UpdatedAt: now,
				ExpiresAt: now.Add(24 * time.Hour),
			}
			if mutate != nil {
				mutate(c)
			}
			repo.codes[strings.ToLower(code)] = c
			mirror.existing[strings.ToLower(code)] = true
			return c
		}
	})

	Describe("GenerateCode", func() {
		It("persists an active unconstrained code with a 24 hour expiry", func() {
			c, err := service.GenerateCode(ctx, &codepkg.GenerateCodeRequest{})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.Status).To(Equal(codemodel.StatusActive))
			Expect(c.Code).To(HaveLen(8))
			Expect(c.Unconstrained()).To(BeTrue())
			Expect(c.ExpiresAt).To(BeTemporally("~", time.Now().UTC().Add(24*time.Hour), time.Minute))
		})

		It("binds the code to an owner when one is given", func() {
			c, err := service.GenerateCode(ctx, &codepkg.GenerateCodeRequest{UserID: "user-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.UserID).NotTo(BeNil())
			Expect(*c.UserID).To(Equal("user-1"))
		})

		It("retries on collision and succeeds within the bound", func() {
			repo.forcedCollisions = 3

			c, err := service.GenerateCode(ctx, &codepkg.GenerateCodeRequest{})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ID).NotTo(BeZero())
			Expect(repo.createCalls).To(Equal(4))
		})

		It("fails with GenerationExhausted after 10 collisions", func() {
			repo.forcedCollisions = 10

			_, err := service.GenerateCode(ctx, &codepkg.GenerateCodeRequest{})
			Expect(err).To(MatchError(apperrors.ErrGenerationExhausted))
			Expect(repo.createCalls).To(Equal(10))
		})

		It("mirrors creation to the ledger best-effort", func() {
			_, err := service.GenerateCode(ctx, &codepkg.GenerateCodeRequest{UserID: "user-1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(mirror.creations).To(HaveLen(1))
			Expect(mirror.creations[0].UserID).To(Equal("user-1"))
		})

		It("still succeeds when the ledger mirror fails", func() {
			mirror.recordOK = false

			c, err := service.GenerateCode(ctx, &codepkg.GenerateCodeRequest{})
			Expect(err).NotTo(HaveOccurred())
			Expect(c.ID).NotTo(BeZero())
		})
	})

	Describe("Validate", func() {
		It("accepts a matching active code regardless of case", func() {
			activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.AmountCents = 10000
				c.Currency = "USD"
			})

			Expect(service.Validate(ctx, "", "wxyz2345", 10000, "USD")).To(Succeed())
		})

		It("rejects malformed codes before any lookup", func() {
			err := service.Validate(ctx, "", "AB-D2345", 1000, "USD")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeBadFormat))
		})

		It("short-circuits to NotFound when the ledger says the code does not exist", func() {
			activeCode("WXYZ2345", nil)
			delete(mirror.existing, "wxyz2345")

			err := service.Validate(ctx, "", "WXYZ2345", 1000, "USD")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeNotFound))
		})

		It("falls back to the local lookup when the ledger errors", func() {
			activeCode("WXYZ2345", nil)
			mirror.existsErr = context.DeadlineExceeded

			Expect(service.Validate(ctx, "", "WXYZ2345", 1000, "USD")).To(Succeed())
		})

		It("rejects unknown codes", func() {
			mirror.existing["abcd2345"] = true
			err := service.Validate(ctx, "", "ABCD2345", 1000, "USD")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeNotFound))
		})

		It("rejects non-active codes with WrongStatus", func() {
			activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.Status = codemodel.StatusUnderReview
			})

			err := service.Validate(ctx, "", "WXYZ2345", 1000, "USD")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeWrongStatus))
		})

		It("rejects expired codes", func() {
			activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.ExpiresAt = time.Now().UTC().Add(-time.Minute)
			})

			err := service.Validate(ctx, "", "WXYZ2345", 1000, "USD")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeExpired))
		})

		It("tolerates a one cent amount difference", func() {
			activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.AmountCents = 10000
			})

			Expect(service.Validate(ctx, "", "WXYZ2345", 10001, "USD")).To(Succeed())
			Expect(service.Validate(ctx, "", "WXYZ2345", 9999, "USD")).To(Succeed())

			err := service.Validate(ctx, "", "WXYZ2345", 10002, "USD")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeAmount))
		})

		It("accepts any amount when the code is unconstrained", func() {
			activeCode("WXYZ2345", nil)
			Expect(service.Validate(ctx, "", "WXYZ2345", 123456, "EUR")).To(Succeed())
		})

		It("rejects a currency mismatch when the code pins one", func() {
			activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.Currency = "USD"
			})

			err := service.Validate(ctx, "", "WXYZ2345", 1000, "EUR")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeCurrency))
		})

		It("rejects a different owner", func() {
			owner := "user-1"
			activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.UserID = &owner
			})

			err := service.Validate(ctx, "user-2", "WXYZ2345", 1000, "USD")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeUnauthorized))
		})

		It("checks amount before currency before ownership", func() {
			owner := "user-1"
			activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.AmountCents = 10000
				c.Currency = "USD"
				c.UserID = &owner
			})

			err := service.Validate(ctx, "user-2", "WXYZ2345", 500, "EUR")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeAmount))

			err = service.Validate(ctx, "user-2", "WXYZ2345", 10000, "EUR")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeCurrency))

			err = service.Validate(ctx, "user-2", "WXYZ2345", 10000, "USD")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeUnauthorized))
		})
	})

	Describe("Consume", func() {
		It("flips an active code to Used with the payment id attached", func() {
			activeCode("WXYZ2345", nil)

			Expect(service.Consume(ctx, "wxyz2345", "pay-1")).To(Succeed())

			c := repo.codes["wxyz2345"]
			Expect(c.Status).To(Equal(codemodel.StatusUsed))
			Expect(c.PaymentID).NotTo(BeNil())
			Expect(*c.PaymentID).To(Equal("pay-1"))
			Expect(mirror.usages).To(HaveLen(1))
		})

		It("consumes exactly once", func() {
			activeCode("WXYZ2345", nil)

			Expect(service.Consume(ctx, "WXYZ2345", "pay-1")).To(Succeed())

			err := service.Consume(ctx, "WXYZ2345", "pay-2")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeUsed))
			Expect(*repo.codes["wxyz2345"].PaymentID).To(Equal("pay-1"))
		})

		It("reports WrongStatus for rejected codes", func() {
			activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.Status = codemodel.StatusRejected
			})

			err := service.Consume(ctx, "WXYZ2345", "pay-1")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeWrongStatus))
		})
	})

	Describe("RejectCode", func() {
		It("moves a code to Rejected and stores the reason", func() {
			c := activeCode("WXYZ2345", nil)

			Expect(service.RejectCode(ctx, c.ID, "fraud review")).To(Succeed())

			stored := repo.codes["wxyz2345"]
			Expect(stored.Status).To(Equal(codemodel.StatusRejected))

			var meta map[string]interface{}
			Expect(json.Unmarshal(stored.Metadata, &meta)).To(Succeed())
			Expect(meta).To(HaveKeyWithValue("rejection_reason", "fraud review"))
			Expect(mirror.rejects).To(HaveLen(1))
		})

		It("refuses to reject a used code", func() {
			c := activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.Status = codemodel.StatusUsed
			})

			err := service.RejectCode(ctx, c.ID, "too late")
			Expect(err).To(MatchError(apperrors.ErrDepositCodeUsed))
		})
	})

	Describe("ExpireStale", func() {
		It("expires only active codes past their expiry", func() {
			activeCode("WXYZ2345", func(c *codemodel.Code) {
				c.ExpiresAt = time.Now().UTC().Add(-time.Minute)
			})
			activeCode("WXYZ2346", nil)
			activeCode("WXYZ2347", func(c *codemodel.Code) {
				c.Status = codemodel.StatusUsed
				c.ExpiresAt = time.Now().UTC().Add(-time.Minute)
			})

			count, err := service.ExpireStale(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(count).To(Equal(int64(1)))
			Expect(repo.codes["wxyz2345"].Status).To(Equal(codemodel.StatusExpired))
			Expect(repo.codes["wxyz2346"].Status).To(Equal(codemodel.StatusActive))
			Expect(repo.codes["wxyz2347"].Status).To(Equal(codemodel.StatusUsed))
		})
	})
})
