package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	apperrors "github.com/mistic96/payment-broker/internal"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	paymentPkg "github.com/mistic96/payment-broker/internal/payment"
)

func TestPaymentRepository(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Payment Repository Suite")
}

// PaymentSQLite mirrors the payments table with text instead of jsonb for
// SQLite compatibility
type PaymentSQLite struct {
	ID              string     `gorm:"primaryKey"`
	UserID          *string    `gorm:"column:user_id;index"`
	AmountCents     int64      `gorm:"column:amount_cents;not null"`
	Currency        string     `gorm:"column:currency;not null"`
	Type            string     `gorm:"column:type;not null"`
	Status          string     `gorm:"column:status;default:pending;index"`
	GatewayID       *int64     `gorm:"column:gateway_id"`
	PaymentMethodID *string    `gorm:"column:payment_method_id"`
	FeeCents        int64      `gorm:"column:fee_cents"`
	NetCents        int64      `gorm:"column:net_cents"`
	Metadata        string     `gorm:"column:metadata;type:text"`
	ExternalTxID    string     `gorm:"column:external_tx_id;index"`
	CorrelationID   string     `gorm:"column:correlation_id;index"`
	CreatedAt       time.Time  `gorm:"column:created_at"`
	UpdatedAt       time.Time  `gorm:"column:updated_at"`
	CompletedAt     *time.Time `gorm:"column:completed_at"`
	ExpiresAt       time.Time  `gorm:"column:expires_at"`
}

func (PaymentSQLite) TableName() string {
	return "payments"
}

type AttemptSQLite struct {
	ID              int64     `gorm:"primaryKey"`
	PaymentID       string    `gorm:"column:payment_id;not null;index"`
	AttemptNumber   int       `gorm:"column:attempt_number;not null"`
	Status          string    `gorm:"column:status;default:pending"`
	GatewayResponse string    `gorm:"column:gateway_response;type:text"`
	DurationMs      int64     `gorm:"column:duration_ms"`
	CreatedAt       time.Time `gorm:"column:created_at"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (AttemptSQLite) TableName() string {
	return "payment_attempts"
}

var _ = ginkgo.Describe("Payment Repository", func() {
	var (
		db   *gorm.DB
		repo paymentPkg.RepositoryAPI
		ctx  context.Context
	)

	newPayment := func(id string, status paymentmodel.Status) *paymentmodel.Payment {
		now := time.Now().UTC().Truncate(time.Millisecond)
		userID := "user-1"
		return &paymentmodel.Payment{
			ID:          id,
			UserID:      &userID,
			AmountCents: 10000,
			Currency:    "USD",
			Type:        paymentmodel.TypeDeposit,
			Status:      status,
			CreatedAt:   now,
			UpdatedAt:   now,
			ExpiresAt:   now.Add(24 * time.Hour),
		}
	}

	ginkgo.BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(db.AutoMigrate(&PaymentSQLite{}, &AttemptSQLite{})).To(gomega.Succeed())

		repo = NewPaymentRepository(db)
		ctx = context.Background()
	})

	ginkgo.Describe("Create and Get", func() {
		ginkgo.It("round-trips a payment by id", func() {
			p := newPayment("pay-1", paymentmodel.StatusPending)
			gomega.Expect(repo.Create(ctx, p)).To(gomega.Succeed())

			got, err := repo.GetByID(ctx, "pay-1")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got.AmountCents).To(gomega.Equal(int64(10000)))
			gomega.Expect(got.Status).To(gomega.Equal(paymentmodel.StatusPending))
		})

		ginkgo.It("returns the typed not-found error", func() {
			_, err := repo.GetByID(ctx, "missing")
			gomega.Expect(err).To(gomega.MatchError(apperrors.ErrPaymentNotFound))
		})

		ginkgo.It("finds a payment by external transaction id", func() {
			p := newPayment("pay-2", paymentmodel.StatusProcessing)
			p.ExternalTxID = "ext_abc"
			gomega.Expect(repo.Create(ctx, p)).To(gomega.Succeed())

			got, err := repo.GetByExternalTxID(ctx, "ext_abc")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got.ID).To(gomega.Equal("pay-2"))
		})

		ginkgo.It("finds a payment by correlation id", func() {
			p := newPayment("pay-3", paymentmodel.StatusPending)
			p.CorrelationID = "corr-1"
			gomega.Expect(repo.Create(ctx, p)).To(gomega.Succeed())

			got, err := repo.GetByCorrelationID(ctx, "corr-1")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(got.ID).To(gomega.Equal("pay-3"))
		})
	})

	ginkgo.Describe("UpdateGuarded", func() {
		ginkgo.It("applies the update when updated_at matches", func() {
			p := newPayment("pay-4", paymentmodel.StatusPending)
			gomega.Expect(repo.Create(ctx, p)).To(gomega.Succeed())

			stored, err := repo.GetByID(ctx, "pay-4")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			ok, err := repo.UpdateGuarded(ctx, "pay-4", stored.UpdatedAt, map[string]interface{}{
				"status": paymentmodel.StatusProcessing,
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())

			after, err := repo.GetByID(ctx, "pay-4")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(after.Status).To(gomega.Equal(paymentmodel.StatusProcessing))
			gomega.Expect(after.UpdatedAt).NotTo(gomega.Equal(stored.UpdatedAt))
		})

		ginkgo.It("rejects the update when another writer got there first", func() {
			p := newPayment("pay-5", paymentmodel.StatusPending)
			gomega.Expect(repo.Create(ctx, p)).To(gomega.Succeed())

			stored, err := repo.GetByID(ctx, "pay-5")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			ok, err := repo.UpdateGuarded(ctx, "pay-5", stored.UpdatedAt, map[string]interface{}{
				"status": paymentmodel.StatusProcessing,
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeTrue())

			// Second writer still holds the stale timestamp.
			ok, err = repo.UpdateGuarded(ctx, "pay-5", stored.UpdatedAt, map[string]interface{}{
				"status": paymentmodel.StatusFailed,
			})
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(ok).To(gomega.BeFalse())

			after, err := repo.GetByID(ctx, "pay-5")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(after.Status).To(gomega.Equal(paymentmodel.StatusProcessing))
		})
	})

	ginkgo.Describe("aggregates", func() {
		ginkgo.BeforeEach(func() {
			for i, amount := range []int64{1000, 1000, 2500} {
				p := newPayment("pay-agg-"+string(rune('a'+i)), paymentmodel.StatusCompleted)
				p.AmountCents = amount
				gomega.Expect(repo.Create(ctx, p)).To(gomega.Succeed())
			}
			failed := newPayment("pay-agg-f", paymentmodel.StatusFailed)
			gomega.Expect(repo.Create(ctx, failed)).To(gomega.Succeed())
		})

		ginkgo.It("counts payments for a user since a point in time", func() {
			count, err := repo.CountByUserSince(ctx, "user-1", time.Now().UTC().Add(-time.Hour))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(count).To(gomega.Equal(int64(4)))
		})

		ginkgo.It("counts only failed payments in the failure window", func() {
			count, err := repo.CountFailedByUserSince(ctx, "user-1", time.Now().UTC().Add(-time.Hour))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(count).To(gomega.Equal(int64(1)))
		})

		ginkgo.It("counts identical amounts", func() {
			count, err := repo.CountSameAmountSince(ctx, "user-1", 1000, time.Now().UTC().Add(-time.Hour))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(count).To(gomega.Equal(int64(2)))
		})

		ginkgo.It("sums amounts for the daily limit", func() {
			total, err := repo.SumAmountByUserSince(ctx, "user-1", time.Now().UTC().Add(-time.Hour))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(total).To(gomega.Equal(int64(1000 + 1000 + 2500 + 10000)))
		})

		ginkgo.It("returns zero for a user with no payments", func() {
			total, err := repo.SumAmountByUserSince(ctx, "nobody", time.Now().UTC().Add(-time.Hour))
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(total).To(gomega.BeZero())
		})
	})

	ginkgo.Describe("expired pending sweep", func() {
		ginkgo.It("returns only non-terminal payments past their expiry", func() {
			expired := newPayment("pay-exp", paymentmodel.StatusProcessing)
			expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
			gomega.Expect(repo.Create(ctx, expired)).To(gomega.Succeed())

			alive := newPayment("pay-alive", paymentmodel.StatusPending)
			gomega.Expect(repo.Create(ctx, alive)).To(gomega.Succeed())

			done := newPayment("pay-done", paymentmodel.StatusCompleted)
			done.ExpiresAt = time.Now().UTC().Add(-time.Minute)
			gomega.Expect(repo.Create(ctx, done)).To(gomega.Succeed())

			found, err := repo.FindExpiredPending(ctx, time.Now().UTC(), 10)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(found).To(gomega.HaveLen(1))
			gomega.Expect(found[0].ID).To(gomega.Equal("pay-exp"))
		})
	})

	ginkgo.Describe("attempts", func() {
		ginkgo.It("orders attempts and reports the latest", func() {
			for i := 1; i <= 2; i++ {
				gomega.Expect(repo.CreateAttempt(ctx, &paymentmodel.Attempt{
					PaymentID:     "pay-a",
					AttemptNumber: i,
					Status:        paymentmodel.AttemptFailed,
				})).To(gomega.Succeed())
			}

			count, err := repo.CountAttempts(ctx, "pay-a")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(count).To(gomega.Equal(2))

			latest, err := repo.LatestAttempt(ctx, "pay-a")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(latest.AttemptNumber).To(gomega.Equal(2))
		})

		ginkgo.It("returns nil when a payment has no attempts", func() {
			latest, err := repo.LatestAttempt(ctx, "pay-none")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(latest).To(gomega.BeNil())
		})

		ginkgo.It("updates attempt status and duration", func() {
			attempt := &paymentmodel.Attempt{PaymentID: "pay-b", AttemptNumber: 1, Status: paymentmodel.AttemptProcessing}
			gomega.Expect(repo.CreateAttempt(ctx, attempt)).To(gomega.Succeed())

			gomega.Expect(repo.UpdateAttempt(ctx, attempt.ID, paymentmodel.AttemptSucceeded, nil, 420)).To(gomega.Succeed())

			latest, err := repo.LatestAttempt(ctx, "pay-b")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(latest.Status).To(gomega.Equal(paymentmodel.AttemptSucceeded))
			gomega.Expect(latest.DurationMs).To(gomega.Equal(int64(420)))
		})
	})
})
