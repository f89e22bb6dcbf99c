package gateway_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	apperrors "github.com/mistic96/payment-broker/internal"
	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
	paymentmodel "github.com/mistic96/payment-broker/internal/core/datamodel/payment"
	"github.com/mistic96/payment-broker/internal/gateway"
	"github.com/mistic96/payment-broker/internal/provider"
)

func TestGateway(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Gateway Suite")
}

type mockGatewayRepository struct {
	gateways     []*gatewaymodel.Gateway
	getActiveErr error
	upserted     []*gatewaymodel.Gateway
}

func (m *mockGatewayRepository) GetByID(ctx context.Context, id int64) (*gatewaymodel.Gateway, error) {
	for _, gw := range m.gateways {
		if gw.ID == id {
			return gw, nil
		}
	}
	return nil, errors.New("record not found")
}

func (m *mockGatewayRepository) GetAll(ctx context.Context) ([]*gatewaymodel.Gateway, error) {
	return m.gateways, nil
}

func (m *mockGatewayRepository) GetActive(ctx context.Context) ([]*gatewaymodel.Gateway, error) {
	if m.getActiveErr != nil {
		return nil, m.getActiveErr
	}
	var active []*gatewaymodel.Gateway
	for _, gw := range m.gateways {
		if gw.IsActive {
			active = append(active, gw)
		}
	}
	return active, nil
}

func (m *mockGatewayRepository) Upsert(ctx context.Context, gw *gatewaymodel.Gateway) error {
	m.upserted = append(m.upserted, gw)
	return nil
}

// mockHealth marks listed gateways unhealthy, everything else healthy.
type mockHealth struct {
	unhealthy map[int64]bool
}

func (m *mockHealth) IsHealthy(ctx context.Context, gatewayID int64) bool {
	return !m.unhealthy[gatewayID]
}
func (m *mockHealth) MarkUnhealthy(ctx context.Context, gatewayID int64) {
	m.unhealthy[gatewayID] = true
}
func (m *mockHealth) MarkHealthy(ctx context.Context, gatewayID int64) {
	delete(m.unhealthy, gatewayID)
}

var _ = Describe("Gateway Catalog", func() {
	var (
		repo    *mockGatewayRepository
		health  *mockHealth
		service *gateway.Service
		ctx     context.Context
		logger  *slog.Logger
	)

	newGateway := func(id int64, provider string, priority int, feePercent float64, currencies string) *gatewaymodel.Gateway {
		return &gatewaymodel.Gateway{
			ID:                  id,
			Name:                provider,
			Provider:            provider,
			IsActive:            true,
			FeePercent:          feePercent,
			MinAmountCents:      100,
			MaxAmountCents:      1000000,
			SupportedCurrencies: currencies,
			Priority:            priority,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		repo = &mockGatewayRepository{}
		health = &mockHealth{unhealthy: make(map[int64]bool)}
		service = gateway.NewService(repo, health, logger)
	})

	Describe("GetBestGateway", func() {
		It("filters by currency support", func() {
			repo.gateways = []*gatewaymodel.Gateway{
				newGateway(1, "pix", 10, 1.0, "BRL"),
				newGateway(2, "square", 20, 2.9, "USD,EUR"),
			}

			gw, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.ID).To(Equal(int64(2)))
		})

		It("filters by amount bounds", func() {
			small := newGateway(1, "square", 10, 2.9, "USD")
			small.MaxAmountCents = 5000
			big := newGateway(2, "moonpay", 20, 4.5, "USD")
			repo.gateways = []*gatewaymodel.Gateway{small, big}

			gw, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.ID).To(Equal(int64(2)))
		})

		It("filters by country when the caller provides one", func() {
			us := newGateway(1, "square", 10, 2.9, "USD")
			us.SupportedCountries = "US,CA"
			anywhere := newGateway(2, "coinbase", 20, 1.0, "USD")
			repo.gateways = []*gatewaymodel.Gateway{us, anywhere}

			gw, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "BR")
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.ID).To(Equal(int64(2)))
		})

		It("ignores gateway country restrictions when no country is given", func() {
			us := newGateway(1, "square", 10, 2.9, "USD")
			us.SupportedCountries = "US"
			repo.gateways = []*gatewaymodel.Gateway{us}

			gw, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.ID).To(Equal(int64(1)))
		})

		It("prefers the lowest priority value", func() {
			repo.gateways = []*gatewaymodel.Gateway{
				newGateway(1, "moonpay", 30, 4.5, "USD"),
				newGateway(2, "square", 10, 2.9, "USD"),
				newGateway(3, "coinbase", 20, 1.0, "USD"),
			}

			gw, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.ID).To(Equal(int64(2)))
		})

		It("breaks priority ties on total fee", func() {
			expensive := newGateway(1, "square", 10, 2.9, "USD")
			expensive.FeeFixedCents = 30
			cheap := newGateway(2, "coinbase", 10, 1.0, "USD")
			repo.gateways = []*gatewaymodel.Gateway{expensive, cheap}

			gw, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.ID).To(Equal(int64(2)))
		})

		It("falls through to the next candidate when the best one is unhealthy", func() {
			repo.gateways = []*gatewaymodel.Gateway{
				newGateway(1, "square", 10, 2.9, "USD"),
				newGateway(2, "coinbase", 20, 1.0, "USD"),
			}
			health.unhealthy[1] = true

			gw, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			Expect(err).NotTo(HaveOccurred())
			Expect(gw.ID).To(Equal(int64(2)))
		})

		It("returns not found when every candidate is unhealthy", func() {
			repo.gateways = []*gatewaymodel.Gateway{
				newGateway(1, "square", 10, 2.9, "USD"),
			}
			health.unhealthy[1] = true

			_, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			Expect(err).To(MatchError(apperrors.ErrGatewayNotFound))
		})

		It("returns not found when nothing matches", func() {
			repo.gateways = []*gatewaymodel.Gateway{
				newGateway(1, "pix", 10, 1.0, "BRL"),
			}

			_, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			Expect(err).To(MatchError(apperrors.ErrGatewayNotFound))
		})

		It("skips inactive gateways", func() {
			inactive := newGateway(1, "square", 10, 2.9, "USD")
			inactive.IsActive = false
			repo.gateways = []*gatewaymodel.Gateway{inactive}

			_, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			Expect(err).To(MatchError(apperrors.ErrGatewayNotFound))
		})

		It("surfaces catalog load failures as internal errors", func() {
			repo.getActiveErr = errors.New("connection refused")

			_, err := service.GetBestGateway(ctx, 10000, "USD", "deposit", "")
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeInternal))
		})
	})

	Describe("GetGateway", func() {
		It("maps a missing row to gateway not found", func() {
			_, err := service.GetGateway(ctx, 42)
			Expect(err).To(MatchError(apperrors.ErrGatewayNotFound))
		})
	})

	Describe("UpsertGateway", func() {
		It("rejects rows without name or provider", func() {
			err := service.UpsertGateway(ctx, &gatewaymodel.Gateway{Provider: "square"})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
		})

		It("rejects inconsistent amount bounds", func() {
			err := service.UpsertGateway(ctx, &gatewaymodel.Gateway{
				Name:           "Square",
				Provider:       "square",
				MinAmountCents: 5000,
				MaxAmountCents: 100,
			})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Code).To(Equal(apperrors.ErrCodeInvalidAmount))
		})

		It("persists a valid row", func() {
			gw := &gatewaymodel.Gateway{Name: "Square", Provider: "square", MinAmountCents: 100}
			Expect(service.UpsertGateway(ctx, gw)).To(Succeed())
			Expect(repo.upserted).To(HaveLen(1))
		})
	})
})

var _ = Describe("Payment Router", func() {
	var (
		router *gateway.Router
		logger *slog.Logger
	)

	BeforeEach(func() {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		router = gateway.NewRouter(logger)
	})

	Describe("SelectProvider", func() {
		It("honors an explicit preference when the provider can take the request", func() {
			selected, err := router.SelectProvider(gateway.RouteRequest{
				AmountCents:       10000,
				Currency:          "USD",
				Type:              paymentmodel.TypeDeposit,
				PreferredProvider: provider.TypeCoinbase,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(selected).To(Equal(provider.TypeCoinbase))
		})

		It("rejects a preference for an unknown provider", func() {
			_, err := router.SelectProvider(gateway.RouteRequest{
				AmountCents:       10000,
				Currency:          "USD",
				Type:              paymentmodel.TypeDeposit,
				PreferredProvider: provider.Type("stripe"),
			})
			appErr, ok := apperrors.IsAppError(err)
			Expect(ok).To(BeTrue())
			Expect(appErr.Type).To(Equal(apperrors.ErrorTypeValidation))
		})

		It("falls back to the routing table when the preference cannot take the amount", func() {
			// moonpay floor is 2000 cents
			selected, err := router.SelectProvider(gateway.RouteRequest{
				AmountCents:       500,
				Currency:          "USD",
				Type:              paymentmodel.TypeDeposit,
				PreferredProvider: provider.TypeMoonPay,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(selected).To(Equal(provider.TypeSquare))
		})

		It("routes crypto to the internal wallet", func() {
			selected, err := router.SelectProvider(gateway.RouteRequest{
				AmountCents: 10000,
				Currency:    "BTC",
				Type:        paymentmodel.TypeCrypto,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(selected).To(Equal(provider.TypeInternalWallet))
		})

		It("routes BRL to pix", func() {
			selected, err := router.SelectProvider(gateway.RouteRequest{
				AmountCents: 10000,
				Currency:    "brl",
				Type:        paymentmodel.TypeDeposit,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(selected).To(Equal(provider.TypePIX))
		})

		It("routes EUR to moonpay", func() {
			selected, err := router.SelectProvider(gateway.RouteRequest{
				AmountCents: 5000,
				Currency:    "EUR",
				Type:        paymentmodel.TypeDeposit,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(selected).To(Equal(provider.TypeMoonPay))
		})

		It("uses the fallback provider for currencies without a preference entry", func() {
			selected, err := router.SelectProvider(gateway.RouteRequest{
				AmountCents: 10000,
				Currency:    "GBP",
				Type:        paymentmodel.TypeDeposit,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(selected).To(Equal(provider.TypeSquare))
		})

		It("fails routing when no provider can take the currency", func() {
			_, err := router.SelectProvider(gateway.RouteRequest{
				AmountCents: 10000,
				Currency:    "IDR",
				Type:        paymentmodel.TypeDeposit,
			})
			Expect(err).To(MatchError(apperrors.ErrNoGatewayAvailable))
		})
	})

	Describe("IsAvailable", func() {
		It("enforces provider amount floors", func() {
			Expect(router.IsAvailable(provider.TypeMoonPay, "USD", 1999)).To(BeFalse())
			Expect(router.IsAvailable(provider.TypeMoonPay, "USD", 2000)).To(BeTrue())
		})

		It("treats an empty currency list as unrestricted", func() {
			Expect(router.IsAvailable(provider.TypeInternalWallet, "XYZ", 1)).To(BeTrue())
		})

		It("is false for unknown providers", func() {
			Expect(router.IsAvailable(provider.Type("stripe"), "USD", 10000)).To(BeFalse())
		})
	})
})

var _ = Describe("Health Tracker", func() {
	It("marks a gateway unhealthy for the cooldown window", func() {
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
		tracker := gateway.NewHealthTracker(nil, logger)
		ctx := context.Background()

		Expect(tracker.IsHealthy(ctx, 1)).To(BeTrue())

		tracker.MarkUnhealthy(ctx, 1)
		Expect(tracker.IsHealthy(ctx, 1)).To(BeFalse())
		Expect(tracker.IsHealthy(ctx, 2)).To(BeTrue())

		tracker.MarkHealthy(ctx, 1)
		Expect(tracker.IsHealthy(ctx, 1)).To(BeTrue())
	})
})
