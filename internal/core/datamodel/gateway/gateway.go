package gateway

import (
	"strings"
	"time"
)

// Gateway is a configured external payment rail. Rows are administrative
// configuration: the core reads them for routing but never creates them.
type Gateway struct {
	ID                  int64     `gorm:"primaryKey"`
	Name                string    `gorm:"column:name;not null"`
	Provider            string    `gorm:"column:provider;not null;index"`
	IsActive            bool      `gorm:"column:is_active;default:true"`
	IsTestMode          bool      `gorm:"column:is_test_mode;default:false"`
	FeePercent          float64   `gorm:"column:fee_percent"`
	FeeFixedCents       int64     `gorm:"column:fee_fixed_cents"`
	MinAmountCents      int64     `gorm:"column:min_amount_cents"`
	MaxAmountCents      int64     `gorm:"column:max_amount_cents"`
	SupportedCurrencies string    `gorm:"column:supported_currencies"`
	SupportedCountries  string    `gorm:"column:supported_countries"`
	Priority            int       `gorm:"column:priority;default:100"`
	CreatedAt           time.Time `gorm:"column:created_at;default:now()"`
	UpdatedAt           time.Time `gorm:"column:updated_at;default:now()"`
}

func (Gateway) TableName() string {
	return "payment_gateways"
}

// SupportsCurrency checks the comma-delimited currency set, case-insensitively.
func (g *Gateway) SupportsCurrency(currency string) bool {
	return inCommaSet(g.SupportedCurrencies, currency)
}

// SupportsCountry checks the comma-delimited country set. An empty set means
// no country restriction.
func (g *Gateway) SupportsCountry(country string) bool {
	if strings.TrimSpace(g.SupportedCountries) == "" {
		return true
	}
	return inCommaSet(g.SupportedCountries, country)
}

// InAmountRange checks the gateway's amount bounds. A zero max means no cap.
func (g *Gateway) InAmountRange(amountCents int64) bool {
	if amountCents < g.MinAmountCents {
		return false
	}
	if g.MaxAmountCents > 0 && amountCents > g.MaxAmountCents {
		return false
	}
	return true
}

// TotalFeeCents applies the gateway's percentage + fixed fee model.
func (g *Gateway) TotalFeeCents(amountCents int64) int64 {
	return int64(float64(amountCents)*g.FeePercent/100) + g.FeeFixedCents
}

func inCommaSet(set, value string) bool {
	value = strings.ToUpper(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	for _, item := range strings.Split(set, ",") {
		if strings.ToUpper(strings.TrimSpace(item)) == value {
			return true
		}
	}
	return false
}
