package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	gatewaymodel "github.com/mistic96/payment-broker/internal/core/datamodel/gateway"
	gatewaypostgres "github.com/mistic96/payment-broker/internal/gateway/postgres"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the gateway catalog with sample data",
	Long:  `Seed the payment gateway catalog with sample rows for development and testing purposes.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gormDB, err := gorm.Open(gormpostgres.New(gormpostgres.Config{Conn: db.DB}), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to open gorm session: %v", err)
		}

		ctx := context.Background()

		if clearData {
			if err := gormDB.WithContext(ctx).Exec("DELETE FROM payment_gateways").Error; err != nil {
				log.Fatalf("failed to clear gateway catalog: %v", err)
			}
			fmt.Println("Cleared gateway catalog")
		}

		repo := gatewaypostgres.NewGatewayRepository(gormDB)

		gateways := []*gatewaymodel.Gateway{
			{
				Name:                "Square Sandbox",
				Provider:            "square",
				IsActive:            true,
				IsTestMode:          true,
				FeePercent:          2.9,
				FeeFixedCents:       30,
				MinAmountCents:      100,
				MaxAmountCents:      5000000,
				SupportedCurrencies: "USD,CAD,GBP,EUR,AUD,JPY",
				SupportedCountries:  "US,CA,GB,AU,JP",
				Priority:            10,
			},
			{
				Name:                "PIX Sandbox",
				Provider:            "pix",
				IsActive:            true,
				IsTestMode:          true,
				FeePercent:          0.99,
				FeeFixedCents:       0,
				MinAmountCents:      100,
				MaxAmountCents:      10000000,
				SupportedCurrencies: "BRL",
				SupportedCountries:  "BR",
				Priority:            10,
			},
			{
				Name:                "MoonPay Sandbox",
				Provider:            "moonpay",
				IsActive:            true,
				IsTestMode:          true,
				FeePercent:          4.5,
				FeeFixedCents:       0,
				MinAmountCents:      2000,
				MaxAmountCents:      2000000,
				SupportedCurrencies: "USD,EUR,GBP",
				Priority:            20,
			},
			{
				Name:                "Coinbase Commerce Sandbox",
				Provider:            "coinbase",
				IsActive:            true,
				IsTestMode:          true,
				FeePercent:          1.0,
				FeeFixedCents:       0,
				MinAmountCents:      100,
				SupportedCurrencies: "USD,EUR,GBP,BTC,ETH,USDC",
				Priority:            30,
			},
			{
				Name:                "Dots Payouts Sandbox",
				Provider:            "dots",
				IsActive:            true,
				IsTestMode:          true,
				FeePercent:          2.0,
				FeeFixedCents:       25,
				MinAmountCents:      100,
				MaxAmountCents:      1000000,
				SupportedCurrencies: "USD",
				SupportedCountries:  "US",
				Priority:            40,
			},
			{
				Name:                "Internal Wallet",
				Provider:            "internal_wallet",
				IsActive:            true,
				IsTestMode:          false,
				FeePercent:          0,
				FeeFixedCents:       0,
				MinAmountCents:      1,
				SupportedCurrencies: "USD,EUR,GBP,BRL,BTC,ETH,USDC",
				Priority:            50,
			},
		}

		for _, gw := range gateways {
			// re-running the seeder updates existing rows instead of duplicating them
			var existing gatewaymodel.Gateway
			if err := gormDB.WithContext(ctx).Where("name = ?", gw.Name).First(&existing).Error; err == nil {
				gw.ID = existing.ID
			}
			if err := repo.Upsert(ctx, gw); err != nil {
				log.Fatalf("failed to seed gateway %s: %v", gw.Name, err)
			}
			fmt.Printf("Seeded gateway: %s (%s)\n", gw.Name, gw.Provider)
		}

		fmt.Println("Gateway catalog seeded successfully")
	},
}
