package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/mistic96/payment-broker/internal/depositcode"
	"github.com/mistic96/payment-broker/internal/gateway"
	"github.com/mistic96/payment-broker/internal/payment"
	"github.com/mistic96/payment-broker/internal/transport/middleware"
	"github.com/mistic96/payment-broker/internal/webhook"
)

// Handlers bundles the HTTP handlers the router mounts. Nil entries are
// skipped so partial deployments (worker-only, webhook-only) can reuse the
// same wiring.
type Handlers struct {
	Payment     *payment.Handler
	DepositCode *depositcode.Handler
	Gateway     *gateway.Handler
	Webhook     *webhook.Handler
}

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, handlers Handlers, allowedOrigins string, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(middleware.CORSWithOrigins(allowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.UserContext)

	// Provider callbacks live outside the versioned API prefix: provider
	// dashboards are configured once and must survive API version bumps.
	if handlers.Webhook != nil {
		router.Post("/webhooks/{provider}", handlers.Webhook.Receive)
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.healthCheckHandler)
		r.Get("/ping", healthHandler.pingHandler)

		if handlers.Payment != nil {
			r.Route("/payments", func(pr chi.Router) {
				pr.Post("/", handlers.Payment.CreatePayment)
				pr.Get("/", handlers.Payment.ListPayments)
				pr.Get("/{id}", handlers.Payment.GetPayment)
				pr.Post("/{id}/retry", handlers.Payment.RetryPayment)
				pr.Post("/{id}/cancel", handlers.Payment.CancelPayment)
			})
		}

		if handlers.DepositCode != nil {
			r.Route("/deposit-codes", func(dr chi.Router) {
				dr.Post("/", handlers.DepositCode.GenerateCode)
				dr.Get("/", handlers.DepositCode.ListCodes)
				dr.Get("/{code}", handlers.DepositCode.GetCode)
				dr.Post("/{id}/reject", handlers.DepositCode.RejectCode)
			})
		}

		if handlers.Gateway != nil {
			r.Route("/gateways", func(gr chi.Router) {
				gr.Get("/", handlers.Gateway.ListGateways)
				gr.Get("/{id}", handlers.Gateway.GetGateway)
				gr.Put("/", handlers.Gateway.UpsertGateway)
			})
		}
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	})
}
