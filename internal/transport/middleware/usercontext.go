package middleware

import (
	"net/http"

	"github.com/mistic96/payment-broker/internal"
	"github.com/mistic96/payment-broker/pkg/logger"
)

// UserContext lifts the authenticated user id from the X-User-ID header into
// the request context. Authentication itself happens upstream (API gateway);
// the core only attributes payments and enforces per-user limits.
func UserContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")

		ctx := r.Context()
		if userID != "" {
			ctx = internal.ContextWithUserID(ctx, userID)
			ctx = logger.With(ctx, "userID", userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
