package middleware

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// RateLimit limits back-office requests per authenticated tenant. Operator
// tokens carry no tenant and are limited per client address.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return limiter(requestLimit, windowLength, func(r *http.Request) string {
		return GetTenantID(r.Context())
	})
}

// TenantPathRateLimit limits integration requests per {tenantId} path
// parameter, so one tenant's gateway cannot starve the others.
func TenantPathRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return limiter(requestLimit, windowLength, func(r *http.Request) string {
		return chi.URLParam(r, "tenantId")
	})
}

func limiter(requestLimit int, windowLength time.Duration, tenantOf func(*http.Request) string) func(http.Handler) http.Handler {
	retryAfter := int(math.Ceil(windowLength.Seconds()))
	return httprate.Limit(
		requestLimit,
		windowLength,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if tenantID := tenantOf(r); tenantID != "" {
				return "tenant:" + tenantID, nil
			}
			return "ip:" + r.RemoteAddr, nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprint(retryAfter))
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after":%d}`, retryAfter)
		}),
	)
}
