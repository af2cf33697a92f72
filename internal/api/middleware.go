/**
 * @description
 * Authentication middleware for the payment-service. All non-health routes
 * are internal: callers are the shop's own front-ends and bots, which present
 * a shared API key. There is no end-user identity at this boundary.
 *
 * @dependencies
 * - crypto/subtle, net/http: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
)

const internalAPIKeyHeader = "X-Internal-Api-Key"

// InternalAuthMiddleware rejects requests without the shared internal API
// key. An empty configured key disables the check, which is only acceptable
// in local development.
func InternalAuthMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey != "" {
				presented := r.Header.Get(internalAPIKeyHeader)
				if subtle.ConstantTimeCompare([]byte(presented), []byte(apiKey)) != 1 {
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusUnauthorized)
					w.Write([]byte(`{"error":"invalid or missing api key"}`))
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
