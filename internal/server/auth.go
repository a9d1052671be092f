package server

import (
	"crypto/subtle"
	"net/http"

	"finrag/internal/pipeline"
)

// APIKeyHeader is the header clients authenticate with.
const APIKeyHeader = "X-API-Key"

// apiKeyMiddleware gates routes behind a static API key. An empty
// configured key disables the check, which is the development default.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			got := r.Header.Get(APIKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, pipeline.Kind("unauthorized"), "invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
