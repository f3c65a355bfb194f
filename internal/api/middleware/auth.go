package middleware

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"
)

// ContextKey is a type for context keys
type ContextKey string

// ContextKeyActor holds a stable, non-secret name for the authenticated caller
const ContextKeyActor ContextKey = "actor"

// APIKeyAuth validates a bearer token or X-API-Key header against keys.
// With no keys configured every request passes as "anonymous".
func APIKeyAuth(keys []string) func(next http.Handler) http.Handler {
	digests := make([][32]byte, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			digests = append(digests, sha256.Sum256([]byte(k)))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(digests) == 0 || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyActor, "anonymous")))
				return
			}

			key := requestKey(r)
			if key == "" {
				http.Error(w, `{"error":"missing API key"}`, http.StatusUnauthorized)
				return
			}

			sum := sha256.Sum256([]byte(key))
			matched := 0
			for _, d := range digests {
				matched |= subtle.ConstantTimeCompare(sum[:], d[:])
			}
			if matched == 0 {
				http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
				return
			}

			actor := "key:" + hex.EncodeToString(sum[:4])
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyActor, actor)))
		})
	}
}

func requestKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// GetActor returns the authenticated caller name from context
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(ContextKeyActor).(string); ok {
		return actor
	}
	return ""
}
