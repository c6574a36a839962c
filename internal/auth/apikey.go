// OPERATOR API KEYS:
// Sync triggers and admin routes are guarded by one shared API key. Only its
// bcrypt hash is configured (SYNC_API_KEY_HASH), so a leaked config file does
// not leak the key. `storectl hash-key <key>` produces the hash.
//
// bcrypt is slow on purpose. The key is compared on every guarded request,
// but those are rare operator calls, not shopper traffic.

package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	// defaultCost is the bcrypt work factor for new hashes.
	defaultCost = 12

	// APIKeyHeader carries the key; the apiKey query parameter is accepted
	// too, for cron-style GET triggers.
	APIKeyHeader = "X-API-Key"
	apiKeyParam  = "apiKey"
)

// KeyHasher hashes and verifies API keys with bcrypt. The cost is a field
// so tests can use the minimum.
type KeyHasher struct {
	cost int
}

// NewKeyHasher creates a KeyHasher with the default cost (12).
func NewKeyHasher() *KeyHasher {
	return &KeyHasher{cost: defaultCost}
}

func newKeyHasherWithCost(cost int) *KeyHasher {
	return &KeyHasher{cost: cost}
}

// Hash hashes key with bcrypt. Keys longer than 72 bytes are rejected
// because bcrypt would silently truncate them.
func (h *KeyHasher) Hash(key string) (string, error) {
	if key == "" {
		return "", errors.New("auth: API key must not be empty")
	}
	if len(key) > 72 {
		return "", errors.New("auth: API key must be 72 bytes or fewer")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), h.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing API key: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when key matches hash.
func (h *KeyHasher) Verify(hash, key string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return errors.New("auth: invalid API key")
		}
		return fmt.Errorf("auth: comparing API key hash: %w", err)
	}
	return nil
}

// RequireAPIKey guards operator routes. With an empty hash the routes are
// open (local development); otherwise a request must present a key that
// matches hash, or it gets 401.
func RequireAPIKey(h *KeyHasher, hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if hash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
			if key == "" {
				key = r.URL.Query().Get(apiKeyParam)
			}
			if key == "" || h.Verify(hash, key) != nil {
				writeUnauthorized(w, "valid API key required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
