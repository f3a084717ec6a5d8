package middleware

import (
	"crypto/sha256"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

const (
	headerAPIKey    = "X-API-Key"
	maxVerifiedKeys = 64
)

// HashSource returns the current bcrypt hash of the API key. It is read on
// every request so a vault reload rotates the key without a restart.
type HashSource func() string

// APIKeyAuth checks X-API-Key or "Authorization: Bearer" against a bcrypt
// hash. Requests to public paths pass through.
type APIKeyAuth struct {
	hash   HashSource
	public map[string]bool

	mu       sync.Mutex
	verified map[[32]byte]struct{}
}

// NewAPIKeyAuth creates the authenticator.
func NewAPIKeyAuth(hash HashSource, public ...string) *APIKeyAuth {
	a := &APIKeyAuth{
		hash:     hash,
		public:   make(map[string]bool, len(public)),
		verified: make(map[[32]byte]struct{}),
	}
	for _, p := range public {
		a.public[p] = true
	}
	return a
}

// Handler returns the middleware.
func (a *APIKeyAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.public[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		key := presentedKey(r)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "authorization required", "AuthError")
			return
		}

		hash := a.hash()
		if hash == "" {
			slog.ErrorContext(r.Context(), "api key auth enabled but no key hash configured")
			writeError(w, http.StatusUnauthorized, "invalid api key", "AuthError")
			return
		}
		if !a.verify(hash, key) {
			writeError(w, http.StatusUnauthorized, "invalid api key", "AuthError")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// verify compares key against hash, remembering successful pairs so bcrypt
// runs once per key and hash.
func (a *APIKeyAuth) verify(hash, key string) bool {
	fp := sha256.Sum256([]byte(hash + "\x00" + key))

	a.mu.Lock()
	_, ok := a.verified[fp]
	a.mu.Unlock()
	if ok {
		return true
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) != nil {
		return false
	}

	a.mu.Lock()
	if len(a.verified) >= maxVerifiedKeys {
		clear(a.verified)
	}
	a.verified[fp] = struct{}{}
	a.mu.Unlock()
	return true
}

func presentedKey(r *http.Request) string {
	if k := r.Header.Get(headerAPIKey); k != "" {
		return k
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	// Browsers cannot set headers on websocket upgrades.
	if r.URL.Path == "/ws" {
		return r.URL.Query().Get("api_key")
	}
	return ""
}
