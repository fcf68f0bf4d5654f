package gateway

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var errUnauthorized = errors.New("gateway: unauthorized")

// Authenticator validates API callers by bearer token.
type Authenticator interface {
	Authenticate(token string) error
}

// TokenAuth accepts any of a fixed set of tokens. With no tokens it accepts
// everything.
type TokenAuth struct {
	tokens [][]byte
}

// NewTokenAuth builds an authenticator from the configured tokens.
func NewTokenAuth(tokens []string) *TokenAuth {
	a := &TokenAuth{}
	for _, t := range tokens {
		if t != "" {
			a.tokens = append(a.tokens, []byte(t))
		}
	}
	return a
}

// Open reports whether the authenticator accepts unauthenticated callers.
func (a *TokenAuth) Open() bool { return len(a.tokens) == 0 }

// Authenticate compares in constant time against every token.
func (a *TokenAuth) Authenticate(token string) error {
	if a.Open() {
		return nil
	}
	given := []byte(token)
	match := 0
	for _, t := range a.tokens {
		match |= subtle.ConstantTimeCompare(given, t)
	}
	if match != 1 {
		return errUnauthorized
	}
	return nil
}

// requireAuth rejects requests without a valid token. The token comes from
// the Authorization header, or the token query parameter for browsers
// opening a websocket.
func requireAuth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" {
				token = r.URL.Query().Get("token")
			}
			if err := auth.Authenticate(token); err != nil {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
