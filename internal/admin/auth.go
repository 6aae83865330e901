package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var errUnauthorized = errors.New("unauthorized")

// Authenticator verifies HS256 bearer tokens. A nil Authenticator admits
// every request.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator returns nil when secret is empty.
func NewAuthenticator(secret string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret)}
}

// Issue signs a token for subject valid for ttl.
func (a *Authenticator) Issue(subject string, ttl time.Duration) (string, error) {
	if a == nil {
		return "", errors.New("no signing secret configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify parses token and returns its subject.
func (a *Authenticator) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.MapClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}
	if !parsed.Valid {
		return "", errUnauthorized
	}
	sub, err := parsed.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	if sub == "" {
		return "", fmt.Errorf("missing sub claim: %w", errUnauthorized)
	}
	return sub, nil
}

// Require wraps next with bearer token verification.
func (a *Authenticator) Require(next http.HandlerFunc) http.HandlerFunc {
	if a == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeUnauthorized(w, "authentication required")
			return
		}
		if _, err := a.Verify(token); err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}
		next(w, r)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimPrefix(h, "Bearer ")
	return tok, tok != ""
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": msg})
}
