package hub

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "abbey"

// WatchClaims scope a watch token to a single run.
type WatchClaims struct {
	RunID string `json:"run"`
	jwt.RegisteredClaims
}

// TokenAuth issues and checks watch tokens for one run. Tokens are HS256
// signed with a secret shared by everyone allowed to follow bakes.
type TokenAuth struct {
	secret []byte
	runID  string
	ttl    time.Duration
}

func NewTokenAuth(secret, runID string, ttl time.Duration) *TokenAuth {
	return &TokenAuth{secret: []byte(secret), runID: runID, ttl: ttl}
}

// Issue signs a token for the run, valid for the configured ttl.
func (a *TokenAuth) Issue(now time.Time) (string, error) {
	claims := &WatchClaims{
		RunID: a.runID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   a.runID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Validate parses a token and checks it belongs to this run.
func (a *TokenAuth) Validate(tokenString string) (*WatchClaims, error) {
	claims := &WatchClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(tokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(claims.RunID), []byte(a.runID)) != 1 {
		return nil, fmt.Errorf("token is for run %q", claims.RunID)
	}
	return claims, nil
}

// Middleware rejects requests without a valid token. Browsers cannot set
// headers on a websocket upgrade, so ?token= is accepted as well. The
// health check stays open.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		token := r.URL.Query().Get("token")
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = h[7:]
		}
		if token == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if _, err := a.Validate(token); err != nil {
			http.Error(w, "invalid watch token", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
