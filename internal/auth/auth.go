// Package auth guards the HTTP transport: bearer tokens are either HS256 JWTs
// or a static API key checked against a bcrypt hash.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/tabula/pkg/kit"
)

// APIKeySubject is the user id recorded for requests authenticated by API key.
const APIKeySubject = "api-key"

var (
	ErrNoCredentials = errors.New("missing bearer token")
	ErrInvalidToken  = errors.New("invalid token")
)

type Auth struct {
	secret     []byte
	expiry     time.Duration
	apiKeyHash []byte
}

type Claims struct {
	jwt.RegisteredClaims
}

func New(secret string, expiryMinutes int, apiKeyHash string) *Auth {
	return &Auth{
		secret:     []byte(secret),
		expiry:     time.Duration(expiryMinutes) * time.Minute,
		apiKeyHash: []byte(apiKeyHash),
	}
}

// Enabled reports whether any credential is configured.
func (a *Auth) Enabled() bool {
	return len(a.secret) > 0 || len(a.apiKeyHash) > 0
}

// HashKey returns a bcrypt hash suitable for auth.api_key_hash.
func HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (a *Auth) CheckAPIKey(key string) bool {
	if len(a.apiKeyHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.apiKeyHash, []byte(key)) == nil
}

func (a *Auth) GenerateToken(subject string) (string, error) {
	if len(a.secret) == 0 {
		return "", errors.New("auth.jwt_secret is not configured")
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	if len(a.secret) == 0 {
		return nil, ErrInvalidToken
	}
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate resolves the bearer token of r to a user id.
func (a *Auth) Authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrNoCredentials
	}
	token := strings.TrimSpace(parts[1])
	if claims, err := a.ValidateToken(token); err == nil {
		return claims.Subject, nil
	}
	if a.CheckAPIKey(token) {
		return APIKeySubject, nil
	}
	return "", ErrInvalidToken
}

// Middleware rejects unauthenticated requests with 401 and stores the user id
// in the request context. With no credential configured every request passes.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		slog.Warn("http transport is unauthenticated: set auth.jwt_secret or auth.api_key_hash")
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.Authenticate(r)
		if err != nil {
			slog.Debug("auth rejected", "remote", r.RemoteAddr, "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="tabula"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(kit.WithUserID(r.Context(), userID)))
	})
}
