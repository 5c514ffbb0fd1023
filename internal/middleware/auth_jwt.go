package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RoleAdmin grants access to the ledger administration routes.
const RoleAdmin = "admin"

// Claims are issued by the identity service; only the subject (the
// account id), the role and an optional locale are read here.
type Claims struct {
	Role   string `json:"role,omitempty"`
	Locale string `json:"locale,omitempty"`
	jwt.RegisteredClaims
}

type authContextKey struct{}

type principal struct {
	accountID string
	role      string
}

// SignToken issues an HS256 token for accountID. Used by tests and local
// tooling; production tokens come from the identity service.
func SignToken(secret, accountID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken verifies signature and expiry and requires a subject.
func ParseToken(secret, raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

func AuthJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "missing authorization")
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization")
				return
			}
			claims, err := ParseToken(secret, strings.TrimSpace(token))
			if err != nil {
				WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), authContextKey{}, principal{accountID: claims.Subject, role: claims.Role})
			if claims.Locale != "" && r.Header.Get("X-Locale") == "" {
				ctx = context.WithValue(ctx, LocaleKey, claims.Locale)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects authenticated callers without role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) != role {
				WriteError(w, http.StatusForbidden, "forbidden", "insufficient role")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func AccountIDFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(authContextKey{}).(principal); ok {
		return p.accountID
	}
	return ""
}

func RoleFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(authContextKey{}).(principal); ok {
		return p.role
	}
	return ""
}

// ContextWithAccount attaches an authenticated principal; handler tests use
// it to skip token issuance.
func ContextWithAccount(ctx context.Context, accountID, role string) context.Context {
	if strings.TrimSpace(accountID) == "" {
		return ctx
	}
	return context.WithValue(ctx, authContextKey{}, principal{accountID: accountID, role: role})
}
