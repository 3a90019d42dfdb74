package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/proofpay/pkg/chain"
)

// Claims are the JWT claims expected by the API. The subject is the
// caller's account address.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator issues and validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewAuthenticator returns nil when secret is empty, which makes every
// authenticated route fail closed.
func NewAuthenticator(secret, issuer string) *Authenticator {
	if secret == "" {
		return nil
	}
	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Issue signs a token for account valid for ttl.
func (a *Authenticator) Issue(account chain.Address, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   account.String(),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Validate parses tokenStr and returns the caller address it binds.
func (a *Authenticator) Validate(tokenStr string) (chain.Address, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return chain.ZeroAddress, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return chain.ZeroAddress, errors.New("invalid token")
	}
	addr, err := chain.ParseAddress(claims.Subject)
	if err != nil {
		return chain.ZeroAddress, fmt.Errorf("token subject: %w", err)
	}
	if addr.IsZero() {
		return chain.ZeroAddress, errors.New("token subject is the zero address")
	}
	return addr, nil
}

type callerKey struct{}

// WithCaller attaches the authenticated account to ctx.
func WithCaller(ctx context.Context, addr chain.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// GetCaller retrieves the authenticated account from ctx.
func GetCaller(ctx context.Context) (chain.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(chain.Address)
	return addr, ok
}

// Authenticated wraps a handler that submits calls on behalf of the bearer.
func (a *Authenticator) Authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			WriteUnauthorized(w, r, "Missing Authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			WriteUnauthorized(w, r, "Invalid Authorization header format (expected 'Bearer <token>')")
			return
		}
		if a == nil {
			WriteUnauthorized(w, r, "Authentication not configured")
			return
		}
		caller, err := a.Validate(parts[1])
		if err != nil {
			WriteUnauthorized(w, r, "Invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	}
}
