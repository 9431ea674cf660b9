package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"
)

// Principal describes an authenticated actor.
type Principal struct {
	Role    string
	Subject string
}

type principalContextKey struct{}

// PrincipalFromContext extracts the authenticated principal from the request context.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	principal, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || principal == nil {
		return nil, false
	}
	return principal, true
}

func withPrincipal(r *http.Request, p *Principal) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), principalContextKey{}, p))
}

// TokenAuth accepts a single static bearer token.
type TokenAuth struct {
	role  string
	token []byte
}

// NewTokenAuth returns nil when token is empty so the route can report the
// credential as unconfigured.
func NewTokenAuth(role, token string) *TokenAuth {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}
	return &TokenAuth{role: role, token: []byte(token)}
}

// Middleware enforces the bearer token.
func (a *TokenAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}
		provided := extractBearer(r.Header.Get("Authorization"))
		if provided == "" || subtle.ConstantTimeCompare([]byte(provided), a.token) != 1 {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, withPrincipal(r, &Principal{Role: a.role}))
	})
}

// JWTAuth verifies HS256 tokens. The subject claim names the acting address.
type JWTAuth struct {
	role      string
	secret    []byte
	issuer    string
	clockSkew time.Duration
	logger    *slog.Logger
}

// NewJWTAuth returns nil when secret is empty.
func NewJWTAuth(role, secret, issuer string, logger *slog.Logger) *JWTAuth {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &JWTAuth{
		role:      role,
		secret:    []byte(secret),
		issuer:    strings.TrimSpace(issuer),
		clockSkew: 2 * time.Minute,
		logger:    logger,
	}
}

// Middleware enforces a valid token and stores its subject on the context.
func (a *JWTAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a == nil {
			writeError(w, http.StatusServiceUnavailable, "authentication unavailable")
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		subject, err := a.verify(tokenString)
		if err != nil {
			a.logger.Warn("token validation failed", slog.String("role", a.role), slog.Any("error", err))
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, withPrincipal(r, &Principal{Role: a.role, Subject: subject}))
	})
}

func (a *JWTAuth) verify(tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", errors.New("token invalid")
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", errors.New("subject claim required")
	}
	return subject, nil
}

// SubjectAddress parses the principal subject as an EVM address.
func SubjectAddress(ctx context.Context) (common.Address, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return common.Address{}, errors.New("missing identity")
	}
	if !common.IsHexAddress(principal.Subject) {
		return common.Address{}, fmt.Errorf("subject %q is not an address", principal.Subject)
	}
	return common.HexToAddress(principal.Subject), nil
}

// IssueToken signs an HS256 token for subject. Operators use it to mint
// provider and caller credentials.
func IssueToken(secret, issuer, subject string, ttl time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("secret required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    strings.TrimSpace(issuer),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
