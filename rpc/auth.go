package rpc

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"filamint/crypto"
	"filamint/observability/logging"
)

// DevCallerHeader names the caller directly when authentication is
// disabled. It is ignored whenever a JWT secret is configured.
const DevCallerHeader = "X-Filamint-Caller"

// AuthConfig configures caller authentication. An empty HMACSecret disables
// token verification.
type AuthConfig struct {
	HMACSecret string
	Issuer     string
	ClockSkew  time.Duration
}

type contextKey string

const (
	contextKeyCaller    contextKey = "filamint.caller"
	contextKeyRequestID contextKey = "filamint.request_id"
)

// Authenticator resolves the caller identity from a HS256 bearer token. The
// token subject is the caller address, bech32 or hex.
type Authenticator struct {
	cfg    AuthConfig
	secret []byte
	logger *slog.Logger
}

func NewAuthenticator(cfg AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = 2 * time.Minute
	}
	return &Authenticator{
		cfg:    cfg,
		secret: []byte(strings.TrimSpace(cfg.HMACSecret)),
		logger: logger,
	}
}

// Enabled reports whether tokens are verified.
func (a *Authenticator) Enabled() bool { return len(a.secret) > 0 }

// Middleware attaches the caller to the request context when one is
// presented. Requests without credentials pass through anonymously; an
// invalid token is rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			if raw := strings.TrimSpace(r.Header.Get(DevCallerHeader)); raw != "" {
				caller, err := crypto.ParseAddress(raw)
				if err != nil {
					writeProblem(w, http.StatusBadRequest, codeInvalidParams, "invalid_caller", err.Error())
					return
				}
				r = r.WithContext(context.WithValue(r.Context(), contextKeyCaller, caller))
			}
			next.ServeHTTP(w, r)
			return
		}
		tokenString := extractBearer(r.Header.Get("Authorization"))
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}
		caller, err := a.parseToken(tokenString)
		if err != nil {
			a.logger.Debug("token validation failed",
				logging.MaskField("authorization", tokenString),
				slog.Any("error", err))
			writeProblem(w, http.StatusUnauthorized, codeUnauthorized, "invalid_token", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyCaller, caller)))
	})
}

// Require rejects requests that carry no caller identity.
func Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CallerFromContext(r.Context()); !ok {
			writeProblem(w, http.StatusUnauthorized, codeUnauthorized, "unauthenticated", "caller identity required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CallerFromContext returns the authenticated caller.
func CallerFromContext(ctx context.Context) ([20]byte, bool) {
	caller, ok := ctx.Value(contextKeyCaller).([20]byte)
	return caller, ok
}

func (a *Authenticator) parseToken(tokenString string) ([20]byte, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithLeeway(a.cfg.ClockSkew), jwt.WithExpirationRequired())
	if err != nil {
		return [20]byte{}, err
	}
	if !token.Valid {
		return [20]byte{}, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return [20]byte{}, errors.New("claims not map")
	}
	if a.cfg.Issuer != "" {
		if value, ok := claims["iss"].(string); !ok || value != a.cfg.Issuer {
			return [20]byte{}, errors.New("issuer mismatch")
		}
	}
	subject, err := claims.GetSubject()
	if err != nil || strings.TrimSpace(subject) == "" {
		return [20]byte{}, errors.New("subject required")
	}
	return crypto.ParseAddress(subject)
}

// IssueToken signs a caller token. It backs the CLI token command and
// tests.
func IssueToken(secret, issuer string, caller [20]byte, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret required")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": crypto.Format(caller),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if issuer != "" {
		claims["iss"] = issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(strings.TrimSpace(secret)))
}

func extractBearer(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
