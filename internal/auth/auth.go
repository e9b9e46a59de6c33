package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ariefcatur/go-storefront-orders/internal/logger"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const RoleAdmin = "admin"

type ctxKey struct{}

// Identity is what a verified bearer token yields.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

var (
	ErrMissingToken = errors.New("access token required")
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrNoUser       = errors.New("invalid token payload")
)

type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify parses an HS256 token and extracts the user id (claim userId, or sub).
func (v *Verifier) Verify(token string) (Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	var id Identity
	switch uid := claims["userId"].(type) {
	case string:
		id.UserID = uid
	case float64:
		id.UserID = strconv.FormatFloat(uid, 'f', -1, 64)
	}
	if id.UserID == "" {
		id.UserID, _ = claims["sub"].(string)
	}
	if id.UserID == "" {
		return Identity{}, ErrNoUser
	}
	id.Role, _ = claims["role"].(string)
	return id, nil
}

// Middleware rejects requests without a token (401) or with a bad one (403).
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			deny(w, http.StatusUnauthorized, ErrMissingToken)
			return
		}

		id, err := v.Verify(strings.TrimSpace(token))
		if err != nil {
			logger.FromCtx(r.Context()).Warn("token rejected", zap.String("ip", r.RemoteAddr), zap.Error(err))
			deny(w, http.StatusForbidden, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireAdmin must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			deny(w, http.StatusUnauthorized, ErrMissingToken)
			return
		}
		if !id.IsAdmin() {
			deny(w, http.StatusForbidden, errors.New("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

func deny(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
