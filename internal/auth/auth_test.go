package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, key string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return tok
}

func TestVerifier_Verify(t *testing.T) {
	v := NewVerifier(secret)
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("string user id and role", func(t *testing.T) {
		id, err := v.Verify(sign(t, secret, jwt.MapClaims{"userId": "u-1", "role": "admin", "exp": exp}))
		require.NoError(t, err)
		assert.Equal(t, "u-1", id.UserID)
		assert.True(t, id.IsAdmin())
	})

	t.Run("numeric user id", func(t *testing.T) {
		id, err := v.Verify(sign(t, secret, jwt.MapClaims{"userId": 42, "exp": exp}))
		require.NoError(t, err)
		assert.Equal(t, "42", id.UserID)
		assert.False(t, id.IsAdmin())
	})

	t.Run("sub fallback", func(t *testing.T) {
		id, err := v.Verify(sign(t, secret, jwt.MapClaims{"sub": "u-2", "exp": exp}))
		require.NoError(t, err)
		assert.Equal(t, "u-2", id.UserID)
	})

	t.Run("no user", func(t *testing.T) {
		_, err := v.Verify(sign(t, secret, jwt.MapClaims{"exp": exp}))
		assert.ErrorIs(t, err, ErrNoUser)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := v.Verify(sign(t, "other", jwt.MapClaims{"userId": "u-1", "exp": exp}))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		_, err := v.Verify(sign(t, secret, jwt.MapClaims{"userId": "u-1", "exp": time.Now().Add(-time.Minute).Unix()}))
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier(secret)
	var got Identity
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusForbidden},
		{"valid", "Bearer " + sign(t, secret, jwt.MapClaims{"userId": "u-9"}), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
	assert.Equal(t, "u-9", got.UserID)
}

func TestRequireAdmin(t *testing.T) {
	h := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	serve := func(req *http.Request) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	req := httptest.NewRequest(http.MethodPut, "/", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(req))

	req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: "u-1"}))
	assert.Equal(t, http.StatusForbidden, serve(req))

	req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: "u-1", Role: RoleAdmin}))
	assert.Equal(t, http.StatusNoContent, serve(req))
}
