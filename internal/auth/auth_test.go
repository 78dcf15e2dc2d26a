package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/hazyhaar/tabula/pkg/kit"
)

func TestTokenRoundTrip(t *testing.T) {
	a := New("secret", 60, "")
	tok, err := a.GenerateToken("agent-7")
	require.NoError(t, err)

	claims, err := a.ValidateToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "agent-7", claims.Subject)

	_, err = New("other", 60, "").ValidateToken(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredToken(t *testing.T) {
	a := New("secret", -5, "")
	tok, err := a.GenerateToken("x")
	require.NoError(t, err)
	_, err = a.ValidateToken(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestRejectsNonHMAC(t *testing.T) {
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "x"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = New("secret", 60, "").ValidateToken(tok)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateTokenWithoutSecret(t *testing.T) {
	_, err := New("", 60, "").GenerateToken("x")
	require.Error(t, err)
}

func TestAPIKey(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("k3y"), bcrypt.MinCost)
	require.NoError(t, err)
	a := New("", 60, string(hash))
	assert.True(t, a.CheckAPIKey("k3y"))
	assert.False(t, a.CheckAPIKey("nope"))
	assert.False(t, New("", 60, "").CheckAPIKey("k3y"))
}

func TestHashKey(t *testing.T) {
	hash, err := HashKey("k3y")
	require.NoError(t, err)
	assert.True(t, New("", 0, hash).CheckAPIKey("k3y"))
}

func TestMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("k3y"), bcrypt.MinCost)
	require.NoError(t, err)
	a := New("secret", 60, string(hash))
	tok, err := a.GenerateToken("agent-7")
	require.NoError(t, err)

	var gotUser string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = kit.GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		header string
		status int
		user   string
	}{
		{"jwt", "Bearer " + tok, http.StatusNoContent, "agent-7"},
		{"api key", "bearer k3y", http.StatusNoContent, APIKeySubject},
		{"missing", "", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, ""},
		{"garbage", "Bearer garbage", http.StatusUnauthorized, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotUser = ""
			req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.user, gotUser)
		})
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	called := false
	h := New("", 60, "").Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/mcp", nil))
	assert.True(t, called)
}
