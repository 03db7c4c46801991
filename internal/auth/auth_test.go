// ABOUTME: Unit tests for JWT verification, token extraction and the HTTP middleware
// ABOUTME: Tests valid, invalid, expired and claim-less tokens

package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wallboard-gateway/internal/presence"
)

var secret = []byte("test-secret-key-for-jwt-signing-32b")

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(secret)
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifierRejectsShortSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestJWTVerifierRoundTrip(t *testing.T) {
	v := newVerifier(t)
	want := presence.Principal{Identity: "AG001", Role: presence.RoleAgent, Team: "T1"}

	token, err := v.Generate(want, time.Hour)
	require.NoError(t, err)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJWTVerifierNormalizesClaims(t *testing.T) {
	v := newVerifier(t)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  " sup01 ",
		"role": "supervisor",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(secret)
	require.NoError(t, err)

	got, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, presence.Identity("SUP01"), got.Identity)
	assert.Equal(t, presence.RoleSupervisor, got.Role)
}

func TestJWTVerifierRejects(t *testing.T) {
	v := newVerifier(t)

	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
		require.NoError(t, err)
		return s
	}
	other, err := NewJWTVerifier([]byte("a-completely-different-secret-value"))
	require.NoError(t, err)
	foreign, err := other.Generate(presence.Principal{Identity: "AG001", Role: presence.RoleAgent}, time.Hour)
	require.NoError(t, err)
	expired, err := v.Generate(presence.Principal{Identity: "AG001", Role: presence.RoleAgent}, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"empty", "", ErrInvalidToken},
		{"garbage", "not-a-jwt-token", ErrInvalidToken},
		{"wrong secret", foreign, ErrInvalidToken},
		{"expired", expired, ErrExpiredToken},
		{"no subject", sign(jwt.MapClaims{"role": "Agent"}), ErrMissingClaim},
		{"no role", sign(jwt.MapClaims{"sub": "AG001"}), ErrMissingClaim},
		{"unknown role", sign(jwt.MapClaims{"sub": "AG001", "role": "Janitor"}), ErrInvalidToken},
		{"bad identity", sign(jwt.MapClaims{"sub": "AG 001", "role": "Agent"}), ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		query   string
		want    string
		wantErr bool
	}{
		{"bearer header", "Bearer abc", "", "abc", false},
		{"query param", "", "token=xyz", "xyz", false},
		{"header wins", "Bearer abc", "token=xyz", "abc", false},
		{"basic auth", "Basic abc", "", "", true},
		{"empty bearer", "Bearer ", "", "", true},
		{"nothing", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws?"+tt.query, nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := TokenFromRequest(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHTTPAuthMiddleware(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate(presence.Principal{Identity: "AG001", Role: presence.RoleAgent}, time.Hour)
	require.NoError(t, err)

	var seen presence.Principal
	handler := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = p
		w.WriteHeader(http.StatusNoContent)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/presence", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, presence.Identity("AG001"), seen.Identity)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/presence", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "missing authorization header"))
}

func TestFromContextEmpty(t *testing.T) {
	_, ok := FromContext(t.Context())
	assert.False(t, ok)
}
