// ABOUTME: HTTP middleware for JWT authentication on API and socket endpoints
// ABOUTME: Extracts the token from the Authorization header or a token query parameter

package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// ErrMissingToken is returned when a request carries no credentials.
var ErrMissingToken = errors.New("missing token")

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// TokenFromRequest returns the bearer token of r. Browsers cannot set
// headers on a socket upgrade, so a token query parameter is accepted too.
func TokenFromRequest(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		token, errMsg := extractBearerToken(header)
		if errMsg != "" {
			return "", errors.New(errMsg)
		}
		return token, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrMissingToken
}

// Authenticate verifies the token carried by r.
func Authenticate(v Verifier, r *http.Request) (presence.Principal, error) {
	token, err := TokenFromRequest(r)
	if err != nil {
		return presence.Principal{}, err
	}
	return v.Verify(token)
}

// HTTPAuthMiddleware rejects requests without a valid token and stores the
// verified principal in the request context.
func HTTPAuthMiddleware(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := Authenticate(v, r)
			if err != nil {
				w.Header().Set("Content-Type", "application/json")
				msg := "invalid token"
				switch {
				case errors.Is(err, ErrMissingToken):
					msg = "missing authorization header"
				case errors.Is(err, ErrExpiredToken):
					msg = "token expired"
				}
				http.Error(w, `{"error":"`+msg+`"}`, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
