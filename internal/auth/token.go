// ABOUTME: JWT verification yielding a verified presence principal
// ABOUTME: Uses HS256 signing with the configured secret

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/2389/wallboard-gateway/internal/presence"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// minSecretLength is the shortest HS256 secret accepted.
const minSecretLength = 32

// ErrWeakSecret is returned for secrets shorter than 32 bytes.
var ErrWeakSecret = errors.New("jwt secret must be at least 32 bytes")

// Verifier turns a bearer token into a verified principal.
type Verifier interface {
	Verify(tokenString string) (presence.Principal, error)
}

// Claims are the JWT claims the gateway reads. The subject is the identity code.
type Claims struct {
	Role string `json:"role"`
	Team string `json:"team,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier implements Verifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for secret.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret}, nil
}

// Verify validates the token and builds the principal from its sub, role
// and team claims.
func (v *JWTVerifier) Verify(tokenString string) (presence.Principal, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return presence.Principal{}, ErrExpiredToken
		}
		return presence.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return presence.Principal{}, ErrInvalidToken
	}

	if claims.Subject == "" {
		return presence.Principal{}, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	identity, err := presence.ParseIdentity(claims.Subject)
	if err != nil {
		return presence.Principal{}, fmt.Errorf("%w: sub: %v", ErrInvalidToken, err)
	}
	if claims.Role == "" {
		return presence.Principal{}, fmt.Errorf("%w: role", ErrMissingClaim)
	}
	role, err := presence.ParseRole(claims.Role)
	if err != nil {
		return presence.Principal{}, fmt.Errorf("%w: role: %v", ErrInvalidToken, err)
	}

	return presence.Principal{Identity: identity, Role: role, Team: claims.Team}, nil
}

// Generate signs a token for p that expires after expiresIn.
func (v *JWTVerifier) Generate(p presence.Principal, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: string(p.Role),
		Team: p.Team,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(p.Identity),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
