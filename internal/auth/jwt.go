// Package auth authenticates storefront callers.
//
// TWO KINDS OF CALLER:
//
//  1. Shoppers carry a JWT issued by the identity provider. The "sub" claim
//     is the user's external auth id, the same value checkout smuggles
//     through payment metadata as user_id. Optional "email" and "name"
//     claims let the storefront create the user row on first contact.
//  2. Operators (sync triggers, admin routes) present an API key that is
//     checked against a bcrypt hash from configuration (apikey.go).
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"user_2abc","email":"a@b.c","iss":"storefront","exp":...}
//	- Signature: HMAC-SHA256(header+"."+payload, secret)
//
// Tokens are verified with the shared secret only; no DB lookup is needed.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIssuer is used when no issuer is configured.
const DefaultIssuer = "storefront"

// Identity is what a valid token says about its bearer.
type Identity struct {
	Subject string // external auth id
	Email   string
	Name    string
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	issuer string
}

// NewTokenService creates a TokenService. The secret must be at least 16
// characters; an empty issuer means DefaultIssuer.
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TokenService{secret: []byte(secret), issuer: issuer}, nil
}

// claims is the JWT payload: the registered claims plus profile hints.
type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Generate signs a token for id that expires after d.
//
// The storefront normally only validates tokens; Generate backs
// `storectl token` and tests.
func (s *TokenService) Generate(id Identity, d time.Duration) (string, error) {
	if id.Subject == "" {
		return "", errors.New("auth: token subject must not be empty")
	}
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    s.issuer,
		},
		Email: id.Email,
		Name:  id.Name,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a JWT string.
//
// VALIDATION CHECKS (performed by the jwt library):
//   - Signature is valid
//   - Token is not expired, and carries an expiry at all
//   - Issuer matches the configured issuer
//   - Algorithm is HS256 (blocks the "alg: none" confusion attack)
func (s *TokenService) Validate(tokenStr string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errors.New("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return nil, errors.New("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, errors.New("auth: token has no subject")
	}

	return &Identity{Subject: c.Subject, Email: c.Email, Name: c.Name}, nil
}
