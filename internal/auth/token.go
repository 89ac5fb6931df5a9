package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims is the identity carried by a session token.
type Claims struct {
	UserID     string
	HospitalID string
	Role       string
}

type tokenClaims struct {
	HospitalID string `json:"hospital_id,omitempty"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier validates bearer tokens issued by the hospital backend.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier constructs a verifier for HS256 tokens.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning the caller's identity.
func (v *TokenVerifier) Verify(token string) (Claims, error) {
	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrInvalidToken
	}
	return Claims{UserID: claims.Subject, HospitalID: claims.HospitalID, Role: claims.Role}, nil
}

// Issue signs a token for the identity. Used by tests and local tooling;
// production tokens come from the auth service.
func (v *TokenVerifier) Issue(claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		HospitalID: claims.HospitalID,
		Role:       claims.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(v.secret)
}
