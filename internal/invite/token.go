package invite

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenIssuer = "doctrail-invite"

// TokenSigner mints and verifies the HS256 tokens embedded in acceptance
// links. The token is the sole credential needed to accept an invite.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
}

// NewTokenSigner builds an invite token signer over the server-held secret.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("invite: token secret is not configured")
	}
	return &TokenSigner{secret: []byte(secret), now: time.Now}, nil
}

// Mint signs a token whose subject is the invite id and whose expiry claim
// mirrors the row's expires_at.
func (s *TokenSigner) Mint(inviteID string, expiresAt time.Time) (string, error) {
	inviteID = strings.TrimSpace(inviteID)
	if inviteID == "" {
		return "", errors.New("invite: invite id is required")
	}
	now := s.now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   inviteID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt.UTC()),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign invite token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and claims and returns the invite id. Claim
// expiry failing here is ErrInvalidToken, not ErrExpired: business expiry
// is judged against the row, after the token itself proves authentic.
func (s *TokenSigner) Verify(token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Issuer != tokenIssuer || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
