package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager signs access and refresh tokens with a process-wide HMAC secret
type TokenManager struct {
	secret             []byte
	issuer             string
	accessTokenExpiry  time.Duration
	refreshTokenExpiry time.Duration
	now                func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:             []byte(secret),
		issuer:             issuer,
		accessTokenExpiry:  accessExpiry,
		refreshTokenExpiry: refreshExpiry,
		now:                time.Now,
	}
}

// GenerateAccessToken creates a short-lived access token for the given email
func (tm *TokenManager) GenerateAccessToken(email string) (string, error) {
	return tm.sign(models.TokenTypeAccess, email, tm.accessTokenExpiry)
}

// GenerateRefreshToken creates a long-lived refresh token for the given email
func (tm *TokenManager) GenerateRefreshToken(email string) (string, error) {
	return tm.sign(models.TokenTypeRefresh, email, tm.refreshTokenExpiry)
}

func (tm *TokenManager) sign(tokenType, email string, expiry time.Duration) (string, error) {
	now := tm.now()

	claims := &models.TokenClaims{
		Type: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   email,
			Issuer:    tm.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}

	return tokenString, nil
}
