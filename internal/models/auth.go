package models

import (
	"github.com/golang-jwt/jwt/v5"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// TokenClaims are the claims signed into every issued token. Subject holds the email.
type TokenClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// RequestInfo carries per-request context used for logging and auditing only.
type RequestInfo struct {
	RequestID string
	IPAddress string
	UserAgent string
}
