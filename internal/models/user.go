package models

import (
	"time"
)

// User is the persisted credential record. Email is the identity key.
type User struct {
	Email            string
	Name             string
	PasswordHash     string `json:"-"`
	FailedLoginCount int
	LastLoginAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// LoginMeta is the partial update applied after a login attempt.
// A nil LastLoginAt leaves the stored value untouched. FailedLoginCount is a
// reset and must be 0; stores reject anything else with ErrBadRequest.
type LoginMeta struct {
	LastLoginAt      *time.Time
	FailedLoginCount int
}
