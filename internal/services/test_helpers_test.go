package services

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
	"golang.org/x/crypto/bcrypt"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByEmailFunc                func(ctx context.Context, email string) (*models.User, error)
	CreateIfAbsentFunc            func(ctx context.Context, user *models.User) error
	UpdateLoginMetaFunc           func(ctx context.Context, email string, meta models.LoginMeta) error
	IncrementFailedLoginCountFunc func(ctx context.Context, email string) (int, error)
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) CreateIfAbsent(ctx context.Context, user *models.User) error {
	if m.CreateIfAbsentFunc != nil {
		return m.CreateIfAbsentFunc(ctx, user)
	}
	return nil
}

func (m *MockUserRepository) UpdateLoginMeta(ctx context.Context, email string, meta models.LoginMeta) error {
	if m.UpdateLoginMetaFunc != nil {
		return m.UpdateLoginMetaFunc(ctx, email, meta)
	}
	return nil
}

func (m *MockUserRepository) IncrementFailedLoginCount(ctx context.Context, email string) (int, error) {
	if m.IncrementFailedLoginCountFunc != nil {
		return m.IncrementFailedLoginCountFunc(ctx, email)
	}
	return 1, nil
}

// MockTokenIssuer implements TokenIssuer for testing
type MockTokenIssuer struct {
	GenerateAccessTokenFunc  func(email string) (string, error)
	GenerateRefreshTokenFunc func(email string) (string, error)
}

func (m *MockTokenIssuer) GenerateAccessToken(email string) (string, error) {
	if m.GenerateAccessTokenFunc != nil {
		return m.GenerateAccessTokenFunc(email)
	}
	return "access_token_" + email, nil
}

func (m *MockTokenIssuer) GenerateRefreshToken(email string) (string, error) {
	if m.GenerateRefreshTokenFunc != nil {
		return m.GenerateRefreshTokenFunc(email)
	}
	return "refresh_token_" + email, nil
}

// MockHasher implements pkgauth.Hasher for testing
type MockHasher struct {
	HashFunc        func(password string) (string, error)
	VerifyFunc      func(password, hash string) bool
	VerifyDummyFunc func(password string) bool
	NeedsRehashFunc func(hash string) bool
}

func (m *MockHasher) Hash(password string) (string, error) {
	if m.HashFunc != nil {
		return m.HashFunc(password)
	}
	return "hashed:" + password, nil
}

func (m *MockHasher) Verify(password, hash string) bool {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(password, hash)
	}
	return hash == "hashed:"+password
}

func (m *MockHasher) VerifyDummy(password string) bool {
	if m.VerifyDummyFunc != nil {
		return m.VerifyDummyFunc(password)
	}
	return false
}

func (m *MockHasher) NeedsRehash(hash string) bool {
	if m.NeedsRehashFunc != nil {
		return m.NeedsRehashFunc(hash)
	}
	return false
}

// NewTestHasher returns a real bcrypt hasher at the minimum cost
func NewTestHasher() *pkgauth.BcryptHasher {
	return pkgauth.NewBcryptHasher(bcrypt.MinCost)
}

// NewTestUser creates a stored user whose password hash matches password
func NewTestUser(t *testing.T, hasher pkgauth.Hasher, email, name, password string) *models.User {
	t.Helper()
	hash, err := hasher.Hash(password)
	if err != nil {
		t.Fatalf("failed to hash test password: %v", err)
	}
	now := time.Now().UTC()
	return &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// newTestLogger returns a JSON logger writing into buf so tests can assert on records
func newTestLogger(buf *bytes.Buffer) (*slog.Logger, *pkglogger.AuditLogger) {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return logger, pkglogger.NewAuditLogger(logger)
}

// newTestAuthService wires an AuthService with a capturing logger and no timing floor
func newTestAuthService(repo UserRepository, hasher pkgauth.Hasher, tokens TokenIssuer, buf *bytes.Buffer) *AuthService {
	logger, auditLogger := newTestLogger(buf)
	return NewAuthService(repo, hasher, tokens, nil, logger, auditLogger, time.Second)
}
