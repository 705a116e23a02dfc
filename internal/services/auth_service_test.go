package services

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testInfo = models.RequestInfo{RequestID: "req-123", IPAddress: "192.168.1.1", UserAgent: "Mozilla/5.0"}

// ============================================================================
// Register
// ============================================================================

func TestAuthService_Register_Success(t *testing.T) {
	hasher := NewTestHasher()
	var created *models.User

	mockUserRepo := &MockUserRepository{
		CreateIfAbsentFunc: func(ctx context.Context, user *models.User) error {
			created = user
			return nil
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, hasher, &MockTokenIssuer{}, &buf)

	err := authService.Register(context.Background(), "  User@Example.COM ", "password123", " John Doe ", testInfo)

	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, "user@example.com", created.Email)
	assert.Equal(t, "John Doe", created.Name)
	assert.Equal(t, 0, created.FailedLoginCount)
	assert.NotEqual(t, "password123", created.PasswordHash)
	assert.True(t, hasher.Verify("password123", created.PasswordHash))

	assert.Contains(t, buf.String(), `"event_type":"user_registered"`)
	assert.NotContains(t, buf.String(), "password123")
	assert.NotContains(t, buf.String(), created.PasswordHash)
}

func TestAuthService_Register_ExistingUser(t *testing.T) {
	createCalled := false
	mockUserRepo := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return &models.User{Email: email}, nil
		},
		CreateIfAbsentFunc: func(ctx context.Context, user *models.User) error {
			createCalled = true
			return nil
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, &MockHasher{}, &MockTokenIssuer{}, &buf)

	err := authService.Register(context.Background(), "user@example.com", "password123", "John", testInfo)

	assert.Equal(t, models.ErrConflict, err)
	assert.False(t, createCalled, "existing user must not be overwritten")
}

func TestAuthService_Register_ConflictOnCreate(t *testing.T) {
	// Lookup misses but a concurrent registration wins the conditional write
	mockUserRepo := &MockUserRepository{
		CreateIfAbsentFunc: func(ctx context.Context, user *models.User) error {
			return models.ErrConflict
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, &MockHasher{}, &MockTokenIssuer{}, &buf)

	err := authService.Register(context.Background(), "user@example.com", "password123", "John", testInfo)

	assert.Equal(t, models.ErrConflict, err)
	assert.NotContains(t, buf.String(), "user_registered")
}

func TestAuthService_Register_InternalFailures(t *testing.T) {
	storeDown := errors.New("connection refused")

	tests := []struct {
		name   string
		repo   *MockUserRepository
		hasher *MockHasher
	}{
		{
			name: "lookup fails",
			repo: &MockUserRepository{
				GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
					return nil, storeDown
				},
			},
			hasher: &MockHasher{},
		},
		{
			name: "hash fails",
			repo: &MockUserRepository{
				CreateIfAbsentFunc: func(ctx context.Context, user *models.User) error {
					t.Error("CreateIfAbsent should not be called when hashing fails")
					return nil
				},
			},
			hasher: &MockHasher{
				HashFunc: func(password string) (string, error) {
					return "", errors.New("entropy exhausted")
				},
			},
		},
		{
			name: "create fails",
			repo: &MockUserRepository{
				CreateIfAbsentFunc: func(ctx context.Context, user *models.User) error {
					return storeDown
				},
			},
			hasher: &MockHasher{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			authService := newTestAuthService(tt.repo, tt.hasher, &MockTokenIssuer{}, &buf)

			err := authService.Register(context.Background(), "user@example.com", "password123", "John", testInfo)

			assert.Equal(t, models.ErrInternalServer, err)
			assert.Contains(t, buf.String(), `"request_id":"req-123"`)
			assert.Contains(t, buf.String(), `"operation":"register"`)
			assert.NotContains(t, buf.String(), "password123")
		})
	}
}

// ============================================================================
// Login
// ============================================================================

func TestAuthService_Login_Success(t *testing.T) {
	hasher := NewTestHasher()
	user := NewTestUser(t, hasher, "user@example.com", "John", "password123")
	user.FailedLoginCount = 3

	var gotMeta *models.LoginMeta
	mockUserRepo := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			assert.Equal(t, "user@example.com", email)
			return user, nil
		},
		UpdateLoginMetaFunc: func(ctx context.Context, email string, meta models.LoginMeta) error {
			gotMeta = &meta
			return nil
		},
		IncrementFailedLoginCountFunc: func(ctx context.Context, email string) (int, error) {
			t.Error("IncrementFailedLoginCount should not be called on success")
			return 0, nil
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, hasher, &MockTokenIssuer{}, &buf)

	before := time.Now().UTC()
	resp, err := authService.Login(context.Background(), "User@Example.com", "password123", testInfo)

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "access_token_user@example.com", resp.AccessToken)
	assert.Equal(t, "refresh_token_user@example.com", resp.RefreshToken)

	require.NotNil(t, gotMeta)
	assert.Equal(t, 0, gotMeta.FailedLoginCount)
	require.NotNil(t, gotMeta.LastLoginAt)
	assert.False(t, gotMeta.LastLoginAt.Before(before))

	assert.Contains(t, buf.String(), `"event_type":"login_success"`)
	assert.NotContains(t, buf.String(), user.PasswordHash)
}

func TestAuthService_Login_UnknownEmail(t *testing.T) {
	dummyCalled := false
	mockUserRepo := &MockUserRepository{
		IncrementFailedLoginCountFunc: func(ctx context.Context, email string) (int, error) {
			t.Error("IncrementFailedLoginCount should not be called for unknown email")
			return 0, nil
		},
	}
	hasher := &MockHasher{
		VerifyDummyFunc: func(password string) bool {
			dummyCalled = true
			return false
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, hasher, &MockTokenIssuer{}, &buf)

	resp, err := authService.Login(context.Background(), "nonexistent@example.com", "password", testInfo)

	assert.Equal(t, models.ErrUnauthorized, err)
	assert.Nil(t, resp)
	assert.True(t, dummyCalled, "unknown email should still spend a hash comparison")
	assert.Contains(t, buf.String(), `"event_type":"login_failed"`)
	assert.Contains(t, buf.String(), `"failure_reason":"invalid_credentials"`)
}

func TestAuthService_Login_WrongPassword(t *testing.T) {
	hasher := NewTestHasher()
	user := NewTestUser(t, hasher, "user@example.com", "John", "password123")

	increments := 0
	mockUserRepo := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
		IncrementFailedLoginCountFunc: func(ctx context.Context, email string) (int, error) {
			increments++
			return increments, nil
		},
		UpdateLoginMetaFunc: func(ctx context.Context, email string, meta models.LoginMeta) error {
			t.Error("UpdateLoginMeta should not be called on failure")
			return nil
		},
	}
	tokens := &MockTokenIssuer{
		GenerateAccessTokenFunc: func(email string) (string, error) {
			t.Error("no token should be issued for a wrong password")
			return "", nil
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, hasher, tokens, &buf)

	resp, err := authService.Login(context.Background(), "user@example.com", "wrong", testInfo)

	assert.Equal(t, models.ErrUnauthorized, err)
	assert.Nil(t, resp)
	assert.Equal(t, 1, increments)
	assert.NotContains(t, buf.String(), "wrong\"")
}

func TestAuthService_Login_UnknownEmailMatchesWrongPassword(t *testing.T) {
	hasher := NewTestHasher()
	user := NewTestUser(t, hasher, "user@example.com", "John", "password123")

	mockUserRepo := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			if email == user.Email {
				return user, nil
			}
			return nil, models.ErrNotFound
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, hasher, &MockTokenIssuer{}, &buf)

	_, errUnknown := authService.Login(context.Background(), "ghost@example.com", "password123", testInfo)
	_, errWrong := authService.Login(context.Background(), "user@example.com", "not-the-password", testInfo)

	assert.Equal(t, errWrong, errUnknown)
	assert.ErrorIs(t, errUnknown, models.ErrUnauthorized)
}

func TestAuthService_Login_CounterWriteFailureStillUnauthorized(t *testing.T) {
	hasher := NewTestHasher()
	user := NewTestUser(t, hasher, "user@example.com", "John", "password123")

	mockUserRepo := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
		IncrementFailedLoginCountFunc: func(ctx context.Context, email string) (int, error) {
			return 0, errors.New("write timeout")
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, hasher, &MockTokenIssuer{}, &buf)

	resp, err := authService.Login(context.Background(), "user@example.com", "wrong-password", testInfo)

	assert.Equal(t, models.ErrUnauthorized, err)
	assert.Nil(t, resp)
	assert.Contains(t, buf.String(), "failed to record failed login")
	assert.Contains(t, buf.String(), `"level":"WARN"`)
}

func TestAuthService_Login_MetaWriteFailureStillReturnsTokens(t *testing.T) {
	hasher := NewTestHasher()
	user := NewTestUser(t, hasher, "user@example.com", "John", "password123")

	mockUserRepo := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
		UpdateLoginMetaFunc: func(ctx context.Context, email string, meta models.LoginMeta) error {
			return errors.New("throttled")
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, hasher, &MockTokenIssuer{}, &buf)

	resp, err := authService.Login(context.Background(), "user@example.com", "password123", testInfo)

	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Contains(t, buf.String(), "failed to update login metadata")
}

func TestAuthService_Login_MetaWriteDetachedFromCancellation(t *testing.T) {
	hasher := NewTestHasher()
	user := NewTestUser(t, hasher, "user@example.com", "John", "password123")

	ctx, cancel := context.WithCancel(context.Background())
	mockUserRepo := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
		UpdateLoginMetaFunc: func(writeCtx context.Context, email string, meta models.LoginMeta) error {
			// Caller gave up after the tokens were signed
			cancel()
			assert.NoError(t, writeCtx.Err())
			_, hasDeadline := writeCtx.Deadline()
			assert.True(t, hasDeadline, "metadata write should be bounded")
			return nil
		},
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, hasher, &MockTokenIssuer{}, &buf)

	resp, err := authService.Login(ctx, "user@example.com", "password123", testInfo)

	require.NoError(t, err)
	assert.NotNil(t, resp)
}

func TestAuthService_Login_InternalFailures(t *testing.T) {
	hasher := NewTestHasher()
	user := NewTestUser(t, hasher, "user@example.com", "John", "password123")

	tests := []struct {
		name   string
		repo   *MockUserRepository
		tokens *MockTokenIssuer
	}{
		{
			name: "lookup fails",
			repo: &MockUserRepository{
				GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
					return nil, errors.New("connection reset")
				},
			},
			tokens: &MockTokenIssuer{},
		},
		{
			name: "access token signing fails",
			repo: &MockUserRepository{
				GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
					return user, nil
				},
				UpdateLoginMetaFunc: func(ctx context.Context, email string, meta models.LoginMeta) error {
					t.Error("metadata should not be written when signing fails")
					return nil
				},
			},
			tokens: &MockTokenIssuer{
				GenerateAccessTokenFunc: func(email string) (string, error) {
					return "", errors.New("signing failed")
				},
			},
		},
		{
			name: "refresh token signing fails",
			repo: &MockUserRepository{
				GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
					return user, nil
				},
			},
			tokens: &MockTokenIssuer{
				GenerateRefreshTokenFunc: func(email string) (string, error) {
					return "", errors.New("signing failed")
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			authService := newTestAuthService(tt.repo, hasher, tt.tokens, &buf)

			resp, err := authService.Login(context.Background(), "user@example.com", "password123", testInfo)

			assert.Equal(t, models.ErrInternalServer, err)
			assert.Nil(t, resp)
			assert.Contains(t, buf.String(), `"operation":"login"`)
			assert.NotContains(t, buf.String(), "password123")
		})
	}
}

func TestAuthService_Login_StaleCostIsLogged(t *testing.T) {
	hasher := NewTestHasher()
	user := NewTestUser(t, hasher, "user@example.com", "John", "password123")

	mockUserRepo := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, email string) (*models.User, error) {
			return user, nil
		},
	}
	mockHasher := &MockHasher{
		VerifyFunc:      hasher.Verify,
		NeedsRehashFunc: func(hash string) bool { return true },
	}

	var buf bytes.Buffer
	authService := newTestAuthService(mockUserRepo, mockHasher, &MockTokenIssuer{}, &buf)

	_, err := authService.Login(context.Background(), "user@example.com", "password123", testInfo)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "password hash uses a stale cost")
}

func TestAuthService_Login_FailedLoginFloor(t *testing.T) {
	var buf bytes.Buffer
	logger, auditLogger := newTestLogger(&buf)
	floor := 50 * time.Millisecond
	authService := NewAuthService(&MockUserRepository{}, &MockHasher{}, &MockTokenIssuer{},
		auth.NewTimingDelay(auth.TimingConfig{MinDuration: floor}), logger, auditLogger, time.Second)

	start := time.Now()
	_, err := authService.Login(context.Background(), "ghost@example.com", "password", testInfo)

	assert.Equal(t, models.ErrUnauthorized, err)
	assert.GreaterOrEqual(t, time.Since(start), floor)
}

// ============================================================================
// Against the in-memory store
// ============================================================================

func newMemoryBackedService(t *testing.T) (*AuthService, *repositories.MemoryUserRepository) {
	t.Helper()
	repo := repositories.NewMemoryUserRepository()
	logger, _ := newTestLogger(&bytes.Buffer{})
	svc := NewAuthService(repo, NewTestHasher(),
		auth.NewTokenManager("test-secret-32-characters-long!!", "gatekeeper", 15*time.Minute, 7*24*time.Hour),
		nil, logger, pkglogger.NewAuditLogger(logger), time.Second)
	return svc, repo
}

func TestAuthService_RegisterThenLogin(t *testing.T) {
	svc, _ := newMemoryBackedService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "a@b.com", "password123", "A", testInfo))
	assert.Equal(t, models.ErrConflict, svc.Register(ctx, "a@b.com", "password123", "A", testInfo))

	resp, err := svc.Login(ctx, "a@b.com", "password123", testInfo)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEqual(t, resp.AccessToken, resp.RefreshToken)

	resp, err = svc.Login(ctx, "a@b.com", "wrong", testInfo)
	assert.Equal(t, models.ErrUnauthorized, err)
	assert.Nil(t, resp)
}

func TestAuthService_Login_MaxLengthPasswordNeedsExactMatch(t *testing.T) {
	svc, repo := newMemoryBackedService(t)
	ctx := context.Background()
	password := strings.Repeat("a", pkgauth.MaxPasswordBytes)

	require.NoError(t, svc.Register(ctx, "long@example.com", password, "Long", testInfo))

	resp, err := svc.Login(ctx, "long@example.com", password+"WRONG-SUFFIX", testInfo)
	assert.Equal(t, models.ErrUnauthorized, err)
	assert.Nil(t, resp)

	stored, err := repo.GetByEmail(ctx, "long@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.FailedLoginCount)

	resp, err = svc.Login(ctx, "long@example.com", password, testInfo)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAuthService_FailedLoginCountLifecycle(t *testing.T) {
	svc, repo := newMemoryBackedService(t)
	ctx := context.Background()

	require.NoError(t, svc.Register(ctx, "user@example.com", "password123", "User", testInfo))

	stored, err := repo.GetByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedLoginCount)
	assert.Nil(t, stored.LastLoginAt)
	createdAt := stored.CreatedAt
	hash := stored.PasswordHash

	const failures = 4
	for i := 0; i < failures; i++ {
		_, err := svc.Login(ctx, "user@example.com", "bad-password", testInfo)
		require.Equal(t, models.ErrUnauthorized, err)
	}

	stored, err = repo.GetByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, failures, stored.FailedLoginCount)
	assert.Nil(t, stored.LastLoginAt, "failed attempts leave lastLoginAt unchanged")

	_, err = svc.Login(ctx, "user@example.com", "password123", testInfo)
	require.NoError(t, err)

	stored, err = repo.GetByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedLoginCount)
	assert.NotNil(t, stored.LastLoginAt)
	assert.Equal(t, "User", stored.Name)
	assert.Equal(t, hash, stored.PasswordHash)
	assert.Equal(t, createdAt, stored.CreatedAt)
}

func TestAuthService_ConcurrentFailedLoginsAreCounted(t *testing.T) {
	svc, repo := newMemoryBackedService(t)
	ctx := context.Background()
	require.NoError(t, svc.Register(ctx, "user@example.com", "password123", "User", testInfo))

	const attempts = 10
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Login(ctx, "user@example.com", "bad-password", testInfo)
		}()
	}
	wg.Wait()

	stored, err := repo.GetByEmail(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, attempts, stored.FailedLoginCount)
}

func TestAuthService_ConcurrentRegistration(t *testing.T) {
	svc, _ := newMemoryBackedService(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	var created, conflicts atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			switch err := svc.Register(ctx, "race@example.com", "password123", "Racer", testInfo); {
			case err == nil:
				created.Add(1)
			case errors.Is(err, models.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(workers-1), conflicts.Load())
}
