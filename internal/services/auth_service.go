package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/models"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// DefaultLoginMetaTimeout bounds the best-effort login metadata write
const DefaultLoginMetaTimeout = 2 * time.Second

// UserRepository defines the user store operations the auth flows depend on
type UserRepository interface {
	// GetByEmail returns models.ErrNotFound when no record exists
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	// CreateIfAbsent is a single conditional write; models.ErrConflict when the email exists
	CreateIfAbsent(ctx context.Context, user *models.User) error
	// UpdateLoginMeta touches only the login fields and updatedAt
	UpdateLoginMeta(ctx context.Context, email string, meta models.LoginMeta) error
	// IncrementFailedLoginCount atomically adds one and returns the new value
	IncrementFailedLoginCount(ctx context.Context, email string) (int, error)
}

// TokenIssuer signs the token pair returned by a successful login
type TokenIssuer interface {
	GenerateAccessToken(email string) (string, error)
	GenerateRefreshToken(email string) (string, error)
}

// AuthService handles registration and login
type AuthService struct {
	repo        UserRepository
	hasher      pkgauth.Hasher
	tokens      TokenIssuer
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	metaTimeout time.Duration
	now         func() time.Time
}

// NewAuthService creates a new AuthService. timing may be nil to disable the
// failed-login response floor.
func NewAuthService(repo UserRepository, hasher pkgauth.Hasher, tokens TokenIssuer, timing *auth.TimingDelay, logger *slog.Logger, auditLogger *pkglogger.AuditLogger, metaTimeout time.Duration) *AuthService {
	if metaTimeout <= 0 {
		metaTimeout = DefaultLoginMetaTimeout
	}
	return &AuthService{
		repo:        repo,
		hasher:      hasher,
		tokens:      tokens,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
		metaTimeout: metaTimeout,
		now:         time.Now,
	}
}

// AuthResponse is the body of a successful login
type AuthResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// NormalizeEmail lower-cases and trims an email before any store access
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new user account. Input shape is validated by the caller.
func (s *AuthService) Register(ctx context.Context, email, password, name string, info models.RequestInfo) error {
	email = NormalizeEmail(email)
	name = strings.TrimSpace(name)

	// Fast path only; CreateIfAbsent is the authoritative uniqueness check
	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: user already exists", slog.String("request_id", info.RequestID))
		return models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists",
			slog.String("operation", "register"),
			slog.String("request_id", info.RequestID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	hashedPassword, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Error("failed to hash password",
			slog.String("operation", "register"),
			slog.String("request_id", info.RequestID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	user := &models.User{
		Email:        email,
		Name:         name,
		PasswordHash: hashedPassword,
	}

	if err := s.repo.CreateIfAbsent(ctx, user); err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.logger.Info("registration failed: user already exists", slog.String("request_id", info.RequestID))
			return models.ErrConflict
		}
		s.logger.Error("failed to create user",
			slog.String("operation", "register"),
			slog.String("request_id", info.RequestID),
			slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("request_id", info.RequestID))
	s.auditLogger.LogAccountAction(ctx, pkglogger.AuditEvent{
		EventType: "user_registered",
		Email:     email,
		RequestID: info.RequestID,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		Success:   true,
	})

	return nil
}

// Login authenticates a user and returns an access/refresh token pair.
// Unknown email and wrong password both return models.ErrUnauthorized.
func (s *AuthService) Login(ctx context.Context, email, password string, info models.RequestInfo) (*AuthResponse, error) {
	start := time.Now()
	email = NormalizeEmail(email)

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Spend the same bcrypt work as a real comparison
			s.hasher.VerifyDummy(password)
			s.failLogin(ctx, start, email, info)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email",
			slog.String("operation", "login"),
			slog.String("request_id", info.RequestID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		count, err := s.repo.IncrementFailedLoginCount(ctx, email)
		if err != nil {
			s.logger.Warn("failed to record failed login",
				slog.String("request_id", info.RequestID),
				slog.Any("error", err))
		} else {
			s.logger.Debug("failed login recorded",
				slog.String("request_id", info.RequestID),
				slog.Int("failed_login_count", count))
		}
		s.failLogin(ctx, start, email, info)
		return nil, models.ErrUnauthorized
	}

	accessToken, err := s.tokens.GenerateAccessToken(user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token",
			slog.String("operation", "login"),
			slog.String("request_id", info.RequestID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tokens.GenerateRefreshToken(user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token",
			slog.String("operation", "login"),
			slog.String("request_id", info.RequestID),
			slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.recordLogin(ctx, user.Email, info)

	if s.hasher.NeedsRehash(user.PasswordHash) {
		s.logger.Debug("password hash uses a stale cost", slog.String("request_id", info.RequestID))
	}

	s.logger.Info("user logged in", slog.String("request_id", info.RequestID))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login_success",
		Email:     user.Email,
		RequestID: info.RequestID,
		IPAddress: info.IPAddress,
		UserAgent: info.UserAgent,
		Success:   true,
	})
	s.timing.WaitFrom(ctx, start, true)

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// recordLogin resets the failure counter and stamps lastLoginAt. It is
// detached from request cancellation and never fails the login.
func (s *AuthService) recordLogin(ctx context.Context, email string, info models.RequestInfo) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.metaTimeout)
	defer cancel()

	now := s.now().UTC()
	err := s.repo.UpdateLoginMeta(writeCtx, email, models.LoginMeta{
		LastLoginAt:      &now,
		FailedLoginCount: 0,
	})
	if err != nil {
		s.logger.Warn("failed to update login metadata",
			slog.String("request_id", info.RequestID),
			slog.Any("error", err))
	}
}

func (s *AuthService) failLogin(ctx context.Context, start time.Time, email string, info models.RequestInfo) {
	s.logger.Info("login failed: invalid credentials", slog.String("request_id", info.RequestID))
	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType:     "login_failed",
		Email:         email,
		RequestID:     info.RequestID,
		IPAddress:     info.IPAddress,
		UserAgent:     info.UserAgent,
		FailureReason: "invalid_credentials",
	})
	s.timing.WaitFrom(ctx, start, false)
}
