// Package app builds the dependency graph shared by the HTTP server and the
// Lambda entry point.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/auth"
	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/handlers"
	"github.com/BradenHooton/gatekeeper/internal/repositories"
	"github.com/BradenHooton/gatekeeper/internal/services"
	pkgauth "github.com/BradenHooton/gatekeeper/pkg/auth"
	pkghttp "github.com/BradenHooton/gatekeeper/pkg/http"
	pkglogger "github.com/BradenHooton/gatekeeper/pkg/logger"
)

// tableCreateWait bounds how long startup waits for a new DynamoDB table
const tableCreateWait = 2 * time.Minute

// UserStore is a user store backend that can also report its health
type UserStore interface {
	services.UserRepository
	Ping(ctx context.Context) error
}

// App holds the wired components
type App struct {
	Store       UserStore
	AuthService *services.AuthService
	AuthHandler *handlers.AuthHandler
	IPConfig    *pkghttp.IPConfig

	closers []func()
}

// NewLogger returns the JSON logger at the configured level
func NewLogger(cfg *config.ServerConfig) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
}

// New connects the configured store and wires the auth stack on top of it
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	ipConfig, err := pkghttp.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	a := &App{IPConfig: ipConfig}

	store, err := a.openStore(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	return a.wire(cfg, logger), nil
}

// NewWithStore wires the auth stack on an already-open store
func NewWithStore(cfg *config.Config, store UserStore, logger *slog.Logger) (*App, error) {
	ipConfig, err := pkghttp.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	a := &App{Store: store, IPConfig: ipConfig}
	return a.wire(cfg, logger), nil
}

func (a *App) wire(cfg *config.Config, logger *slog.Logger) *App {
	hasher := pkgauth.NewBcryptHasher(cfg.Auth.BcryptCost)
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.JWTIssuer,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	var timing *auth.TimingDelay
	if cfg.Auth.FailedLoginFloor > 0 || cfg.Auth.FailedLoginJitter > 0 {
		timing = auth.NewTimingDelay(auth.TimingConfig{
			MinDuration: cfg.Auth.FailedLoginFloor,
			Jitter:      cfg.Auth.FailedLoginJitter,
		})
	}

	a.AuthService = services.NewAuthService(
		a.Store,
		hasher,
		tokenManager,
		timing,
		logger,
		pkglogger.NewAuditLogger(logger),
		cfg.Auth.LoginMetaTimeout,
	)
	a.AuthHandler = handlers.NewAuthHandler(a.AuthService, a.IPConfig)

	return a
}

// Close releases store connections in reverse order of opening
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (UserStore, error) {
	logger.Info("opening user store",
		slog.String("backend", cfg.Store.Backend),
		slog.String("table", cfg.Store.TableName))

	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := database.NewConnection(&cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)

		if cfg.Database.AutoMigrate {
			if err := database.Migrate(ctx, db); err != nil {
				return nil, err
			}
		}
		return repositories.NewUserRepository(db), nil

	case config.BackendDynamoDB:
		client, err := repositories.NewDynamoDBClient(ctx, &cfg.DynamoDB)
		if err != nil {
			return nil, err
		}
		repo := repositories.NewDynamoUserRepository(client, cfg.Store.TableName)

		if cfg.DynamoDB.CreateTable {
			created, err := repo.EnsureTable(ctx, tableCreateWait)
			if err != nil {
				return nil, err
			}
			if created {
				logger.Info("created dynamodb table", slog.String("table", cfg.Store.TableName))
			}
		}
		return repo, nil

	case config.BackendRedis:
		client, err := repositories.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() {
			if err := client.Close(); err != nil {
				logger.Warn("failed to close redis client", slog.Any("error", err))
			}
		})
		return repositories.NewRedisUserRepository(client, cfg.Store.TableName), nil

	case config.BackendMemory:
		logger.Warn("using in-memory user store; data is lost on restart")
		return repositories.NewMemoryUserRepository(), nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
