package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported user store backends
const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type Config struct {
	Server   ServerConfig
	Auth     AuthConfig
	Store    StoreConfig
	Database DatabaseConfig
	DynamoDB DynamoDBConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string // CIDRs whose X-Forwarded-For is honored
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	JWTIssuer          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	BcryptCost         int
	LoginMetaTimeout   time.Duration
	FailedLoginFloor   time.Duration
	FailedLoginJitter  time.Duration
}

// StoreConfig selects the user store and its table identity
type StoreConfig struct {
	Backend   string
	TableName string
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type DynamoDBConfig struct {
	Region      string
	Endpoint    string // Optional override, e.g. DynamoDB Local
	CreateTable bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")
	backend := strings.ToLower(getEnv("STORE_BACKEND", BackendPostgres))

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			JWTIssuer:          getEnv("JWT_ISSUER", ""),
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			BcryptCost:         getEnvAsInt("BCRYPT_COST", 12),
			LoginMetaTimeout:   getEnvAsDuration("LOGIN_META_TIMEOUT", 2*time.Second),
			FailedLoginFloor:   getEnvAsDuration("FAILED_LOGIN_MIN_DURATION", 100*time.Millisecond),
			FailedLoginJitter:  getEnvAsDuration("FAILED_LOGIN_JITTER", 0),
		},
		Store: StoreConfig{
			Backend:   backend,
			TableName: getEnv("TABLE_NAME", ""),
		},
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "gatekeeper"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		DynamoDB: DynamoDBConfig{
			Region:      getEnv("AWS_REGION", "us-east-1"),
			Endpoint:    getEnv("DYNAMODB_ENDPOINT", ""),
			CreateTable: getEnvAsBool("DYNAMODB_CREATE_TABLE", false),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			PoolSize: getEnvAsInt("REDIS_POOL_SIZE", 0),
		},
	}

	if err := validateStore(cfg); err != nil {
		return nil, err
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if cfg.Auth.AccessTokenExpiry <= 0 || cfg.Auth.RefreshTokenExpiry <= 0 {
		return nil, fmt.Errorf("token expiries must be positive")
	}

	return cfg, nil
}

// validateStore checks the backend name and the settings each backend requires
func validateStore(cfg *Config) error {
	switch cfg.Store.Backend {
	case BackendPostgres:
		if cfg.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required for the %s store", BackendPostgres)
		}
		// The schema comes from the embedded migrations, which create "users".
		if cfg.Store.TableName != "" && cfg.Store.TableName != "users" {
			return fmt.Errorf("TABLE_NAME %q is not supported by the %s store, which uses the migrated users table", cfg.Store.TableName, BackendPostgres)
		}
	case BackendDynamoDB:
		if cfg.Store.TableName == "" {
			return fmt.Errorf("TABLE_NAME is required for the %s store", BackendDynamoDB)
		}
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the %s store", BackendRedis)
		}
	case BackendMemory:
		if cfg.Server.Env == "production" {
			return fmt.Errorf("the %s store cannot be used in production", BackendMemory)
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}

	if cfg.Store.TableName == "" {
		cfg.Store.TableName = "users"
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32 // 256 bits
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example", "dev-secret",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info
func (c *ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// splitList splits a comma-separated value, dropping empty entries
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if origins := splitList(getEnv("ALLOWED_ORIGINS", "")); len(origins) > 0 {
		return origins
	}

	if env == "production" {
		return []string{}
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
