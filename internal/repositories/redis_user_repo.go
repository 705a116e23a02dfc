package repositories

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/config"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/redis/go-redis/v9"
)

// Hash field names, shared with the dynamodb layout
const (
	fieldEmail            = "email"
	fieldName             = "name"
	fieldPasswordHash     = "password_hash"
	fieldFailedLoginCount = "failedLoginCount"
	fieldLastLoginAt      = "lastLoginAt"
	fieldCreatedAt        = "createdAt"
	fieldUpdatedAt        = "updatedAt"
)

var (
	// createScript writes the hash only if the key is absent
	createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

	// updateScript sets the given fields only if the key exists
	updateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV))
return 1
`)

	// incrementScript bumps the failure counter only if the key exists
	incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
redis.call('HSET', KEYS[1], 'updatedAt', ARGV[1])
return redis.call('HINCRBY', KEYS[1], 'failedLoginCount', 1)
`)
)

// RedisUserRepository stores one hash per user at <namespace>:user:<email>
type RedisUserRepository struct {
	client    redis.UniversalClient
	namespace string
	now       func() time.Time
}

func NewRedisUserRepository(client redis.UniversalClient, namespace string) *RedisUserRepository {
	return &RedisUserRepository{client: client, namespace: namespace, now: time.Now}
}

// NewRedisClient connects to the configured server and verifies it with PING
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return client, nil
}

func (r *RedisUserRepository) key(email string) string {
	return r.namespace + ":user:" + email
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (r *RedisUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	fields, err := r.client.HGetAll(ctx, r.key(email)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read user hash: %w", err)
	}
	if len(fields) == 0 {
		return nil, models.ErrNotFound
	}

	return decodeUserHash(fields)
}

func decodeUserHash(fields map[string]string) (*models.User, error) {
	user := &models.User{
		Email:        fields[fieldEmail],
		Name:         fields[fieldName],
		PasswordHash: fields[fieldPasswordHash],
	}

	var err error
	if v := fields[fieldFailedLoginCount]; v != "" {
		if user.FailedLoginCount, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", fieldFailedLoginCount, err)
		}
	}
	if user.CreatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldCreatedAt]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldCreatedAt, err)
	}
	if user.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields[fieldUpdatedAt]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", fieldUpdatedAt, err)
	}
	if v := fields[fieldLastLoginAt]; v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", fieldLastLoginAt, err)
		}
		user.LastLoginAt = &t
	}

	return user, nil
}

func (r *RedisUserRepository) CreateIfAbsent(ctx context.Context, user *models.User) error {
	now := r.now().UTC()
	ts := formatTime(now)

	created, err := createScript.Run(ctx, r.client, []string{r.key(user.Email)},
		fieldEmail, user.Email,
		fieldName, user.Name,
		fieldPasswordHash, user.PasswordHash,
		fieldFailedLoginCount, 0,
		fieldCreatedAt, ts,
		fieldUpdatedAt, ts,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create user hash: %w", err)
	}
	if created == 0 {
		return models.ErrConflict
	}

	user.FailedLoginCount = 0
	user.LastLoginAt = nil
	user.CreatedAt = now
	user.UpdatedAt = now
	return nil
}

func (r *RedisUserRepository) UpdateLoginMeta(ctx context.Context, email string, meta models.LoginMeta) error {
	if err := checkLoginMeta(meta); err != nil {
		return err
	}

	args := []interface{}{
		fieldFailedLoginCount, meta.FailedLoginCount,
		fieldUpdatedAt, formatTime(r.now()),
	}
	if meta.LastLoginAt != nil {
		args = append(args, fieldLastLoginAt, formatTime(*meta.LastLoginAt))
	}

	updated, err := updateScript.Run(ctx, r.client, []string{r.key(email)}, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to update login meta: %w", err)
	}
	if updated == 0 {
		return models.ErrNotFound
	}

	return nil
}

func (r *RedisUserRepository) IncrementFailedLoginCount(ctx context.Context, email string) (int, error) {
	count, err := incrementScript.Run(ctx, r.client, []string{r.key(email)}, formatTime(r.now())).Int()
	if err != nil {
		return 0, fmt.Errorf("failed to increment failed login count: %w", err)
	}
	if count < 0 {
		return 0, models.ErrNotFound
	}

	return count, nil
}

func (r *RedisUserRepository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}
