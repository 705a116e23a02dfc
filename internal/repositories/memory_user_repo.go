package repositories

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/models"
)

// MemoryUserRepository keeps users in process memory. Development and tests only.
type MemoryUserRepository struct {
	mu    sync.RWMutex
	users map[string]models.User
	now   func() time.Time
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		users: make(map[string]models.User),
		now:   time.Now,
	}
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[email]
	if !ok {
		return nil, models.ErrNotFound
	}

	return copyUser(user), nil
}

func (r *MemoryUserRepository) CreateIfAbsent(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.Email]; ok {
		return models.ErrConflict
	}

	now := r.now().UTC()
	stored := models.User{
		Email:        user.Email,
		Name:         user.Name,
		PasswordHash: user.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.users[user.Email] = stored

	*user = stored
	return nil
}

func (r *MemoryUserRepository) UpdateLoginMeta(ctx context.Context, email string, meta models.LoginMeta) error {
	if err := checkLoginMeta(meta); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[email]
	if !ok {
		return models.ErrNotFound
	}

	user.FailedLoginCount = meta.FailedLoginCount
	if meta.LastLoginAt != nil {
		t := meta.LastLoginAt.UTC()
		user.LastLoginAt = &t
	}
	user.UpdatedAt = r.now().UTC()
	r.users[email] = user

	return nil
}

func (r *MemoryUserRepository) IncrementFailedLoginCount(ctx context.Context, email string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[email]
	if !ok {
		return 0, models.ErrNotFound
	}

	user.FailedLoginCount++
	user.UpdatedAt = r.now().UTC()
	r.users[email] = user

	return user.FailedLoginCount, nil
}

func (r *MemoryUserRepository) Ping(ctx context.Context) error {
	return nil
}

func copyUser(u models.User) *models.User {
	if u.LastLoginAt != nil {
		t := *u.LastLoginAt
		u.LastLoginAt = &t
	}
	return &u
}
