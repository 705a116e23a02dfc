package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/gatekeeper/internal/database"
	"github.com/BradenHooton/gatekeeper/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const userColumns = `email, name, password_hash, failed_login_count, last_login_at, created_at, updated_at`

// UserRepository is the postgres-backed user store
type UserRepository struct {
	db   *database.DB
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db, pool: db.Pool, now: time.Now}
}

// rowScanner interface for scanning user rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanUserRow populates a User model from a database row
func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var lastLoginAt *time.Time

	err := scanner.Scan(
		&user.Email, &user.Name, &user.PasswordHash,
		&user.FailedLoginCount, &lastLoginAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	user.LastLoginAt = lastLoginAt

	return &user, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUserRow(r.pool.QueryRow(ctx, query, email))
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return user, nil
}

// CreateIfAbsent inserts the user in one conditional statement. An existing
// row for the email yields no RETURNING row, which maps to ErrConflict.
func (r *UserRepository) CreateIfAbsent(ctx context.Context, user *models.User) error {
	now := r.now().UTC()

	query := `
		INSERT INTO users (email, name, password_hash, failed_login_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		ON CONFLICT (email) DO NOTHING
		RETURNING ` + userColumns

	created, err := scanUserRow(r.pool.QueryRow(ctx, query, user.Email, user.Name, user.PasswordHash, now))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ErrConflict
		}
		return database.MapPostgresError(err)
	}

	*user = *created
	return nil
}

// UpdateLoginMeta sets the login fields and updated_at only. A nil
// LastLoginAt keeps the stored value.
func (r *UserRepository) UpdateLoginMeta(ctx context.Context, email string, meta models.LoginMeta) error {
	if err := checkLoginMeta(meta); err != nil {
		return err
	}

	query := `
		UPDATE users
		SET failed_login_count = $1,
		    last_login_at = COALESCE($2::timestamptz, last_login_at),
		    updated_at = $3
		WHERE email = $4
	`

	result, err := r.pool.Exec(ctx, query, meta.FailedLoginCount, meta.LastLoginAt, r.now().UTC(), email)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

// IncrementFailedLoginCount bumps the counter in place and returns the new value
func (r *UserRepository) IncrementFailedLoginCount(ctx context.Context, email string) (int, error) {
	query := `
		UPDATE users
		SET failed_login_count = failed_login_count + 1, updated_at = $1
		WHERE email = $2
		RETURNING failed_login_count
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, r.now().UTC(), email).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}

	return count, nil
}

func (r *UserRepository) Ping(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
