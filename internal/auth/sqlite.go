package auth

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// SQLiteUserStore implements UserStore on SQLite. Single-file
// deployments open the database in WAL mode through the storage
// package, so reads and writes interleave without blocking.
type SQLiteUserStore struct {
	db *sql.DB
}

var _ UserStore = (*SQLiteUserStore)(nil)

// NewSQLiteUserStore wraps an already opened and migrated database.
func NewSQLiteUserStore(db *sql.DB) *SQLiteUserStore {
	return &SQLiteUserStore{db: db}
}

func (s *SQLiteUserStore) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = user.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Username, user.PasswordHash, string(user.Role), user.Active,
		user.CreatedAt, user.UpdatedAt,
	)
	if isSQLiteUniqueViolation(err) {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *SQLiteUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, active, created_at, updated_at
		FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func (s *SQLiteUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, active, created_at, updated_at
		FROM users WHERE username = ?`, username)
	return scanUser(row)
}

func (s *SQLiteUserStore) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, role, active, created_at, updated_at
		FROM users ORDER BY created_at, id LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *SQLiteUserStore) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET username = ?, password_hash = ?, role = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		user.Username, user.PasswordHash, string(user.Role), user.Active,
		user.UpdatedAt, user.ID,
	)
	if isSQLiteUniqueViolation(err) {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *SQLiteUserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *SQLiteUserStore) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	return authenticate(ctx, s, username, password)
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
