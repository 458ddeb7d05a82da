package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// PostgresUserStore implements UserStore on PostgreSQL. The schema is
// managed by the storage package.
type PostgresUserStore struct {
	db *sql.DB

	stmtCreate        *sql.Stmt
	stmtGetByID       *sql.Stmt
	stmtGetByUsername *sql.Stmt
	stmtList          *sql.Stmt
	stmtUpdate        *sql.Stmt
	stmtCount         *sql.Stmt
}

var _ UserStore = (*PostgresUserStore)(nil)

// NewPostgresUserStore prepares statements against an already opened
// and migrated database.
func NewPostgresUserStore(db *sql.DB) (*PostgresUserStore, error) {
	s := &PostgresUserStore{db: db}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare user statements: %w", err)
	}
	return s, nil
}

func (s *PostgresUserStore) prepareStatements() error {
	var err error

	s.stmtCreate, err = s.db.Prepare(`
		INSERT INTO users (id, username, password_hash, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare create user: %w", err)
	}

	s.stmtGetByID, err = s.db.Prepare(`
		SELECT id, username, password_hash, role, active, created_at, updated_at
		FROM users WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get user by id: %w", err)
	}

	s.stmtGetByUsername, err = s.db.Prepare(`
		SELECT id, username, password_hash, role, active, created_at, updated_at
		FROM users WHERE username = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get user by username: %w", err)
	}

	s.stmtList, err = s.db.Prepare(`
		SELECT id, username, password_hash, role, active, created_at, updated_at
		FROM users ORDER BY created_at, id LIMIT $1 OFFSET $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list users: %w", err)
	}

	s.stmtUpdate, err = s.db.Prepare(`
		UPDATE users SET username = $1, password_hash = $2, role = $3, active = $4, updated_at = $5
		WHERE id = $6
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update user: %w", err)
	}

	s.stmtCount, err = s.db.Prepare(`SELECT COUNT(*) FROM users`)
	if err != nil {
		return fmt.Errorf("failed to prepare count users: %w", err)
	}

	return nil
}

// Close releases the prepared statements. The shared *sql.DB is owned
// by the caller.
func (s *PostgresUserStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtCreate, s.stmtGetByID, s.stmtGetByUsername,
		s.stmtList, s.stmtUpdate, s.stmtCount,
	} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing user store: %v", errs)
	}
	return nil
}

func (s *PostgresUserStore) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	user.UpdatedAt = user.CreatedAt

	_, err := s.stmtCreate.ExecContext(ctx,
		user.ID, user.Username, user.PasswordHash, user.Role, user.Active,
		user.CreatedAt, user.UpdatedAt,
	)
	if isPqUniqueViolation(err) {
		return ErrDuplicateUser
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *PostgresUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.stmtGetByID.QueryRowContext(ctx, id))
}

func (s *PostgresUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return scanUser(s.stmtGetByUsername.QueryRowContext(ctx, username))
}

func (s *PostgresUserStore) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.stmtList.QueryContext(ctx, limit, offset)
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

func (s *PostgresUserStore) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()
	res, err := s.stmtUpdate.ExecContext(ctx,
		user.Username, user.PasswordHash, user.Role, user.Active,
		user.UpdatedAt, user.ID,
	)
	if isPqUniqueViolation(err) {
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

func (s *PostgresUserStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.stmtCount.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *PostgresUserStore) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	return authenticate(ctx, s, username, password)
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Role,
		&user.Active, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}

func isPqUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
