package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/artifactflow/artifactflow/pkg/models"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrDuplicateUser indicates a username collision on create.
	ErrDuplicateUser = errors.New("username already taken")

	// ErrInvalidCredentials indicates a failed username/password check.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken indicates an expired, malformed, or tampered token.
	ErrInvalidToken = errors.New("invalid token")

	// ErrInvalidUser indicates a create or update with a bad username
	// or password.
	ErrInvalidUser = errors.New("invalid user")
)

// UserStore persists user accounts. Implementations: memory, postgres,
// sqlite.
type UserStore interface {
	// Create inserts a new user. Returns ErrDuplicateUser when the
	// username is taken.
	Create(ctx context.Context, user *models.User) error

	// GetByID returns the user with the given ID.
	GetByID(ctx context.Context, id string) (*models.User, error)

	// GetByUsername returns the user with the given username.
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// List returns users ordered by creation time.
	List(ctx context.Context, limit, offset int) ([]*models.User, error)

	// Update persists username, role, active flag, and password hash.
	Update(ctx context.Context, user *models.User) error

	// Count returns the number of stored users.
	Count(ctx context.Context) (int, error)

	// Authenticate verifies a username/password pair against the
	// store. Inactive users fail with ErrInvalidCredentials.
	Authenticate(ctx context.Context, username, password string) (*models.User, error)
}

// HashPassword derives a bcrypt hash for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a candidate password against a stored hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// authenticate implements the credential check shared by all stores.
func authenticate(ctx context.Context, store UserStore, username, password string) (*models.User, error) {
	user, err := store.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !user.Active || !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
