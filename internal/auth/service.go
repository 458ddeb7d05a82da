package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/pkg/models"
)

// Service bundles the user store and JWT handling behind one API used
// by the HTTP layer and the CLI.
type Service struct {
	store  UserStore
	jwt    *JWTService
	logger *observability.Logger
}

// NewService builds an auth service.
func NewService(store UserStore, jwt *JWTService, logger *observability.Logger) *Service {
	return &Service{store: store, jwt: jwt, logger: logger}
}

// Login verifies the credentials and issues a token. The returned
// expiry is in seconds, ready for the login response body.
func (s *Service) Login(ctx context.Context, username, password string) (string, int64, *models.User, error) {
	user, err := s.store.Authenticate(ctx, username, password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			s.logger.Warn(ctx, "login rejected", "username", username)
		}
		return "", 0, nil, err
	}

	token, err := s.jwt.Generate(user)
	if err != nil {
		return "", 0, nil, fmt.Errorf("failed to issue token: %w", err)
	}
	s.logger.Info(ctx, "user logged in", "user_id", user.ID, "username", user.Username)
	return token, int64(s.jwt.Expiry() / time.Second), user, nil
}

// ValidateToken verifies a bearer token and resolves the live user
// record, so deactivation and role changes apply to existing tokens.
func (s *Service) ValidateToken(ctx context.Context, token string) (*models.User, error) {
	identity, err := s.jwt.Validate(token)
	if err != nil {
		return nil, err
	}
	user, err := s.store.GetByID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if !user.Active {
		return nil, ErrInvalidToken
	}
	return user, nil
}

// CreateUser registers a new account with a hashed password.
func (s *Service) CreateUser(ctx context.Context, username, password string, role models.Role) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidUser)
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidUser)
	}
	if role == "" {
		role = models.RoleUser
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "user created", "user_id", user.ID, "username", user.Username, "role", string(user.Role))
	return user, nil
}

// UpdateUser applies the non-nil fields to an existing account.
func (s *Service) UpdateUser(ctx context.Context, id string, username *string, password *string, role *models.Role, active *bool) (*models.User, error) {
	user, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if username != nil && strings.TrimSpace(*username) != "" {
		user.Username = strings.TrimSpace(*username)
	}
	if password != nil {
		if len(*password) < 8 {
			return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidUser)
		}
		hash, err := HashPassword(*password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		user.PasswordHash = hash
	}
	if role != nil {
		user.Role = *role
	}
	if active != nil {
		user.Active = *active
	}
	if err := s.store.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns one account by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	return s.store.GetByID(ctx, id)
}

// ListUsers returns accounts ordered by creation time.
func (s *Service) ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error) {
	return s.store.List(ctx, limit, offset)
}

// Bootstrap creates the first admin account when the store is empty.
// Idempotent: a populated store is left untouched.
func (s *Service) Bootstrap(ctx context.Context, username, password string) (*models.User, error) {
	n, err := s.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect user store: %w", err)
	}
	if n > 0 {
		return nil, nil
	}
	user, err := s.CreateUser(ctx, username, password, models.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "bootstrapped initial admin", "username", username)
	return user, nil
}
