package auth

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/pkg/models"
)

func newTestService(t *testing.T) (*Service, *MemoryUserStore) {
	t.Helper()
	store := NewMemoryUserStore()
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	return NewService(store, NewJWTService("test-secret", time.Hour), logger), store
}

func TestServiceLogin(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	if _, err := service.CreateUser(ctx, "alice", "password123", models.RoleUser); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	token, expiresIn, user, err := service.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}
	if expiresIn != 3600 {
		t.Fatalf("expected expiry of 3600 seconds, got %d", expiresIn)
	}
	if user.Username != "alice" {
		t.Fatalf("expected alice, got %q", user.Username)
	}

	resolved, err := service.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken() error = %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("expected id %q, got %q", user.ID, resolved.ID)
	}

	if _, _, _, err := service.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestServiceValidateTokenDeactivatedUser(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	user, err := service.CreateUser(ctx, "alice", "password123", models.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	token, _, _, err := service.Login(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	inactive := false
	if _, err := service.UpdateUser(ctx, user.ID, nil, nil, nil, &inactive); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}

	if _, err := service.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for deactivated user, got %v", err)
	}
}

func TestServiceValidateTokenDeletedUser(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	jwtOnly := NewJWTService("test-secret", time.Hour)
	token, err := jwtOnly.Generate(&models.User{ID: "ghost", Username: "ghost"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := service.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unknown subject, got %v", err)
	}
}

func TestServiceCreateUserValidation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"empty username", "", "password123"},
		{"whitespace username", "   ", "password123"},
		{"short password", "alice", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.CreateUser(ctx, tt.username, tt.password, models.RoleUser); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestServiceCreateUserDefaultsRole(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	user, err := service.CreateUser(ctx, "alice", "password123", "")
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if user.Role != models.RoleUser {
		t.Fatalf("expected default role %q, got %q", models.RoleUser, user.Role)
	}
	if !user.Active {
		t.Fatal("expected new users to be active")
	}
	if user.PasswordHash == "password123" {
		t.Fatal("password stored in plaintext")
	}
}

func TestServiceUpdateUser(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	user, err := service.CreateUser(ctx, "alice", "password123", models.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	newName := "alicia"
	newRole := models.RoleAdmin
	updated, err := service.UpdateUser(ctx, user.ID, &newName, nil, &newRole, nil)
	if err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if updated.Username != "alicia" || updated.Role != models.RoleAdmin {
		t.Fatalf("update not applied: %+v", updated)
	}

	newPassword := "evenbetterpassword"
	if _, err := service.UpdateUser(ctx, user.ID, nil, &newPassword, nil, nil); err != nil {
		t.Fatalf("UpdateUser() error = %v", err)
	}
	if _, _, _, err := service.Login(ctx, "alicia", "evenbetterpassword"); err != nil {
		t.Fatalf("Login() with new password error = %v", err)
	}
	if _, _, _, err := service.Login(ctx, "alicia", "password123"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}

	short := "short"
	if _, err := service.UpdateUser(ctx, user.ID, nil, &short, nil, nil); err == nil {
		t.Fatal("expected validation error for short password")
	}

	if _, err := service.UpdateUser(ctx, "missing", &newName, nil, nil, nil); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestServiceBootstrap(t *testing.T) {
	ctx := context.Background()
	service, store := newTestService(t)

	user, err := service.Bootstrap(ctx, "admin", "password123")
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if user == nil {
		t.Fatal("expected bootstrap to create a user")
	}
	if user.Role != models.RoleAdmin {
		t.Fatalf("expected admin role, got %q", user.Role)
	}

	again, err := service.Bootstrap(ctx, "admin2", "password123")
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if again != nil {
		t.Fatal("bootstrap on a populated store must be a no-op")
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 user, got %d", n)
	}
}

func TestUserContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserFromContext(ctx); ok {
		t.Fatal("expected no user on a fresh context")
	}

	user := &models.User{ID: "user-1", Username: "alice"}
	ctx = WithUser(ctx, user)
	got, ok := UserFromContext(ctx)
	if !ok {
		t.Fatal("expected user on context")
	}
	if got.ID != "user-1" {
		t.Fatalf("expected user-1, got %q", got.ID)
	}

	if withNil := WithUser(context.Background(), nil); withNil == nil {
		t.Fatal("WithUser(nil) must return the original context")
	}
}
