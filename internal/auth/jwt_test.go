package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/artifactflow/artifactflow/pkg/models"
)

func TestJWTServiceGenerateValidate(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	token, err := service.Generate(&models.User{ID: "user-1", Username: "alice", Role: models.RoleAdmin})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	user, err := service.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("expected user id, got %q", user.ID)
	}
	if user.Username != "alice" {
		t.Fatalf("expected username, got %q", user.Username)
	}
	if user.Role != models.RoleAdmin {
		t.Fatalf("expected admin role, got %q", user.Role)
	}
}

func TestJWTServiceRejectsExpiredToken(t *testing.T) {
	service := NewJWTService("secret", -time.Minute)
	token, err := service.Generate(&models.User{ID: "user-1", Username: "alice", Role: models.RoleUser})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := service.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestJWTServiceRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTService("secret-a", time.Hour)
	verifier := NewJWTService("secret-b", time.Hour)

	token, err := issuer.Generate(&models.User{ID: "user-1", Username: "alice"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := verifier.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for wrong secret, got %v", err)
	}
}

func TestJWTServiceRejectsUnsignedToken(t *testing.T) {
	service := NewJWTService("secret", time.Hour)

	// alg=none style token: header.payload. with empty signature
	unsigned := "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJzdWIiOiJ1c2VyLTEifQ."
	if _, err := service.Validate(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for unsigned token, got %v", err)
	}
}

func TestJWTServiceRejectsGarbage(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	for _, token := range []string{"", "not-a-token", "a.b", strings.Repeat("x", 600)} {
		if _, err := service.Validate(token); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Validate(%q) = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestJWTServiceRequiresUserID(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	if _, err := service.Generate(&models.User{Username: "alice"}); err == nil {
		t.Fatal("expected error for user without ID")
	}
	if _, err := service.Generate(nil); err == nil {
		t.Fatal("expected error for nil user")
	}
}
