package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleAdmin, "admin"},
		{RoleUser, "user"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestUser_PasswordHashNeverSerialized(t *testing.T) {
	u := User{
		ID:           "user-1",
		Username:     "alice",
		PasswordHash: "$2a$10$secret-hash-material",
		Role:         RoleAdmin,
		Active:       true,
	}

	data, err := json.Marshal(u)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	if strings.Contains(string(data), "secret-hash-material") {
		t.Errorf("serialized user leaks password hash: %s", data)
	}
	if strings.Contains(string(data), "password_hash") {
		t.Errorf("serialized user exposes password_hash field: %s", data)
	}
}

func TestUser_IsAdmin(t *testing.T) {
	admin := &User{Role: RoleAdmin}
	if !admin.IsAdmin() {
		t.Error("expected IsAdmin() to be true for admin role")
	}

	regular := &User{Role: RoleUser}
	if regular.IsAdmin() {
		t.Error("expected IsAdmin() to be false for user role")
	}
}

func TestMessage_IsRoot(t *testing.T) {
	root := &Message{ID: "msg-1"}
	if !root.IsRoot() {
		t.Error("expected IsRoot() to be true without parent")
	}

	parent := "msg-1"
	child := &Message{ID: "msg-2", ParentID: &parent}
	if child.IsRoot() {
		t.Error("expected IsRoot() to be false with parent")
	}
}
