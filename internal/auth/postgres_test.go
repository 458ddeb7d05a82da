package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// setupMockUserStore creates a PostgresUserStore backed by sqlmock with
// all prepared statements expected.
func setupMockUserStore(t *testing.T) (*PostgresUserStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}

	mock.ExpectPrepare("INSERT INTO users")
	mock.ExpectPrepare("SELECT (.+) FROM users WHERE id")
	mock.ExpectPrepare("SELECT (.+) FROM users WHERE username")
	mock.ExpectPrepare("SELECT (.+) FROM users ORDER BY created_at")
	mock.ExpectPrepare("UPDATE users SET")
	mock.ExpectPrepare("SELECT COUNT")

	store, err := NewPostgresUserStore(db)
	if err != nil {
		t.Fatalf("NewPostgresUserStore() error = %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		db.Close()
	})
	return store, mock
}

func userRows(users ...*models.User) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "username", "password_hash", "role", "active", "created_at", "updated_at",
	})
	for _, u := range users {
		rows.AddRow(u.ID, u.Username, u.PasswordHash, string(u.Role), u.Active, u.CreatedAt, u.UpdatedAt)
	}
	return rows
}

func TestNewPostgresUserStorePrepareFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock database: %v", err)
	}
	defer db.Close()

	mock.ExpectPrepare("INSERT INTO users").WillReturnError(errors.New("syntax error"))

	if _, err := NewPostgresUserStore(db); err == nil {
		t.Fatal("expected prepare failure to surface")
	}
}

func TestPostgresUserStoreCreate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "success",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO users").
					WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg(), "user", true,
						sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "duplicate username",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO users").
					WillReturnError(&pq.Error{Code: "23505"})
			},
			wantErr: ErrDuplicateUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockUserStore(t)
			tt.setupMock(mock)

			user := &models.User{
				Username:     "alice",
				PasswordHash: "hash",
				Role:         models.RoleUser,
				Active:       true,
			}
			err := store.Create(ctx, user)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Create() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create() error = %v", err)
			}
			if user.ID == "" {
				t.Fatal("expected generated ID")
			}
			if user.CreatedAt.IsZero() {
				t.Fatal("expected created_at to be set")
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresUserStoreGetByID(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
					WithArgs("user-1").
					WillReturnRows(userRows(&models.User{
						ID: "user-1", Username: "alice", PasswordHash: "hash",
						Role: models.RoleAdmin, Active: true, CreatedAt: now, UpdatedAt: now,
					}))
			},
		},
		{
			name: "not found",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
					WithArgs("user-1").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockUserStore(t)
			tt.setupMock(mock)

			user, err := store.GetByID(ctx, "user-1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("GetByID() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetByID() error = %v", err)
			}
			if user.Username != "alice" || user.Role != models.RoleAdmin {
				t.Fatalf("unexpected user: %+v", user)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresUserStoreList(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockUserStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT (.+) FROM users ORDER BY created_at").
		WithArgs(50, 0).
		WillReturnRows(userRows(
			&models.User{ID: "user-1", Username: "alice", Role: models.RoleUser, Active: true, CreatedAt: now, UpdatedAt: now},
			&models.User{ID: "user-2", Username: "bob", Role: models.RoleUser, Active: true, CreatedAt: now, UpdatedAt: now},
		))

	users, err := store.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[1].Username != "bob" {
		t.Fatalf("expected bob, got %q", users[1].Username)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresUserStoreUpdate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "success",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE users SET").
					WithArgs("alice", "hash", "admin", true, sqlmock.AnyArg(), "user-1").
					WillReturnResult(sqlmock.NewResult(0, 1))
			},
		},
		{
			name: "missing user",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE users SET").
					WillReturnResult(sqlmock.NewResult(0, 0))
			},
			wantErr: ErrUserNotFound,
		},
		{
			name: "username collision",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE users SET").
					WillReturnError(&pq.Error{Code: "23505"})
			},
			wantErr: ErrDuplicateUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, mock := setupMockUserStore(t)
			tt.setupMock(mock)

			err := store.Update(ctx, &models.User{
				ID: "user-1", Username: "alice", PasswordHash: "hash",
				Role: models.RoleAdmin, Active: true,
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Update() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Update() error = %v", err)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresUserStoreCount(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockUserStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3, got %d", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresUserStoreAuthenticate(t *testing.T) {
	ctx := context.Background()
	store, mock := setupMockUserStore(t)
	now := time.Now()

	hash, err := HashPassword("password123")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	mock.ExpectQuery("SELECT (.+) FROM users WHERE username").
		WithArgs("alice").
		WillReturnRows(userRows(&models.User{
			ID: "user-1", Username: "alice", PasswordHash: hash,
			Role: models.RoleUser, Active: true, CreatedAt: now, UpdatedAt: now,
		}))

	user, err := store.Authenticate(ctx, "alice", "password123")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if user.ID != "user-1" {
		t.Fatalf("expected user-1, got %q", user.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
