package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// MemoryUserStore provides an in-memory UserStore for testing and
// local runs without a database.
type MemoryUserStore struct {
	mu         sync.RWMutex
	users      map[string]*models.User
	byUsername map[string]string
}

var _ UserStore = (*MemoryUserStore)(nil)

// NewMemoryUserStore creates an empty in-memory user store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		users:      map[string]*models.User{},
		byUsername: map[string]string{},
	}
}

func (m *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byUsername[user.Username]; ok {
		return ErrDuplicateUser
	}

	clone := cloneUser(user)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	clone.UpdatedAt = clone.CreatedAt
	user.ID = clone.ID
	user.CreatedAt = clone.CreatedAt
	user.UpdatedAt = clone.UpdatedAt

	m.users[clone.ID] = clone
	m.byUsername[clone.Username] = clone.ID
	return nil
}

func (m *MemoryUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (m *MemoryUserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byUsername[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(m.users[id]), nil
}

func (m *MemoryUserStore) List(ctx context.Context, limit, offset int) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		all = append(all, u)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return []*models.User{}, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]*models.User, len(all))
	for i, u := range all {
		out[i] = cloneUser(u)
	}
	return out, nil
}

func (m *MemoryUserStore) Update(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.users[user.ID]
	if !ok {
		return ErrUserNotFound
	}
	if user.Username != existing.Username {
		if _, taken := m.byUsername[user.Username]; taken {
			return ErrDuplicateUser
		}
		delete(m.byUsername, existing.Username)
		m.byUsername[user.Username] = user.ID
	}

	clone := cloneUser(user)
	clone.CreatedAt = existing.CreatedAt
	clone.UpdatedAt = time.Now()
	user.UpdatedAt = clone.UpdatedAt
	m.users[user.ID] = clone
	return nil
}

func (m *MemoryUserStore) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.users), nil
}

func (m *MemoryUserStore) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	return authenticate(ctx, m, username, password)
}

func cloneUser(u *models.User) *models.User {
	clone := *u
	return &clone
}
