package artifacts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// MemoryStore provides an in-memory Store for testing and local runs
// without a database. Compare-and-swap runs under the store mutex, so
// contended updates serialize exactly like the SQL backends.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*models.ArtifactSession
	artifacts map[string]map[string]*models.Artifact
	versions  map[string]map[string][]*models.ArtifactVersion
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory artifact store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:  map[string]*models.ArtifactSession{},
		artifacts: map[string]map[string]*models.Artifact{},
		versions:  map[string]map[string][]*models.ArtifactVersion{},
	}
}

func (m *MemoryStore) EnsureSession(ctx context.Context, sessionID string) (*models.ArtifactSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		now := time.Now()
		session = &models.ArtifactSession{ID: sessionID, CreatedAt: now, UpdatedAt: now}
		m.sessions[sessionID] = session
		m.artifacts[sessionID] = map[string]*models.Artifact{}
		m.versions[sessionID] = map[string][]*models.ArtifactVersion{}
	}
	clone := *session
	return &clone, nil
}

func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, sessionID)
	delete(m.artifacts, sessionID)
	delete(m.versions, sessionID)
	return nil
}

func (m *MemoryStore) Create(ctx context.Context, sessionID, id, contentType, title, content string) (*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if _, exists := m.artifacts[sessionID][id]; exists {
		return nil, ErrDuplicateArtifact
	}

	now := time.Now()
	artifact := &models.Artifact{
		ID:             id,
		SessionID:      sessionID,
		ContentType:    contentType,
		Title:          title,
		Content:        content,
		CurrentVersion: 1,
		LockVersion:    1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.artifacts[sessionID][id] = artifact
	m.versions[sessionID][id] = []*models.ArtifactVersion{{
		ArtifactID:      id,
		SessionID:       sessionID,
		Version:         1,
		ContentSnapshot: content,
		UpdateType:      models.UpdateTypeCreate,
		CreatedAt:       now,
	}}
	session.UpdatedAt = now

	return cloneArtifact(artifact), nil
}

func (m *MemoryStore) Update(ctx context.Context, sessionID, id, oldStr, newStr string, expectedLock int) (*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	artifact, err := m.lookup(sessionID, id)
	if err != nil {
		return nil, err
	}
	if artifact.LockVersion != expectedLock {
		return nil, fmt.Errorf("%w: expected lock %d, have %d", ErrVersionConflict, expectedLock, artifact.LockVersion)
	}
	occurrences := strings.Count(artifact.Content, oldStr)
	if occurrences != 1 {
		return nil, fmt.Errorf("%w: old_str occurs %d times", ErrAmbiguousMatch, occurrences)
	}

	now := time.Now()
	artifact.Content = strings.Replace(artifact.Content, oldStr, newStr, 1)
	artifact.CurrentVersion++
	artifact.LockVersion++
	artifact.UpdatedAt = now
	m.versions[sessionID][id] = append(m.versions[sessionID][id], &models.ArtifactVersion{
		ArtifactID:      id,
		SessionID:       sessionID,
		Version:         artifact.CurrentVersion,
		ContentSnapshot: artifact.Content,
		UpdateType:      models.UpdateTypeUpdate,
		Changes:         []models.Change{{OldStr: oldStr, NewStr: newStr}},
		CreatedAt:       now,
	})
	m.sessions[sessionID].UpdatedAt = now

	return cloneArtifact(artifact), nil
}

func (m *MemoryStore) Rewrite(ctx context.Context, sessionID, id, newContent, newTitle string, expectedLock int) (*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	artifact, err := m.lookup(sessionID, id)
	if err != nil {
		return nil, err
	}
	if artifact.LockVersion != expectedLock {
		return nil, fmt.Errorf("%w: expected lock %d, have %d", ErrVersionConflict, expectedLock, artifact.LockVersion)
	}

	now := time.Now()
	artifact.Content = newContent
	if newTitle != "" {
		artifact.Title = newTitle
	}
	artifact.CurrentVersion++
	artifact.LockVersion++
	artifact.UpdatedAt = now
	m.versions[sessionID][id] = append(m.versions[sessionID][id], &models.ArtifactVersion{
		ArtifactID:      id,
		SessionID:       sessionID,
		Version:         artifact.CurrentVersion,
		ContentSnapshot: newContent,
		UpdateType:      models.UpdateTypeRewrite,
		CreatedAt:       now,
	})
	m.sessions[sessionID].UpdatedAt = now

	return cloneArtifact(artifact), nil
}

func (m *MemoryStore) Read(ctx context.Context, sessionID, id string, version int) (*models.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	artifact, err := m.lookup(sessionID, id)
	if err != nil {
		return nil, err
	}
	clone := cloneArtifact(artifact)
	if version <= 0 {
		return clone, nil
	}

	for _, v := range m.versions[sessionID][id] {
		if v.Version == version {
			clone.Content = v.ContentSnapshot
			clone.CurrentVersion = v.Version
			return clone, nil
		}
	}
	return nil, fmt.Errorf("%w: version %d", ErrVersionNotFound, version)
}

func (m *MemoryStore) SetTitle(ctx context.Context, sessionID, id, title string) (*models.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	artifact, err := m.lookup(sessionID, id)
	if err != nil {
		return nil, err
	}
	artifact.Title = title
	artifact.UpdatedAt = time.Now()
	return cloneArtifact(artifact), nil
}

func (m *MemoryStore) List(ctx context.Context, sessionID, contentType string, previewLen int) ([]*models.ArtifactSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}

	all := make([]*models.Artifact, 0, len(m.artifacts[sessionID]))
	for _, artifact := range m.artifacts[sessionID] {
		if contentType != "" && artifact.ContentType != contentType {
			continue
		}
		all = append(all, artifact)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	summaries := make([]*models.ArtifactSummary, len(all))
	for i, artifact := range all {
		summaries[i] = &models.ArtifactSummary{
			ID:             artifact.ID,
			SessionID:      artifact.SessionID,
			ContentType:    artifact.ContentType,
			Title:          artifact.Title,
			Preview:        previewOf(artifact.Content, previewLen),
			CurrentVersion: artifact.CurrentVersion,
			UpdatedAt:      artifact.UpdatedAt,
		}
	}
	return summaries, nil
}

func (m *MemoryStore) ListVersions(ctx context.Context, sessionID, id string) ([]*models.ArtifactVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.lookup(sessionID, id); err != nil {
		return nil, err
	}
	history := m.versions[sessionID][id]
	out := make([]*models.ArtifactVersion, len(history))
	for i, v := range history {
		out[i] = cloneVersion(v)
	}
	return out, nil
}

func (m *MemoryStore) GetVersion(ctx context.Context, sessionID, id string, version int) (*models.ArtifactVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, err := m.lookup(sessionID, id); err != nil {
		return nil, err
	}
	for _, v := range m.versions[sessionID][id] {
		if v.Version == version {
			return cloneVersion(v), nil
		}
	}
	return nil, fmt.Errorf("%w: version %d", ErrVersionNotFound, version)
}

func (m *MemoryStore) Diff(ctx context.Context, sessionID, id string, fromVersion, toVersion int) (string, error) {
	return diffVersions(ctx, m, sessionID, id, fromVersion, toVersion)
}

func (m *MemoryStore) ClearTemporary(ctx context.Context, sessionID string, ids ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return 0, nil
	}

	cleared := 0
	for _, id := range temporaryIDs(ids) {
		if _, ok := m.artifacts[sessionID][id]; ok {
			delete(m.artifacts[sessionID], id)
			delete(m.versions[sessionID], id)
			cleared++
		}
	}
	return cleared, nil
}

// lookup resolves an artifact under the caller's lock.
func (m *MemoryStore) lookup(sessionID, id string) (*models.Artifact, error) {
	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	artifact, ok := m.artifacts[sessionID][id]
	if !ok {
		return nil, ErrArtifactNotFound
	}
	return artifact, nil
}

func cloneArtifact(a *models.Artifact) *models.Artifact {
	clone := *a
	return &clone
}

func cloneVersion(v *models.ArtifactVersion) *models.ArtifactVersion {
	clone := *v
	if v.Changes != nil {
		clone.Changes = append([]models.Change(nil), v.Changes...)
	}
	return &clone
}
