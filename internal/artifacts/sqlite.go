package artifacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// SQLiteStore implements Store on SQLite with the same transactional
// compare-and-swap shape as the PostgreSQL backend.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore wraps an already opened and migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) EnsureSession(ctx context.Context, sessionID string) (*models.ArtifactSession, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO artifact_sessions (id, created_at, updated_at) VALUES (?, ?, ?)`,
		sessionID, now, now,
	)
	if err != nil {
		if isSQLiteForeignKeyViolation(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to ensure session: %w", err)
	}
	return s.getSession(ctx, sessionID)
}

func (s *SQLiteStore) getSession(ctx context.Context, sessionID string) (*models.ArtifactSession, error) {
	var session models.ArtifactSession
	err := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, updated_at FROM artifact_sessions WHERE id = ?`, sessionID).
		Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM artifact_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, sessionID, id, contentType, title, content string) (*models.Artifact, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin create: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (id, session_id, content_type, title, content, current_version, lock_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, 1, ?, ?)`,
		id, sessionID, contentType, title, content, now, now,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrDuplicateArtifact
		}
		if isSQLiteForeignKeyViolation(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to insert artifact: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifact_versions (artifact_id, session_id, version, content_snapshot, update_type, changes, created_at)
		VALUES (?, ?, 1, ?, ?, NULL, ?)`,
		id, sessionID, content, string(models.UpdateTypeCreate), now,
	); err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE artifact_sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit create: %w", err)
	}

	return &models.Artifact{
		ID: id, SessionID: sessionID, ContentType: contentType, Title: title,
		Content: content, CurrentVersion: 1, LockVersion: 1,
		CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) Update(ctx context.Context, sessionID, id, oldStr, newStr string, expectedLock int) (*models.Artifact, error) {
	return s.mutate(ctx, sessionID, id, expectedLock, func(artifact *models.Artifact) (string, string, models.UpdateType, []models.Change, error) {
		occurrences := strings.Count(artifact.Content, oldStr)
		if occurrences != 1 {
			return "", "", "", nil, fmt.Errorf("%w: old_str occurs %d times", ErrAmbiguousMatch, occurrences)
		}
		newContent := strings.Replace(artifact.Content, oldStr, newStr, 1)
		return newContent, "", models.UpdateTypeUpdate, []models.Change{{OldStr: oldStr, NewStr: newStr}}, nil
	})
}

func (s *SQLiteStore) Rewrite(ctx context.Context, sessionID, id, newContent, newTitle string, expectedLock int) (*models.Artifact, error) {
	return s.mutate(ctx, sessionID, id, expectedLock, func(*models.Artifact) (string, string, models.UpdateType, []models.Change, error) {
		return newContent, newTitle, models.UpdateTypeRewrite, nil, nil
	})
}

func (s *SQLiteStore) mutate(ctx context.Context, sessionID, id string, expectedLock int,
	apply func(*models.Artifact) (string, string, models.UpdateType, []models.Change, error)) (*models.Artifact, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update: %w", err)
	}
	defer tx.Rollback()

	artifact, err := scanArtifact(tx.QueryRowContext(ctx, `
		SELECT id, session_id, content_type, title, content, current_version, lock_version, created_at, updated_at
		FROM artifacts WHERE session_id = ? AND id = ?`, sessionID, id))
	if err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			if _, sessionErr := s.getSession(ctx, sessionID); sessionErr != nil {
				return nil, sessionErr
			}
		}
		return nil, err
	}
	if artifact.LockVersion != expectedLock {
		return nil, fmt.Errorf("%w: expected lock %d, have %d", ErrVersionConflict, expectedLock, artifact.LockVersion)
	}

	newContent, newTitle, updateType, changes, err := apply(artifact)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	newVersion := artifact.CurrentVersion + 1
	title := artifact.Title
	if newTitle != "" {
		title = newTitle
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE artifacts SET content = ?, title = ?, current_version = ?, lock_version = ?, updated_at = ?
		WHERE session_id = ? AND id = ? AND lock_version = ?`,
		newContent, title, newVersion, expectedLock+1, now, sessionID, id, expectedLock,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: lock %d was taken", ErrVersionConflict, expectedLock)
	}

	changesValue, err := marshalChanges(changes)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO artifact_versions (artifact_id, session_id, version, content_snapshot, update_type, changes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, newVersion, newContent, string(updateType), changesValue, now,
	); err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE artifact_sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	artifact.Content = newContent
	artifact.Title = title
	artifact.CurrentVersion = newVersion
	artifact.LockVersion = expectedLock + 1
	artifact.UpdatedAt = now
	return artifact, nil
}

func (s *SQLiteStore) Read(ctx context.Context, sessionID, id string, version int) (*models.Artifact, error) {
	artifact, err := scanArtifact(s.db.QueryRowContext(ctx, `
		SELECT id, session_id, content_type, title, content, current_version, lock_version, created_at, updated_at
		FROM artifacts WHERE session_id = ? AND id = ?`, sessionID, id))
	if err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			if _, sessionErr := s.getSession(ctx, sessionID); sessionErr != nil {
				return nil, sessionErr
			}
		}
		return nil, err
	}
	if version <= 0 {
		return artifact, nil
	}

	v, err := scanVersion(s.db.QueryRowContext(ctx, `
		SELECT artifact_id, session_id, version, content_snapshot, update_type, changes, created_at
		FROM artifact_versions WHERE session_id = ? AND artifact_id = ? AND version = ?`,
		sessionID, id, version))
	if err != nil {
		return nil, err
	}
	artifact.Content = v.ContentSnapshot
	artifact.CurrentVersion = v.Version
	return artifact, nil
}

func (s *SQLiteStore) SetTitle(ctx context.Context, sessionID, id, title string) (*models.Artifact, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE artifacts SET title = ?, updated_at = ? WHERE session_id = ? AND id = ?`,
		title, time.Now(), sessionID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to set title: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, sessionErr := s.getSession(ctx, sessionID); sessionErr != nil {
			return nil, sessionErr
		}
		return nil, ErrArtifactNotFound
	}
	return s.Read(ctx, sessionID, id, 0)
}

func (s *SQLiteStore) List(ctx context.Context, sessionID, contentType string, previewLen int) ([]*models.ArtifactSummary, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, content_type, title, content, current_version, lock_version, created_at, updated_at
		FROM artifacts WHERE session_id = ? AND (? = '' OR content_type = ?)
		ORDER BY created_at, id`,
		sessionID, contentType, contentType,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var summaries []*models.ArtifactSummary
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, &models.ArtifactSummary{
			ID:             artifact.ID,
			SessionID:      artifact.SessionID,
			ContentType:    artifact.ContentType,
			Title:          artifact.Title,
			Preview:        previewOf(artifact.Content, previewLen),
			CurrentVersion: artifact.CurrentVersion,
			UpdatedAt:      artifact.UpdatedAt,
		})
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) ListVersions(ctx context.Context, sessionID, id string) ([]*models.ArtifactVersion, error) {
	if _, err := s.Read(ctx, sessionID, id, 0); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, session_id, version, content_snapshot, update_type, changes, created_at
		FROM artifact_versions WHERE session_id = ? AND artifact_id = ? ORDER BY version`,
		sessionID, id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.ArtifactVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func (s *SQLiteStore) GetVersion(ctx context.Context, sessionID, id string, version int) (*models.ArtifactVersion, error) {
	if _, err := s.Read(ctx, sessionID, id, 0); err != nil {
		return nil, err
	}
	return scanVersion(s.db.QueryRowContext(ctx, `
		SELECT artifact_id, session_id, version, content_snapshot, update_type, changes, created_at
		FROM artifact_versions WHERE session_id = ? AND artifact_id = ? AND version = ?`,
		sessionID, id, version))
}

func (s *SQLiteStore) Diff(ctx context.Context, sessionID, id string, fromVersion, toVersion int) (string, error) {
	return diffVersions(ctx, s, sessionID, id, fromVersion, toVersion)
}

func (s *SQLiteStore) ClearTemporary(ctx context.Context, sessionID string, ids ...string) (int, error) {
	targets := temporaryIDs(ids)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(targets)), ", ")
	args := make([]any, 0, len(targets)+1)
	args = append(args, sessionID)
	for _, id := range targets {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM artifacts WHERE session_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to clear artifacts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isSQLiteForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
