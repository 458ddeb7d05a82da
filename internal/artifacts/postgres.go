package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// PostgresStore implements Store on PostgreSQL. Content mutations run
// in a transaction: the compare-and-swap UPDATE and the version insert
// commit together, so a version row is never visible without its
// artifact state.
type PostgresStore struct {
	db *sql.DB

	stmtEnsureSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtTouchSession  *sql.Stmt
	stmtDeleteSession *sql.Stmt
	stmtInsert        *sql.Stmt
	stmtGet           *sql.Stmt
	stmtList          *sql.Stmt
	stmtCASUpdate     *sql.Stmt
	stmtSetTitle      *sql.Stmt
	stmtInsertVersion *sql.Stmt
	stmtListVersions  *sql.Stmt
	stmtGetVersion    *sql.Stmt
	stmtClear         *sql.Stmt
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore prepares statements against an already opened and
// migrated database.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare artifact statements: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtEnsureSession, err = s.db.Prepare(`
		INSERT INTO artifact_sessions (id, created_at, updated_at)
		VALUES ($1, $2, $2) ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare ensure session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, created_at, updated_at FROM artifact_sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get session: %w", err)
	}

	s.stmtTouchSession, err = s.db.Prepare(`
		UPDATE artifact_sessions SET updated_at = $1 WHERE id = $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare touch session: %w", err)
	}

	s.stmtDeleteSession, err = s.db.Prepare(`
		DELETE FROM artifact_sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete session: %w", err)
	}

	s.stmtInsert, err = s.db.Prepare(`
		INSERT INTO artifacts (id, session_id, content_type, title, content, current_version, lock_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, 1, $6, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert artifact: %w", err)
	}

	s.stmtGet, err = s.db.Prepare(`
		SELECT id, session_id, content_type, title, content, current_version, lock_version, created_at, updated_at
		FROM artifacts WHERE session_id = $1 AND id = $2
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get artifact: %w", err)
	}

	s.stmtList, err = s.db.Prepare(`
		SELECT id, session_id, content_type, title, content, current_version, lock_version, created_at, updated_at
		FROM artifacts WHERE session_id = $1 AND ($2 = '' OR content_type = $2)
		ORDER BY created_at, id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list artifacts: %w", err)
	}

	s.stmtCASUpdate, err = s.db.Prepare(`
		UPDATE artifacts
		SET content = $1, title = COALESCE(NULLIF($2, ''), title),
		    current_version = $3, lock_version = $4, updated_at = $5
		WHERE session_id = $6 AND id = $7 AND lock_version = $8
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare artifact update: %w", err)
	}

	s.stmtSetTitle, err = s.db.Prepare(`
		UPDATE artifacts SET title = $1, updated_at = $2 WHERE session_id = $3 AND id = $4
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare set title: %w", err)
	}

	s.stmtInsertVersion, err = s.db.Prepare(`
		INSERT INTO artifact_versions (artifact_id, session_id, version, content_snapshot, update_type, changes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert version: %w", err)
	}

	s.stmtListVersions, err = s.db.Prepare(`
		SELECT artifact_id, session_id, version, content_snapshot, update_type, changes, created_at
		FROM artifact_versions WHERE session_id = $1 AND artifact_id = $2 ORDER BY version
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list versions: %w", err)
	}

	s.stmtGetVersion, err = s.db.Prepare(`
		SELECT artifact_id, session_id, version, content_snapshot, update_type, changes, created_at
		FROM artifact_versions WHERE session_id = $1 AND artifact_id = $2 AND version = $3
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get version: %w", err)
	}

	s.stmtClear, err = s.db.Prepare(`
		DELETE FROM artifacts WHERE session_id = $1 AND id = ANY($2)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare clear artifacts: %w", err)
	}

	return nil
}

// Close releases the prepared statements. The shared *sql.DB is owned
// by the caller.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{
		s.stmtEnsureSession, s.stmtGetSession, s.stmtTouchSession, s.stmtDeleteSession,
		s.stmtInsert, s.stmtGet, s.stmtList, s.stmtCASUpdate, s.stmtSetTitle,
		s.stmtInsertVersion, s.stmtListVersions, s.stmtGetVersion, s.stmtClear,
	} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing artifact store: %v", errs)
	}
	return nil
}

func (s *PostgresStore) EnsureSession(ctx context.Context, sessionID string) (*models.ArtifactSession, error) {
	if _, err := s.stmtEnsureSession.ExecContext(ctx, sessionID, time.Now()); err != nil {
		if isPqForeignKeyViolation(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to ensure session: %w", err)
	}
	return s.getSession(ctx, sessionID)
}

func (s *PostgresStore) getSession(ctx context.Context, sessionID string) (*models.ArtifactSession, error) {
	var session models.ArtifactSession
	err := s.stmtGetSession.QueryRowContext(ctx, sessionID).
		Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &session, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.stmtDeleteSession.ExecContext(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, sessionID, id, contentType, title, content string) (*models.Artifact, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin create: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.StmtContext(ctx, s.stmtInsert).ExecContext(ctx, id, sessionID, contentType, title, content, now); err != nil {
		if isPqUniqueViolation(err) {
			return nil, ErrDuplicateArtifact
		}
		if isPqForeignKeyViolation(err) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to insert artifact: %w", err)
	}
	if _, err := tx.StmtContext(ctx, s.stmtInsertVersion).ExecContext(ctx,
		id, sessionID, 1, content, models.UpdateTypeCreate, nil, now); err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	if _, err := tx.StmtContext(ctx, s.stmtTouchSession).ExecContext(ctx, now, sessionID); err != nil {
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

func (s *PostgresStore) Update(ctx context.Context, sessionID, id, oldStr, newStr string, expectedLock int) (*models.Artifact, error) {
	return s.mutate(ctx, sessionID, id, expectedLock, func(artifact *models.Artifact) (string, string, models.UpdateType, []models.Change, error) {
		occurrences := strings.Count(artifact.Content, oldStr)
		if occurrences != 1 {
			return "", "", "", nil, fmt.Errorf("%w: old_str occurs %d times", ErrAmbiguousMatch, occurrences)
		}
		newContent := strings.Replace(artifact.Content, oldStr, newStr, 1)
		return newContent, "", models.UpdateTypeUpdate, []models.Change{{OldStr: oldStr, NewStr: newStr}}, nil
	})
}

func (s *PostgresStore) Rewrite(ctx context.Context, sessionID, id, newContent, newTitle string, expectedLock int) (*models.Artifact, error) {
	return s.mutate(ctx, sessionID, id, expectedLock, func(*models.Artifact) (string, string, models.UpdateType, []models.Change, error) {
		return newContent, newTitle, models.UpdateTypeRewrite, nil, nil
	})
}

// mutate runs the shared compare-and-swap transaction. apply receives
// the current row and returns the replacement content, an optional new
// title, the version type, and the change list for the version row.
func (s *PostgresStore) mutate(ctx context.Context, sessionID, id string, expectedLock int,
	apply func(*models.Artifact) (string, string, models.UpdateType, []models.Change, error)) (*models.Artifact, error) {

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update: %w", err)
	}
	defer tx.Rollback()

	artifact, err := scanArtifact(tx.StmtContext(ctx, s.stmtGet).QueryRowContext(ctx, sessionID, id))
	if err != nil {
		if errors.Is(err, ErrArtifactNotFound) {
			// Distinguish a missing artifact from a missing session on
			// the same transaction for a consistent read.
			var session models.ArtifactSession
			sessionErr := tx.StmtContext(ctx, s.stmtGetSession).QueryRowContext(ctx, sessionID).
				Scan(&session.ID, &session.CreatedAt, &session.UpdatedAt)
			if errors.Is(sessionErr, sql.ErrNoRows) {
				return nil, ErrSessionNotFound
			}
			if sessionErr != nil {
				return nil, fmt.Errorf("failed to get session: %w", sessionErr)
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
	res, err := tx.StmtContext(ctx, s.stmtCASUpdate).ExecContext(ctx,
		newContent, newTitle, newVersion, expectedLock+1, now, sessionID, id, expectedLock)
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
	if _, err := tx.StmtContext(ctx, s.stmtInsertVersion).ExecContext(ctx,
		id, sessionID, newVersion, newContent, updateType, changesValue, now); err != nil {
		return nil, fmt.Errorf("failed to insert version: %w", err)
	}
	if _, err := tx.StmtContext(ctx, s.stmtTouchSession).ExecContext(ctx, now, sessionID); err != nil {
		return nil, fmt.Errorf("failed to touch session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update: %w", err)
	}

	artifact.Content = newContent
	if newTitle != "" {
		artifact.Title = newTitle
	}
	artifact.CurrentVersion = newVersion
	artifact.LockVersion = expectedLock + 1
	artifact.UpdatedAt = now
	return artifact, nil
}

func (s *PostgresStore) Read(ctx context.Context, sessionID, id string, version int) (*models.Artifact, error) {
	artifact, err := scanArtifact(s.stmtGet.QueryRowContext(ctx, sessionID, id))
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

	v, err := scanVersion(s.stmtGetVersion.QueryRowContext(ctx, sessionID, id, version))
	if err != nil {
		return nil, err
	}
	artifact.Content = v.ContentSnapshot
	artifact.CurrentVersion = v.Version
	return artifact, nil
}

func (s *PostgresStore) SetTitle(ctx context.Context, sessionID, id, title string) (*models.Artifact, error) {
	res, err := s.stmtSetTitle.ExecContext(ctx, title, time.Now(), sessionID, id)
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

func (s *PostgresStore) List(ctx context.Context, sessionID, contentType string, previewLen int) ([]*models.ArtifactSummary, error) {
	if _, err := s.getSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.stmtList.QueryContext(ctx, sessionID, contentType)
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

func (s *PostgresStore) ListVersions(ctx context.Context, sessionID, id string) ([]*models.ArtifactVersion, error) {
	if _, err := s.Read(ctx, sessionID, id, 0); err != nil {
		return nil, err
	}

	rows, err := s.stmtListVersions.QueryContext(ctx, sessionID, id)
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

func (s *PostgresStore) GetVersion(ctx context.Context, sessionID, id string, version int) (*models.ArtifactVersion, error) {
	if _, err := s.Read(ctx, sessionID, id, 0); err != nil {
		return nil, err
	}
	return scanVersion(s.stmtGetVersion.QueryRowContext(ctx, sessionID, id, version))
}

func (s *PostgresStore) Diff(ctx context.Context, sessionID, id string, fromVersion, toVersion int) (string, error) {
	return diffVersions(ctx, s, sessionID, id, fromVersion, toVersion)
}

func (s *PostgresStore) ClearTemporary(ctx context.Context, sessionID string, ids ...string) (int, error) {
	res, err := s.stmtClear.ExecContext(ctx, sessionID, pq.Array(temporaryIDs(ids)))
	if err != nil {
		return 0, fmt.Errorf("failed to clear artifacts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtifact(row rowScanner) (*models.Artifact, error) {
	var artifact models.Artifact
	err := row.Scan(
		&artifact.ID, &artifact.SessionID, &artifact.ContentType, &artifact.Title,
		&artifact.Content, &artifact.CurrentVersion, &artifact.LockVersion,
		&artifact.CreatedAt, &artifact.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan artifact: %w", err)
	}
	return &artifact, nil
}

func scanVersion(row rowScanner) (*models.ArtifactVersion, error) {
	var (
		v       models.ArtifactVersion
		changes sql.NullString
	)
	err := row.Scan(
		&v.ArtifactID, &v.SessionID, &v.Version, &v.ContentSnapshot,
		&v.UpdateType, &changes, &v.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}
	if changes.Valid && changes.String != "" {
		if err := json.Unmarshal([]byte(changes.String), &v.Changes); err != nil {
			return nil, fmt.Errorf("failed to decode version changes: %w", err)
		}
	}
	return &v, nil
}

// marshalChanges encodes the change list for the nullable changes
// column.
func marshalChanges(changes []models.Change) (any, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode version changes: %w", err)
	}
	return string(data), nil
}

func isPqUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func isPqForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}
