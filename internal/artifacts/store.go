// Package artifacts stores versioned content objects scoped to one
// conversation. Every content mutation appends a full snapshot to the
// version log and bumps the artifact's optimistic lock; concurrent
// writers observing the same lock serialize so exactly one wins.
package artifacts

import (
	"context"
	"errors"

	"github.com/artifactflow/artifactflow/pkg/models"
)

var (
	// ErrSessionNotFound indicates the artifact session does not exist.
	ErrSessionNotFound = errors.New("artifact session not found")

	// ErrArtifactNotFound indicates no artifact with that id in the session.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrDuplicateArtifact indicates the (session, id) pair already exists.
	ErrDuplicateArtifact = errors.New("artifact already exists")

	// ErrAmbiguousMatch indicates old_str matched zero or multiple times.
	ErrAmbiguousMatch = errors.New("ambiguous match")

	// ErrVersionConflict indicates the caller's lock_version is stale.
	ErrVersionConflict = errors.New("version conflict")

	// ErrVersionNotFound indicates the requested version does not exist.
	ErrVersionNotFound = errors.New("version not found")
)

// DefaultTemporaryArtifacts are the scratch artifact ids cleared at the
// start of each new top-level turn.
var DefaultTemporaryArtifacts = []string{"task_plan"}

// DefaultPreviewLength bounds the content preview in list summaries.
const DefaultPreviewLength = 200

// Store persists artifacts and their version history. Implementations:
// memory, postgres, sqlite.
type Store interface {
	// EnsureSession creates the session if missing and returns it.
	EnsureSession(ctx context.Context, sessionID string) (*models.ArtifactSession, error)

	// DeleteSession removes the session with all artifacts and
	// versions. Deleting an absent session is a no-op.
	DeleteSession(ctx context.Context, sessionID string) error

	// Create inserts a new artifact at version 1 together with its
	// first version row. Returns ErrDuplicateArtifact when (session,
	// id) exists and ErrSessionNotFound when the session is missing.
	Create(ctx context.Context, sessionID, id, contentType, title, content string) (*models.Artifact, error)

	// Update replaces the unique occurrence of oldStr with newStr.
	// Zero or multiple occurrences fail with ErrAmbiguousMatch; a
	// stale expectedLock fails with ErrVersionConflict. On success
	// both current_version and lock_version advance by one and a
	// version row with the change pair is appended.
	Update(ctx context.Context, sessionID, id, oldStr, newStr string, expectedLock int) (*models.Artifact, error)

	// Rewrite replaces the whole content under the same lock rules as
	// Update, without an ambiguity check. A non-empty newTitle also
	// replaces the title.
	Rewrite(ctx context.Context, sessionID, id, newContent, newTitle string, expectedLock int) (*models.Artifact, error)

	// Read returns the artifact. With version > 0 the returned
	// Content and CurrentVersion reflect that historical version,
	// while LockVersion always reflects the live row so the caller
	// can issue a subsequent compare-and-swap.
	Read(ctx context.Context, sessionID, id string, version int) (*models.Artifact, error)

	// SetTitle renames the artifact. Titles are metadata: the lock
	// version does not move and no version row is appended.
	SetTitle(ctx context.Context, sessionID, id, title string) (*models.Artifact, error)

	// List returns summaries ordered by creation, optionally filtered
	// by content type. Previews are truncated to previewLen runes
	// (DefaultPreviewLength when <= 0).
	List(ctx context.Context, sessionID, contentType string, previewLen int) ([]*models.ArtifactSummary, error)

	// ListVersions returns the full version history, oldest first.
	ListVersions(ctx context.Context, sessionID, id string) ([]*models.ArtifactVersion, error)

	// GetVersion returns one version row.
	GetVersion(ctx context.Context, sessionID, id string, version int) (*models.ArtifactVersion, error)

	// Diff renders a unified diff between two versions.
	Diff(ctx context.Context, sessionID, id string, fromVersion, toVersion int) (string, error)

	// ClearTemporary bulk-deletes the named scratch artifacts and
	// reports how many existed. Empty ids means
	// DefaultTemporaryArtifacts.
	ClearTemporary(ctx context.Context, sessionID string, ids ...string) (int, error)
}

// diffVersions implements Diff on top of GetVersion, shared by all
// backends.
func diffVersions(ctx context.Context, s Store, sessionID, id string, fromVersion, toVersion int) (string, error) {
	from, err := s.GetVersion(ctx, sessionID, id, fromVersion)
	if err != nil {
		return "", err
	}
	to, err := s.GetVersion(ctx, sessionID, id, toVersion)
	if err != nil {
		return "", err
	}
	return unifiedDiff(id, from.Version, to.Version, from.ContentSnapshot, to.ContentSnapshot), nil
}

// temporaryIDs applies the ClearTemporary default.
func temporaryIDs(ids []string) []string {
	if len(ids) == 0 {
		return DefaultTemporaryArtifacts
	}
	return ids
}

// previewOf truncates content for list summaries. Cuts on runes so
// multi-byte text never splits mid-character.
func previewOf(content string, limit int) string {
	if limit <= 0 {
		limit = DefaultPreviewLength
	}
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}
