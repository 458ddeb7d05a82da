package models

import "time"

// ArtifactSession scopes artifacts to a single conversation. Its ID
// always equals the conversation ID.
type ArtifactSession struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UpdateType records how an artifact version was produced.
type UpdateType string

const (
	UpdateTypeCreate  UpdateType = "create"
	UpdateTypeUpdate  UpdateType = "update"
	UpdateTypeRewrite UpdateType = "rewrite"
)

// Artifact is a versioned document owned by one session.
//
// LockVersion increases on every content mutation and backs the
// optimistic-concurrency check: two writers observing the same
// LockVersion serialize, exactly one succeeds. Title-only changes do
// not touch it.
type Artifact struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ContentType    string    `json:"content_type"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	CurrentVersion int       `json:"current_version"`
	LockVersion    int       `json:"lock_version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ArtifactSummary is the list view of an artifact: metadata plus a
// truncated content preview.
type ArtifactSummary struct {
	ID             string    `json:"id"`
	SessionID      string    `json:"session_id"`
	ContentType    string    `json:"content_type"`
	Title          string    `json:"title"`
	Preview        string    `json:"preview"`
	CurrentVersion int       `json:"current_version"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Change is one old/new replacement applied by an update.
type Change struct {
	OldStr string `json:"old_str"`
	NewStr string `json:"new_str"`
}

// ArtifactVersion is one entry in an artifact's append-only history.
// The snapshot holds the complete content after the mutation; the
// version sequence is dense per artifact starting at 1.
type ArtifactVersion struct {
	ArtifactID      string     `json:"artifact_id"`
	SessionID       string     `json:"session_id"`
	Version         int        `json:"version"`
	ContentSnapshot string     `json:"content_snapshot"`
	UpdateType      UpdateType `json:"update_type"`
	Changes         []Change   `json:"changes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}
