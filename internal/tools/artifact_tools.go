package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/artifactflow/artifactflow/internal/artifacts"
)

// sessionKey carries the artifact session bound to the current run.
type sessionKey struct{}

// WithSession binds the artifact session id for session-scoped tools.
// The graph sets it at run start; the session always equals the
// conversation id.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionFrom returns the bound artifact session id.
func SessionFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(sessionKey{}).(string)
	return id, ok && id != ""
}

// ArtifactTools returns the full artifact tool set backed by store.
func ArtifactTools(store artifacts.Store) []Tool {
	return []Tool{
		&CreateArtifactTool{store: store},
		&UpdateArtifactTool{store: store},
		&RewriteArtifactTool{store: store},
		&ReadArtifactTool{store: store},
		&ListArtifactsTool{store: store},
		&ArtifactVersionsTool{store: store},
		&DiffArtifactTool{store: store},
	}
}

// requireSession resolves the bound session or reports a tool error.
func requireSession(ctx context.Context) (string, *Result) {
	id, ok := SessionFrom(ctx)
	if !ok {
		return "", Errorf("no artifact session bound to this run")
	}
	return id, nil
}

// storeError maps store failures to messages the LLM can act on.
func storeError(id string, err error) *Result {
	switch {
	case errors.Is(err, artifacts.ErrSessionNotFound):
		return Errorf("artifact session not found")
	case errors.Is(err, artifacts.ErrArtifactNotFound):
		return Errorf("artifact not found: %s", id)
	case errors.Is(err, artifacts.ErrDuplicateArtifact):
		return Errorf("artifact %s already exists; use update_artifact or rewrite_artifact to change it", id)
	case errors.Is(err, artifacts.ErrAmbiguousMatch):
		return Errorf("old_str must match exactly one location in artifact %s; include more surrounding context to disambiguate", id)
	case errors.Is(err, artifacts.ErrVersionConflict):
		return Errorf("lock conflict on artifact %s: it changed since you last read it; read it again and retry with the current lock_version", id)
	case errors.Is(err, artifacts.ErrVersionNotFound):
		return Errorf("artifact %s has no such version", id)
	default:
		return Errorf("artifact store: %v", err)
	}
}

// CreateArtifactTool creates a new versioned artifact in the session.
type CreateArtifactTool struct {
	store artifacts.Store
}

func (t *CreateArtifactTool) Name() string { return "create_artifact" }

func (t *CreateArtifactTool) Description() string {
	return "Create a new artifact (document, code file, plan) in this conversation. Fails if the id already exists."
}

func (t *CreateArtifactTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Unique artifact id within the conversation (e.g. \"report\", \"main_go\").",
			},
			"content_type": map[string]any{
				"type":        "string",
				"description": "Kind of content, such as \"markdown\", \"code\", or \"text\".",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "Human-readable title.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Full initial content.",
			},
		},
		"required": []string{"id", "content_type", "title", "content"},
	})
}

func (t *CreateArtifactTool) Permission() PermissionLevel { return PermissionPublic }

func (t *CreateArtifactTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	session, errRes := requireSession(ctx)
	if errRes != nil {
		return errRes, nil
	}
	var input struct {
		ID          string `json:"id"`
		ContentType string `json:"content_type"`
		Title       string `json:"title"`
		Content     string `json:"content"`
	}
	if err := decodeParams(params, &input); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	if strings.TrimSpace(input.ID) == "" {
		return Errorf("id is required"), nil
	}
	artifact, err := t.store.Create(ctx, session, input.ID, input.ContentType, input.Title, input.Content)
	if err != nil {
		return storeError(input.ID, err), nil
	}
	return &Result{
		Content: fmt.Sprintf("Created artifact %s (version %d, lock_version %d).", artifact.ID, artifact.CurrentVersion, artifact.LockVersion),
		Data: map[string]any{
			"artifact_id":  artifact.ID,
			"version":      artifact.CurrentVersion,
			"lock_version": artifact.LockVersion,
		},
	}, nil
}

// UpdateArtifactTool replaces one unique substring of an artifact.
type UpdateArtifactTool struct {
	store artifacts.Store
}

func (t *UpdateArtifactTool) Name() string { return "update_artifact" }

func (t *UpdateArtifactTool) Description() string {
	return "Replace the single occurrence of old_str in an artifact with new_str. old_str must match exactly one location; pass the lock_version from your latest read."
}

func (t *UpdateArtifactTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Artifact id.",
			},
			"old_str": map[string]any{
				"type":        "string",
				"description": "Exact text to replace. Must occur exactly once.",
			},
			"new_str": map[string]any{
				"type":        "string",
				"description": "Replacement text.",
			},
			"expected_lock": map[string]any{
				"type":        "integer",
				"description": "lock_version observed on the latest read.",
			},
		},
		"required": []string{"id", "old_str", "new_str", "expected_lock"},
	})
}

func (t *UpdateArtifactTool) Permission() PermissionLevel { return PermissionPublic }

func (t *UpdateArtifactTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	session, errRes := requireSession(ctx)
	if errRes != nil {
		return errRes, nil
	}
	var input struct {
		ID           string `json:"id"`
		OldStr       string `json:"old_str"`
		NewStr       string `json:"new_str"`
		ExpectedLock int    `json:"expected_lock"`
	}
	if err := decodeParams(params, &input); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	if input.OldStr == "" {
		return Errorf("old_str is required"), nil
	}
	artifact, err := t.store.Update(ctx, session, input.ID, input.OldStr, input.NewStr, input.ExpectedLock)
	if err != nil {
		return storeError(input.ID, err), nil
	}
	return &Result{
		Content: fmt.Sprintf("Updated artifact %s to version %d (lock_version %d).", artifact.ID, artifact.CurrentVersion, artifact.LockVersion),
		Data: map[string]any{
			"artifact_id":  artifact.ID,
			"version":      artifact.CurrentVersion,
			"lock_version": artifact.LockVersion,
		},
	}, nil
}

// RewriteArtifactTool replaces an artifact's entire content.
type RewriteArtifactTool struct {
	store artifacts.Store
}

func (t *RewriteArtifactTool) Name() string { return "rewrite_artifact" }

func (t *RewriteArtifactTool) Description() string {
	return "Replace the entire content of an artifact. Use update_artifact for targeted edits; pass the lock_version from your latest read."
}

func (t *RewriteArtifactTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Artifact id.",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "Complete replacement content.",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "Optional new title.",
			},
			"expected_lock": map[string]any{
				"type":        "integer",
				"description": "lock_version observed on the latest read.",
			},
		},
		"required": []string{"id", "content", "expected_lock"},
	})
}

func (t *RewriteArtifactTool) Permission() PermissionLevel { return PermissionPublic }

func (t *RewriteArtifactTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	session, errRes := requireSession(ctx)
	if errRes != nil {
		return errRes, nil
	}
	var input struct {
		ID           string `json:"id"`
		Content      string `json:"content"`
		Title        string `json:"title"`
		ExpectedLock int    `json:"expected_lock"`
	}
	if err := decodeParams(params, &input); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	artifact, err := t.store.Rewrite(ctx, session, input.ID, input.Content, input.Title, input.ExpectedLock)
	if err != nil {
		return storeError(input.ID, err), nil
	}
	return &Result{
		Content: fmt.Sprintf("Rewrote artifact %s to version %d (lock_version %d).", artifact.ID, artifact.CurrentVersion, artifact.LockVersion),
		Data: map[string]any{
			"artifact_id":  artifact.ID,
			"version":      artifact.CurrentVersion,
			"lock_version": artifact.LockVersion,
		},
	}, nil
}

// ReadArtifactTool returns an artifact's content with the metadata
// needed for a later compare-and-swap update.
type ReadArtifactTool struct {
	store artifacts.Store
}

func (t *ReadArtifactTool) Name() string { return "read_artifact" }

func (t *ReadArtifactTool) Description() string {
	return "Read an artifact's current content, or a specific historical version. The response includes the lock_version required for updates."
}

func (t *ReadArtifactTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Artifact id.",
			},
			"version": map[string]any{
				"type":        "integer",
				"description": "Historical version to read (default: current).",
				"minimum":     1,
			},
		},
		"required": []string{"id"},
	})
}

func (t *ReadArtifactTool) Permission() PermissionLevel { return PermissionPublic }

func (t *ReadArtifactTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	session, errRes := requireSession(ctx)
	if errRes != nil {
		return errRes, nil
	}
	var input struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	if err := decodeParams(params, &input); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	artifact, err := t.store.Read(ctx, session, input.ID, input.Version)
	if err != nil {
		return storeError(input.ID, err), nil
	}
	header := fmt.Sprintf("artifact %s (title: %s, type: %s, version: %d, lock_version: %d)",
		artifact.ID, artifact.Title, artifact.ContentType, artifact.CurrentVersion, artifact.LockVersion)
	return &Result{
		Content: header + "\n\n" + artifact.Content,
		Data: map[string]any{
			"artifact_id":  artifact.ID,
			"title":        artifact.Title,
			"content_type": artifact.ContentType,
			"version":      artifact.CurrentVersion,
			"lock_version": artifact.LockVersion,
		},
	}, nil
}

// ListArtifactsTool lists artifact summaries in the session.
type ListArtifactsTool struct {
	store artifacts.Store
}

func (t *ListArtifactsTool) Name() string { return "list_artifacts" }

func (t *ListArtifactsTool) Description() string {
	return "List the artifacts in this conversation with a short content preview, optionally filtered by content type."
}

func (t *ListArtifactsTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content_type": map[string]any{
				"type":        "string",
				"description": "Only list artifacts of this content type.",
			},
			"preview_length": map[string]any{
				"type":        "integer",
				"description": "Preview truncation length in characters.",
				"minimum":     0,
			},
		},
	})
}

func (t *ListArtifactsTool) Permission() PermissionLevel { return PermissionPublic }

func (t *ListArtifactsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	session, errRes := requireSession(ctx)
	if errRes != nil {
		return errRes, nil
	}
	var input struct {
		ContentType   string `json:"content_type"`
		PreviewLength int    `json:"preview_length"`
	}
	if err := decodeParams(params, &input); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	summaries, err := t.store.List(ctx, session, input.ContentType, input.PreviewLength)
	if err != nil {
		return storeError("", err), nil
	}
	if len(summaries) == 0 {
		return Textf("No artifacts in this conversation."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d artifact(s):\n", len(summaries))
	for _, s := range summaries {
		fmt.Fprintf(&b, "- %s [%s] %q v%d: %s\n", s.ID, s.ContentType, s.Title, s.CurrentVersion, s.Preview)
	}
	return &Result{Content: b.String(), Data: map[string]any{"count": len(summaries)}}, nil
}

// ArtifactVersionsTool lists an artifact's version history.
type ArtifactVersionsTool struct {
	store artifacts.Store
}

func (t *ArtifactVersionsTool) Name() string { return "get_artifact_versions" }

func (t *ArtifactVersionsTool) Description() string {
	return "List the version history of an artifact, oldest first."
}

func (t *ArtifactVersionsTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Artifact id.",
			},
		},
		"required": []string{"id"},
	})
}

func (t *ArtifactVersionsTool) Permission() PermissionLevel { return PermissionPublic }

func (t *ArtifactVersionsTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	session, errRes := requireSession(ctx)
	if errRes != nil {
		return errRes, nil
	}
	var input struct {
		ID string `json:"id"`
	}
	if err := decodeParams(params, &input); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	versions, err := t.store.ListVersions(ctx, session, input.ID)
	if err != nil {
		return storeError(input.ID, err), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "artifact %s has %d version(s):\n", input.ID, len(versions))
	for _, v := range versions {
		fmt.Fprintf(&b, "- v%d %s at %s\n", v.Version, v.UpdateType, v.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	return &Result{Content: b.String(), Data: map[string]any{"count": len(versions)}}, nil
}

// DiffArtifactTool renders a unified diff between two versions.
type DiffArtifactTool struct {
	store artifacts.Store
}

func (t *DiffArtifactTool) Name() string { return "diff_artifact_versions" }

func (t *DiffArtifactTool) Description() string {
	return "Show a unified diff of an artifact between two versions."
}

func (t *DiffArtifactTool) Schema() json.RawMessage {
	return mustSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id": map[string]any{
				"type":        "string",
				"description": "Artifact id.",
			},
			"from_version": map[string]any{
				"type":        "integer",
				"description": "Older version number.",
				"minimum":     1,
			},
			"to_version": map[string]any{
				"type":        "integer",
				"description": "Newer version number.",
				"minimum":     1,
			},
		},
		"required": []string{"id", "from_version", "to_version"},
	})
}

func (t *DiffArtifactTool) Permission() PermissionLevel { return PermissionPublic }

func (t *DiffArtifactTool) Execute(ctx context.Context, params map[string]any) (*Result, error) {
	session, errRes := requireSession(ctx)
	if errRes != nil {
		return errRes, nil
	}
	var input struct {
		ID          string `json:"id"`
		FromVersion int    `json:"from_version"`
		ToVersion   int    `json:"to_version"`
	}
	if err := decodeParams(params, &input); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	diff, err := t.store.Diff(ctx, session, input.ID, input.FromVersion, input.ToVersion)
	if err != nil {
		return storeError(input.ID, err), nil
	}
	if strings.TrimSpace(diff) == "" {
		return Textf("No changes between v%d and v%d of %s.", input.FromVersion, input.ToVersion, input.ID), nil
	}
	return &Result{Content: diff}, nil
}
