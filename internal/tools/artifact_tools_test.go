package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/artifactflow/artifactflow/internal/artifacts"
)

func newArtifactKit(t *testing.T) (*Toolkit, context.Context, artifacts.Store) {
	t.Helper()
	store := artifacts.NewMemoryStore()
	ctx := WithSession(context.Background(), "conv-1")
	if _, err := store.EnsureSession(ctx, "conv-1"); err != nil {
		t.Fatalf("EnsureSession() error = %v", err)
	}

	r := NewRegistry()
	if err := r.RegisterAll(ArtifactTools(store)...); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	names := []string{
		"create_artifact", "update_artifact", "rewrite_artifact",
		"read_artifact", "list_artifacts", "get_artifact_versions",
		"diff_artifact_versions",
	}
	kit, err := r.Toolkit(names...)
	if err != nil {
		t.Fatalf("Toolkit() error = %v", err)
	}
	return kit, ctx, store
}

func execOK(t *testing.T, ctx context.Context, kit *Toolkit, name string, params map[string]any) *Result {
	t.Helper()
	res, err := kit.Execute(ctx, name, params)
	if err != nil {
		t.Fatalf("%s error = %v", name, err)
	}
	if res.IsError {
		t.Fatalf("%s returned tool error: %s", name, res.Content)
	}
	return res
}

func TestArtifactToolsLifecycle(t *testing.T) {
	kit, ctx, _ := newArtifactKit(t)

	res := execOK(t, ctx, kit, "create_artifact", map[string]any{
		"id":           "plan",
		"content_type": "markdown",
		"title":        "Plan",
		"content":      "step one\nstep two\n",
	})
	if res.Data["lock_version"] != 1 {
		t.Fatalf("create lock_version = %v", res.Data["lock_version"])
	}

	res = execOK(t, ctx, kit, "read_artifact", map[string]any{"id": "plan"})
	if !strings.Contains(res.Content, "lock_version: 1") || !strings.Contains(res.Content, "step one") {
		t.Fatalf("read content = %q", res.Content)
	}

	res = execOK(t, ctx, kit, "update_artifact", map[string]any{
		"id":            "plan",
		"old_str":       "step two",
		"new_str":       "step 2",
		"expected_lock": int64(1),
	})
	if res.Data["version"] != 2 || res.Data["lock_version"] != 2 {
		t.Fatalf("update Data = %v", res.Data)
	}

	res = execOK(t, ctx, kit, "rewrite_artifact", map[string]any{
		"id":            "plan",
		"content":       "rewritten\n",
		"expected_lock": int64(2),
	})
	if res.Data["version"] != 3 {
		t.Fatalf("rewrite Data = %v", res.Data)
	}

	res = execOK(t, ctx, kit, "get_artifact_versions", map[string]any{"id": "plan"})
	for _, want := range []string{"v1 create", "v2 update", "v3 rewrite"} {
		if !strings.Contains(res.Content, want) {
			t.Fatalf("versions = %q, missing %q", res.Content, want)
		}
	}

	res = execOK(t, ctx, kit, "diff_artifact_versions", map[string]any{
		"id":           "plan",
		"from_version": int64(1),
		"to_version":   int64(3),
	})
	if !strings.Contains(res.Content, "-step one") || !strings.Contains(res.Content, "+rewritten") {
		t.Fatalf("diff = %q", res.Content)
	}

	// Historical read leaves the live lock version intact for CAS.
	res = execOK(t, ctx, kit, "read_artifact", map[string]any{"id": "plan", "version": int64(1)})
	if !strings.Contains(res.Content, "step one") || !strings.Contains(res.Content, "lock_version: 3") {
		t.Fatalf("historical read = %q", res.Content)
	}
}

func TestArtifactToolsConflicts(t *testing.T) {
	kit, ctx, _ := newArtifactKit(t)

	execOK(t, ctx, kit, "create_artifact", map[string]any{
		"id":           "doc",
		"content_type": "text",
		"title":        "Doc",
		"content":      "alpha beta alpha",
	})

	cases := []struct {
		name    string
		tool    string
		params  map[string]any
		wantMsg string
	}{
		{
			"duplicate create", "create_artifact",
			map[string]any{"id": "doc", "content_type": "text", "title": "Doc", "content": "x"},
			"already exists",
		},
		{
			"stale lock", "update_artifact",
			map[string]any{"id": "doc", "old_str": "beta", "new_str": "b", "expected_lock": int64(9)},
			"lock conflict",
		},
		{
			"ambiguous match", "update_artifact",
			map[string]any{"id": "doc", "old_str": "alpha", "new_str": "a", "expected_lock": int64(1)},
			"exactly one location",
		},
		{
			"zero matches", "update_artifact",
			map[string]any{"id": "doc", "old_str": "gamma", "new_str": "g", "expected_lock": int64(1)},
			"exactly one location",
		},
		{
			"missing artifact", "read_artifact",
			map[string]any{"id": "nope"},
			"artifact not found",
		},
		{
			"missing version", "read_artifact",
			map[string]any{"id": "doc", "version": int64(5)},
			"no such version",
		},
	}
	for _, tc := range cases {
		res, err := kit.Execute(ctx, tc.tool, tc.params)
		if err != nil {
			t.Fatalf("%s: error = %v", tc.name, err)
		}
		if !res.IsError || !strings.Contains(res.Content, tc.wantMsg) {
			t.Fatalf("%s: result = %+v, want error containing %q", tc.name, res, tc.wantMsg)
		}
	}
}

func TestArtifactToolsListFilter(t *testing.T) {
	kit, ctx, _ := newArtifactKit(t)

	execOK(t, ctx, kit, "create_artifact", map[string]any{
		"id": "notes", "content_type": "text", "title": "Notes", "content": "misc",
	})
	execOK(t, ctx, kit, "create_artifact", map[string]any{
		"id": "main_go", "content_type": "code", "title": "main.go", "content": "package main",
	})

	res := execOK(t, ctx, kit, "list_artifacts", map[string]any{})
	if res.Data["count"] != 2 || !strings.Contains(res.Content, "notes") || !strings.Contains(res.Content, "main_go") {
		t.Fatalf("list = %+v", res)
	}

	res = execOK(t, ctx, kit, "list_artifacts", map[string]any{"content_type": "code"})
	if res.Data["count"] != 1 || strings.Contains(res.Content, "notes") {
		t.Fatalf("filtered list = %+v", res)
	}
}

func TestArtifactToolsRequireSession(t *testing.T) {
	kit, _, _ := newArtifactKit(t)

	res, err := kit.Execute(context.Background(), "list_artifacts", map[string]any{})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.IsError || !strings.Contains(res.Content, "no artifact session") {
		t.Fatalf("result = %+v, want session binding error", res)
	}
}

func TestArtifactToolsParsedCallRoundTrip(t *testing.T) {
	kit, ctx, store := newArtifactKit(t)

	text := `<tool_call>
  <name>create_artifact</name>
  <params>
    <id><![CDATA[report]]></id>
    <content_type><![CDATA[markdown]]></content_type>
    <title><![CDATA[Q3 Report]]></title>
    <content><![CDATA[draft]]></content>
  </params>
</tool_call>`
	call := ParseToolCall(text)
	if call == nil {
		t.Fatal("ParseToolCall() = nil")
	}
	res, err := kit.Execute(ctx, call.Name, call.Params)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("Execute() tool error: %s", res.Content)
	}

	artifact, err := store.Read(ctx, "conv-1", "report", 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if artifact.Title != "Q3 Report" || artifact.Content != "draft" {
		t.Fatalf("stored artifact = %+v", artifact)
	}
}
