package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/artifactflow/artifactflow/internal/agents"
	"github.com/artifactflow/artifactflow/internal/artifacts"
	"github.com/artifactflow/artifactflow/internal/auth"
	"github.com/artifactflow/artifactflow/internal/config"
	"github.com/artifactflow/artifactflow/internal/controller"
	"github.com/artifactflow/artifactflow/internal/conversations"
	"github.com/artifactflow/artifactflow/internal/llm"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/internal/streams"
	"github.com/artifactflow/artifactflow/internal/tasks"
	"github.com/artifactflow/artifactflow/internal/tools"
	"github.com/artifactflow/artifactflow/pkg/models"
)

type confirmTool struct {
	mu  sync.Mutex
	ran int
}

func (c *confirmTool) Name() string        { return "send_email" }
func (c *confirmTool) Description() string { return "Sends an email on the user's behalf" }

func (c *confirmTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {"to": {"type": "string", "description": "Recipient address"}},
		"required": ["to"]
	}`)
}

func (c *confirmTool) Permission() tools.PermissionLevel { return tools.PermissionConfirm }

func (c *confirmTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	c.mu.Lock()
	c.ran++
	c.mu.Unlock()
	return tools.Textf("sent"), nil
}

func (c *confirmTool) runs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ran
}

func callBlock(name string, params ...string) string {
	var b strings.Builder
	b.WriteString("<tool_call><name>" + name + "</name><params>")
	for i := 0; i+1 < len(params); i += 2 {
		b.WriteString("<" + params[i] + "><![CDATA[" + params[i+1] + "]]></" + params[i] + ">")
	}
	b.WriteString("</params></tool_call>")
	return b.String()
}

type apiFixture struct {
	t        *testing.T
	srv      *httptest.Server
	client   *http.Client
	adminTok string
	aliceTok string
	bobTok   string
	alice    string // user id
	convs    conversations.Store
	arts     artifacts.Store
	email    *confirmTool
}

func newAPIFixture(t *testing.T, turns ...llm.ScriptedTurn) *apiFixture {
	t.Helper()

	provider := llm.NewScriptedProvider("scripted", turns...)
	convs := conversations.NewMemoryStore()
	arts := artifacts.NewMemoryStore()

	toolReg := tools.NewRegistry()
	email := &confirmTool{}
	if err := toolReg.RegisterAll(email, &tools.CallSubagentTool{}); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	if err := toolReg.RegisterAll(tools.ArtifactTools(arts)...); err != nil {
		t.Fatalf("RegisterAll(artifacts) error = %v", err)
	}

	llmCfg := config.LLMConfig{
		DefaultProvider: "scripted",
		Providers: map[string]config.ProviderConfig{
			"scripted": {DefaultModel: "script-1"},
		},
	}
	logger := observability.NewLogger(observability.LogConfig{Output: io.Discard})
	loader := agents.NewLoader(llm.NewRegistryWith(provider), toolReg, llmCfg, logger)
	reg, err := loader.Load(config.AgentsConfig{Definitions: []config.AgentDefinition{{
		Name:        "lead",
		Description: "Coordinates the team",
		Role:        config.AgentRoleLead,
		Model:       "script-1",
		Tools:       []string{"send_email", "create_artifact", "update_artifact", "read_artifact"},
	}}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	slogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	str := streams.NewManager(time.Minute, slogger, nil)
	tsk := tasks.NewManager(4, slogger)
	t.Cleanup(func() {
		tsk.Shutdown(2 * time.Second)
		str.Shutdown()
	})

	cfg := &config.Config{}
	cfg.Server.CORSOrigins = []string{"*"}
	cfg.Streams.Timeout = 5 * time.Second
	cfg.Agents.MaxSteps = 20

	ctrl := controller.New(cfg, convs, arts, str, tsk, reg, logger, nil, nil)

	users := auth.NewMemoryUserStore()
	jwt := auth.NewJWTService("test-secret-for-httpapi", time.Hour)
	authSvc := auth.NewService(users, jwt, logger)
	ctx := context.Background()
	if _, err := authSvc.CreateUser(ctx, "admin", "admin-password", models.RoleAdmin); err != nil {
		t.Fatalf("CreateUser(admin) error = %v", err)
	}
	alice, err := authSvc.CreateUser(ctx, "alice", "alice-password", models.RoleUser)
	if err != nil {
		t.Fatalf("CreateUser(alice) error = %v", err)
	}
	if _, err := authSvc.CreateUser(ctx, "bob", "bob-password-1", models.RoleUser); err != nil {
		t.Fatalf("CreateUser(bob) error = %v", err)
	}

	server := New(cfg, authSvc, ctrl, convs, arts, str, logger, nil)
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(srv.Close)

	f := &apiFixture{
		t:      t,
		srv:    srv,
		client: &http.Client{Timeout: 10 * time.Second},
		alice:  alice.ID,
		convs:  convs,
		arts:   arts,
		email:  email,
	}
	f.adminTok = f.login("admin", "admin-password")
	f.aliceTok = f.login("alice", "alice-password")
	f.bobTok = f.login("bob", "bob-password-1")
	return f
}

func (f *apiFixture) login(username, password string) string {
	f.t.Helper()
	resp := f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		f.t.Fatalf("login(%s) status = %d", username, resp.StatusCode)
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		f.t.Fatalf("decode login response: %v", err)
	}
	return body.AccessToken
}

func (f *apiFixture) do(method, path, token string, body any) *http.Response {
	f.t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			f.t.Fatalf("marshal request: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rdr)
	if err != nil {
		f.t.Fatalf("NewRequest() error = %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (f *apiFixture) decode(resp *http.Response, dst any) {
	f.t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		f.t.Fatalf("decode response: %v", err)
	}
}

// errorCode reads the error envelope and returns its code.
func (f *apiFixture) errorCode(resp *http.Response) string {
	f.t.Helper()
	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	f.decode(resp, &body)
	return body.Error.Code
}

type sseEvent struct {
	Type string
	Data map[string]any
}

func readSSE(t *testing.T, body io.Reader) []sseEvent {
	t.Helper()
	var events []sseEvent
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	typ := ""
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			typ = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var data map[string]any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &data); err != nil {
				t.Fatalf("bad SSE data line %q: %v", line, err)
			}
			events = append(events, sseEvent{Type: typ, Data: data})
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read SSE stream: %v", err)
	}
	return events
}

// stream consumes a run's SSE stream to completion.
func (f *apiFixture) stream(token, runID string) []sseEvent {
	f.t.Helper()
	resp := f.do(http.MethodGet, "/api/v1/stream/"+runID, token, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		f.t.Fatalf("GET stream status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		f.t.Fatalf("stream Content-Type = %q", ct)
	}
	events := readSSE(f.t, resp.Body)
	if len(events) == 0 {
		f.t.Fatal("stream yielded no events")
	}
	return events
}

func (f *apiFixture) postChat(token string, body map[string]any) *controller.Started {
	f.t.Helper()
	resp := f.do(http.MethodPost, "/api/v1/chat", token, body)
	if resp.StatusCode != http.StatusOK {
		f.t.Fatalf("POST /chat status = %d", resp.StatusCode)
	}
	var started controller.Started
	f.decode(resp, &started)
	return &started
}

func TestHealthOpen(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.do(http.MethodGet, "/health", "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /health status = %d", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newAPIFixture(t)
	for _, path := range []string{"/api/v1/chat", "/api/v1/auth/me", "/api/v1/stream/r1"} {
		resp := f.do(http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("GET %s without token status = %d, want 401", path, resp.StatusCode)
		}
		if code := f.errorCode(resp); code != "unauthorized" {
			t.Errorf("GET %s error code = %q", path, code)
		}
	}
}

func TestLoginAndMe(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "alice", "password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login status = %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(http.MethodGet, "/api/v1/auth/me", f.aliceTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /me status = %d", resp.StatusCode)
	}
	var me struct {
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	f.decode(resp, &me)
	if me.Username != "alice" || me.Role != "user" {
		t.Errorf("me = %+v", me)
	}
}

func TestUserAdminRoutes(t *testing.T) {
	f := newAPIFixture(t)

	// Non-admin cannot manage users.
	resp := f.do(http.MethodPost, "/api/v1/auth/users", f.aliceTok, map[string]string{
		"username": "eve", "password": "eve-password-1",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("create user as non-admin status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(http.MethodPost, "/api/v1/auth/users", f.adminTok, map[string]string{
		"username": "eve", "password": "eve-password-1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create user status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	}
	f.decode(resp, &created)
	if created.Role != "user" {
		t.Errorf("default role = %q, want user", created.Role)
	}

	resp = f.do(http.MethodPost, "/api/v1/auth/users", f.adminTok, map[string]string{
		"username": "eve", "password": "eve-password-1",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate user status = %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(http.MethodGet, "/api/v1/auth/users", f.adminTok, nil)
	var list struct {
		Users []struct {
			Username string `json:"username"`
		} `json:"users"`
	}
	f.decode(resp, &list)
	if len(list.Users) != 4 {
		t.Errorf("len(users) = %d, want 4", len(list.Users))
	}

	resp = f.do(http.MethodPut, "/api/v1/auth/users/"+created.ID, f.adminTok, map[string]any{
		"active": false,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update user status = %d", resp.StatusCode)
	}
	var updated struct {
		Active bool `json:"active"`
	}
	f.decode(resp, &updated)
	if updated.Active {
		t.Error("user still active after update")
	}
}

func TestChatRoundTrip(t *testing.T) {
	f := newAPIFixture(t, llm.ScriptedTurn{Content: "Hello from the lead."})

	started := f.postChat(f.aliceTok, map[string]any{"content": "hi"})
	if started.StreamURL != "/api/v1/stream/"+started.RunID {
		t.Errorf("stream_url = %q", started.StreamURL)
	}

	events := f.stream(f.aliceTok, started.RunID)
	if events[0].Type != "metadata" {
		t.Errorf("first event = %q, want metadata", events[0].Type)
	}
	last := events[len(events)-1]
	if last.Type != "complete" || last.Data["interrupted"] != false {
		t.Fatalf("terminal event = %+v", last)
	}
	if last.Data["response"] != "Hello from the lead." {
		t.Errorf("response = %v", last.Data["response"])
	}

	// The tree shows the persisted response.
	resp := f.do(http.MethodGet, "/api/v1/chat/"+started.ConversationID, f.aliceTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET conversation status = %d", resp.StatusCode)
	}
	var tree struct {
		Conversation struct {
			ID string `json:"id"`
		} `json:"conversation"`
		Messages []struct {
			UserContent   string  `json:"user_content"`
			FinalResponse *string `json:"agent_final_response"`
		} `json:"messages"`
	}
	f.decode(resp, &tree)
	if len(tree.Messages) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(tree.Messages))
	}
	if tree.Messages[0].FinalResponse == nil || *tree.Messages[0].FinalResponse != "Hello from the lead." {
		t.Errorf("persisted response = %v", tree.Messages[0].FinalResponse)
	}

	// Owner filtering: alice sees it, bob does not, admin does.
	var convList struct {
		Conversations []struct {
			ID string `json:"id"`
		} `json:"conversations"`
	}
	resp = f.do(http.MethodGet, "/api/v1/chat", f.aliceTok, nil)
	f.decode(resp, &convList)
	if len(convList.Conversations) != 1 {
		t.Errorf("alice sees %d conversations, want 1", len(convList.Conversations))
	}
	resp = f.do(http.MethodGet, "/api/v1/chat", f.bobTok, nil)
	f.decode(resp, &convList)
	if len(convList.Conversations) != 0 {
		t.Errorf("bob sees %d conversations, want 0", len(convList.Conversations))
	}
	resp = f.do(http.MethodGet, "/api/v1/chat", f.adminTok, nil)
	f.decode(resp, &convList)
	if len(convList.Conversations) != 1 {
		t.Errorf("admin sees %d conversations, want 1", len(convList.Conversations))
	}

	// Bob cannot read alice's conversation.
	resp = f.do(http.MethodGet, "/api/v1/chat/"+started.ConversationID, f.bobTok, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("GET as bob status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestChatValidation(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(http.MethodPost, "/api/v1/chat", f.aliceTok, map[string]any{"content": "  "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty content status = %d, want 400", resp.StatusCode)
	}
	if code := f.errorCode(resp); code != "validation_error" {
		t.Errorf("error code = %q", code)
	}

	resp = f.do(http.MethodGet, "/api/v1/chat/does-not-exist", f.aliceTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown conversation status = %d, want 404", resp.StatusCode)
	}
	if code := f.errorCode(resp); code != "not_found" {
		t.Errorf("error code = %q", code)
	}
}

func TestStreamNotFound(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.do(http.MethodGet, "/api/v1/stream/no-such-run", f.aliceTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown run status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestStreamTokenQueryParam(t *testing.T) {
	f := newAPIFixture(t, llm.ScriptedTurn{Content: "For EventSource."})
	started := f.postChat(f.aliceTok, map[string]any{"content": "hi"})

	// EventSource clients cannot set headers; the token rides the query.
	resp := f.do(http.MethodGet, "/api/v1/stream/"+started.RunID+"?token="+f.aliceTok, "", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream with query token status = %d", resp.StatusCode)
	}
	events := readSSE(t, resp.Body)
	if events[len(events)-1].Type != "complete" {
		t.Errorf("terminal event = %q", events[len(events)-1].Type)
	}
}

func TestResumeFlow(t *testing.T) {
	f := newAPIFixture(t,
		llm.ScriptedTurn{Content: "Sending.\n" + callBlock("send_email", "to", "bob@example.com")},
		llm.ScriptedTurn{Content: "Email sent."})

	started := f.postChat(f.aliceTok, map[string]any{"content": "email bob"})
	events := f.stream(f.aliceTok, started.RunID)

	last := events[len(events)-1]
	if last.Type != "complete" || last.Data["interrupted"] != true {
		t.Fatalf("terminal event = %+v, want interrupted complete", last)
	}
	if f.email.runs() != 0 {
		t.Fatal("gated tool ran before approval")
	}

	resp := f.do(http.MethodPost, "/api/v1/chat/"+started.ConversationID+"/resume", f.aliceTok, map[string]any{
		"run_id":     started.RunID,
		"message_id": started.MessageID,
		"approved":   true,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume status = %d", resp.StatusCode)
	}
	var resumed struct {
		StreamURL string `json:"stream_url"`
	}
	f.decode(resp, &resumed)
	if resumed.StreamURL != started.StreamURL {
		t.Errorf("resume stream_url = %q", resumed.StreamURL)
	}

	events = f.stream(f.aliceTok, started.RunID)
	last = events[len(events)-1]
	if last.Type != "complete" || last.Data["response"] != "Email sent." {
		t.Fatalf("terminal event = %+v", last)
	}
	if got := f.email.runs(); got != 1 {
		t.Errorf("gated tool ran %d times, want 1", got)
	}

	// The decision is consumed; a second resume finds nothing.
	resp = f.do(http.MethodPost, "/api/v1/chat/"+started.ConversationID+"/resume", f.aliceTok, map[string]any{
		"run_id":     started.RunID,
		"message_id": started.MessageID,
		"approved":   true,
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second resume status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestResumeValidation(t *testing.T) {
	f := newAPIFixture(t,
		llm.ScriptedTurn{Content: callBlock("send_email", "to", "x@example.com")},
		llm.ScriptedTurn{Content: "Done."})

	started := f.postChat(f.aliceTok, map[string]any{"content": "go"})
	f.stream(f.aliceTok, started.RunID)

	resp := f.do(http.MethodPost, "/api/v1/chat/"+started.ConversationID+"/resume", f.aliceTok, map[string]any{
		"run_id": started.RunID,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resume without message_id status = %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	// Bob may not decide alice's permission request.
	resp = f.do(http.MethodPost, "/api/v1/chat/"+started.ConversationID+"/resume", f.bobTok, map[string]any{
		"run_id":     started.RunID,
		"message_id": started.MessageID,
		"approved":   true,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resume as bob status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestArtifactRoutes(t *testing.T) {
	f := newAPIFixture(t,
		llm.ScriptedTurn{Content: "Creating.\n" + callBlock("create_artifact",
			"id", "plan", "content_type", "markdown", "title", "Plan", "content", "A\nB")},
		llm.ScriptedTurn{Content: "Updating.\n" + callBlock("update_artifact",
			"id", "plan", "old_str", "A", "new_str", "A'", "expected_lock", "1")},
		llm.ScriptedTurn{Content: "Plan written."})

	started := f.postChat(f.aliceTok, map[string]any{"content": "write a plan"})
	f.stream(f.aliceTok, started.RunID)

	sessionID := started.ConversationID

	resp := f.do(http.MethodGet, "/api/v1/artifacts/"+sessionID, f.aliceTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list artifacts status = %d", resp.StatusCode)
	}
	var list struct {
		Artifacts []struct {
			ID             string `json:"id"`
			CurrentVersion int    `json:"current_version"`
		} `json:"artifacts"`
	}
	f.decode(resp, &list)
	if len(list.Artifacts) != 1 || list.Artifacts[0].ID != "plan" {
		t.Fatalf("artifacts = %+v", list.Artifacts)
	}
	if list.Artifacts[0].CurrentVersion != 2 {
		t.Errorf("current_version = %d, want 2", list.Artifacts[0].CurrentVersion)
	}

	resp = f.do(http.MethodGet, "/api/v1/artifacts/"+sessionID+"/plan", f.aliceTok, nil)
	var art struct {
		Content     string `json:"content"`
		LockVersion int    `json:"lock_version"`
	}
	f.decode(resp, &art)
	if art.Content != "A'\nB" {
		t.Errorf("content = %q, want updated text", art.Content)
	}

	resp = f.do(http.MethodGet, "/api/v1/artifacts/"+sessionID+"/plan/versions", f.aliceTok, nil)
	var versions struct {
		Versions []struct {
			Version    int    `json:"version"`
			UpdateType string `json:"update_type"`
		} `json:"versions"`
	}
	f.decode(resp, &versions)
	if len(versions.Versions) != 2 {
		t.Fatalf("len(versions) = %d, want 2", len(versions.Versions))
	}

	resp = f.do(http.MethodGet, "/api/v1/artifacts/"+sessionID+"/plan/versions/1", f.aliceTok, nil)
	var v1 struct {
		Snapshot string `json:"content_snapshot"`
	}
	f.decode(resp, &v1)
	if v1.Snapshot != "A\nB" {
		t.Errorf("version 1 snapshot = %q, want original", v1.Snapshot)
	}

	resp = f.do(http.MethodGet, "/api/v1/artifacts/"+sessionID+"/plan/versions/9", f.aliceTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing version status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(http.MethodGet, "/api/v1/artifacts/"+sessionID, f.bobTok, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("list as bob status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(http.MethodGet, "/api/v1/artifacts/no-such-session", f.aliceTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeleteConversationCascades(t *testing.T) {
	f := newAPIFixture(t,
		llm.ScriptedTurn{Content: "Noting.\n" + callBlock("create_artifact",
			"id", "notes", "content_type", "text", "title", "Notes", "content", "n")},
		llm.ScriptedTurn{Content: "Saved."})

	started := f.postChat(f.aliceTok, map[string]any{"content": "note this"})
	f.stream(f.aliceTok, started.RunID)

	resp := f.do(http.MethodDelete, "/api/v1/chat/"+started.ConversationID, f.bobTok, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("delete as bob status = %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(http.MethodDelete, "/api/v1/chat/"+started.ConversationID, f.aliceTok, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	resp.Body.Close()

	resp = f.do(http.MethodGet, "/api/v1/chat/"+started.ConversationID, f.aliceTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()

	if _, err := f.arts.Read(context.Background(), started.ConversationID, "notes", 0); err == nil {
		t.Error("artifact survived the conversation delete")
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newAPIFixture(t)
	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/api/v1/chat", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := f.client.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestRequestIDEcho(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.do(http.MethodGet, "/health", "", nil)
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("no generated X-Request-ID on response")
	}

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/health", nil)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	req.Header.Set("X-Request-ID", "req-42")
	resp2, err := f.client.Do(req)
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want echoed req-42", got)
	}
}
