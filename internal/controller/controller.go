// Package controller coordinates a chat request end to end: resolving
// the conversation and branch point, persisting the user message,
// creating the run's event buffer, and driving the agent graph inside
// a background task. The graph owns run progress; this package owns
// everything around it.
package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/artifactflow/artifactflow/internal/agents"
	"github.com/artifactflow/artifactflow/internal/artifacts"
	"github.com/artifactflow/artifactflow/internal/config"
	"github.com/artifactflow/artifactflow/internal/conversations"
	"github.com/artifactflow/artifactflow/internal/graph"
	"github.com/artifactflow/artifactflow/internal/llm"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/internal/streams"
	"github.com/artifactflow/artifactflow/internal/tasks"
	"github.com/artifactflow/artifactflow/pkg/models"
)

var (
	// ErrEmptyContent rejects messages with no user text.
	ErrEmptyContent = errors.New("message content is required")

	// ErrRunInProgress rejects a second concurrent run on the same
	// conversation.
	ErrRunInProgress = errors.New("conversation already has a run in progress")

	// ErrForbidden rejects access to another user's conversation.
	ErrForbidden = errors.New("conversation belongs to another user")

	// ErrNotSuspended rejects a resume for a run that is not waiting
	// on a permission decision.
	ErrNotSuspended = errors.New("run is not awaiting a permission decision")

	// ErrResumeMismatch rejects a resume whose run does not belong to
	// the named conversation and message.
	ErrResumeMismatch = errors.New("run does not match the conversation and message")
)

// persistTimeout bounds the final-response write when the run consumed
// most of its own deadline.
const persistTimeout = 10 * time.Second

// NewMessageRequest starts a run. An empty ConversationID starts a new
// conversation; a nil ParentMessageID continues the active branch, and
// pointing it at an earlier message forks a new branch there.
type NewMessageRequest struct {
	Content         string  `json:"content"`
	ConversationID  string  `json:"conversation_id,omitempty"`
	ParentMessageID *string `json:"parent_message_id,omitempty"`
}

// ResumeRequest delivers the user's decision for a run suspended on a
// confirm-gated tool call.
type ResumeRequest struct {
	RunID     string `json:"run_id"`
	MessageID string `json:"message_id"`
	Approved  bool   `json:"approved"`
}

// Started identifies an accepted run and where to stream it from.
type Started struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	RunID          string `json:"run_id"`
	StreamURL      string `json:"stream_url"`
}

// suspendedRun is the saved half of a permission interrupt, waiting
// for the user's decision.
type suspendedRun struct {
	state  *graph.State
	userID string
}

// Controller serializes runs per conversation and owns the suspended
// state of permission interrupts. Both live in memory: a restart drops
// pending permission decisions, and the suspended tool call is simply
// never executed.
type Controller struct {
	cfg           *config.Config
	conversations conversations.Store
	artifacts     artifacts.Store
	streams       *streams.Manager
	tasks         *tasks.Manager
	agents        *agents.Registry
	logger        *observability.Logger
	metrics       *observability.Metrics
	tracer        *observability.Tracer

	mu        sync.Mutex
	active    map[string]string        // conversation ID -> run ID
	suspended map[string]*suspendedRun // run ID -> saved state
}

// New wires a controller. metrics and tracer may be nil.
func New(cfg *config.Config, conv conversations.Store, arts artifacts.Store, str *streams.Manager, tsk *tasks.Manager, reg *agents.Registry, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) *Controller {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Controller{
		cfg:           cfg,
		conversations: conv,
		artifacts:     arts,
		streams:       str,
		tasks:         tsk,
		agents:        reg,
		logger:        logger,
		metrics:       metrics,
		tracer:        tracer,
		active:        make(map[string]string),
		suspended:     make(map[string]*suspendedRun),
	}
}

// NewMessage accepts a user message, persists it on the conversation
// tree, and launches the run. It returns as soon as the run is
// scheduled; events flow through the stream at Started.StreamURL.
func (c *Controller) NewMessage(ctx context.Context, userID string, admin bool, req NewMessageRequest) (*Started, error) {
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, ErrEmptyContent
	}

	conv, err := c.resolveConversation(ctx, req.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !canAccess(conv, userID, admin) {
		return nil, ErrForbidden
	}

	// History comes from the tree as it stands before this message is
	// added: the path from the branch point back to its root.
	branchPoint := ""
	if req.ParentMessageID != nil {
		branchPoint = *req.ParentMessageID
	}
	path, err := c.conversations.Path(ctx, conv.ID, branchPoint)
	if err != nil {
		return nil, fmt.Errorf("resolve history: %w", err)
	}
	history := conversations.Compress(conversations.FormatHistory(path),
		c.cfg.Agents.HistoryCompressChars, c.cfg.Agents.HistoryKeepRecent)

	messageID := uuid.New().String()
	runID := uuid.New().String()

	if err := c.acquire(conv.ID, runID); err != nil {
		return nil, err
	}

	started, err := c.beginRun(ctx, conv.ID, messageID, runID, userID, content, req.ParentMessageID, history)
	if err != nil {
		c.release(conv.ID, runID)
		return nil, err
	}
	return started, nil
}

// beginRun performs the persistence and scheduling half of NewMessage,
// with the conversation lock already held.
func (c *Controller) beginRun(ctx context.Context, convID, messageID, runID, userID, content string, parentID *string, history []llm.Message) (*Started, error) {
	if _, err := c.artifacts.EnsureSession(ctx, convID); err != nil {
		return nil, fmt.Errorf("ensure artifact session: %w", err)
	}
	if n, err := c.artifacts.ClearTemporary(ctx, convID); err != nil {
		c.logger.Warn(ctx, "clear scratch artifacts failed", "conversation_id", convID, "error", err)
	} else if n > 0 {
		c.logger.Debug(ctx, "cleared scratch artifacts", "conversation_id", convID, "count", n)
	}

	msg := &models.Message{
		ID:             messageID,
		ConversationID: convID,
		ParentID:       parentID,
		UserContent:    content,
		RunID:          runID,
	}
	if _, err := c.conversations.AddMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("persist message: %w", err)
	}

	started := &Started{
		ConversationID: convID,
		MessageID:      messageID,
		RunID:          runID,
		StreamURL:      StreamURL(runID),
	}
	state := graph.NewState(runID, convID, messageID, content, history)
	if err := c.schedule(started, userID, state, nil); err != nil {
		return nil, err
	}
	return started, nil
}

// Resume consumes the user's permission decision for a suspended run
// and schedules its continuation under a fresh stream with the same
// run ID. Each suspension accepts exactly one decision.
func (c *Controller) Resume(ctx context.Context, userID string, admin bool, conversationID string, req ResumeRequest) (*Started, error) {
	c.mu.Lock()
	s, ok := c.suspended[req.RunID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrNotSuspended
	}
	if s.state.ConversationID != conversationID || s.state.MessageID != req.MessageID {
		c.mu.Unlock()
		return nil, ErrResumeMismatch
	}
	if s.userID != userID && !admin {
		c.mu.Unlock()
		return nil, ErrForbidden
	}
	if cur, busy := c.active[conversationID]; busy {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: run %s", ErrRunInProgress, cur)
	}
	delete(c.suspended, req.RunID)
	c.active[conversationID] = req.RunID
	c.mu.Unlock()

	// The interrupted stream is terminal; clear any buffer a client
	// never drained before reusing the run ID.
	c.streams.Close(req.RunID)

	started := &Started{
		ConversationID: conversationID,
		MessageID:      req.MessageID,
		RunID:          req.RunID,
		StreamURL:      StreamURL(req.RunID),
	}
	approved := req.Approved
	if err := c.schedule(started, s.userID, s.state, &approved); err != nil {
		c.release(conversationID, req.RunID)
		c.mu.Lock()
		c.suspended[req.RunID] = s
		c.mu.Unlock()
		return nil, err
	}
	c.logger.Info(ctx, "run resuming",
		"run_id", req.RunID,
		"conversation_id", conversationID,
		"approved", req.Approved,
	)
	return started, nil
}

// Suspended reports whether the run is waiting on a permission
// decision.
func (c *Controller) Suspended(runID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.suspended[runID]
	return ok
}

// Busy reports whether the conversation has a run in flight.
func (c *Controller) Busy(conversationID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[conversationID]
	return ok
}

// DropConversation forgets suspended runs belonging to a deleted
// conversation. Their gated tool calls are never executed.
func (c *Controller) DropConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for runID, s := range c.suspended {
		if s.state.ConversationID == conversationID {
			delete(c.suspended, runID)
		}
	}
}

// StreamURL returns the SSE path for a run.
func StreamURL(runID string) string {
	return "/api/v1/stream/" + runID
}

// resolveConversation loads the target conversation, creating it when
// the request names a new or absent ID. Created conversations belong
// to the requesting user.
func (c *Controller) resolveConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	if id == "" {
		return c.conversations.Create(ctx, &models.Conversation{OwnerUserID: userID})
	}
	conv, err := c.conversations.Get(ctx, id)
	if errors.Is(err, conversations.ErrConversationNotFound) {
		return c.conversations.Create(ctx, &models.Conversation{ID: id, OwnerUserID: userID})
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return conv, nil
}

func canAccess(conv *models.Conversation, userID string, admin bool) bool {
	return admin || conv.OwnerUserID == "" || conv.OwnerUserID == userID
}

// acquire takes the conversation's run slot.
func (c *Controller) acquire(convID, runID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, busy := c.active[convID]; busy {
		return fmt.Errorf("%w: run %s", ErrRunInProgress, cur)
	}
	c.active[convID] = runID
	return nil
}

// release frees the conversation's run slot if this run still holds it.
func (c *Controller) release(convID, runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[convID] == runID {
		delete(c.active, convID)
	}
}

// schedule creates the run's event buffer and hands execution to the
// task pool. approved is nil for a fresh run and carries the user's
// decision for a resumed one.
func (c *Controller) schedule(st *Started, userID string, state *graph.State, approved *bool) error {
	if err := c.streams.Create(st.RunID); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	err := c.tasks.Submit(st.RunID, func(taskCtx context.Context) {
		c.run(taskCtx, st, userID, state, approved)
	})
	if err != nil {
		c.streams.Close(st.RunID)
		return fmt.Errorf("schedule run: %w", err)
	}
	return nil
}

// run drives the graph for one run inside the task pool and settles
// the outcome: persist and complete, suspend on a permission
// interrupt, or report an error. Exactly one terminal event lands on
// the stream.
func (c *Controller) run(ctx context.Context, st *Started, userID string, state *graph.State, approved *bool) {
	start := time.Now()
	if c.metrics != nil {
		c.metrics.RunStarted()
	}

	var (
		out *graph.Outcome
		err error
	)
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.TraceRun(ctx, st.RunID, st.ConversationID)
		span.SetAttributes(attribute.Bool("run.resumed", approved != nil))
		defer func() {
			c.tracer.RecordError(span, err)
			span.End()
		}()
	}
	ctx = observability.WithRunID(observability.WithConversationID(ctx, st.ConversationID), st.RunID)

	// A suspension hands the conversation slot over to Resume; every
	// other exit, panics included, frees it here.
	handedOff := false
	defer func() {
		if !handedOff {
			c.release(st.ConversationID, st.RunID)
		}
	}()

	c.streams.Push(st.RunID, models.MetadataEvent(st.ConversationID, st.MessageID, st.RunID))

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.Streams.Timeout)
	defer cancel()

	g := graph.New(c.agents.Current(), c.cfg.Agents.MaxSteps, func(ev models.RunEvent) bool {
		return c.streams.Push(st.RunID, ev)
	}, c.logger, c.metrics)

	if approved == nil {
		out, err = g.Run(runCtx, state)
	} else {
		out, err = g.Resume(runCtx, state, *approved)
	}

	switch {
	case err != nil:
		c.finishError(ctx, st, err, start)
	case out.Interrupted:
		c.suspend(ctx, st, userID, state, out)
		handedOff = true
		c.finishRun("interrupted", start)
	default:
		c.finishComplete(ctx, st, out, start)
	}
}

// suspend terminates the stream with the interrupt, then stashes the
// interrupted state and frees the conversation slot in one step. The
// terminal event must land before the suspension is visible: a Resume
// recycles the run's buffer, and a push after that would terminate the
// resumed stream with the stale interrupt. Freeing the slot means the
// user can keep talking on other branches while the decision is
// pending.
func (c *Controller) suspend(ctx context.Context, st *Started, userID string, state *graph.State, out *graph.Outcome) {
	data := map[string]any{
		"run_id":     st.RunID,
		"message_id": st.MessageID,
	}
	if p := out.Pending; p != nil {
		data["agent"] = p.FromAgent
		data["tool"] = p.ToolName
		data["params"] = p.Params
		data["permission_level"] = string(p.Level)
	}
	c.streams.Push(st.RunID, models.InterruptedEvent("permission", data, out.Metrics))

	c.mu.Lock()
	if c.active[st.ConversationID] == st.RunID {
		delete(c.active, st.ConversationID)
	}
	c.suspended[st.RunID] = &suspendedRun{state: state, userID: userID}
	c.mu.Unlock()

	c.logger.Info(ctx, "run suspended on permission",
		"run_id", st.RunID,
		"conversation_id", st.ConversationID,
	)
}

// finishComplete persists the final response and then emits the
// terminal complete event, in that order: a client that sees complete
// may immediately branch from the message and must find the response
// on it.
func (c *Controller) finishComplete(ctx context.Context, st *Started, out *graph.Outcome, start time.Time) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := c.conversations.UpdateResponse(persistCtx, st.MessageID, out.FinalResponse); err != nil {
		c.finishError(ctx, st, fmt.Errorf("persist final response: %w", err), start)
		return
	}
	c.streams.Push(st.RunID, models.CompleteEvent(out.FinalResponse, out.Metrics))
	c.finishRun("completed", start)
	c.logger.Info(ctx, "run completed",
		"run_id", st.RunID,
		"conversation_id", st.ConversationID,
		"duration_ms", time.Since(start).Milliseconds(),
		"llm_calls", out.Metrics.LLMCalls,
		"tool_calls", out.Metrics.ToolCalls,
	)
}

// finishError terminates the stream with an error event. Raw error
// text leaves the process only in debug mode.
func (c *Controller) finishError(ctx context.Context, st *Started, err error, start time.Time) {
	c.logger.Error(ctx, "run failed",
		"run_id", st.RunID,
		"conversation_id", st.ConversationID,
		"error", err,
	)
	if c.metrics != nil {
		c.metrics.RecordError("controller", "run_failed")
	}
	c.streams.Push(st.RunID, models.ErrorEvent(c.publicError(err)))
	c.finishRun("error", start)
}

func (c *Controller) finishRun(status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.RunFinished(status, time.Since(start).Seconds())
	}
}

func (c *Controller) publicError(err error) string {
	if c.cfg.Debug {
		return err.Error()
	}
	return "Internal server error"
}
