package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/artifactflow/artifactflow/pkg/models"
)

// ScriptedTurn is one canned completion for a ScriptedProvider.
type ScriptedTurn struct {
	// Content is streamed in two pieces to exercise accumulation.
	Content string

	// Reasoning is streamed ahead of Content when set.
	Reasoning string

	// Usage reported on the final chunk. Nil synthesizes a small one.
	Usage *models.TokenUsage

	// Err is returned from Complete before any streaming.
	Err error

	// StreamErr is delivered mid-stream after Content.
	StreamErr error
}

// ScriptedProvider replays canned turns in order and records every
// request it sees. Tests drive it directly; the keyless "scripted"
// dev provider wraps one in loop mode.
type ScriptedProvider struct {
	name string

	mu       sync.Mutex
	turns    []ScriptedTurn
	next     int
	loop     bool
	requests []*Request
}

// NewScriptedProvider builds a provider named name that replays turns.
func NewScriptedProvider(name string, turns ...ScriptedTurn) *ScriptedProvider {
	return &ScriptedProvider{name: name, turns: turns}
}

// Append adds turns to the end of the script.
func (s *ScriptedProvider) Append(turns ...ScriptedTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turns...)
}

// Loop replays the script from the start once exhausted instead of
// failing.
func (s *ScriptedProvider) Loop() *ScriptedProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loop = true
	return s
}

func (s *ScriptedProvider) Name() string {
	return s.name
}

func (s *ScriptedProvider) Complete(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	s.mu.Lock()
	recorded := *req
	recorded.Messages = append([]Message(nil), req.Messages...)
	s.requests = append(s.requests, &recorded)

	if s.next >= len(s.turns) {
		if s.loop && len(s.turns) > 0 {
			s.next = 0
		} else {
			n := len(s.requests)
			s.mu.Unlock()
			return nil, fmt.Errorf("scripted: no turn for request %d", n)
		}
	}
	turn := s.turns[s.next]
	s.next++
	s.mu.Unlock()

	if turn.Err != nil {
		return nil, turn.Err
	}

	ch := make(chan *Chunk)
	go func() {
		defer close(ch)

		send := func(c *Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if turn.Reasoning != "" {
			if !send(&Chunk{Reasoning: turn.Reasoning}) {
				return
			}
		}
		for _, piece := range splitScript(turn.Content) {
			if !send(&Chunk{Content: piece}) {
				return
			}
		}
		if turn.StreamErr != nil {
			send(&Chunk{Err: turn.StreamErr})
			return
		}

		usage := turn.Usage
		if usage == nil {
			usage = &models.TokenUsage{InputTokens: 10, OutputTokens: 1 + len(turn.Content)/4}
		}
		send(&Chunk{Usage: usage, Done: true})
	}()

	return ch, nil
}

// Requests returns a copy of every request seen so far.
func (s *ScriptedProvider) Requests() []*Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Request(nil), s.requests...)
}

// LastRequest returns the most recent request, or nil.
func (s *ScriptedProvider) LastRequest() *Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

// Remaining reports how many scripted turns are left unplayed.
func (s *ScriptedProvider) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.turns) - s.next
}

func splitScript(content string) []string {
	if content == "" {
		return nil
	}
	if len(content) < 2 {
		return []string{content}
	}
	mid := len(content) / 2
	return []string{content[:mid], content[mid:]}
}
