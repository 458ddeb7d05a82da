package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/artifactflow/artifactflow/internal/config"
	"github.com/artifactflow/artifactflow/internal/llm"
	"github.com/artifactflow/artifactflow/internal/observability"
	"github.com/artifactflow/artifactflow/internal/tools"
)

const watchDebounce = 250 * time.Millisecond

// Roster is an immutable agent set: exactly one lead plus zero or more
// subagents. Reloads build a fresh roster; runs capture one at start so
// a mid-run reload never mixes two configurations.
type Roster struct {
	lead   *Agent
	byName map[string]*Agent
	order  []string
}

// Lead returns the coordinating agent.
func (ro *Roster) Lead() *Agent {
	return ro.lead
}

// Get returns the named agent.
func (ro *Roster) Get(name string) (*Agent, bool) {
	a, ok := ro.byName[name]
	return a, ok
}

// Subagents returns all non-lead agents in definition order.
func (ro *Roster) Subagents() []*Agent {
	subs := make([]*Agent, 0, len(ro.order))
	for _, name := range ro.order {
		if a := ro.byName[name]; !a.IsLead() {
			subs = append(subs, a)
		}
	}
	return subs
}

// Names lists all agent names in definition order.
func (ro *Roster) Names() []string {
	names := make([]string, len(ro.order))
	copy(names, ro.order)
	return names
}

// Len returns the number of agents in the roster.
func (ro *Roster) Len() int {
	return len(ro.order)
}

// Registry hands out the current roster and swaps it atomically on
// reload. A failed reload keeps the previous roster serving.
type Registry struct {
	loader *Loader
	file   string

	mu     sync.RWMutex
	roster *Roster

	watchMu     sync.Mutex
	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchWg     sync.WaitGroup
}

// Current returns the roster as loaded now.
func (r *Registry) Current() *Roster {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roster
}

// Lead returns the current lead agent.
func (r *Registry) Lead() *Agent {
	return r.Current().Lead()
}

// Get returns the named agent from the current roster.
func (r *Registry) Get(name string) (*Agent, bool) {
	return r.Current().Get(name)
}

// Names lists the current roster's agent names.
func (r *Registry) Names() []string {
	return r.Current().Names()
}

func (r *Registry) swap(ro *Roster) {
	r.mu.Lock()
	r.roster = ro
	r.mu.Unlock()
}

// StartWatching reloads the roster whenever the definitions file
// changes. It is a no-op for rosters defined inline. The watch covers
// the file's directory so editors that replace-by-rename still
// trigger a reload.
func (r *Registry) StartWatching(ctx context.Context) error {
	if r.file == "" {
		return nil
	}

	r.watchMu.Lock()
	if r.watcher != nil {
		r.watchMu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		r.watchMu.Unlock()
		return err
	}
	if err := watcher.Add(filepath.Dir(r.file)); err != nil {
		watcher.Close()
		r.watchMu.Unlock()
		return fmt.Errorf("watch %s: %w", r.file, err)
	}
	r.watcher = watcher
	watchCtx, cancel := context.WithCancel(ctx)
	r.watchCancel = cancel
	r.watchMu.Unlock()

	r.watchWg.Add(1)
	go r.watchLoop(watchCtx, watcher)
	return nil
}

// Close stops the file watcher if one is running.
func (r *Registry) Close() error {
	r.watchMu.Lock()
	if r.watchCancel != nil {
		r.watchCancel()
		r.watchCancel = nil
	}
	watcher := r.watcher
	r.watcher = nil
	r.watchMu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	r.watchWg.Wait()
	return nil
}

func (r *Registry) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer r.watchWg.Done()

	base := filepath.Base(r.file)

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			r.reload(context.Background())
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.loader.logger.Warn(ctx, "agents file watch error", "error", err)
		}
	}
}

func (r *Registry) reload(ctx context.Context) {
	defs, err := ReadDefinitions(r.file)
	if err != nil {
		r.loader.logger.Warn(ctx, "agents file reload failed, keeping previous roster",
			"file", r.file, "error", err)
		return
	}
	roster, err := r.loader.build(defs)
	if err != nil {
		r.loader.logger.Warn(ctx, "agents file rejected, keeping previous roster",
			"file", r.file, "error", err)
		return
	}
	r.swap(roster)
	r.loader.logger.Info(ctx, "agent roster reloaded",
		"file", r.file, "agents", roster.Len())
}

// Loader builds agent rosters from configuration, resolving providers
// and toolkits up front so a bad definition fails at load time instead
// of mid-run.
type Loader struct {
	llms   *llm.Registry
	tools  *tools.Registry
	llmCfg config.LLMConfig
	logger *observability.Logger
}

// NewLoader wires a loader to the provider and tool registries.
func NewLoader(llms *llm.Registry, toolReg *tools.Registry, llmCfg config.LLMConfig, logger *observability.Logger) *Loader {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Loader{llms: llms, tools: toolReg, llmCfg: llmCfg, logger: logger}
}

// Load builds the initial roster. When cfg.File is set it wins over
// inline definitions and the returned registry supports StartWatching.
func (l *Loader) Load(cfg config.AgentsConfig) (*Registry, error) {
	defs := cfg.Definitions
	file := ""
	if cfg.File != "" {
		file = cfg.File
		fileDefs, err := ReadDefinitions(cfg.File)
		if err != nil {
			return nil, err
		}
		defs = fileDefs
	}

	roster, err := l.build(defs)
	if err != nil {
		return nil, err
	}

	reg := &Registry{loader: l, roster: roster}
	if cfg.Watch {
		reg.file = file
	}
	return reg, nil
}

// ReadDefinitions parses an agent definitions file. The file holds
// either a definitions: list or a bare top-level list.
func ReadDefinitions(path string) ([]config.AgentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agents file: %w", err)
	}

	var wrapped struct {
		Definitions []config.AgentDefinition `yaml:"definitions"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Definitions) > 0 {
		return wrapped.Definitions, nil
	}

	var bare []config.AgentDefinition
	if err := yaml.Unmarshal(data, &bare); err != nil {
		return nil, fmt.Errorf("parse agents file %s: %w", path, err)
	}
	return bare, nil
}

func (l *Loader) build(defs []config.AgentDefinition) (*Roster, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("no agents defined")
	}

	hasSubagents := false
	for _, def := range defs {
		if def.Role != config.AgentRoleLead {
			hasSubagents = true
		}
	}

	roster := &Roster{
		byName: make(map[string]*Agent, len(defs)),
		order:  make([]string, 0, len(defs)),
	}
	for i, def := range defs {
		agent, err := l.buildAgent(def, hasSubagents)
		if err != nil {
			label := strings.TrimSpace(def.Name)
			if label == "" {
				label = fmt.Sprintf("#%d", i+1)
			}
			return nil, fmt.Errorf("agent %s: %w", label, err)
		}
		if _, dup := roster.byName[agent.Name]; dup {
			return nil, fmt.Errorf("duplicate agent name %q", agent.Name)
		}
		roster.byName[agent.Name] = agent
		roster.order = append(roster.order, agent.Name)
		if agent.IsLead() {
			if roster.lead != nil {
				return nil, fmt.Errorf("multiple lead agents: %s and %s", roster.lead.Name, agent.Name)
			}
			roster.lead = agent
		}
	}
	if roster.lead == nil {
		return nil, fmt.Errorf("no lead agent defined")
	}
	return roster, nil
}

func (l *Loader) buildAgent(def config.AgentDefinition, hasSubagents bool) (*Agent, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	role := def.Role
	if role == "" {
		role = config.AgentRoleSubagent
	}
	if role != config.AgentRoleLead && role != config.AgentRoleSubagent {
		return nil, fmt.Errorf("unknown role %q", def.Role)
	}

	providerName := def.Provider
	if providerName == "" {
		providerName = l.llms.DefaultName()
	}
	provider, err := l.llms.Get(providerName)
	if err != nil {
		return nil, err
	}

	model := def.Model
	if model == "" {
		model = l.llmCfg.Providers[providerName].DefaultModel
	}
	if model == "" {
		return nil, fmt.Errorf("no model: set model on the agent or default_model on provider %q", providerName)
	}

	temperature := 0.0
	if def.Temperature != nil {
		temperature = *def.Temperature
		if temperature < 0 || temperature > 2 {
			return nil, fmt.Errorf("temperature %v out of range [0, 2]", temperature)
		}
	}

	maxRounds := def.MaxToolRounds
	switch {
	case maxRounds < 0:
		return nil, fmt.Errorf("max_tool_rounds must not be negative")
	case maxRounds == 0:
		maxRounds = DefaultMaxToolRounds
	}

	toolNames := make([]string, 0, len(def.Tools)+1)
	for _, tn := range def.Tools {
		if tn == tools.SubagentToolName && role != config.AgentRoleLead {
			return nil, fmt.Errorf("%s is reserved for the lead agent", tools.SubagentToolName)
		}
		toolNames = append(toolNames, tn)
	}
	if role == config.AgentRoleLead && hasSubagents && !containsName(toolNames, tools.SubagentToolName) {
		toolNames = append(toolNames, tools.SubagentToolName)
	}
	kit, err := l.tools.Toolkit(toolNames...)
	if err != nil {
		return nil, err
	}

	retry := llm.RetryPolicy{
		MaxRetries: l.llmCfg.MaxRetries,
		BaseDelay:  l.llmCfg.RetryBaseDelay,
	}
	if def.MaxRetries != nil {
		retry.MaxRetries = *def.MaxRetries
	}
	if def.RetryBaseDelay > 0 {
		retry.BaseDelay = def.RetryBaseDelay
	}

	return &Agent{
		Name:          name,
		Description:   strings.TrimSpace(def.Description),
		Role:          role,
		Provider:      provider,
		Model:         model,
		Temperature:   temperature,
		MaxTokens:     def.MaxTokens,
		MaxToolRounds: maxRounds,
		Toolkit:       kit,
		SystemPrompt:  strings.TrimSpace(def.SystemPrompt),
		Retry:         retry,
	}, nil
}

func containsName(names []string, want string) bool {
	for _, n := range names {
		if n == want {
			return true
		}
	}
	return false
}
