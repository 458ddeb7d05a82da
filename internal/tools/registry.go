package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

const (
	// MaxToolNameLength bounds tool names at registration and call time.
	MaxToolNameLength = 256

	// MaxToolParamsSize bounds the serialized parameter payload (10MB).
	MaxToolParamsSize = 10 << 20
)

// entry pairs a tool with its compiled parameter contract.
type entry struct {
	tool Tool
	spec *paramSpec
}

// Registry is the flat name->tool map populated at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds a tool. The name must be non-empty and unique, the
// permission level known, and the schema compilable.
func (r *Registry) Register(t Tool) error {
	name := t.Name()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("tool name is empty")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if !t.Permission().Valid() {
		return fmt.Errorf("tool %s: unknown permission level %q", name, t.Permission())
	}
	spec, err := newParamSpec(name, t.Schema())
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.entries[name] = &entry{tool: t, spec: spec}
	return nil
}

// RegisterAll registers every tool, stopping at the first failure.
func (r *Registry) RegisterAll(ts ...Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Toolkit builds an immutable view of the named tools for one agent.
// Unknown names fail so config typos surface at startup.
func (r *Registry) Toolkit(names ...string) (*Toolkit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kit := &Toolkit{
		order:   make([]string, 0, len(names)),
		entries: make(map[string]*entry, len(names)),
	}
	for _, name := range names {
		if _, dup := kit.entries[name]; dup {
			continue
		}
		e, ok := r.entries[name]
		if !ok {
			return nil, fmt.Errorf("tool %s not registered", name)
		}
		kit.order = append(kit.order, name)
		kit.entries[name] = e
	}
	return kit, nil
}

// Toolkit is an immutable subset of registry tools bound to one agent.
// The zero value is an empty toolkit.
type Toolkit struct {
	order   []string
	entries map[string]*entry
}

// Len returns the number of tools in the kit.
func (k *Toolkit) Len() int {
	return len(k.order)
}

// Has reports whether the kit contains the named tool.
func (k *Toolkit) Has(name string) bool {
	_, ok := k.entries[name]
	return ok
}

// Names returns the tool names in registration order.
func (k *Toolkit) Names() []string {
	out := make([]string, len(k.order))
	copy(out, k.order)
	return out
}

// Get returns a tool by name.
func (k *Toolkit) Get(name string) (Tool, bool) {
	e, ok := k.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// Permission returns the named tool's permission level.
func (k *Toolkit) Permission(name string) (PermissionLevel, bool) {
	e, ok := k.entries[name]
	if !ok {
		return "", false
	}
	return e.tool.Permission(), true
}

// Validate checks params against the named tool's schema without
// executing it.
func (k *Toolkit) Validate(name string, params map[string]any) error {
	e, ok := k.entries[name]
	if !ok {
		return fmt.Errorf("tool not found: %s", name)
	}
	return e.spec.validate(params)
}

// Execute validates params and runs the named tool. Lookup and
// validation failures come back as error Results so the LLM can react;
// a non-nil error is reserved for infrastructure failures.
func (k *Toolkit) Execute(ctx context.Context, name string, params map[string]any) (*Result, error) {
	if len(name) > MaxToolNameLength {
		return Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength), nil
	}
	e, ok := k.entries[name]
	if !ok {
		return Errorf("tool not found: %s", name), nil
	}
	if err := e.spec.validate(params); err != nil {
		return Errorf("Invalid parameters: %v", err), nil
	}
	return e.tool.Execute(ctx, params)
}

// Describe renders the tool list and invocation protocol for a system
// prompt. Empty kits render nothing.
func (k *Toolkit) Describe() string {
	if len(k.order) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Available tools:\n")
	for _, name := range k.order {
		e := k.entries[name]
		fmt.Fprintf(&b, "\n**%s**\n%s\n", name, e.tool.Description())
		params := e.spec.describeParams()
		if len(params) == 0 {
			continue
		}
		b.WriteString("Parameters:\n")
		for _, p := range params {
			required := ""
			if p.Required {
				required = " (required)"
			}
			typ := p.Type
			if typ == "" {
				typ = "any"
			}
			fmt.Fprintf(&b, "  - %s (%s)%s: %s\n", p.Name, typ, required, p.Description)
		}
	}
	b.WriteString(invocationProtocol)
	return b.String()
}

const invocationProtocol = `
To invoke a tool, emit exactly one block in this form and then stop:

<tool_call>
  <name>tool_name</name>
  <params>
    <param_name><![CDATA[value]]></param_name>
  </params>
</tool_call>

Wrap every value in CDATA. Encode list values as nested <item> children
inside the parameter element. At most one tool call per response; any
text after the first call is ignored.
`
