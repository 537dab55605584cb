package tools

import (
	"fmt"
	"strings"
	"sync"
)

// Factory creates a tool instance configured for a specific workspace context.
type Factory func(ctx Context) (Tool, error)

// Meta contains metadata about a tool for catalogue generation and discovery.
type Meta struct {
	Name string
	Doc  string
}

// toolDescriptor contains the factory and metadata for a tool.
type toolDescriptor struct {
	meta    Meta
	factory Factory
}

// immutableRegistry is the global, read-only tool registry. The built-in
// tools register in init(); callers may add extension tools via Register
// before the first Provider is created, after which the set is closed.
type immutableRegistry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]toolDescriptor
}

//nolint:gochecknoglobals // Factory pattern requires global registry
var globalRegistry = &immutableRegistry{
	tools: make(map[string]toolDescriptor),
}

// Register adds a tool factory to the global registry.
// Panics if called after the registry is sealed.
func Register(name string, factory Factory, meta Meta) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if globalRegistry.sealed {
		panic(fmt.Sprintf("tool registry sealed - cannot register tool '%s'", name))
	}

	globalRegistry.tools[name] = toolDescriptor{
		meta:    meta,
		factory: factory,
	}
}

// Seal prevents further tool registrations.
// Called automatically when the first Provider is created.
func Seal() {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	globalRegistry.sealed = true
}

// Provider creates and manages tool instances for one workspace context.
// Tools outside the allowlist do not exist as far as the loop is concerned.
type Provider struct {
	ctx     Context
	tools   map[string]Tool
	allowed []string
	mu      sync.Mutex
}

// NewProvider creates a Provider for the given workspace context and
// capability set. Automatically seals the global registry on first use.
func NewProvider(ctx Context, caps Capabilities) *Provider {
	Seal()

	return &Provider{
		ctx:     ctx,
		tools:   make(map[string]Tool),
		allowed: caps.AllowedTools(),
	}
}

// Get retrieves a tool instance, creating it lazily if needed.
func (p *Provider) Get(name string) (Tool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isAllowed(name) {
		return nil, fmt.Errorf("tool '%s' not allowed in this context", name)
	}

	if tool, ok := p.tools[name]; ok {
		return tool, nil
	}

	globalRegistry.mu.RLock()
	desc, exists := globalRegistry.tools[name]
	globalRegistry.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("tool '%s' not registered", name)
	}

	tool, err := desc.factory(p.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool '%s': %w", name, err)
	}

	p.tools[name] = tool
	return tool, nil
}

// List returns metadata for all allowed tools, in allowlist order.
func (p *Provider) List() []Meta {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	result := make([]Meta, 0, len(p.allowed))
	for _, name := range p.allowed {
		if desc, ok := globalRegistry.tools[name]; ok {
			result = append(result, desc.meta)
		}
	}
	return result
}

// Names returns the allowed tool names in catalogue order.
func (p *Provider) Names() []string {
	names := make([]string, len(p.allowed))
	copy(names, p.allowed)
	return names
}

// Catalogue returns the tool documentation block for the planner's system
// prompt: one line per allowed tool, in a stable order.
func (p *Provider) Catalogue() string {
	metas := p.List()
	if len(metas) == 0 {
		return "No tools available."
	}

	var doc strings.Builder
	for i := range metas {
		doc.WriteString("- ")
		doc.WriteString(metas[i].Doc)
		doc.WriteString("\n")
	}
	return strings.TrimRight(doc.String(), "\n")
}

func (p *Provider) isAllowed(name string) bool {
	for _, allowed := range p.allowed {
		if allowed == name {
			return true
		}
	}
	return false
}

// init registers the built-in tools using the factory pattern. Catalogue
// docs are taken from throwaway instances so each tool keeps its own
// documentation next to its implementation.
//
//nolint:gochecknoinits // Factory pattern requires init() for tool registration
func init() {
	Register(ToolListFiles, func(ctx Context) (Tool, error) {
		return NewListFilesTool(ctx), nil
	}, Meta{
		Name: ToolListFiles,
		Doc:  NewListFilesTool(Context{}).PromptDoc(),
	})

	Register(ToolReadFile, func(ctx Context) (Tool, error) {
		return NewReadFileTool(ctx), nil
	}, Meta{
		Name: ToolReadFile,
		Doc:  NewReadFileTool(Context{}).PromptDoc(),
	})

	Register(ToolWriteFile, func(ctx Context) (Tool, error) {
		return NewWriteFileTool(ctx), nil
	}, Meta{
		Name: ToolWriteFile,
		Doc:  NewWriteFileTool(Context{}).PromptDoc(),
	})

	Register(ToolRunTerminal, func(ctx Context) (Tool, error) {
		if ctx.Executor == nil {
			return nil, fmt.Errorf("run_terminal requires an executor")
		}
		return NewRunTerminalTool(ctx), nil
	}, Meta{
		Name: ToolRunTerminal,
		Doc:  NewRunTerminalTool(Context{}).PromptDoc(),
	})
}
