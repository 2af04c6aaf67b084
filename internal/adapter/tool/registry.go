package tool

import (
	"fmt"
	"log/slog"
	"sync"

	"skillagent/internal/domain"
)

// Registry holds named tools in registration order.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]domain.Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		tools:  make(map[string]domain.Tool),
		logger: logger,
	}
}

// Register adds a tool. Returns error if name already registered.
// The tool is wrapped with schema validation; if its schema fails to
// compile it is registered without validation and a warning is logged.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}

	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.logger.Warn("schema validation disabled for tool",
			"tool", name, "error", err)
	} else {
		t = wrapped
	}

	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// RegisterAll registers each tool, stopping at the first failure.
func (r *Registry) RegisterAll(tools ...domain.Tool) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// List returns all registered tools in registration order.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Catalog returns an immutable snapshot of the registered tools. Later
// registrations do not affect a catalog already taken.
func (r *Registry) Catalog() *Catalog {
	return NewCatalog(r.List()...)
}

// Catalog is a read-only set of tools handed to one agent run.
type Catalog struct {
	tools   map[string]domain.Tool
	schemas []domain.ToolSchema
}

var _ domain.ToolCatalog = (*Catalog)(nil)

// NewCatalog builds a catalog over tools. On duplicate names the first wins.
func NewCatalog(tools ...domain.Tool) *Catalog {
	c := &Catalog{
		tools:   make(map[string]domain.Tool, len(tools)),
		schemas: make([]domain.ToolSchema, 0, len(tools)),
	}
	for _, t := range tools {
		name := t.Name()
		if _, dup := c.tools[name]; dup {
			continue
		}
		c.tools[name] = t
		c.schemas = append(c.schemas, t.Schema())
	}
	return c
}

// Get implements domain.ToolCatalog.
func (c *Catalog) Get(name string) (domain.Tool, error) {
	t, ok := c.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Catalog.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

// Schemas implements domain.ToolCatalog. The returned slice is a copy.
func (c *Catalog) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, len(c.schemas))
	copy(out, c.schemas)
	return out
}

// Len returns the number of tools in the catalog.
func (c *Catalog) Len() int { return len(c.schemas) }
