package tooling

import (
	"errors"
	"fmt"
	"strings"

	"backlogagent/internal/domain"
)

var (
	// ErrUnknownTool is returned by Resolve for names that were never registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrDuplicateTool is returned when a name is registered twice.
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")
)

// Entry is a registered tool: its spec, the name the remote executor knows it
// by, the arguments bound at startup, and the compiled input schema.
type Entry struct {
	Spec       domain.ToolSpec
	RemoteName string
	Bound      map[string]any
	schema     *CompiledSchema
}

// ToolRegistry holds tools keyed by name, in registration order. It is
// written only during startup; after Freeze it is read-only and safe for
// concurrent readers without locking.
type ToolRegistry struct {
	order  []string
	tools  map[string]*Entry
	frozen bool
}

// NewToolRegistry returns an empty, ready-to-use registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*Entry)}
}

// Register adds a tool under spec.Name. remoteName defaults to spec.Name.
// bound holds fixed arguments merged into every call (e.g. owner/repo).
// Duplicate names are a configuration error and fail fast.
func (r *ToolRegistry) Register(spec domain.ToolSpec, remoteName string, bound map[string]any) error {
	if r.frozen {
		return fmt.Errorf("register %q: %w", spec.Name, ErrRegistryFrozen)
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New("tool name must not be empty")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q: %w", name, ErrDuplicateTool)
	}
	if err := checkParams(spec.Params); err != nil {
		return fmt.Errorf("tool %q: %w", name, err)
	}
	if remoteName == "" {
		remoteName = name
	}
	schema, err := CompileSchema(spec)
	if err != nil {
		return fmt.Errorf("tool %q: %w", name, err)
	}

	spec.Name = name
	spec.Params = append([]domain.ParamSpec(nil), spec.Params...)
	fixed := make(map[string]any, len(bound))
	for k, v := range bound {
		fixed[k] = v
	}
	r.tools[name] = &Entry{Spec: spec, RemoteName: remoteName, Bound: fixed, schema: schema}
	r.order = append(r.order, name)
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (r *ToolRegistry) MustRegister(spec domain.ToolSpec, remoteName string, bound map[string]any) {
	if err := r.Register(spec, remoteName, bound); err != nil {
		panic("tooling: " + err.Error())
	}
}

// Freeze ends the registration phase.
func (r *ToolRegistry) Freeze() { r.frozen = true }

// Resolve returns the entry registered under name.
func (r *ToolRegistry) Resolve(name string) (*Entry, error) {
	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return e, nil
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int { return len(r.order) }

// Catalog returns the registered specs in registration order.
func (r *ToolRegistry) Catalog() []domain.ToolSpec {
	out := make([]domain.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		spec := r.tools[name].Spec
		spec.Params = append([]domain.ParamSpec(nil), spec.Params...)
		out = append(out, spec)
	}
	return out
}

// Definitions renders the catalog for an engine's function-calling API, in
// registration order.
func (r *ToolRegistry) Definitions() []domain.ToolDefinition {
	out := make([]domain.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		e := r.tools[name]
		out = append(out, domain.ToolDefinition{
			Name:        e.Spec.Name,
			Description: e.Spec.Description,
			InputSchema: e.schema.Source(),
		})
	}
	return out
}

func checkParams(params []domain.ParamSpec) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("parameter name must not be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("parameter %q declared twice", p.Name)
		}
		seen[p.Name] = true
		if !validTypes[p.Type] {
			return fmt.Errorf("parameter %q: unsupported type %q", p.Name, p.Type)
		}
	}
	return nil
}
