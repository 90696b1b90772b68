package tooling

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"backlogagent/internal/domain"
)

// catalogFile is the on-disk shape of a standalone tool catalog.
type catalogFile struct {
	Tools []domain.ToolConfig `yaml:"tools"`
}

// ParseCatalog decodes a YAML (or JSON, which is valid YAML) tool catalog.
func ParseCatalog(data []byte) ([]domain.ToolConfig, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid tool catalog: %w", err)
	}
	for i, t := range f.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool catalog entry %d: missing required field: name", i)
		}
		if t.Description == "" {
			return nil, fmt.Errorf("tool catalog entry %q: missing required field: description", t.Name)
		}
	}
	return f.Tools, nil
}

// LoadCatalogFile reads and parses a tool catalog from disk.
func LoadCatalogFile(path string) ([]domain.ToolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool catalog %q: %w", path, err)
	}
	tools, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tool catalog %q: %w", path, err)
	}
	return tools, nil
}

// SpecFromConfig converts a declared tool into a ToolSpec.
func SpecFromConfig(tc domain.ToolConfig) domain.ToolSpec {
	params := make([]domain.ParamSpec, len(tc.Params))
	for i, p := range tc.Params {
		if p.Type == "" {
			p.Type = "string"
		}
		params[i] = p
	}
	return domain.ToolSpec{Name: tc.Name, Description: tc.Description, Params: params}
}

// RegisterDeclared registers declared tools in order. Bound values are
// strings in configuration and are sent as such.
func RegisterDeclared(r *ToolRegistry, declared []domain.ToolConfig) error {
	for _, tc := range declared {
		var bound map[string]any
		if len(tc.Bind) > 0 {
			bound = make(map[string]any, len(tc.Bind))
			for k, v := range tc.Bind {
				bound[k] = v
			}
		}
		if err := r.Register(SpecFromConfig(tc), tc.RemoteName, bound); err != nil {
			return fmt.Errorf("declared tool: %w", err)
		}
	}
	return nil
}
