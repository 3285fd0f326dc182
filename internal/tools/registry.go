package tools

import "sort"

// Registry manages all registered tools.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools sorted by name.
func (r *Registry) All() []Tool {
	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name() < result[j].Name()
	})
	return result
}

// ToSchemas converts all tools to a list of schema maps.
// Format: [{"name": "...", "description": "...", "input_schema": {"type":"object","properties":{...}}}]
func (r *Registry) ToSchemas() []map[string]any {
	tools := r.All()
	schemas := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		schemas = append(schemas, map[string]any{
			"name":        t.Name(),
			"description": t.Description(),
			"input_schema": map[string]any{
				"type":       "object",
				"properties": t.Parameters(),
			},
		})
	}
	return schemas
}

// DefaultRegistry creates a registry with the built-in read-only tools,
// all rooted at dir ("" means the current directory).
func DefaultRegistry(dir string) *Registry {
	r := NewRegistry()
	r.Register(&ReadFileTool{Dir: dir})
	r.Register(&ListDirTool{Dir: dir})
	r.Register(&GlobTool{Dir: dir})
	r.Register(&GrepTool{Dir: dir})
	r.Register(&CodeMapTool{Dir: dir})
	return r
}
