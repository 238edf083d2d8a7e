package tools

import (
	"fmt"

	"github.com/alucardeht/sqlgate-mcp/internal/types"
)

const (
	MethodToolsList     = "tools.list"
	ToolSchemaDescribe  = "schema.describe"
	ToolExecuteReadOnly = "sql.execute_readonly"

	ParamQuery = "query"
)

// Registry is the immutable tool catalog advertised by tools.list.
type Registry struct {
	tools  []types.ToolDefinition
	byName map[string]int
}

func NewRegistry(defs ...types.ToolDefinition) (*Registry, error) {
	r := &Registry{
		tools:  make([]types.ToolDefinition, 0, len(defs)),
		byName: make(map[string]int, len(defs)),
	}

	for _, def := range defs {
		if def.Name == "" {
			return nil, fmt.Errorf("tool name is required")
		}
		if _, exists := r.byName[def.Name]; exists {
			return nil, fmt.Errorf("tool already registered: %s", def.Name)
		}
		r.byName[def.Name] = len(r.tools)
		r.tools = append(r.tools, copyDefinition(def))
	}

	return r, nil
}

func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultTools()...)
	if err != nil {
		panic(err)
	}
	return r
}

func DefaultTools() []types.ToolDefinition {
	return []types.ToolDefinition{
		{
			Name:        ToolSchemaDescribe,
			Description: "Returns database schema information including tables, columns, data types, and foreign key relationships.",
			InputSchema: []types.ToolParameter{},
			Annotations: ReadOnlyAnnotations(),
		},
		{
			Name:        ToolExecuteReadOnly,
			Description: "Executes read-only SELECT queries against the database. Rejects DML/DDL statements. Returns results, row count, and execution timing.",
			InputSchema: []types.ToolParameter{
				{
					Name:        ParamQuery,
					Type:        "string",
					Description: "The SELECT query to execute",
					Required:    true,
				},
			},
			Annotations: ReadOnlyAnnotations(),
		},
	}
}

// List returns a fresh copy of the catalog. Callers may mutate it freely.
func (r *Registry) List() types.ToolsListResponse {
	out := make([]types.ToolDefinition, len(r.tools))
	for i, def := range r.tools {
		out[i] = copyDefinition(def)
	}
	return types.ToolsListResponse{Tools: out}
}

func (r *Registry) Get(name string) (types.ToolDefinition, bool) {
	i, ok := r.byName[name]
	if !ok {
		return types.ToolDefinition{}, false
	}
	return copyDefinition(r.tools[i]), true
}

func (r *Registry) Names() []string {
	names := make([]string, len(r.tools))
	for i, def := range r.tools {
		names[i] = def.Name
	}
	return names
}

func copyDefinition(def types.ToolDefinition) types.ToolDefinition {
	params := make([]types.ToolParameter, len(def.InputSchema))
	copy(params, def.InputSchema)
	def.InputSchema = params

	if def.Annotations != nil {
		annotations := make(map[string]bool, len(def.Annotations))
		for k, v := range def.Annotations {
			annotations[k] = v
		}
		def.Annotations = annotations
	}
	return def
}
