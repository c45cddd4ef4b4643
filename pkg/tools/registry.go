// Package tools provides the tool definition and registry.
package tools

import (
	"context"
	"sort"

	"github.com/thomasrohde/guardeval/pkg/evaluator"
)

// Def represents a tool available to programs.
type Def struct {
	Name         string
	Mode         string // "read" or "effect"
	CapabilityID string
	Execute      func(ctx context.Context, args *evaluator.Record) (evaluator.Value, error)
}

// Registry holds registered tools.
type Registry struct {
	tools map[string]*Def
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]*Def),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Def) {
	r.tools[tool.Name] = &tool
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Def {
	return r.tools[name]
}

// All returns all registered tools.
func (r *Registry) All() map[string]*Def {
	return r.tools
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Map converts the registry into the form expected by evaluator.ExecOptions.
func (r *Registry) Map() map[string]*evaluator.ToolDef {
	out := make(map[string]*evaluator.ToolDef, len(r.tools))
	for name, t := range r.tools {
		out[name] = &evaluator.ToolDef{
			Name:         t.Name,
			Mode:         t.Mode,
			CapabilityID: t.CapabilityID,
			Execute:      t.Execute,
		}
	}
	return out
}

// RegisterDefaults adds all built-in tools.
func RegisterDefaults(r *Registry) {
	r.Register(fsReadTool())
	r.Register(fsWriteTool())
	r.Register(fsListTool())
	r.Register(fsExistsTool())
	r.Register(httpGetTool(nil))
}

// argError reports a malformed tool argument as g:TOOL_ARGS.
func argError(format string, a ...any) error {
	return evaluator.Raise(evaluator.SeverityType, evaluator.CodeToolArgs, nil, format, a...)
}

func stringArg(args *evaluator.Record, tool, name string) (string, error) {
	v, _ := args.Get(name)
	s, ok := v.(evaluator.String)
	if !ok {
		return "", argError("%s requires a '%s' argument of type string", tool, name)
	}
	return s.Value, nil
}
