// Package tools exposes category operations as protocol-neutral tools for
// LLM agents: a name, a description, a JSON Schema for the arguments, and a
// handler. Protocol adapters (MCP, function calling) wrap a Registry.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/invopop/jsonschema"
	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
)

// Handler executes a tool call with raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool describes one callable tool.
type Tool struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"inputSchema"`
	Handler     Handler            `json:"-"`
}

// NewTool builds a tool whose input schema is reflected from A. Arguments
// are decoded strictly: unknown fields are rejected.
func NewTool[A any](name, description string, fn func(ctx context.Context, args A) (any, error)) Tool {
	handler := func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args A
		if len(bytes.TrimSpace(raw)) > 0 {
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&args); err != nil {
				return nil, otcs.NewOTCSError(otcs.ErrorTypeValidation, otcs.ErrCodeInvalidArguments, "invalid arguments: "+err.Error()).
					WithDetail("tool", name)
			}
		}
		return fn(ctx, args)
	}
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: reflectInputSchema[A](),
		Handler:     handler,
	}
}

func reflectInputSchema[A any]() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(A))
	s.Version = ""
	return s
}

// Registry dispatches tool calls by name.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		r.Register(tool)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name] = tool
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []Tool {
	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Call invokes the named tool.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, otcs.NewOTCSError(otcs.ErrorTypeValidation, otcs.ErrCodeUnknownTool, "unknown tool: "+name)
	}
	zap.S().Debugw("tool call", "tool", name)
	result, err := tool.Handler(ctx, args)
	if err != nil {
		zap.S().Infow("tool call failed", "tool", name, "error", err)
	}
	return result, err
}
