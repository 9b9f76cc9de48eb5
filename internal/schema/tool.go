package schema

import (
	"context"
	"encoding/json"
)

// BuiltinServerID is the sentinel serverId used for in-process tools.
const BuiltinServerID = "builtin"

// Tool is the interface all in-process (built-in) tools must satisfy.
// Remote tools are represented by ToolDescriptors and executed through the
// server manager instead.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema (as raw JSON bytes) for this tool's parameters.
	Parameters() json.RawMessage
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// ToolDescriptor is what the mediator advertises to callers: one tool as
// exposed by a connected server, or by the built-in adapter.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	ServerID    string         `json:"serverId"`
	Protocol    Protocol       `json:"protocol,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Keywords    []string       `json:"keywords,omitempty"`
	Priority    int            `json:"priority,omitempty"` // 1..3, 1 = core
}

// IsBuiltin reports whether the descriptor belongs to the built-in adapter.
func (d ToolDescriptor) IsBuiltin() bool { return d.ServerID == BuiltinServerID }
