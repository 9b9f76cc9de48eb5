package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/helixbridge/helixbridge/internal/builtin"
	"github.com/helixbridge/helixbridge/internal/registry"
	"github.com/helixbridge/helixbridge/internal/schema"
)

// TransportBuiltin tags execution records for in-process tools.
const TransportBuiltin = "built-in"

// ServerCaller is the slice of the server manager the router needs.
type ServerCaller interface {
	FindToolServer(name string) (string, bool)
	CallTool(ctx context.Context, serverID, name string, params map[string]any) (any, error)
	RemoteTools() []schema.ToolDescriptor
	GetServer(id string) (schema.ServerConfig, bool)
}

// Router resolves a tool name to its handler and executes it. Built-ins win
// over remote tools with the same name; remote resolution picks the first
// active server in registration order.
type Router struct {
	servers  ServerCaller
	builtins *builtin.Adapter
	tracker  *Tracker
	registry *registry.Registry
}

func NewRouter(servers ServerCaller, builtins *builtin.Adapter, tracker *Tracker, reg *registry.Registry) *Router {
	return &Router{servers: servers, builtins: builtins, tracker: tracker, registry: reg}
}

// ListAllTools returns every built-in descriptor followed by the tools of
// every active server.
func (r *Router) ListAllTools() []schema.ToolDescriptor {
	out := r.builtins.Descriptors()
	return append(out, r.servers.RemoteTools()...)
}

// ExecuteTool runs the named tool: in-process when built-in, otherwise on the
// first active server advertising it.
func (r *Router) ExecuteTool(ctx context.Context, name string, params map[string]any) (any, error) {
	if r.builtins.Has(name) {
		execID := r.tracker.RecordStart(name, TransportBuiltin, params)
		result, err := r.builtins.Execute(ctx, name, params)
		r.finish(execID, name, result, err)
		return result, err
	}

	serverID, ok := r.servers.FindToolServer(name)
	if !ok {
		return nil, fmt.Errorf("tool %q not found on any connected server", name)
	}
	return r.ExecuteToolOnServer(ctx, serverID, name, params)
}

// ExecuteToolOnServer runs the named tool on a specific server, bypassing
// name resolution.
func (r *Router) ExecuteToolOnServer(ctx context.Context, serverID, name string, params map[string]any) (any, error) {
	transport := string(schema.ProtocolWebSocket)
	if cfg, ok := r.servers.GetServer(serverID); ok {
		transport = string(cfg.Protocol)
	}

	execID := r.tracker.RecordStart(name, transport, params)
	result, err := r.servers.CallTool(ctx, serverID, name, params)
	r.finish(execID, name, result, err)
	return result, err
}

func (r *Router) finish(execID, name string, result any, err error) {
	if err != nil {
		r.tracker.RecordFailure(execID, err)
		slog.Warn("executor: tool failed", "tool", name, "err", err)
	} else {
		r.tracker.RecordSuccess(execID, result)
	}
	if r.registry != nil {
		r.registry.RecordUsage(name, err == nil)
	}
}
