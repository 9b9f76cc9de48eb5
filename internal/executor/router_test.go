package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/helixbridge/helixbridge/internal/builtin"
	"github.com/helixbridge/helixbridge/internal/schema"
)

// fakeServers is a canned ServerCaller.
type fakeServers struct {
	tools    []schema.ToolDescriptor
	calls    []string // "serverID/toolName"
	result   any
	err      error
	protocol schema.Protocol
}

func (f *fakeServers) FindToolServer(name string) (string, bool) {
	for _, d := range f.tools {
		if d.Name == name {
			return d.ServerID, true
		}
	}
	return "", false
}

func (f *fakeServers) CallTool(_ context.Context, serverID, name string, _ map[string]any) (any, error) {
	f.calls = append(f.calls, serverID+"/"+name)
	return f.result, f.err
}

func (f *fakeServers) RemoteTools() []schema.ToolDescriptor { return f.tools }

func (f *fakeServers) GetServer(id string) (schema.ServerConfig, bool) {
	return schema.ServerConfig{ID: id, Protocol: f.protocol}, true
}

func newRouter(fake *fakeServers) (*Router, *Tracker) {
	tracker := NewTracker()
	return NewRouter(fake, builtin.NewAdapter(), tracker, nil), tracker
}

func TestExecuteTool_BuiltinPrecedence(t *testing.T) {
	// A remote server also advertises compute_gc; the built-in must win.
	fake := &fakeServers{tools: []schema.ToolDescriptor{
		{Name: "compute_gc", ServerID: "remote-1"},
	}}
	router, tracker := newRouter(fake)

	res, err := router.ExecuteTool(context.Background(), "compute_gc", map[string]any{"dna": "ATGC"})
	if err != nil {
		t.Fatalf("ExecuteTool failed: %v", err)
	}
	if res.(map[string]any)["gc"] != 0.5 {
		t.Fatalf("unexpected result: %v", res)
	}
	if len(fake.calls) != 0 {
		t.Fatalf("remote server must receive no request, got %v", fake.calls)
	}

	recs := tracker.GetSessionExecutions("default")
	if len(recs) != 1 || recs[0].Transport != TransportBuiltin || recs[0].Status != StatusCompleted {
		t.Fatalf("expected completed built-in record, got %+v", recs)
	}
}

func TestExecuteTool_RemoteDispatch(t *testing.T) {
	fake := &fakeServers{
		tools:    []schema.ToolDescriptor{{Name: "web_search", ServerID: "h1"}},
		result:   map[string]any{"hits": 3.0},
		protocol: schema.ProtocolHTTP,
	}
	router, tracker := newRouter(fake)

	res, err := router.ExecuteTool(context.Background(), "web_search", map[string]any{"q": "lac operon"})
	if err != nil {
		t.Fatalf("ExecuteTool failed: %v", err)
	}
	if res.(map[string]any)["hits"] != 3.0 {
		t.Fatalf("unexpected result: %v", res)
	}
	if len(fake.calls) != 1 || fake.calls[0] != "h1/web_search" {
		t.Fatalf("unexpected dispatch: %v", fake.calls)
	}

	rec := tracker.GetSessionExecutions("default")[0]
	if rec.Transport != string(schema.ProtocolHTTP) || rec.Status != StatusCompleted {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestExecuteTool_NotFound(t *testing.T) {
	router, tracker := newRouter(&fakeServers{})

	_, err := router.ExecuteTool(context.Background(), "missing_tool", nil)
	if err == nil || !strings.Contains(err.Error(), "not found on any connected server") {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tracker.GetSessionExecutions("default")) != 0 {
		t.Fatal("resolution failure must not create a record")
	}
}

func TestExecuteTool_RemoteFailureRecorded(t *testing.T) {
	fake := &fakeServers{
		tools: []schema.ToolDescriptor{{Name: "flaky", ServerID: "s1"}},
		err:   errors.New("tool error: backend down"),
	}
	router, tracker := newRouter(fake)

	if _, err := router.ExecuteTool(context.Background(), "flaky", nil); err == nil {
		t.Fatal("expected remote failure")
	}
	rec := tracker.GetSessionExecutions("default")[0]
	if rec.Status != StatusFailed || !strings.Contains(rec.Error, "backend down") {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestExecuteToolOnServer_BypassesResolution(t *testing.T) {
	fake := &fakeServers{result: "ok", protocol: schema.ProtocolMCPWS}
	router, _ := newRouter(fake)

	res, err := router.ExecuteToolOnServer(context.Background(), "g2", "translate_dna",
		map[string]any{"dna": "ATGAAATAA"})
	if err != nil || res != "ok" {
		t.Fatalf("unexpected: %v %v", res, err)
	}
	// Built-in precedence does not apply to explicit server targeting.
	if len(fake.calls) != 1 || fake.calls[0] != "g2/translate_dna" {
		t.Fatalf("unexpected dispatch: %v", fake.calls)
	}
}

func TestListAllTools_MergesBuiltinsAndRemote(t *testing.T) {
	fake := &fakeServers{tools: []schema.ToolDescriptor{{Name: "web_search", ServerID: "h1"}}}
	router, _ := newRouter(fake)

	all := router.ListAllTools()
	byName := make(map[string]schema.ToolDescriptor)
	for _, d := range all {
		byName[d.Name+"@"+d.ServerID] = d
	}
	if _, ok := byName["compute_gc@"+schema.BuiltinServerID]; !ok {
		t.Fatal("built-in compute_gc missing")
	}
	if _, ok := byName["web_search@h1"]; !ok {
		t.Fatal("remote web_search missing")
	}
}
