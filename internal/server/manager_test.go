package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helixbridge/helixbridge/internal/bus"
	"github.com/helixbridge/helixbridge/internal/config"
	"github.com/helixbridge/helixbridge/internal/schema"
)

var upgrader = websocket.Upgrader{}

func newManager(t *testing.T) (*Manager, *bus.EventBus) {
	t.Helper()
	store := config.NewFileStore(t.TempDir())
	events := bus.NewEventBus()
	m := NewManager(store, events)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Load(ctx); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m, events
}

func waitTopic(t *testing.T, events *bus.EventBus, topic string) chan any {
	t.Helper()
	ch := make(chan any, 16)
	events.On(topic, func(p any) { ch <- p })
	return ch
}

func recv(t *testing.T, ch chan any, what string) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return nil
	}
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

// legacyWSServer answers JSON-RPC tools/list and tools/call over a raw
// framed WebSocket.
func legacyWSServer(t *testing.T, dials *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if dials != nil {
			dials.Add(1)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(raw, &msg) != nil {
				continue
			}
			switch msg["method"] {
			case "tools/list":
				conn.WriteJSON(map[string]any{ //nolint:errcheck
					"jsonrpc": "2.0",
					"id":      msg["id"],
					"result":  map[string]any{"tools": []any{map[string]any{"name": "compute_gc"}}},
				})
			case "tools/call":
				params := msg["params"].(map[string]any)
				conn.WriteJSON(map[string]any{ //nolint:errcheck
					"jsonrpc": "2.0",
					"id":      msg["id"],
					"result": map[string]any{
						"content": []any{map[string]any{"type": "text", "text": params["name"]}},
					},
				})
			}
		}
	}))
}

func addServer(t *testing.T, m *Manager, cfg schema.ServerConfig) string {
	t.Helper()
	id, err := m.AddServer(cfg)
	if err != nil {
		t.Fatalf("AddServer failed: %v", err)
	}
	return id
}

func TestConnect_LegacyWebSocketHappyPath(t *testing.T) {
	srv := legacyWSServer(t, nil)
	defer srv.Close()

	m, events := newManager(t)
	toolsCh := waitTopic(t, events, bus.TopicToolsUpdated)
	connectedCh := waitTopic(t, events, bus.TopicServerConnected)

	id := addServer(t, m, schema.ServerConfig{
		ID: "g1", Name: "genome tools", URL: wsURL(srv.URL),
		Enabled: true, Protocol: schema.ProtocolWebSocket,
	})
	if err := m.ConnectToServer(context.Background(), id); err != nil {
		t.Fatalf("ConnectToServer failed: %v", err)
	}

	recv(t, connectedCh, "serverConnected")
	ev := recv(t, toolsCh, "toolsUpdated").(bus.ToolsEvent)
	if ev.ServerID != "g1" || ev.Count != 1 {
		t.Fatalf("unexpected toolsUpdated: %+v", ev)
	}

	tools := m.RemoteTools()
	if len(tools) != 1 || tools[0].Name != "compute_gc" || tools[0].ServerID != "g1" {
		t.Fatalf("unexpected tools: %+v", tools)
	}

	// Already-connected is a no-op success.
	if err := m.ConnectToServer(context.Background(), id); err != nil {
		t.Fatalf("reconnect of open server should be a no-op, got %v", err)
	}
}

func TestConnect_WhileDialingIsNoOp(t *testing.T) {
	var upgrades atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond) // slow upgrade keeps the dial in flight
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		upgrades.Add(1)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m, events := newManager(t)
	connectedCh := waitTopic(t, events, bus.TopicServerConnected)

	id := addServer(t, m, schema.ServerConfig{
		ID: "slow", URL: wsURL(srv.URL), Enabled: true, Protocol: schema.ProtocolWebSocket,
	})

	done := make(chan error, 2)
	go func() { done <- m.ConnectToServer(context.Background(), id) }()
	time.Sleep(100 * time.Millisecond) // first dial still in flight
	go func() { done <- m.ConnectToServer(context.Background(), id) }()

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("connect %d failed: %v", i, err)
		}
	}

	recv(t, connectedCh, "serverConnected")
	select {
	case <-connectedCh:
		t.Fatal("duplicate serverConnected without an intervening disconnect")
	case <-time.After(500 * time.Millisecond):
	}
	if n := upgrades.Load(); n != 1 {
		t.Fatalf("expected a single upgraded socket, got %d", n)
	}
}

func TestCallTool_MCPWebSocket(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(raw, &msg) != nil {
				continue
			}
			switch msg["type"] {
			case "list-tools":
				conn.WriteJSON(map[string]any{ //nolint:errcheck
					"type":  "tools-list",
					"tools": []any{map[string]any{"name": "translate_dna"}},
				})
			case "call-tool":
				if msg["toolName"] != "translate_dna" {
					t.Errorf("unexpected toolName %v", msg["toolName"])
				}
				conn.WriteJSON(map[string]any{ //nolint:errcheck
					"type":      "tool-response",
					"requestId": msg["requestId"],
					"success":   true,
					"result":    map[string]any{"protein": "MK*"},
				})
			}
		}
	}))
	defer srv.Close()

	m, events := newManager(t)
	toolsCh := waitTopic(t, events, bus.TopicToolsUpdated)

	id := addServer(t, m, schema.ServerConfig{
		ID: "g2", URL: wsURL(srv.URL), Enabled: true, Protocol: schema.ProtocolMCPWS,
	})
	if err := m.ConnectToServer(context.Background(), id); err != nil {
		t.Fatalf("ConnectToServer failed: %v", err)
	}
	recv(t, toolsCh, "toolsUpdated")

	res, err := m.CallTool(context.Background(), "g2", "translate_dna",
		map[string]any{"dna": "ATGAAATAA", "frame": 0})
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if res.(map[string]any)["protein"] != "MK*" {
		t.Fatalf("unexpected result: %v", res)
	}
}

func TestConnect_HTTPWithSSEDiscovery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var msg map[string]any
		json.NewDecoder(r.Body).Decode(&msg) //nolint:errcheck
		switch msg["method"] {
		case "ping":
			w.Write([]byte(`{"jsonrpc":"2.0","result":{}}`)) //nolint:errcheck
		case "tools/list":
			w.Header().Set("Content-Type", "text/event-stream")
			body := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":\"req-Y\",\"result\":{\"tools\":[{\"name\":\"web_search\"}]}}\n\n"
			w.Write([]byte(body)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	m, events := newManager(t)
	toolsCh := waitTopic(t, events, bus.TopicToolsUpdated)

	id := addServer(t, m, schema.ServerConfig{
		ID: "h1", URL: srv.URL, Enabled: true, Protocol: "streamable-http",
	})
	if err := m.ConnectToServer(context.Background(), id); err != nil {
		t.Fatalf("ConnectToServer failed: %v", err)
	}
	recv(t, toolsCh, "toolsUpdated")

	tools := m.RemoteTools()
	if len(tools) != 1 || tools[0].Name != "web_search" {
		t.Fatalf("expected exactly one web_search descriptor, got %+v", tools)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	m, _ := newManager(t)
	id := addServer(t, m, schema.ServerConfig{ID: "bad", URL: "null", Enabled: true})
	if err := m.ConnectToServer(context.Background(), id); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
	if err := m.ConnectToServer(context.Background(), "ghost"); !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("expected ErrServerNotFound, got %v", err)
	}
}

func TestRemoveServer_RejectsBuiltin(t *testing.T) {
	m, _ := newManager(t)
	addServer(t, m, schema.ServerConfig{ID: "core", URL: "ws://x", IsBuiltin: true})

	if m.RemoveServer("core") {
		t.Fatal("built-in server must not be removable")
	}
	if _, ok := m.GetServer("core"); !ok {
		t.Fatal("built-in config must be unchanged")
	}
	if m.RemoveServer("ghost") {
		t.Fatal("removing unknown server must return false")
	}
}

func TestAddRemove_RoundTripPersistence(t *testing.T) {
	dir := t.TempDir()
	store := config.NewFileStore(dir)
	events := bus.NewEventBus()
	m := NewManager(store, events)
	ctx := context.Background()
	if err := m.Load(ctx); err != nil {
		t.Fatal(err)
	}

	var before map[string]schema.ServerConfig
	store.GetInto(KeyServers, &before)

	id := addServer(t, m, schema.ServerConfig{URL: "ws://tmp", Enabled: false})
	if !m.RemoveServer(id) {
		t.Fatal("RemoveServer failed")
	}

	var after map[string]schema.ServerConfig
	store.GetInto(KeyServers, &after)
	if len(after) != len(before) {
		t.Fatalf("persisted set changed: before=%d after=%d", len(before), len(after))
	}
}

func TestConnect_EmptyToolListStaysOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			if json.Unmarshal(raw, &msg) != nil {
				continue
			}
			if msg["method"] == "tools/list" {
				conn.WriteJSON(map[string]any{ //nolint:errcheck
					"jsonrpc": "2.0",
					"id":      msg["id"],
					"result":  map[string]any{"tools": []any{}},
				})
			}
		}
	}))
	defer srv.Close()

	m, events := newManager(t)
	toolsCh := waitTopic(t, events, bus.TopicToolsUpdated)

	id := addServer(t, m, schema.ServerConfig{
		ID: "bare", URL: wsURL(srv.URL), Enabled: true, Protocol: schema.ProtocolWebSocket,
	})
	if err := m.ConnectToServer(context.Background(), id); err != nil {
		t.Fatalf("ConnectToServer failed: %v", err)
	}

	ev := recv(t, toolsCh, "toolsUpdated").(bus.ToolsEvent)
	if ev.ServerID != "bare" || ev.Count != 0 {
		t.Fatalf("unexpected toolsUpdated: %+v", ev)
	}
	if tools := m.RemoteTools(); len(tools) != 0 {
		t.Fatalf("expected no descriptors, got %+v", tools)
	}

	status := m.GetServerStatus()
	if len(status) != 1 || !status[0].Connected || status[0].ToolCount != 0 {
		t.Fatalf("server with empty tool list must stay open: %+v", status)
	}
}

func TestUpdateServer_EmptyPatchIsNoOp(t *testing.T) {
	dir := t.TempDir()
	store := config.NewFileStore(dir)
	events := bus.NewEventBus()
	m := NewManager(store, events)
	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)

	addServer(t, m, schema.ServerConfig{ID: "u1", Name: "unchanged", URL: "ws://x", Enabled: false})

	path := filepath.Join(dir, "mediator.json")
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	statusBefore := m.GetServerStatus()

	if !m.UpdateServer("u1", ServerPatch{}) {
		t.Fatal("UpdateServer of known server must return true")
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("empty patch changed the persisted document:\nbefore: %s\nafter:  %s", before, after)
	}
	if !reflect.DeepEqual(statusBefore, m.GetServerStatus()) {
		t.Fatalf("empty patch changed observable state: %+v", m.GetServerStatus())
	}
}

func TestDisconnect_FailsPendingCalls(t *testing.T) {
	// Server that accepts calls but never answers them.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	m, _ := newManager(t)
	id := addServer(t, m, schema.ServerConfig{
		ID: "mute", URL: wsURL(srv.URL), Enabled: true, Protocol: schema.ProtocolWebSocket,
	})
	if err := m.ConnectToServer(context.Background(), id); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := m.CallTool(context.Background(), "mute", "anything", nil)
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond) // let the call register
	if err := m.DisconnectFromServer(id); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("expected not-connected failure, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pending call not failed on disconnect")
	}

	if _, err := m.CallTool(context.Background(), "mute", "anything", nil); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("call against closed server must fail, got %v", err)
	}
}

func TestDisconnect_AbortsInFlightHTTPCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte("{}")) //nolint:errcheck
			return
		}
		var msg map[string]any
		json.NewDecoder(r.Body).Decode(&msg) //nolint:errcheck
		if msg["method"] == "tools/list" {
			w.Write([]byte(`{"tools":[{"name":"slow_tool"}]}`)) //nolint:errcheck
			return
		}
		// The call itself never answers in time.
		time.Sleep(2 * time.Second)
		w.Write([]byte(`{"result":"late"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	m, events := newManager(t)
	toolsCh := waitTopic(t, events, bus.TopicToolsUpdated)

	id := addServer(t, m, schema.ServerConfig{
		ID: "h-slow", URL: srv.URL, Enabled: true, Protocol: schema.ProtocolHTTP,
	})
	if err := m.ConnectToServer(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	recv(t, toolsCh, "toolsUpdated")

	errCh := make(chan error, 1)
	go func() {
		_, err := m.CallTool(context.Background(), id, "slow_tool", nil)
		errCh <- err
	}()

	time.Sleep(150 * time.Millisecond) // let the POST reach the server
	if err := m.DisconnectFromServer(id); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrNotConnected) {
			t.Fatalf("expected not-connected failure, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("in-flight http call not aborted on disconnect")
	}
}

func TestReconnect_AfterDrop(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close() // drop immediately after accept
	}))
	defer srv.Close()

	m, events := newManager(t)
	disconnectedCh := waitTopic(t, events, bus.TopicServerDisconnected)

	id := addServer(t, m, schema.ServerConfig{
		ID: "flaky", URL: wsURL(srv.URL), Enabled: true, AutoConnect: true,
		ReconnectDelay: 1, Protocol: schema.ProtocolWebSocket,
	})
	m.ConnectToServer(context.Background(), id) //nolint:errcheck

	recv(t, disconnectedCh, "serverDisconnected")
	if len(m.RemoteTools()) != 0 {
		t.Fatal("tool cache must be cleared on drop")
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if dials.Load() >= 2 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("expected a reconnect attempt, saw %d dials", dials.Load())
}

func TestReconnect_SuppressedByGlobalFlag(t *testing.T) {
	var dials atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	store := config.NewFileStore(t.TempDir())
	events := bus.NewEventBus()
	m := NewManager(store, events)
	if err := m.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Close)
	disconnectedCh := waitTopic(t, events, bus.TopicServerDisconnected)

	id := addServer(t, m, schema.ServerConfig{
		ID: "flaky", URL: wsURL(srv.URL), Enabled: true, AutoConnect: true,
		ReconnectDelay: 1, Protocol: schema.ProtocolWebSocket,
	})
	m.ConnectToServer(context.Background(), id) //nolint:errcheck
	recv(t, disconnectedCh, "serverDisconnected")

	// Flip the global gate during the reconnect wait.
	if err := store.Set(KeyGlobalSettings, map[string]any{"enableAutoConnect": false}); err != nil {
		t.Fatal(err)
	}
	before := dials.Load()
	time.Sleep(1500 * time.Millisecond)
	if dials.Load() != before {
		t.Fatalf("reconnect fired despite global auto-connect off: %d -> %d", before, dials.Load())
	}
}

func TestTestServerConnection(t *testing.T) {
	httpSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound) // 404 still counts as reachable
	}))
	defer httpSrv.Close()
	wsSrv := legacyWSServer(t, nil)
	defer wsSrv.Close()

	m, _ := newManager(t)
	ctx := context.Background()

	if !m.TestServerConnection(ctx, schema.ServerConfig{URL: httpSrv.URL, Protocol: schema.ProtocolHTTP}) {
		t.Fatal("404 endpoint should be reachable")
	}
	if !m.TestServerConnection(ctx, schema.ServerConfig{URL: wsURL(wsSrv.URL), Protocol: schema.ProtocolWebSocket}) {
		t.Fatal("websocket endpoint should be reachable")
	}
	if m.TestServerConnection(ctx, schema.ServerConfig{URL: "http://127.0.0.1:1", Protocol: schema.ProtocolHTTP}) {
		t.Fatal("closed port should be unreachable")
	}
	if m.TestServerConnection(ctx, schema.ServerConfig{URL: "null"}) {
		t.Fatal("null URL should be unreachable")
	}
}

func TestFindToolServer_RegistrationOrder(t *testing.T) {
	srvA := legacyWSServer(t, nil)
	defer srvA.Close()
	srvB := legacyWSServer(t, nil)
	defer srvB.Close()

	m, events := newManager(t)
	toolsCh := waitTopic(t, events, bus.TopicToolsUpdated)

	a := addServer(t, m, schema.ServerConfig{ID: "a", URL: wsURL(srvA.URL), Enabled: true, Protocol: schema.ProtocolWebSocket})
	b := addServer(t, m, schema.ServerConfig{ID: "b", URL: wsURL(srvB.URL), Enabled: true, Protocol: schema.ProtocolWebSocket})

	if err := m.ConnectToServer(context.Background(), a); err != nil {
		t.Fatal(err)
	}
	if err := m.ConnectToServer(context.Background(), b); err != nil {
		t.Fatal(err)
	}
	recv(t, toolsCh, "toolsUpdated")
	recv(t, toolsCh, "toolsUpdated")

	// Both advertise compute_gc; the first registered active server wins.
	owner, ok := m.FindToolServer("compute_gc")
	if !ok || owner != "a" {
		t.Fatalf("expected first-registered server a, got %q (ok=%v)", owner, ok)
	}

	if err := m.DisconnectFromServer(a); err != nil {
		t.Fatal(err)
	}
	owner, ok = m.FindToolServer("compute_gc")
	if !ok || owner != "b" {
		t.Fatalf("expected fallback to b after disconnect, got %q", owner)
	}
}

func TestGetServerStatus(t *testing.T) {
	srv := legacyWSServer(t, nil)
	defer srv.Close()

	m, events := newManager(t)
	toolsCh := waitTopic(t, events, bus.TopicToolsUpdated)

	addServer(t, m, schema.ServerConfig{ID: "up", Name: "up", URL: wsURL(srv.URL), Enabled: true, Protocol: schema.ProtocolWebSocket})
	addServer(t, m, schema.ServerConfig{ID: "down", Name: "down", URL: "ws://127.0.0.1:1", Enabled: true})

	if err := m.ConnectToServer(context.Background(), "up"); err != nil {
		t.Fatal(err)
	}
	recv(t, toolsCh, "toolsUpdated")

	status := m.GetServerStatus()
	if len(status) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(status))
	}
	if !status[0].Connected || status[0].ToolCount != 1 {
		t.Fatalf("unexpected status for up: %+v", status[0])
	}
	if status[1].Connected {
		t.Fatalf("down server reported connected: %+v", status[1])
	}
}
