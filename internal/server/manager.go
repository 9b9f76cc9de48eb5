package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/helixbridge/helixbridge/internal/bus"
	"github.com/helixbridge/helixbridge/internal/schema"
)

// ConfigStore is the slice of the configuration port the manager needs.
type ConfigStore interface {
	Get(key string, def any) any
	Set(key string, value any) error
	WaitForReady(ctx context.Context) error
	GetInto(key string, out any) bool
}

const (
	// KeyServers holds the persisted serverId -> ServerConfig map.
	KeyServers = "mcpServers"
	// KeyGlobalSettings holds {"enableAutoConnect": bool}; false suppresses
	// every auto-connect and reconnect attempt.
	KeyGlobalSettings = "mcpGlobalSettings"
)

const defaultReconnectDelay = 5 // seconds

// Manager owns the full set of server configurations and one connection per
// connected server. servers, conns, tools and the pending-call tables are
// mutated only under mu; events are emitted outside the lock.
type Manager struct {
	store      ConfigStore
	events     *bus.EventBus
	correlator *Correlator
	clientID   string

	mu         sync.Mutex
	servers    map[string]schema.ServerConfig
	order      []string // registration order; duplicate tool names resolve to the first active
	conns      map[string]*Connection
	tools      map[string][]schema.ToolDescriptor
	reconnects map[string]*time.Timer
}

func NewManager(store ConfigStore, events *bus.EventBus) *Manager {
	return &Manager{
		store:      store,
		events:     events,
		correlator: NewCorrelator(),
		clientID:   "helixbridge-" + uuid.NewString()[:8],
		servers:    make(map[string]schema.ServerConfig),
		conns:      make(map[string]*Connection),
		tools:      make(map[string][]schema.ToolDescriptor),
		reconnects: make(map[string]*time.Timer),
	}
}

// Load reads the persisted server set. Must be called before any other
// operation; waits for the store's first load.
func (m *Manager) Load(ctx context.Context) error {
	if err := m.store.WaitForReady(ctx); err != nil {
		return err
	}

	var persisted map[string]schema.ServerConfig
	if !m.store.GetInto(KeyServers, &persisted) {
		return nil
	}

	ids := make([]string, 0, len(persisted))
	for id := range persisted {
		ids = append(ids, id)
	}
	sort.Strings(ids) // the persisted map is unordered; fix registration order

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		cfg := persisted[id]
		cfg.ID = id
		normalizeConfig(&cfg)
		m.servers[id] = cfg
		m.order = append(m.order, id)
	}
	slog.Info("server: configurations loaded", "count", len(ids))
	return nil
}

func normalizeConfig(cfg *schema.ServerConfig) {
	if cfg.ReconnectDelay < 1 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	switch cfg.Protocol {
	case schema.ProtocolWebSocket, schema.ProtocolMCPWS, schema.ProtocolHTTP, schema.ProtocolSSE:
	case "streamable-http":
		cfg.Protocol = schema.ProtocolHTTP
	case "":
		cfg.Protocol = schema.ProtocolWebSocket
	default:
		cfg.Protocol = schema.ProtocolHTTP
	}
}

// persistLocked rewrites the whole server set; caller holds m.mu.
func (m *Manager) persistLocked() {
	if err := m.store.Set(KeyServers, m.servers); err != nil {
		slog.Error("server: persist failed", "err", err)
	}
}

// AddServer registers a new server configuration and persists the set.
// Returns the generated id.
func (m *Manager) AddServer(cfg schema.ServerConfig) (string, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	normalizeConfig(&cfg)

	m.mu.Lock()
	if _, dup := m.servers[cfg.ID]; dup {
		m.mu.Unlock()
		return "", fmt.Errorf("server %q already exists", cfg.ID)
	}
	m.servers[cfg.ID] = cfg
	m.order = append(m.order, cfg.ID)
	m.persistLocked()
	m.mu.Unlock()

	m.events.Emit(bus.TopicServerAdded, bus.ServerEvent{ServerID: cfg.ID, Name: cfg.Name})
	return cfg.ID, nil
}

// RemoveServer deletes a server configuration. Built-in servers may be
// disabled but never removed; the call returns false and changes nothing.
func (m *Manager) RemoveServer(id string) bool {
	m.mu.Lock()
	cfg, ok := m.servers[id]
	if !ok || cfg.IsBuiltin {
		m.mu.Unlock()
		return false
	}
	m.mu.Unlock()

	m.DisconnectFromServer(id) //nolint:errcheck

	m.mu.Lock()
	delete(m.servers, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.persistLocked()
	m.mu.Unlock()

	m.events.Emit(bus.TopicServerRemoved, bus.ServerEvent{ServerID: id, Name: cfg.Name})
	return true
}

// ServerPatch is a partial update; nil fields are left unchanged.
type ServerPatch struct {
	Name           *string
	Description    *string
	URL            *string
	Enabled        *bool
	AutoConnect    *bool
	ReconnectDelay *int
	Category       *string
	Protocol       *schema.Protocol
	Headers        map[string]string
	Capabilities   []string
}

// UpdateServer applies patch, persists, and reconnects when the URL changed
// while the server was open.
func (m *Manager) UpdateServer(id string, patch ServerPatch) bool {
	m.mu.Lock()
	cfg, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return false
	}

	oldURL := cfg.URL
	applyPatch(&cfg, patch)
	normalizeConfig(&cfg)
	m.servers[id] = cfg
	m.persistLocked()
	wasOpen := m.conns[id].open()
	m.mu.Unlock()

	m.events.Emit(bus.TopicServerUpdated, bus.ServerEvent{ServerID: id, Name: cfg.Name})

	if cfg.URL != oldURL && wasOpen {
		m.DisconnectFromServer(id) //nolint:errcheck
		go func() {
			if err := m.ConnectToServer(context.Background(), id); err != nil {
				slog.Warn("server: reconnect after url change failed", "server", id, "err", err)
			}
		}()
	}
	return true
}

func applyPatch(cfg *schema.ServerConfig, p ServerPatch) {
	if p.Name != nil {
		cfg.Name = *p.Name
	}
	if p.Description != nil {
		cfg.Description = *p.Description
	}
	if p.URL != nil {
		cfg.URL = *p.URL
	}
	if p.Enabled != nil {
		cfg.Enabled = *p.Enabled
	}
	if p.AutoConnect != nil {
		cfg.AutoConnect = *p.AutoConnect
	}
	if p.ReconnectDelay != nil {
		cfg.ReconnectDelay = *p.ReconnectDelay
	}
	if p.Category != nil {
		cfg.Category = *p.Category
	}
	if p.Protocol != nil {
		cfg.Protocol = *p.Protocol
	}
	if p.Headers != nil {
		cfg.Headers = p.Headers
	}
	if p.Capabilities != nil {
		cfg.Capabilities = p.Capabilities
	}
}

// ConnectToServer establishes the transport for id. Connecting an
// already-open server is a no-op success.
func (m *Manager) ConnectToServer(ctx context.Context, id string) error {
	m.mu.Lock()
	cfg, ok := m.servers[id]
	if !ok {
		m.mu.Unlock()
		return ErrServerNotFound
	}
	if m.conns[id] != nil {
		// Already open, or a dial is in flight. Never stack a second dial on
		// the same id: the loser would leak an unclosed socket and emit a
		// duplicate serverConnected.
		m.mu.Unlock()
		return nil
	}
	if !cfg.Enabled {
		m.mu.Unlock()
		return fmt.Errorf("server %q is disabled", id)
	}
	if cfg.URL == "" || cfg.URL == "null" {
		m.mu.Unlock()
		return ErrInvalidURL
	}
	conn := &Connection{ServerID: id, Protocol: cfg.Protocol, State: schema.StateConnecting}
	m.conns[id] = conn
	m.mu.Unlock()

	m.events.Emit(bus.TopicServerConnecting, bus.ServerEvent{ServerID: id, Name: cfg.Name})

	var err error
	switch cfg.Protocol {
	case schema.ProtocolWebSocket:
		err = m.connectWS(ctx, cfg, conn, false)
	case schema.ProtocolMCPWS:
		err = m.connectWS(ctx, cfg, conn, true)
	case schema.ProtocolHTTP:
		err = m.connectHTTP(ctx, cfg, conn, false)
	case schema.ProtocolSSE:
		err = m.connectHTTP(ctx, cfg, conn, true)
	default:
		err = fmt.Errorf("unknown protocol %q", cfg.Protocol)
	}

	if err != nil {
		m.mu.Lock()
		delete(m.conns, id)
		m.mu.Unlock()
		m.events.Emit(bus.TopicServerError, bus.ServerEvent{ServerID: id, Name: cfg.Name, Err: err})
		m.maybeReconnect(id)
		return err
	}
	return nil
}

// connectWS dials and performs the ws-legacy or mcp-ws handshake. The
// connection counts as open once the socket is up and the handshake frames
// are sent.
func (m *Manager) connectWS(ctx context.Context, cfg schema.ServerConfig, conn *Connection, mcp bool) error {
	ws, err := dialWS(ctx, cfg.URL)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	if mcp {
		err = ws.send(map[string]any{
			"type":         "claude-mcp-client",
			"clientId":     m.clientID,
			"protocol":     "claude-mcp",
			"capabilities": []string{"tool-execution", "state-sync"},
		})
		if err == nil {
			err = ws.send(map[string]any{"type": "list-tools", "requestId": newRequestID()})
		}
	} else {
		if len(cfg.Headers) > 0 {
			err = ws.send(map[string]any{"type": "authenticate", "headers": cfg.Headers})
		}
		if err == nil {
			err = ws.send(map[string]any{
				"jsonrpc": "2.0",
				"method":  "tools/list",
				"id":      newRequestID(),
			})
		}
	}
	if err != nil {
		ws.close()
		return fmt.Errorf("handshake %s: %w", cfg.URL, err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	conn.ws = ws
	conn.cancel = cancel
	conn.State = schema.StateOpen
	m.mu.Unlock()

	m.events.Emit(bus.TopicServerConnected, bus.ServerEvent{ServerID: cfg.ID, Name: cfg.Name})
	slog.Info("server: connected", "server", cfg.ID, "protocol", cfg.Protocol)

	if mcp {
		// Repeat the list request once to mask handshake races.
		time.AfterFunc(500*time.Millisecond, func() {
			m.mu.Lock()
			stillOpen := m.conns[cfg.ID] == conn && conn.State == schema.StateOpen
			m.mu.Unlock()
			if stillOpen {
				ws.send(map[string]any{"type": "list-tools", "requestId": newRequestID()}) //nolint:errcheck
			}
		})
	}

	go func() {
		loopErr := ws.readLoop(loopCtx, func(raw []byte) { m.handleFrame(cfg.ID, raw) })
		m.handleDrop(cfg.ID, conn, loopErr)
	}()
	return nil
}

// connectHTTP probes reachability and discovers tools for the http and sse
// families. A failed discovery leaves the server open with an empty list.
func (m *Manager) connectHTTP(ctx context.Context, cfg schema.ServerConfig, conn *Connection, stream bool) error {
	tr := newHTTPTransport(cfg.URL, cfg.Headers, stream)
	if err := tr.probe(ctx); err != nil {
		return err
	}

	base, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	conn.http = tr
	conn.base = base
	conn.cancel = cancel
	conn.State = schema.StateOpen
	m.mu.Unlock()

	m.events.Emit(bus.TopicServerConnected, bus.ServerEvent{ServerID: cfg.ID, Name: cfg.Name})
	slog.Info("server: connected", "server", cfg.ID, "protocol", cfg.Protocol)

	tools, err := tr.discoverTools(ctx)
	if err != nil {
		slog.Warn("server: tool discovery failed", "server", cfg.ID, "err", err)
		return nil
	}
	m.setTools(cfg.ID, tools)
	return nil
}

// handleFrame dispatches one classified inbound message.
func (m *Manager) handleFrame(serverID string, raw []byte) {
	f := classifyFrame(raw)
	switch f.Kind {
	case FrameToolList:
		m.setTools(serverID, f.Tools)

	case FrameToolResponse:
		if f.RequestID == "" {
			slog.Warn("server: tool response without requestId dropped", "server", serverID)
			return
		}
		if f.Success {
			m.correlator.Resolve(serverID, f.RequestID, f.Result)
		} else {
			m.correlator.Reject(serverID, f.RequestID, fmt.Errorf("tool error: %s", f.Err))
		}
		m.events.Emit(bus.TopicToolResponse, bus.ToolResponseEvent{
			ServerID:  serverID,
			RequestID: f.RequestID,
			Success:   f.Success,
		})
		if f.ServerError {
			m.events.Emit(bus.TopicServerError, bus.ServerEvent{
				ServerID: serverID,
				Err:      fmt.Errorf("server error: %s", f.Err),
			})
		}

	case FrameError:
		m.events.Emit(bus.TopicServerError, bus.ServerEvent{
			ServerID: serverID,
			Err:      fmt.Errorf("server error: %s", f.Err),
		})

	case FrameInfo:
		slog.Debug("server: informational message", "server", serverID)

	default:
		if f.Err != "" {
			slog.Warn("server: malformed frame dropped", "server", serverID, "err", f.Err)
		} else {
			slog.Warn("server: unknown message shape dropped", "server", serverID)
		}
	}
}

// setTools caches the advertised tool list for an open server.
func (m *Manager) setTools(serverID string, raw []map[string]any) {
	m.mu.Lock()
	cfg, ok := m.servers[serverID]
	if !ok || !m.conns[serverID].open() {
		m.mu.Unlock()
		return
	}
	descs := make([]schema.ToolDescriptor, 0, len(raw))
	for _, t := range raw {
		name, _ := t["name"].(string)
		if name == "" {
			continue
		}
		desc, _ := t["description"].(string)
		category, _ := t["category"].(string)
		params, _ := t["inputSchema"].(map[string]any)
		if params == nil {
			params, _ = t["parameters"].(map[string]any)
		}
		descs = append(descs, schema.ToolDescriptor{
			Name:        name,
			Description: desc,
			Category:    category,
			ServerID:    serverID,
			Protocol:    cfg.Protocol,
			Parameters:  params,
		})
	}
	m.tools[serverID] = descs
	m.mu.Unlock()

	slog.Info("server: tools updated", "server", serverID, "tools", len(descs))
	m.events.Emit(bus.TopicToolsUpdated, bus.ToolsEvent{ServerID: serverID, Count: len(descs)})
}

// handleDrop cleans up after a read-loop exit. Explicit disconnects remove
// the connection first, so a drop for a replaced or missing handle is a
// no-op.
func (m *Manager) handleDrop(serverID string, conn *Connection, err error) {
	m.mu.Lock()
	if m.conns[serverID] != conn {
		m.mu.Unlock()
		return
	}
	cfg := m.servers[serverID]
	delete(m.conns, serverID)
	delete(m.tools, serverID)
	m.mu.Unlock()

	slog.Warn("server: connection dropped", "server", serverID, "err", err)
	m.correlator.FailAll(serverID, ErrNotConnected)
	m.events.Emit(bus.TopicServerDisconnected, bus.ServerEvent{ServerID: serverID, Name: cfg.Name})
	m.maybeReconnect(serverID)
}

// DisconnectFromServer closes the transport, fails pending calls with
// not-connected, and cancels any reconnect timer.
func (m *Manager) DisconnectFromServer(id string) error {
	m.mu.Lock()
	conn := m.conns[id]
	cfg := m.servers[id]
	delete(m.conns, id)
	delete(m.tools, id)
	if t := m.reconnects[id]; t != nil {
		t.Stop()
		delete(m.reconnects, id)
	}
	m.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.closeTransport()
	m.correlator.FailAll(id, ErrNotConnected)
	m.events.Emit(bus.TopicServerDisconnected, bus.ServerEvent{ServerID: id, Name: cfg.Name})
	return nil
}

// globalAutoConnect reads the gate that suppresses every automatic connect.
func (m *Manager) globalAutoConnect() bool {
	settings, ok := m.store.Get(KeyGlobalSettings, nil).(map[string]any)
	if !ok {
		return true
	}
	enabled, ok := settings["enableAutoConnect"].(bool)
	if !ok {
		return true
	}
	return enabled
}

// maybeReconnect arms a reconnect timer after a drop or failed connect. The
// global auto-connect gate is checked when the timer fires, so flipping it
// during the wait suppresses the attempt.
func (m *Manager) maybeReconnect(id string) {
	m.mu.Lock()
	cfg, ok := m.servers[id]
	if !ok || !cfg.Enabled || !cfg.AutoConnect || m.reconnects[id] != nil {
		m.mu.Unlock()
		return
	}
	delay := time.Duration(cfg.ReconnectDelay) * time.Second
	if delay < time.Second {
		delay = time.Second
	}
	m.reconnects[id] = time.AfterFunc(delay, func() {
		m.mu.Lock()
		delete(m.reconnects, id)
		m.mu.Unlock()

		if !m.globalAutoConnect() {
			slog.Info("server: reconnect suppressed by global setting", "server", id)
			return
		}
		if err := m.ConnectToServer(context.Background(), id); err != nil {
			slog.Warn("server: reconnect failed", "server", id, "err", err)
		}
	})
	m.mu.Unlock()
	slog.Info("server: reconnect scheduled", "server", id, "delay", delay)
}

// ConnectAll connects every enabled auto-connect server in parallel.
// Individual failures are logged, not fatal.
func (m *Manager) ConnectAll(ctx context.Context) {
	if !m.globalAutoConnect() {
		slog.Info("server: auto-connect disabled globally")
		return
	}

	m.mu.Lock()
	var ids []string
	for _, id := range m.order {
		cfg := m.servers[id]
		if cfg.Enabled && cfg.AutoConnect {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := m.ConnectToServer(ctx, id); err != nil {
				slog.Warn("server: auto-connect failed", "server", id, "err", err)
			}
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

// RemoteTools returns the descriptors of every tool on every open server,
// in server registration order.
func (m *Manager) RemoteTools() []schema.ToolDescriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.ToolDescriptor
	for _, id := range m.order {
		out = append(out, m.tools[id]...)
	}
	return out
}

// FindToolServer resolves a tool name to the first active server exposing
// it, in registration order.
func (m *Manager) FindToolServer(name string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.order {
		if !m.conns[id].open() {
			continue
		}
		for _, d := range m.tools[id] {
			if d.Name == name {
				return id, true
			}
		}
	}
	return "", false
}

// CallTool executes one remote tool on an open server, honouring the
// server's transport wire format and the per-call timeout.
func (m *Manager) CallTool(ctx context.Context, serverID, name string, params map[string]any) (any, error) {
	m.mu.Lock()
	conn := m.conns[serverID]
	cfg, known := m.servers[serverID]
	m.mu.Unlock()

	if !known {
		return nil, ErrServerNotFound
	}
	if !conn.open() {
		return nil, ErrNotConnected
	}

	timeout := DefaultCallTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}

	switch conn.Protocol {
	case schema.ProtocolWebSocket:
		return m.callWS(ctx, conn, serverID, name, timeout, map[string]any{
			"jsonrpc": "2.0",
			"method":  "tools/call",
			"params":  map[string]any{"name": name, "arguments": params},
		})
	case schema.ProtocolMCPWS:
		return m.callWS(ctx, conn, serverID, name, timeout, map[string]any{
			"type":       "call-tool",
			"toolName":   name,
			"parameters": params,
		})
	default: // http, sse
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if conn.base != nil {
			// An explicit disconnect cancels the transport's base context;
			// abort the in-flight call instead of letting it complete.
			stop := context.AfterFunc(conn.base, cancel)
			defer stop()
		}
		res, err := conn.http.callTool(callCtx, name, params)
		if err != nil && conn.base != nil && conn.base.Err() != nil {
			return nil, ErrNotConnected
		}
		return res, err
	}
}

// callWS registers a pending call, fills in the request id field expected by
// the transport, and waits for correlation, timeout, or caller cancellation.
func (m *Manager) callWS(ctx context.Context, conn *Connection, serverID, name string, timeout time.Duration, frame map[string]any) (any, error) {
	requestID := newRequestID()
	if _, jsonrpc := frame["jsonrpc"]; jsonrpc {
		frame["id"] = requestID
	} else {
		frame["requestId"] = requestID
	}

	call := m.correlator.Register(serverID, requestID, name, timeout)
	if err := conn.ws.send(frame); err != nil {
		m.correlator.Cancel(serverID, requestID)
		return nil, fmt.Errorf("send to %s: %w", serverID, err)
	}

	select {
	case res := <-call.Done:
		return res.Value, res.Err
	case <-ctx.Done():
		m.correlator.Cancel(serverID, requestID)
		return nil, ctx.Err()
	}
}

// TestServerConnection checks reachability of a transient configuration
// within a 5 second budget. The configuration is not registered.
func (m *Manager) TestServerConnection(ctx context.Context, cfg schema.ServerConfig) bool {
	normalizeConfig(&cfg)
	if cfg.URL == "" || cfg.URL == "null" {
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch cfg.Protocol {
	case schema.ProtocolWebSocket, schema.ProtocolMCPWS:
		ws, err := dialWS(probeCtx, cfg.URL)
		if err != nil {
			return false
		}
		ws.close()
		return true
	default:
		tr := newHTTPTransport(cfg.URL, cfg.Headers, cfg.Protocol == schema.ProtocolSSE)
		return tr.probe(probeCtx) == nil
	}
}

// GetServerStatus snapshots every configured server.
func (m *Manager) GetServerStatus() []schema.ServerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schema.ServerStatus, 0, len(m.order))
	for _, id := range m.order {
		cfg := m.servers[id]
		out = append(out, schema.ServerStatus{
			ID:           id,
			Name:         cfg.Name,
			Protocol:     cfg.Protocol,
			Enabled:      cfg.Enabled,
			Connected:    m.conns[id].open(),
			ToolCount:    len(m.tools[id]),
			Capabilities: cfg.Capabilities,
		})
	}
	return out
}

// GetServer returns a copy of one configuration.
func (m *Manager) GetServer(id string) (schema.ServerConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.servers[id]
	return cfg, ok
}

// Close disconnects everything and stops all reconnect timers.
func (m *Manager) Close() {
	m.mu.Lock()
	ids := append([]string(nil), m.order...)
	for id, t := range m.reconnects {
		t.Stop()
		delete(m.reconnects, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.DisconnectFromServer(id) //nolint:errcheck
	}
}
