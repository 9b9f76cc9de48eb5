// Package schema contains the core contracts shared across helixbridge packages.
// Concrete implementations live in their respective packages; this package is the
// single canonical source of truth for every shared type.
package schema

// Protocol names the transport family used with one tool server.
type Protocol string

const (
	// ProtocolWebSocket is the raw framed WebSocket transport with optional
	// first-message authentication.
	ProtocolWebSocket Protocol = "websocket"
	// ProtocolMCPWS is the MCP-handshake-over-WebSocket variant.
	ProtocolMCPWS Protocol = "mcp-ws"
	// ProtocolHTTP is plain HTTP request/response with reachability probing.
	ProtocolHTTP Protocol = "http"
	// ProtocolSSE is HTTP with Server-Sent-Events streaming responses.
	ProtocolSSE Protocol = "sse"
)

// ServerConfig identifies and parameterises one upstream tool server.
// The full set is persisted under the "mcpServers" key of the config store.
type ServerConfig struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description,omitempty"`
	URL            string            `json:"url"`
	Enabled        bool              `json:"enabled"`
	AutoConnect    bool              `json:"autoConnect"`
	ReconnectDelay int               `json:"reconnectDelay"` // seconds, >= 1
	Category       string            `json:"category,omitempty"`
	Capabilities   []string          `json:"capabilities,omitempty"`
	Protocol       Protocol          `json:"protocol"`
	Headers        map[string]string `json:"headers,omitempty"`
	IsBuiltin      bool              `json:"isBuiltin,omitempty"`
	// TimeoutMs overrides the per-call timeout for this server (optional).
	TimeoutMs int `json:"timeoutMs,omitempty"`
}

// ReadyState is the lifecycle state of one server connection.
type ReadyState string

const (
	StateConnecting ReadyState = "connecting"
	StateOpen       ReadyState = "open"
	StateClosing    ReadyState = "closing"
	StateClosed     ReadyState = "closed"
)

// ServerStatus is the per-server snapshot returned by GetServerStatus.
type ServerStatus struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Protocol     Protocol `json:"protocol"`
	Enabled      bool     `json:"enabled"`
	Connected    bool     `json:"connected"`
	ToolCount    int      `json:"toolCount"`
	Capabilities []string `json:"capabilities,omitempty"`
}
