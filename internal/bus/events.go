package bus

// Topics emitted by the server manager. Payloads are the typed events below.
const (
	TopicServerAdded        = "serverAdded"
	TopicServerRemoved      = "serverRemoved"
	TopicServerUpdated      = "serverUpdated"
	TopicServerConnecting   = "serverConnecting"
	TopicServerConnected    = "serverConnected"
	TopicServerDisconnected = "serverDisconnected"
	TopicServerError        = "serverError"
	TopicToolsUpdated       = "toolsUpdated"
	TopicToolResponse       = "toolResponse"
)

// ServerEvent is the payload for all server lifecycle topics.
type ServerEvent struct {
	ServerID string
	Name     string
	Err      error // set for TopicServerError
}

// ToolsEvent is the payload for TopicToolsUpdated.
type ToolsEvent struct {
	ServerID string
	Count    int
}

// ToolResponseEvent is the payload for TopicToolResponse.
type ToolResponseEvent struct {
	ServerID  string
	RequestID string
	Success   bool
}
