package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// FrameKind classifies one inbound server message.
type FrameKind int

const (
	FrameUnknown FrameKind = iota
	FrameToolList
	FrameToolResponse
	FrameError
	FrameInfo
)

// Frame is the parsed shape of an inbound message. Parsing is a pure
// function of the bytes; all side effects live in the manager.
type Frame struct {
	Kind      FrameKind
	RequestID string
	Tools     []map[string]any
	Result    any
	Err       string
	Success   bool
	// ServerError marks frames that should additionally surface as a
	// serverError event (JSON-RPC error objects, legacy type=error).
	ServerError bool
}

// idString normalises a JSON-RPC id, which may arrive as string or number.
func idString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", id)
	}
}

func toolsFromAny(v any) ([]map[string]any, bool) {
	list, ok := v.([]any)
	if !ok {
		return nil, false
	}
	tools := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			tools = append(tools, m)
		}
	}
	return tools, true
}

// classifyFrame decodes one WebSocket text frame into a Frame. Malformed
// JSON yields FrameUnknown with Err set; the caller logs and drops it.
func classifyFrame(data []byte) Frame {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Frame{Kind: FrameUnknown, Err: err.Error()}
	}

	if m["jsonrpc"] == "2.0" {
		return classifyJSONRPC(m)
	}

	switch m["type"] {
	case "tools", "tools-list":
		return classifyLegacyTools(m)
	case "tool-response":
		return classifyLegacyResponse(m)
	case "connection":
		return Frame{Kind: FrameInfo}
	case "error":
		msg, _ := m["message"].(string)
		if msg == "" {
			msg, _ = m["error"].(string)
		}
		return Frame{Kind: FrameError, Err: msg, ServerError: true}
	}
	return Frame{Kind: FrameUnknown}
}

func classifyJSONRPC(m map[string]any) Frame {
	if errObj, ok := m["error"]; ok && errObj != nil {
		f := Frame{
			Kind:        FrameToolResponse,
			RequestID:   idString(m["id"]),
			Err:         jsonRPCErrorText(errObj),
			ServerError: true,
		}
		return f
	}

	result, ok := m["result"].(map[string]any)
	if !ok {
		return Frame{Kind: FrameUnknown}
	}
	if tools, ok := toolsFromAny(result["tools"]); ok {
		return Frame{Kind: FrameToolList, RequestID: idString(m["id"]), Tools: tools}
	}
	// A result carrying content (or any other payload) correlates by id.
	return Frame{
		Kind:      FrameToolResponse,
		RequestID: idString(m["id"]),
		Result:    result,
		Success:   true,
	}
}

func jsonRPCErrorText(errObj any) string {
	if em, ok := errObj.(map[string]any); ok {
		if msg, ok := em["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("%v", errObj)
}

func classifyLegacyTools(m map[string]any) Frame {
	if tools, ok := toolsFromAny(m["tools"]); ok {
		return Frame{Kind: FrameToolList, Tools: tools}
	}
	if data, ok := m["data"].(map[string]any); ok {
		if tools, ok := toolsFromAny(data["tools"]); ok {
			return Frame{Kind: FrameToolList, Tools: tools}
		}
	}
	return Frame{Kind: FrameToolList}
}

func classifyLegacyResponse(m map[string]any) Frame {
	src := m
	if data, ok := m["data"].(map[string]any); ok {
		src = data
	}
	f := Frame{
		Kind:      FrameToolResponse,
		RequestID: idString(src["requestId"]),
		Result:    src["result"],
	}
	if f.RequestID == "" {
		f.RequestID = idString(m["requestId"])
	}
	success, hasSuccess := src["success"].(bool)
	f.Success = !hasSuccess || success
	if !f.Success {
		if msg, ok := src["error"].(string); ok {
			f.Err = msg
		} else {
			f.Err = "tool execution failed"
		}
	}
	return f
}

// parseToolListBody extracts a tool list from an HTTP discovery response.
// The body may be a JSON envelope ({tools}, {result:{tools}}, bare array) or
// an SSE stream with the envelope embedded in a data: line.
func parseToolListBody(body []byte) ([]map[string]any, bool) {
	if tools, ok := toolListFromJSON(body); ok {
		return tools, true
	}
	if !looksLikeSSE(body) {
		return nil, false
	}
	for _, ev := range parseSSE(bytes.NewReader(body)) {
		if ev.Data == "" {
			continue
		}
		if tools, ok := toolListFromJSON([]byte(ev.Data)); ok {
			return tools, true
		}
	}
	return nil, false
}

func toolListFromJSON(body []byte) ([]map[string]any, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, false
	}
	switch t := v.(type) {
	case []any:
		return toolsFromAny(t)
	case map[string]any:
		if tools, ok := toolsFromAny(t["tools"]); ok {
			return tools, true
		}
		if result, ok := t["result"].(map[string]any); ok {
			if tools, ok := toolsFromAny(result["tools"]); ok {
				return tools, true
			}
		}
	}
	return nil, false
}

// parseCallResultBody extracts a tool-call result from an HTTP response with
// the same JSON-or-SSE tolerance. The result is the first of result, data,
// response, or the whole body.
func parseCallResultBody(body []byte) (any, error) {
	if v, err, ok := callResultFromJSON(body); ok {
		return v, err
	}
	if looksLikeSSE(body) {
		for _, ev := range parseSSE(bytes.NewReader(body)) {
			if ev.Data == "" {
				continue
			}
			if v, err, ok := callResultFromJSON([]byte(ev.Data)); ok {
				return v, err
			}
		}
	}
	return string(body), nil
}

func callResultFromJSON(body []byte) (any, error, bool) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		return v, nil, true
	}
	if errObj, ok := m["error"]; ok && errObj != nil {
		return nil, fmt.Errorf("tool error: %s", jsonRPCErrorText(errObj)), true
	}
	for _, key := range []string{"result", "data", "response"} {
		if val, ok := m[key]; ok && val != nil {
			return val, nil, true
		}
	}
	return m, nil, true
}
