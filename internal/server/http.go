package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Conventional tool-list endpoints tried after the base URL, in order.
var discoveryEndpoints = []string{
	"/tools",
	"/api/tools",
	"/mcp/tools",
	"/api/mcp/tools",
	"/tools/list",
	"/api/tools/list",
}

// Conventional tool-call endpoints tried before the JSON-RPC fallback.
var callEndpoints = []string{
	"/tools/call",
	"/api/tools/call",
	"/call-tool",
	"/api/call-tool",
}

const maxHTTPBody = 4 * 1024 * 1024

// httpTransport serves both the plain http and the sse protocol families.
// The only differences are the Accept headers and the probe request.
type httpTransport struct {
	baseURL string
	headers map[string]string
	stream  bool // sse family
	client  *http.Client
}

func newHTTPTransport(baseURL string, headers map[string]string, stream bool) *httpTransport {
	return &httpTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		headers: headers,
		stream:  stream,
		client:  &http.Client{Timeout: DefaultCallTimeout},
	}
}

func (t *httpTransport) accept() string {
	if t.stream {
		return "text/event-stream, application/json"
	}
	return "application/json"
}

func (t *httpTransport) apply(req *http.Request) {
	req.Header.Set("Accept", t.accept())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
}

// probe verifies reachability. 2xx, 404 and 405 all count as reachable: the
// endpoint may not implement the probe method. A 405 on GET is retried once
// as a JSON-RPC ping POST.
func (t *httpTransport) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL, nil)
	if err != nil {
		return err
	}
	t.apply(req)
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", t.baseURL, err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxHTTPBody)) //nolint:errcheck
	resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		return t.probePing(ctx)
	}
	if reachableStatus(resp.StatusCode) {
		return nil
	}
	return fmt.Errorf("probe %s: HTTP %d", t.baseURL, resp.StatusCode)
}

func (t *httpTransport) probePing(ctx context.Context) error {
	body := jsonRPCBody("ping", nil)
	resp, err := t.post(ctx, t.baseURL, body)
	if err != nil {
		return fmt.Errorf("probe ping %s: %w", t.baseURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxHTTPBody)) //nolint:errcheck
	if reachableStatus(resp.StatusCode) {
		return nil
	}
	return fmt.Errorf("probe ping %s: HTTP %d", t.baseURL, resp.StatusCode)
}

func reachableStatus(code int) bool {
	return (code >= 200 && code < 300) ||
		code == http.StatusNotFound ||
		code == http.StatusMethodNotAllowed
}

// discoverTools finds the server's tool list: POST tools/list at the base
// URL first, then the conventional endpoints, POST before GET. The first
// endpoint returning a parseable tool list wins.
func (t *httpTransport) discoverTools(ctx context.Context) ([]map[string]any, error) {
	if tools, ok := t.tryListPOST(ctx, t.baseURL); ok {
		return tools, nil
	}
	for _, ep := range discoveryEndpoints {
		url := t.baseURL + ep
		if tools, ok := t.tryListPOST(ctx, url); ok {
			return tools, nil
		}
		if tools, ok := t.tryListGET(ctx, url); ok {
			return tools, nil
		}
	}
	return nil, fmt.Errorf("no endpoint of %s returned a tool list", t.baseURL)
}

func (t *httpTransport) tryListPOST(ctx context.Context, url string) ([]map[string]any, bool) {
	resp, err := t.post(ctx, url, jsonRPCBody("tools/list", nil))
	if err != nil {
		return nil, false
	}
	return t.readToolList(resp)
}

func (t *httpTransport) tryListGET(ctx context.Context, url string) ([]map[string]any, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	t.apply(req)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, false
	}
	return t.readToolList(resp)
}

func (t *httpTransport) readToolList(resp *http.Response) ([]map[string]any, bool) {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxHTTPBody)) //nolint:errcheck
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, false
	}
	return parseToolListBody(body)
}

// callTool posts a {tool, parameters} envelope to the conventional call
// endpoints; if none accepts, falls back to JSON-RPC tools/call at the base
// URL.
func (t *httpTransport) callTool(ctx context.Context, name string, params map[string]any) (any, error) {
	envelope, _ := json.Marshal(map[string]any{"tool": name, "parameters": params})
	for _, ep := range callEndpoints {
		resp, err := t.post(ctx, t.baseURL+ep, envelope)
		if err != nil {
			continue
		}
		if resp.StatusCode >= 400 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxHTTPBody)) //nolint:errcheck
			resp.Body.Close()
			continue
		}
		return t.readCallResult(resp)
	}

	resp, err := t.post(ctx, t.baseURL, jsonRPCBody("tools/call", map[string]any{
		"name":      name,
		"arguments": params,
	}))
	if err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", name, t.baseURL, err)
	}
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxHTTPBody)) //nolint:errcheck
		resp.Body.Close()
		return nil, fmt.Errorf("call %s on %s: HTTP %d", name, t.baseURL, resp.StatusCode)
	}
	return t.readCallResult(resp)
}

func (t *httpTransport) readCallResult(resp *http.Response) (any, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxHTTPBody))
	if err != nil {
		return nil, err
	}
	return parseCallResultBody(body)
}

func (t *httpTransport) post(ctx context.Context, url string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	t.apply(req)
	return t.client.Do(req)
}

func jsonRPCBody(method string, params map[string]any) []byte {
	req := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"id":      newRequestID(),
	}
	if params != nil {
		req["params"] = params
	}
	data, _ := json.Marshal(req)
	return data
}

// newRequestID generates an opaque request id compared bit-for-bit with
// returned ids.
func newRequestID() string {
	return "req-" + uuid.NewString()
}

// probeTimeout bounds TestServerConnection.
const probeTimeout = 5 * time.Second
