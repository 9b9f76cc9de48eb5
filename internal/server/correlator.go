package server

import (
	"fmt"
	"sync"
	"time"
)

// DefaultCallTimeout bounds every remote tool call.
const DefaultCallTimeout = 30 * time.Second

// CallResult is the single-shot outcome of a pending call.
type CallResult struct {
	Value any
	Err   error
}

// PendingCall is one in-flight remote invocation. Done receives exactly one
// CallResult: resolution, rejection, cancellation, or timeout.
type PendingCall struct {
	ServerID  string
	RequestID string
	ToolName  string
	StartedAt time.Time
	Done      chan CallResult

	timer *time.Timer
}

// Correlator matches asynchronous inbound responses to pending calls.
// Request ids are only unique within one server; an id collision across
// different servers is permitted.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]map[string]*PendingCall // serverID -> requestID
}

func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]map[string]*PendingCall)}
}

// Register creates a pending call and arms its timeout. On expiry the call
// fails with a timeout error and leaves no trace in the table.
func (c *Correlator) Register(serverID, requestID, toolName string, timeout time.Duration) *PendingCall {
	call := &PendingCall{
		ServerID:  serverID,
		RequestID: requestID,
		ToolName:  toolName,
		StartedAt: time.Now(),
		Done:      make(chan CallResult, 1),
	}
	call.timer = time.AfterFunc(timeout, func() {
		c.fail(serverID, requestID, fmt.Errorf("Tool execution timeout: %s", toolName))
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[serverID] == nil {
		c.pending[serverID] = make(map[string]*PendingCall)
	}
	c.pending[serverID][requestID] = call
	return call
}

// take removes and returns the pending call, if still present.
func (c *Correlator) take(serverID, requestID string) *PendingCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	call, ok := c.pending[serverID][requestID]
	if !ok {
		return nil
	}
	delete(c.pending[serverID], requestID)
	if len(c.pending[serverID]) == 0 {
		delete(c.pending, serverID)
	}
	return call
}

// Resolve completes a call successfully. A response arriving after timeout
// finds no entry and is discarded silently.
func (c *Correlator) Resolve(serverID, requestID string, value any) bool {
	call := c.take(serverID, requestID)
	if call == nil {
		return false
	}
	call.timer.Stop()
	call.Done <- CallResult{Value: value}
	return true
}

// Reject completes a call with a failure.
func (c *Correlator) Reject(serverID, requestID string, err error) bool {
	call := c.take(serverID, requestID)
	if call == nil {
		return false
	}
	call.timer.Stop()
	call.Done <- CallResult{Err: err}
	return true
}

// fail is the timer path; the timer is already spent.
func (c *Correlator) fail(serverID, requestID string, err error) {
	call := c.take(serverID, requestID)
	if call == nil {
		return
	}
	call.Done <- CallResult{Err: err}
}

// Cancel drops a pending call without delivering a result (caller gave up).
func (c *Correlator) Cancel(serverID, requestID string) {
	if call := c.take(serverID, requestID); call != nil {
		call.timer.Stop()
	}
}

// FailAll rejects every pending call for serverID, used when its connection
// drops.
func (c *Correlator) FailAll(serverID string, err error) {
	c.mu.Lock()
	calls := c.pending[serverID]
	delete(c.pending, serverID)
	c.mu.Unlock()

	for _, call := range calls {
		call.timer.Stop()
		call.Done <- CallResult{Err: err}
	}
}

// PendingCount returns the number of in-flight calls for serverID.
func (c *Correlator) PendingCount(serverID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[serverID])
}
