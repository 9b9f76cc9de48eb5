// Package executor routes tool invocations to the built-in adapter or a
// remote server and keeps a session-scoped audit trail of every execution.
package executor

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Execution states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Result bodies larger than maxResultBytes are replaced by a truncated
// preview of previewBytes.
const (
	maxResultBytes  = 10 * 1024
	previewBytes    = 1024
	defaultMaxAge   = time.Hour
	janitorSchedule = "@every 10m"
)

// ExecutionRecord is one tool invocation, scoped to a session.
type ExecutionRecord struct {
	ExecutionID string         `json:"executionId"`
	SessionID   string         `json:"sessionId"`
	ToolName    string         `json:"toolName"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Transport   string         `json:"transport"`
	StartTime   time.Time      `json:"startTime"`
	EndTime     time.Time      `json:"endTime,omitzero"`
	Duration    time.Duration  `json:"duration"`
	Success     *bool          `json:"success"` // nil while running
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	Status      string         `json:"status"`
}

// Session groups execution records for audit, in start-time order.
type Session struct {
	ID      string
	Records []*ExecutionRecord
}

// ToolRollup is the per-tool aggregate inside a session summary.
type ToolRollup struct {
	Count       int
	Successes   int
	Failures    int
	AvgDuration time.Duration
	LastSuccess bool
}

// SessionSummary is returned by EndSession.
type SessionSummary struct {
	SessionID   string
	Total       int
	Successful  int
	Failed      int
	Running     int
	PerTool     map[string]ToolRollup
	MinDuration time.Duration
	AvgDuration time.Duration
	MaxDuration time.Duration
}

// Tracker is the execution audit log. One session is current at a time;
// records created outside any session fall into an implicit default session.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Session
	records  map[string]*ExecutionRecord
	current  string

	janitor *cron.Cron
}

const defaultSessionID = "default"

func NewTracker() *Tracker {
	t := &Tracker{
		sessions: make(map[string]*Session),
		records:  make(map[string]*ExecutionRecord),
		current:  defaultSessionID,
	}
	t.sessions[defaultSessionID] = &Session{ID: defaultSessionID}
	return t
}

// StartJanitor schedules periodic eviction of old closed records.
func (t *Tracker) StartJanitor() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.janitor != nil {
		return
	}
	t.janitor = cron.New()
	t.janitor.AddFunc(janitorSchedule, func() { t.Cleanup(defaultMaxAge) }) //nolint:errcheck
	t.janitor.Start()
}

// Stop halts the janitor if running.
func (t *Tracker) Stop() {
	t.mu.Lock()
	j := t.janitor
	t.janitor = nil
	t.mu.Unlock()
	if j != nil {
		j.Stop()
	}
}

// StartSession opens a session and makes it current.
func (t *Tracker) StartSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sessionID]; !ok {
		t.sessions[sessionID] = &Session{ID: sessionID}
	}
	t.current = sessionID
}

// EndSession closes a session and returns its summary. The default session
// becomes current again.
func (t *Tracker) EndSession(sessionID string) SessionSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.sessions[sessionID]
	summary := SessionSummary{SessionID: sessionID, PerTool: make(map[string]ToolRollup)}
	if s == nil {
		return summary
	}

	var totalDur time.Duration
	var closed int
	perToolDur := make(map[string]time.Duration)
	for _, r := range s.Records {
		summary.Total++
		roll := summary.PerTool[r.ToolName]
		roll.Count++
		switch r.Status {
		case StatusCompleted:
			summary.Successful++
			roll.Successes++
			roll.LastSuccess = true
		case StatusFailed:
			summary.Failed++
			roll.Failures++
			roll.LastSuccess = false
		default:
			summary.Running++
		}
		if r.Status != StatusRunning {
			closed++
			totalDur += r.Duration
			perToolDur[r.ToolName] += r.Duration
			if summary.MinDuration == 0 || r.Duration < summary.MinDuration {
				summary.MinDuration = r.Duration
			}
			if r.Duration > summary.MaxDuration {
				summary.MaxDuration = r.Duration
			}
		}
		summary.PerTool[r.ToolName] = roll
	}
	if closed > 0 {
		summary.AvgDuration = totalDur / time.Duration(closed)
	}
	for name, roll := range summary.PerTool {
		if n := roll.Successes + roll.Failures; n > 0 {
			roll.AvgDuration = perToolDur[name] / time.Duration(n)
			summary.PerTool[name] = roll
		}
	}

	if t.current == sessionID {
		t.current = defaultSessionID
	}
	return summary
}

// RecordStart opens a record in the current session and returns its id.
// Parameters are deep-cloned through a safe-serialisation filter.
func (t *Tracker) RecordStart(toolName, transport string, params map[string]any) string {
	rec := &ExecutionRecord{
		ExecutionID: uuid.NewString(),
		ToolName:    toolName,
		Parameters:  safeCloneParams(params),
		Transport:   transport,
		StartTime:   time.Now(),
		Status:      StatusRunning,
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	rec.SessionID = t.current
	s := t.sessions[t.current]
	if s == nil {
		s = &Session{ID: t.current}
		t.sessions[t.current] = s
	}
	s.Records = append(s.Records, rec)
	t.records[rec.ExecutionID] = rec
	return rec.ExecutionID
}

// RecordSuccess closes a record as completed. Oversized results are replaced
// by a truncated preview.
func (t *Tracker) RecordSuccess(executionID string, result any) {
	t.close(executionID, true, capResult(result), "")
}

// RecordFailure closes a record as failed.
func (t *Tracker) RecordFailure(executionID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	t.close(executionID, false, nil, msg)
}

func (t *Tracker) close(executionID string, success bool, result any, errMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[executionID]
	if !ok || rec.Status != StatusRunning {
		return
	}
	rec.EndTime = time.Now()
	rec.Duration = rec.EndTime.Sub(rec.StartTime)
	rec.Success = &success
	if success {
		rec.Status = StatusCompleted
		rec.Result = result
	} else {
		rec.Status = StatusFailed
		rec.Error = errMsg
	}
}

// Cleanup evicts closed records older than maxAge (default one hour when
// maxAge <= 0) from every session.
func (t *Tracker) Cleanup(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	cutoff := time.Now().Add(-maxAge)

	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := 0
	for _, s := range t.sessions {
		kept := s.Records[:0]
		for _, r := range s.Records {
			if r.Status != StatusRunning && r.StartTime.Before(cutoff) {
				delete(t.records, r.ExecutionID)
				evicted++
				continue
			}
			kept = append(kept, r)
		}
		s.Records = kept
	}
	if evicted > 0 {
		slog.Debug("executor: old records evicted", "count", evicted)
	}
	return evicted
}

// IsToolExecutedSuccessfully reports whether the tool has at least one
// completed record, optionally restricted to matching parameters.
func (t *Tracker) IsToolExecutedSuccessfully(toolName string, params map[string]any) bool {
	var want string
	if params != nil {
		want = canonical(params)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range t.records {
		if rec.ToolName != toolName || rec.Status != StatusCompleted {
			continue
		}
		if params == nil || canonical(rec.Parameters) == want {
			return true
		}
	}
	return false
}

// GetToolExecutionStatus returns the status of the tool's most recent record,
// or "" when it has never run.
func (t *Tracker) GetToolExecutionStatus(toolName string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var latest *ExecutionRecord
	for _, rec := range t.records {
		if rec.ToolName != toolName {
			continue
		}
		if latest == nil || rec.StartTime.After(latest.StartTime) {
			latest = rec
		}
	}
	if latest == nil {
		return ""
	}
	return latest.Status
}

// GetSessionExecutions returns copies of a session's records in start order.
func (t *Tracker) GetSessionExecutions(sessionID string) []ExecutionRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.sessions[sessionID]
	if s == nil {
		return nil
	}
	out := make([]ExecutionRecord, len(s.Records))
	for i, r := range s.Records {
		out[i] = *r
	}
	return out
}

// safeCloneParams deep-clones through JSON; unserialisable values are
// replaced with a stand-in rather than failing the record.
func safeCloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return map[string]any{"serialization_error": true}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"serialization_error": true}
	}
	return out
}

// capResult enforces the serialised size limit on stored results.
func capResult(result any) any {
	raw, err := json.Marshal(result)
	if err != nil {
		return map[string]any{"serialization_error": true}
	}
	if len(raw) <= maxResultBytes {
		return result
	}
	return map[string]any{
		"truncated": true,
		"preview":   string(raw[:previewBytes]),
	}
}

func canonical(params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(raw)
}
