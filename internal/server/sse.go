package server

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one parsed Server-Sent-Events frame.
type sseEvent struct {
	Type string
	Data string
	ID   string
}

// parseSSE reads an event-stream body into its events. Multi-line data
// fields are joined with newlines; comment lines are skipped; a trailing
// event without a blank-line terminator is still emitted.
func parseSSE(r io.Reader) []sseEvent {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var events []sseEvent
	var current sseEvent
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 && current.Type == "" && current.ID == "" {
			return
		}
		current.Data = strings.Join(dataLines, "\n")
		if current.Type == "" {
			current.Type = "message"
		}
		events = append(events, current)
		current = sseEvent{}
		dataLines = nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := line, ""
		if i := strings.Index(line, ":"); i != -1 {
			field, value = line[:i], line[i+1:]
			if len(value) > 0 && value[0] == ' ' {
				value = value[1:]
			}
		}

		switch field {
		case "event":
			current.Type = value
		case "data":
			dataLines = append(dataLines, value)
		case "id":
			current.ID = value
		}
	}
	flush()
	return events
}

// looksLikeSSE reports whether a response body is event-stream framed.
func looksLikeSSE(body []byte) bool {
	s := strings.TrimSpace(string(body))
	return strings.HasPrefix(s, "event:") || strings.HasPrefix(s, "data:") || strings.HasPrefix(s, ":")
}
