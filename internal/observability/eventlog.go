// Package observability provides the diagnostic event log for the
// reconciliation engine. Every degraded continuation in the engine
// (suppressed notifications, storage fallbacks, retry exhaustion) is
// recorded here instead of being surfaced as a failure, so it can be
// inspected later via the export command.
package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Event types written by the engine.
const (
	EventReconcileBatch   = "reconcile.batch"
	EventTaskNew          = "task.new"
	EventTaskRenotified   = "task.renotified"
	EventTaskIgnored      = "task.ignored"
	EventTaskSnoozed      = "task.snoozed"
	EventTaskOpened       = "task.opened"
	EventStateReset       = "state.reset"
	EventRetentionCleanup = "retention.cleanup"
	EventStorageDegraded  = "storage.degraded"
	EventStorageFailed    = "storage.write_failed"
	EventNotifySent       = "notify.sent"
	EventNotifySuppressed = "notify.suppressed"
	EventRetryExhausted   = "retry.exhausted"
)

// Event is a single diagnostic record.
type Event struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"` // INFO, WARN, ERROR
	Type    string         `json:"type"`
	Message string         `json:"msg"`
	Data    map[string]any `json:"data,omitempty"`
}

// EventFilter selects events on read.
type EventFilter struct {
	Since *time.Time
	Until *time.Time
	Type  string
	Level string
}

// EventLog is the interface for writing and reading diagnostic events.
type EventLog interface {
	Write(event Event) error
	Read(filter EventFilter) ([]Event, error)
	Close() error
}

// Log writes an event with the current UTC time. Write errors are
// swallowed: diagnostics must never turn into a failure of the operation
// being diagnosed.
func Log(l EventLog, level, eventType, msg string, data map[string]any) {
	if l == nil {
		return
	}
	_ = l.Write(Event{
		Time:    time.Now().UTC(),
		Level:   level,
		Type:    eventType,
		Message: msg,
		Data:    data,
	})
}

// jsonlEventLog implements EventLog with an append-only JSONL file.
type jsonlEventLog struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// NewJSONLEventLog creates an EventLog backed by a JSONL file at path.
func NewJSONLEventLog(path string) (EventLog, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &jsonlEventLog{path: path, file: f}, nil
}

// Write appends a JSON-encoded event followed by a newline.
func (l *jsonlEventLog) Write(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	data = append(data, '\n')

	if _, err := l.file.Write(data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// Read scans the log line by line and returns events matching the filter.
// Malformed lines are skipped, not reported: a half-written trailing line
// after a crash must not make the whole log unreadable.
func (l *jsonlEventLog) Read(filter EventFilter) ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening event log for reading: %w", err)
	}
	defer func() { _ = f.Close() }()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var event Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}

		if matchesEventFilter(event, filter) {
			events = append(events, event)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning event log: %w", err)
	}

	return events, nil
}

// Close closes the underlying log file.
func (l *jsonlEventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("closing event log: %w", err)
	}
	return nil
}

func matchesEventFilter(event Event, filter EventFilter) bool {
	if filter.Since != nil && event.Time.Before(*filter.Since) {
		return false
	}
	if filter.Until != nil && event.Time.After(*filter.Until) {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	if filter.Level != "" && event.Level != filter.Level {
		return false
	}
	return true
}

// nopEventLog discards writes and reads nothing. Used when no log path is
// configured and by tests that do not assert on diagnostics.
type nopEventLog struct{}

// NewNopEventLog returns an EventLog that discards everything.
func NewNopEventLog() EventLog { return nopEventLog{} }

func (nopEventLog) Write(Event) error                { return nil }
func (nopEventLog) Read(EventFilter) ([]Event, error) { return nil, nil }
func (nopEventLog) Close() error                     { return nil }
