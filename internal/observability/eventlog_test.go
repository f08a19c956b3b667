package observability

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEventLog_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	now := time.Now().UTC().Truncate(time.Millisecond)
	events := []Event{
		{
			Time:    now,
			Level:   "INFO",
			Type:    EventTaskNew,
			Message: "new task observed",
			Data:    map[string]any{"task_id": "100-2024-01-01"},
		},
		{
			Time:    now.Add(time.Second),
			Level:   "WARN",
			Type:    EventStorageDegraded,
			Message: "unvalidated raw write used",
			Data:    map[string]any{"strategy": "raw"},
		},
	}

	for _, e := range events {
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}

	if len(result) != 2 {
		t.Fatalf("expected 2 events, got %d", len(result))
	}
	if result[0].Type != EventTaskNew {
		t.Errorf("expected type %s, got %s", EventTaskNew, result[0].Type)
	}
	if result[0].Data["task_id"] != "100-2024-01-01" {
		t.Errorf("expected task_id in data, got %v", result[0].Data)
	}
	if result[1].Level != "WARN" {
		t.Errorf("expected level WARN, got %s", result[1].Level)
	}
}

func TestEventLog_FilterByTypeAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	now := time.Now().UTC()
	events := []Event{
		{Time: now, Level: "INFO", Type: EventTaskNew, Message: "first"},
		{Time: now.Add(time.Second), Level: "WARN", Type: EventStorageDegraded, Message: "degraded"},
		{Time: now.Add(2 * time.Second), Level: "INFO", Type: EventTaskNew, Message: "second"},
		{Time: now.Add(3 * time.Second), Level: "ERROR", Type: EventStorageFailed, Message: "failed"},
	}
	for _, e := range events {
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}

	byType, err := log.Read(EventFilter{Type: EventTaskNew})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(byType) != 2 {
		t.Fatalf("expected 2 task.new events, got %d", len(byType))
	}

	byLevel, err := log.Read(EventFilter{Level: "ERROR"})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(byLevel) != 1 || byLevel[0].Type != EventStorageFailed {
		t.Fatalf("expected 1 ERROR event, got %v", byLevel)
	}
}

func TestEventLog_FilterByTimeWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e := Event{Time: base.Add(time.Duration(i) * time.Hour), Level: "INFO", Type: EventReconcileBatch}
		if err := log.Write(e); err != nil {
			t.Fatalf("writing event: %v", err)
		}
	}

	since := base.Add(30 * time.Minute)
	until := base.Add(90 * time.Minute)
	result, err := log.Read(EventFilter{Since: &since, Until: &until})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(result) != 1 {
		t.Fatalf("expected 1 event in window, got %d", len(result))
	}
	if !result[0].Time.Equal(base.Add(time.Hour)) {
		t.Errorf("wrong event selected: %v", result[0].Time)
	}
}

func TestEventLog_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	content := `{"time":"2025-06-01T12:00:00Z","level":"INFO","type":"task.new","msg":"ok"}
{broken json line
{"time":"2025-06-01T12:01:00Z","level":"INFO","type":"task.new","msg":"also ok"}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	defer log.Close()

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading events: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("expected 2 parseable events, got %d", len(result))
	}
}

func TestEventLog_ReadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	log, err := NewJSONLEventLog(path)
	if err != nil {
		t.Fatalf("creating event log: %v", err)
	}
	if err := log.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	result, err := log.Read(EventFilter{})
	if err != nil {
		t.Fatalf("reading missing log: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil events, got %v", result)
	}
}

func TestLogHelperSwallowsNilLog(t *testing.T) {
	// Must not panic.
	Log(nil, "INFO", EventTaskNew, "ignored", nil)
	Log(NewNopEventLog(), "INFO", EventTaskNew, "discarded", map[string]any{"k": "v"})
}
