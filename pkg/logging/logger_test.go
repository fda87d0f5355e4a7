package logging

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readJSONL(t *testing.T, path string) []Event {
	t.Helper()
	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("unmarshal log line: %v", err)
		}
		events = append(events, evt)
	}
	return events
}

func TestLoggerWritesEvents(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "instance-1")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	logger.SetSessionKey("agent:main:main")
	if err := logger.Info(CategoryGateway, "connected", "handshake complete", map[string]any{"protocol": 3}); err != nil {
		t.Fatalf("Info: %v", err)
	}

	events := readJSONL(t, filepath.Join(dir, "events.jsonl"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.Category != CategoryGateway || evt.EventType != "connected" {
		t.Errorf("unexpected event: %+v", evt)
	}
	if evt.InstanceID != "instance-1" {
		t.Errorf("expected instance id stamped, got %q", evt.InstanceID)
	}
	if evt.SessionKey != "agent:main:main" {
		t.Errorf("expected session key stamped, got %q", evt.SessionKey)
	}
}

func TestLoggerErrorSink(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "instance-1")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	logger.Info(CategoryChat, "delta", "", nil)
	logger.Error(CategoryGateway, "disconnect", "read loop exited", nil)

	errs := readJSONL(t, filepath.Join(dir, "errors.jsonl"))
	if len(errs) != 1 {
		t.Fatalf("expected 1 error event, got %d", len(errs))
	}
	if errs[0].EventType != "disconnect" {
		t.Errorf("unexpected error event: %+v", errs[0])
	}
}

func TestLoggerTrafficSink(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "instance-1")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	logger.Info(CategoryTraffic, "frame", "", map[string]any{"type": "event", "seq": 7})
	logger.Info(CategoryChat, "final", "", nil)

	traffic := readJSONL(t, filepath.Join(dir, "traffic.jsonl"))
	if len(traffic) != 1 {
		t.Fatalf("expected 1 traffic event, got %d", len(traffic))
	}
}

func TestLoggerMinLevel(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewLogger(dir, "instance-1")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Close()

	logger.Debug(CategoryGateway, "frame", "suppressed at default level", nil)
	events := readJSONL(t, filepath.Join(dir, "events.jsonl"))
	if len(events) != 0 {
		t.Fatalf("debug events should be suppressed at default level, got %d", len(events))
	}

	logger.SetMinLevel(LevelDebug)
	logger.Debug(CategoryGateway, "frame", "now visible", nil)
	events = readJSONL(t, filepath.Join(dir, "events.jsonl"))
	if len(events) != 1 {
		t.Fatalf("expected 1 event after lowering level, got %d", len(events))
	}
}
