package logging

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func fileLogger(t *testing.T, format Format) (*Logger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "attestd.log")
	l, err := New(&Config{
		Level:     LevelDebug,
		Format:    format,
		Output:    "file",
		FilePath:  path,
		Component: "test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l, path
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestJSONOutput(t *testing.T) {
	l, path := fileLogger(t, FormatJSON)
	l.Info("verification complete", "verdict", "high")

	line := strings.TrimSpace(readLog(t, path))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("not JSON: %q", line)
	}
	if entry["msg"] != "verification complete" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["component"] != "test" {
		t.Errorf("component = %v", entry["component"])
	}
	if entry["verdict"] != "high" {
		t.Errorf("verdict attr = %v", entry["verdict"])
	}
}

func TestRedaction(t *testing.T) {
	l, path := fileLogger(t, FormatText)
	l.Info("loading roots", "api_key", "hunter2", "roots_dir", "/etc/roots")

	out := readLog(t, path)
	if strings.Contains(out, "hunter2") {
		t.Error("sensitive value leaked")
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Error("redaction marker missing")
	}
	if !strings.Contains(out, "/etc/roots") {
		t.Error("non-sensitive value redacted")
	}
}

func TestWithSubmission(t *testing.T) {
	l, path := fileLogger(t, FormatJSON)
	l.WithSubmission("cap-1", "dev-1").Warn("counter replayed")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, path))), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["capture_id"] != "cap-1" || entry["device_id"] != "dev-1" {
		t.Errorf("submission attrs = %v", entry)
	}
}

func TestWithComponentReplacesAttr(t *testing.T) {
	l, path := fileLogger(t, FormatJSON)
	l.WithComponent("engine").Info("derived logger")

	line := strings.TrimSpace(readLog(t, path))
	if n := strings.Count(line, `"component"`); n != 1 {
		t.Fatalf("component attr emitted %d times: %q", n, line)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["component"] != "engine" {
		t.Errorf("component = %v, want engine", entry["component"])
	}
}

func TestLevelFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attestd.log")
	l, err := New(&Config{Level: LevelWarn, Output: "file", FilePath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	l.Debug("noise")
	l.Info("noise")
	l.Warn("kept")

	out := readLog(t, path)
	if strings.Contains(out, "noise") {
		t.Error("sub-threshold entries written")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn entry missing")
	}
}

func TestSubmissionIDContext(t *testing.T) {
	ctx := ContextWithSubmissionID(context.Background(), "cap-42")
	if got := SubmissionIDFromContext(ctx); got != "cap-42" {
		t.Errorf("id = %q", got)
	}
	if got := SubmissionIDFromContext(context.Background()); got != "" {
		t.Errorf("empty context id = %q", got)
	}
}

func TestParseLevel(t *testing.T) {
	if lv, err := ParseLevel("warn"); err != nil || lv != LevelWarn {
		t.Errorf("ParseLevel(warn) = %v, %v", lv, err)
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("unknown level accepted")
	}
}

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat("json"); err != nil || f != FormatJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("unknown format accepted")
	}
}
