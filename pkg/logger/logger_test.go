package logger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"default", *DefaultConfig(), false},
		{"file with path", Config{Level: DebugLevel, Format: JSONFormat, Output: FileOutput, File: "x.log"}, false},
		{"file without path", Config{Level: InfoLevel, Format: JSONFormat, Output: FileOutput}, true},
		{"unknown level", Config{Level: "trace", Format: TextFormat, Output: StderrOutput}, true},
		{"unknown format", Config{Level: InfoLevel, Format: "xml", Output: StderrOutput}, true},
		{"negative rotation", Config{Level: InfoLevel, Format: TextFormat, Output: StdoutOutput, MaxAge: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func readRecords(t *testing.T, path string) []map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	var records []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec map[string]interface{}
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("log line %q is not JSON: %v", line, err)
		}
		records = append(records, rec)
	}
	return records
}

func TestStageLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ghithu.log")
	log, err := NewLogger(&Config{Level: DebugLevel, Format: JSONFormat, Output: FileOutput, File: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	stages := NewStageLogger("debt-filter", log.WithComponent("test"))
	stages.Stage("enrich", Fields{"invoices": 3})
	stages.Stage("exclude-settled", nil)
	stages.Fail(errors.New("gateway down"), "Debt filter failed")

	records := readRecords(t, path)
	if len(records) != 4 {
		t.Fatalf("got %d records, want 4", len(records))
	}
	second := records[2]
	if second["stage"] != "exclude-settled" || second["previous"] != "enrich" {
		t.Errorf("stage record = %v", second)
	}
	last := records[3]
	if last["level"] != "error" || last["stage"] != "exclude-settled" || last["error"] != "gateway down" {
		t.Errorf("failure record = %v", last)
	}
	for _, rec := range records {
		if rec["operation"] != "debt-filter" || rec["component"] != "test" {
			t.Errorf("record lost its fields: %v", rec)
		}
	}
}

func TestChunkProgress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.log")
	log, err := NewLogger(&Config{Level: DebugLevel, Format: JSONFormat, Output: FileOutput, File: path})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	p := NewChunkProgress("invoice-details", 1200, 3, log)
	p.ChunkDone(500)
	p.ChunkDone(500)
	p.ChunkDone(200)
	p.Complete()

	records := readRecords(t, path)
	last := records[len(records)-1]
	if last["chunk"] != "3/3" || last["percentage"] != "100.0%" {
		t.Errorf("completion record = %v", last)
	}
	if ids, ok := last["ids"].(float64); !ok || ids != 1200 {
		t.Errorf("ids = %v, want 1200", last["ids"])
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != GetGlobalLogger() {
		t.Error("OrDefault(nil) should return the global logger")
	}
	l, _ := NewLogger(nil)
	if OrDefault(l) != l {
		t.Error("OrDefault should keep a non-nil logger")
	}
}
