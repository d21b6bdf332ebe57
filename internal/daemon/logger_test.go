package daemon

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFilteredLoggerDropsChatterWhenQuiet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.log")
	if err := InitLogger(path, false); err != nil {
		t.Fatalf("InitLogger: %v", err)
	}

	w := &FilteredLogger{}
	if _, err := w.Write([]byte("[QUEUE] 📥 Job queued: abc -> kasir_1 (queue: 1/100)\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("[X] HTTP server error: boom\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	if strings.Contains(string(data), "Job queued") {
		t.Error("Non-critical line should be filtered when verbose=false")
	}
	if !strings.Contains(string(data), "HTTP server error") {
		t.Error("Critical line should always be written")
	}
}

func TestReadLastNLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proxy.log")
	content := "one\ntwo\nthree\nfour\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	lines := readLastNLines(path, 2)
	if len(lines) != 2 || lines[0] != "three" || lines[1] != "four" {
		t.Errorf("Expected last two lines, got %v", lines)
	}

	all := readLastNLines(path, 10)
	if len(all) != 4 {
		t.Errorf("Expected 4 lines, got %d", len(all))
	}
}
