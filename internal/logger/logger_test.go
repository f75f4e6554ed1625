package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWithOptionsWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobmatch.log")

	logger, err := NewWithOptions(Options{JSON: true, File: path})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logger.Info("written to file")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("expected message in log file, got %q", data)
	}
}
