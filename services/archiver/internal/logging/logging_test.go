package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "archiver.log")
	logger, closer, err := New("debug", "json", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.GetLevel() != log.DebugLevel {
		t.Fatalf("level = %s", logger.GetLevel())
	}
	logger.WithField("run_id", "r1").Info("hello")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"run_id":"r1"`) {
		t.Fatalf("log file = %s", b)
	}
}

func TestNewRejectsBadSettings(t *testing.T) {
	if _, _, err := New("loud", "", ""); err == nil {
		t.Fatal("expected level error")
	}
	if _, _, err := New("", "xml", ""); err == nil {
		t.Fatal("expected format error")
	}
}
