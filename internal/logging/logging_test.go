package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "warn"})
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %s", logger.GetLevel())
	}

	logger = NewLogger(Config{Level: "nonsense"})
	if logger.GetLevel() != zerolog.InfoLevel {
		t.Fatalf("unknown level should fall back to info, got %s", logger.GetLevel())
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "albionwatch.log")
	logger := NewLogger(Config{Level: "info", File: FileConfig{Path: path, MaxSizeMB: 1}})
	componentLogger := Component(logger, "test")
	componentLogger.Info().Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file should exist: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("log file should not be empty")
	}
}
