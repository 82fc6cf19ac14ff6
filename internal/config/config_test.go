package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(envListenAddr, "")
	t.Setenv(envDBPath, "")
	t.Setenv(envLogLevel, "")
	t.Setenv(envEngineAddr, "")
	t.Setenv(envEngineRoot, "")
	t.Setenv(envExecTimeout, "")
	t.Setenv(envMediaKeys, "")

	cfg := Load()

	if cfg.ListenAddr != defaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, defaultListenAddr)
	}
	if cfg.DBPath != defaultDBPath {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, defaultDBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelInfo)
	}
	if cfg.EngineAddr != defaultEngineAddr {
		t.Errorf("EngineAddr = %q, want %q", cfg.EngineAddr, defaultEngineAddr)
	}
	if cfg.ExecTimeout != defaultExecTimeout {
		t.Errorf("ExecTimeout = %v, want %v", cfg.ExecTimeout, defaultExecTimeout)
	}
	if len(cfg.MediaKeys) != 2 || cfg.MediaKeys[0] != "videos" || cfg.MediaKeys[1] != "gifs" {
		t.Errorf("MediaKeys = %v, want [videos gifs]", cfg.MediaKeys)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(envListenAddr, ":9090")
	t.Setenv(envDBPath, "/tmp/test.db")
	t.Setenv(envLogLevel, "debug")
	t.Setenv(envEngineAddr, "10.0.0.5:8188")
	t.Setenv(envEngineRoot, "/opt/comfy")
	t.Setenv(envExecTimeout, "900")
	t.Setenv(envMediaKeys, "videos, gifs, images")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if cfg.DBPath != "/tmp/test.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/test.db")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want %v", cfg.LogLevel, slog.LevelDebug)
	}
	if cfg.EngineAddr != "10.0.0.5:8188" {
		t.Errorf("EngineAddr = %q, want %q", cfg.EngineAddr, "10.0.0.5:8188")
	}
	if cfg.ExecTimeout != 900*time.Second {
		t.Errorf("ExecTimeout = %v, want %v", cfg.ExecTimeout, 900*time.Second)
	}
	if len(cfg.MediaKeys) != 3 || cfg.MediaKeys[2] != "images" {
		t.Errorf("MediaKeys = %v, want [videos gifs images]", cfg.MediaKeys)
	}
}

func TestLoadIgnoresBadTimeout(t *testing.T) {
	t.Setenv(envExecTimeout, "not-a-number")
	cfg := Load()
	if cfg.ExecTimeout != defaultExecTimeout {
		t.Errorf("ExecTimeout = %v, want default %v", cfg.ExecTimeout, defaultExecTimeout)
	}

	t.Setenv(envExecTimeout, "-5")
	cfg = Load()
	if cfg.ExecTimeout != defaultExecTimeout {
		t.Errorf("ExecTimeout = %v, want default %v", cfg.ExecTimeout, defaultExecTimeout)
	}
}

func TestDerivedPaths(t *testing.T) {
	t.Setenv(envEngineRoot, "/opt/comfy")
	cfg := Load()

	if got, want := cfg.InputDir(), filepath.Join("/opt/comfy", "input"); got != want {
		t.Errorf("InputDir() = %q, want %q", got, want)
	}
	if got, want := cfg.OutputDir(), filepath.Join("/opt/comfy", "output"); got != want {
		t.Errorf("OutputDir() = %q, want %q", got, want)
	}
	if got, want := cfg.LogPath(), filepath.Join("/opt/comfy", "comfy.log"); got != want {
		t.Errorf("LogPath() = %q, want %q", got, want)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.input); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)
	logger.Info("hello", "key", "value")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", entry["msg"])
	}
	if entry["key"] != "value" {
		t.Errorf("key = %v, want value", entry["key"])
	}
}
