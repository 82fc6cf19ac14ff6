package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "wanbridge.db"
	defaultEngineAddr   = "127.0.0.1:8188"
	defaultEngineRoot   = "/ComfyUI"
	defaultWorkflowDir  = "workflows"
	defaultExecTimeout  = 600 * time.Second
	defaultReadyTimeout = 120 * time.Second

	envListenAddr   = "WANBRIDGE_LISTEN_ADDR"
	envDBPath       = "WANBRIDGE_DB_PATH"
	envLogLevel     = "WANBRIDGE_LOG_LEVEL"
	envEngineAddr   = "WANBRIDGE_ENGINE_ADDR"
	envEngineRoot   = "WANBRIDGE_ENGINE_ROOT"
	envWorkflowDir  = "WANBRIDGE_WORKFLOW_DIR"
	envExecTimeout  = "WANBRIDGE_EXEC_TIMEOUT"
	envReadyTimeout = "WANBRIDGE_READY_TIMEOUT"
	envMediaKeys    = "WANBRIDGE_MEDIA_KEYS"
)

// defaultMediaKeys are the history output collections treated as result
// artifacts. "images" is deliberately excluded by default; add it via
// WANBRIDGE_MEDIA_KEYS for workflows whose final node emits still images.
var defaultMediaKeys = []string{"videos", "gifs"}

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// EngineAddr is the host:port of the compute engine's HTTP and
	// websocket surface.
	EngineAddr string
	// EngineRoot is the engine's installation root; input, output, and log
	// locations are derived from it.
	EngineRoot  string
	WorkflowDir string

	// ExecTimeout is the wall-clock budget for a single graph execution.
	ExecTimeout time.Duration
	// ReadyTimeout bounds how long the readiness probe waits for the engine.
	ReadyTimeout time.Duration

	// MediaKeys are the history output collections recognized as artifacts.
	MediaKeys []string
}

// Load reads configuration from environment variables with sensible defaults.
// Timeout values are integer seconds, matching the engine's own convention.
func Load() Config {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		EngineAddr:   defaultEngineAddr,
		EngineRoot:   defaultEngineRoot,
		WorkflowDir:  defaultWorkflowDir,
		ExecTimeout:  defaultExecTimeout,
		ReadyTimeout: defaultReadyTimeout,
		MediaKeys:    defaultMediaKeys,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envEngineAddr); v != "" {
		cfg.EngineAddr = v
	}
	if v := os.Getenv(envEngineRoot); v != "" {
		cfg.EngineRoot = v
	}
	if v := os.Getenv(envWorkflowDir); v != "" {
		cfg.WorkflowDir = v
	}
	if d, ok := parseSeconds(os.Getenv(envExecTimeout)); ok {
		cfg.ExecTimeout = d
	}
	if d, ok := parseSeconds(os.Getenv(envReadyTimeout)); ok {
		cfg.ReadyTimeout = d
	}
	if v := os.Getenv(envMediaKeys); v != "" {
		cfg.MediaKeys = splitKeys(v)
	}

	return cfg
}

// InputDir returns the engine's input directory, where request images are staged.
func (c Config) InputDir() string {
	return filepath.Join(c.EngineRoot, "input")
}

// OutputDir returns the engine's output directory, where artifacts appear.
func (c Config) OutputDir() string {
	return filepath.Join(c.EngineRoot, "output")
}

// LogPath returns the engine's log file, tailed for failure diagnostics.
func (c Config) LogPath() string {
	return filepath.Join(c.EngineRoot, "comfy.log")
}

func parseSeconds(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

func splitKeys(s string) []string {
	var keys []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return defaultMediaKeys
	}
	return keys
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
