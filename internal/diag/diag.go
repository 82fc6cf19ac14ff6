// Package diag holds the engine-side diagnostics the intake surface exposes:
// readiness waiting, log tailing, disk usage, and model inventory checks.
package diag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tenexa/wanbridge/internal/workflow"
)

// DefaultLogTailLines is how much of the engine log failure outcomes carry.
const DefaultLogTailLines = 80

// readyPollInterval is the delay between readiness probe attempts.
const readyPollInterval = time.Second

// Prober reports whether the engine's HTTP surface is responding.
// *comfy.Client satisfies it.
type Prober interface {
	Ready(ctx context.Context) bool
}

// WaitReady polls the engine until it responds or timeout elapses, returning
// how long readiness took.
func WaitReady(ctx context.Context, p Prober, timeout time.Duration) (time.Duration, error) {
	start := time.Now()
	for {
		if p.Ready(ctx) {
			return time.Since(start), nil
		}
		if elapsed := time.Since(start); elapsed > timeout {
			return elapsed, fmt.Errorf("engine not ready after %s", timeout)
		}
		select {
		case <-time.After(readyPollInterval):
		case <-ctx.Done():
			return time.Since(start), ctx.Err()
		}
	}
}

// LogTail returns the last n lines of the engine's log file. Missing or
// unreadable logs produce a placeholder rather than an error: the tail is
// diagnostic garnish, never a reason to fail an outcome.
func LogTail(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("engine log unavailable: %v", err)
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// DiskUsage holds filesystem statistics for the engine root, in gigabytes.
type DiskUsage struct {
	TotalGB float64 `json:"total_gb"`
	UsedGB  float64 `json:"used_gb"`
	FreeGB  float64 `json:"free_gb"`
}

// Disk reports usage of the filesystem containing path.
func Disk(path string) (DiskUsage, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return DiskUsage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	total := float64(st.Blocks) * float64(st.Bsize)
	free := float64(st.Bavail) * float64(st.Bsize)
	return DiskUsage{
		TotalGB: round2(total / 1e9),
		UsedGB:  round2((total - free) / 1e9),
		FreeGB:  round2(free / 1e9),
	}, nil
}

func round2(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// modelDirs are the engine model subdirectories worth inventorying.
var modelDirs = []string{
	"diffusion_models",
	"loras",
	"vae",
	"text_encoders",
	"clip_vision",
}

// ListModels inventories the model files under the engine root. Directories
// that do not exist are reported as empty rather than errors.
func ListModels(engineRoot string) map[string][]string {
	models := make(map[string][]string, len(modelDirs))
	for _, name := range modelDirs {
		models[name] = listFiles(filepath.Join(engineRoot, "models", name))
	}
	return models
}

func listFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return []string{}
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			files = append(files, e.Name())
		}
	}
	return files
}

// Requirements lists workflow references that are not present in the model
// inventory.
type Requirements struct {
	MissingModels []string `json:"missing_models"`
	MissingLoras  []string `json:"missing_loras"`
}

// HasMissing reports whether any referenced model or lora is unavailable.
func (r Requirements) HasMissing() bool {
	return len(r.MissingModels) > 0 || len(r.MissingLoras) > 0
}

// CheckGraph cross-references a workflow's model and lora inputs against the
// inventory. It only inspects loader-type nodes, matching the engine's node
// naming conventions.
func CheckGraph(g workflow.Graph, models map[string][]string) Requirements {
	var req Requirements
	available := toSet(models["diffusion_models"])
	loras := toSet(models["loras"])

	for _, node := range g {
		if strings.Contains(node.ClassType, "ModelLoader") {
			if name, ok := node.Inputs["model"].(string); ok && name != "" && !available[name] {
				req.MissingModels = append(req.MissingModels, name)
			}
		}
		if strings.Contains(node.ClassType, "LoraSelect") || strings.Contains(node.ClassType, "LoRA") {
			for field, v := range node.Inputs {
				if !strings.Contains(strings.ToLower(field), "lora") {
					continue
				}
				if name, ok := v.(string); ok && name != "" && name != "None" && !loras[name] {
					req.MissingLoras = append(req.MissingLoras, name)
				}
			}
		}
	}
	return req
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}
