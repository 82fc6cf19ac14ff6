// Package artifact locates the media files a finished job produced, working
// from the engine's history record first and falling back to an output
// directory scan when history enumeration comes up empty.
package artifact

import (
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tenexa/wanbridge/internal/comfy"
	"github.com/tenexa/wanbridge/internal/model"
)

// mediaExtensions maps an output collection key to the file extensions it is
// expected to produce. VideoHelperSuite reports its mp4 outputs under "gifs",
// so that key accepts both.
var mediaExtensions = map[string][]string{
	"videos": {".mp4", ".webm", ".mov"},
	"gifs":   {".gif", ".mp4", ".webm"},
	"images": {".png", ".jpg", ".jpeg", ".webp"},
}

// Artifact is one resolved output file.
type Artifact struct {
	// Path is the absolute location of the verified file.
	Path string
	// NodeID is the history node that reported the file; empty for
	// scan-resolved artifacts.
	NodeID string
	// Confidence records whether the artifact came from the history record
	// or from the directory fallback.
	Confidence model.Confidence
}

// Resolver finds produced artifacts under the engine's output root.
type Resolver struct {
	outputDir string
	mediaKeys []string
	logger    *slog.Logger
}

// NewResolver creates a resolver over outputDir recognizing the given media
// keys ("videos", "gifs", and optionally "images").
func NewResolver(outputDir string, mediaKeys []string, logger *slog.Logger) *Resolver {
	return &Resolver{
		outputDir: outputDir,
		mediaKeys: mediaKeys,
		logger:    logger,
	}
}

// Resolve scans the history record for artifacts and returns every entry
// confirmed to exist on disk, in deterministic node order. When history
// yields nothing it falls back to the newest matching file under the output
// root, flagged with scan confidence. An empty result means the job produced
// nothing resolvable.
func (r *Resolver) Resolve(hist comfy.History) []Artifact {
	var found []Artifact

	for _, nodeID := range sortedNodeIDs(hist.Outputs) {
		node := hist.Outputs[nodeID]
		for _, key := range r.mediaKeys {
			raw, ok := node[key]
			if !ok {
				continue
			}

			// Output shapes are heterogeneous; collections that do not
			// decode as file lists are not candidates.
			var files []comfy.OutputFile
			if err := json.Unmarshal(raw, &files); err != nil {
				continue
			}

			for _, f := range files {
				if f.Filename == "" {
					continue
				}
				path := filepath.Join(r.outputDir, f.Subfolder, f.Filename)
				if !fileExists(path) {
					r.logger.Warn("history names missing file", "node", nodeID, "path", path)
					continue
				}
				if !hasExtension(path, key) {
					continue
				}
				found = append(found, Artifact{
					Path:       path,
					NodeID:     nodeID,
					Confidence: model.ConfidenceHistory,
				})
			}
		}
	}

	if len(found) > 0 {
		return found
	}

	// Some output node types are not reliably enumerated in history records;
	// fall back to the newest file of an expected media type. The output
	// tree is shared with other requests, hence the lower confidence.
	if path, ok := r.scanNewest(); ok {
		r.logger.Warn("history yielded no artifacts, using newest output file", "path", path)
		return []Artifact{{Path: path, Confidence: model.ConfidenceScan}}
	}

	return nil
}

// scanNewest walks the output tree for the most recently modified file with
// an expected media extension.
func (r *Resolver) scanNewest() (string, bool) {
	var newest string
	var newestMod time.Time

	exts := make(map[string]bool)
	for _, key := range r.mediaKeys {
		for _, ext := range mediaExtensions[key] {
			exts[ext] = true
		}
	}

	filepath.WalkDir(r.outputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(newestMod) {
			newest = path
			newestMod = info.ModTime()
		}
		return nil
	})

	return newest, newest != ""
}

// sortedNodeIDs orders history nodes deterministically: numerically when both
// ids are numeric (the usual case for graph node ids), lexically otherwise.
func sortedNodeIDs(outputs map[string]comfy.NodeOutput) []string {
	ids := make([]string, 0, len(outputs))
	for id := range outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
	return ids
}

func hasExtension(path, key string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range mediaExtensions[key] {
		if ext == e {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
