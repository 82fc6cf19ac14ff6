package api

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tenexa/wanbridge/internal/diag"
	"github.com/tenexa/wanbridge/internal/model"
)

// maxGenerateBodySize bounds the request body. Inline-encoded images run to a
// few megabytes each; 64 MB covers both slots with room to spare.
const maxGenerateBodySize = 64 << 20

// generateRequest is the JSON body for POST /v1/generate. Every field except
// image_base64 has a default.
type generateRequest struct {
	ImageBase64    string   `json:"image_base64"`
	EndImageBase64 string   `json:"end_image_base64"`
	Workflow       string   `json:"workflow"`
	Seed           *int64   `json:"seed"`
	CFG            *float64 `json:"cfg"`
	Steps          *int     `json:"steps"`
	Frames         *int     `json:"frames"`
	Width          *int     `json:"width"`
	Height         *int     `json:"height"`
	Prompt         string   `json:"prompt"`
	NegativePrompt string   `json:"negative_prompt"`
	ContextOverlap *int     `json:"context_overlap"`
}

// generateResponse is the synchronous result envelope. Completed runs carry
// the primary artifact inline; failures carry a stable error code and, where
// available, a bounded tail of the engine log.
type generateResponse struct {
	GenerationID string  `json:"generation_id,omitempty"`
	Status       string  `json:"status"`
	VideoBase64  string  `json:"video_base64,omitempty"`
	ArtifactPath string  `json:"artifact_path,omitempty"`
	Confidence   string  `json:"confidence,omitempty"`
	Seed         int64   `json:"seed,omitempty"`
	FPS          float64 `json:"fps,omitempty"`
	Frames       int     `json:"frames,omitempty"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	DurationSec  float64 `json:"duration_sec,omitempty"`
	SizeBytes    int     `json:"size_bytes,omitempty"`
	ErrorCode    string  `json:"error_code,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
	LogsTail     string  `json:"logs_tail,omitempty"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxGenerateBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeGenerateError(w, http.StatusBadRequest, model.KindInput, "invalid JSON body")
		return
	}

	if req.ImageBase64 == "" {
		s.writeGenerateError(w, http.StatusBadRequest, model.KindInput, "missing required parameter: image_base64")
		return
	}

	variant := req.Workflow
	if variant == "" {
		variant = model.VariantI2V
	}
	if variant != model.VariantI2V && variant != model.VariantFLF2V {
		s.writeGenerateError(w, http.StatusBadRequest, model.KindInput,
			fmt.Sprintf("unknown workflow %q", variant))
		return
	}
	if variant == model.VariantFLF2V && req.EndImageBase64 == "" {
		s.writeGenerateError(w, http.StatusBadRequest, model.KindInput,
			"flf2v workflow requires end_image_base64")
		return
	}

	// Gate on engine readiness before staging anything; a cold engine is the
	// common case right after deployment.
	if _, err := diag.WaitReady(r.Context(), s.prober, s.cfg.ReadyTimeout); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, generateResponse{
			Status:       model.StatusFailed,
			ErrorCode:    string(model.KindEngineUnavailable),
			ErrorMessage: err.Error(),
			LogsTail:     diag.LogTail(s.cfg.LogPath(), diag.DefaultLogTailLines),
		})
		return
	}

	// Stage images under a per-request directory so concurrent requests never
	// clobber each other. The directory is removed on every exit path.
	stageDir := model.NewID()
	if err := os.MkdirAll(filepath.Join(s.cfg.InputDir(), stageDir), 0o755); err != nil {
		s.logger.Error("create staging directory", "error", err)
		s.writeGenerateError(w, http.StatusInternalServerError, model.KindConfig, "failed to stage input image")
		return
	}
	defer os.RemoveAll(filepath.Join(s.cfg.InputDir(), stageDir))

	imagePath, err := s.stageImage(stageDir, "input.png", req.ImageBase64)
	if err != nil {
		s.writeGenerateError(w, http.StatusBadRequest, model.KindInput,
			fmt.Sprintf("decode image_base64: %v", err))
		return
	}

	var endImagePath string
	if req.EndImageBase64 != "" {
		endImagePath, err = s.stageImage(stageDir, "end.png", req.EndImageBase64)
		if err != nil {
			s.writeGenerateError(w, http.StatusBadRequest, model.KindInput,
				fmt.Sprintf("decode end_image_base64: %v", err))
			return
		}
	}

	genReq := &model.Request{
		ImagePath:      imagePath,
		EndImagePath:   endImagePath,
		Variant:        variant,
		Seed:           time.Now().Unix(),
		CFG:            model.DefaultCFG,
		Steps:          model.DefaultSteps,
		Frames:         model.DefaultFrames,
		Width:          model.DefaultWidth,
		Height:         model.DefaultHeight,
		Prompt:         req.Prompt,
		NegativePrompt: model.DefaultNegativePrompt,
		ContextOverlap: model.DefaultContextOverlap,
	}
	if req.Seed != nil {
		genReq.Seed = *req.Seed
	}
	if req.CFG != nil {
		genReq.CFG = *req.CFG
	}
	if req.Steps != nil {
		genReq.Steps = *req.Steps
	}
	if req.Frames != nil {
		genReq.Frames = *req.Frames
	}
	if req.Width != nil {
		genReq.Width = *req.Width
	}
	if req.Height != nil {
		genReq.Height = *req.Height
	}
	if req.NegativePrompt != "" {
		genReq.NegativePrompt = req.NegativePrompt
	}
	if req.ContextOverlap != nil {
		genReq.ContextOverlap = *req.ContextOverlap
	}

	id, outcome, err := s.engine.Generate(r.Context(), genReq)
	if err != nil {
		s.logger.Error("generate", "error", err)
		s.writeGenerateError(w, http.StatusInternalServerError, model.KindConfig, "failed to start generation")
		return
	}

	s.writeOutcome(w, id, outcome)
}

// writeOutcome maps a terminal outcome to the response envelope and an HTTP
// status.
func (s *Server) writeOutcome(w http.ResponseWriter, id string, o *model.Outcome) {
	resp := generateResponse{
		GenerationID: id,
		Status:       o.Status,
		Seed:         o.Seed,
		Frames:       o.Frames,
		Width:        o.Width,
		Height:       o.Height,
		ErrorCode:    string(o.Kind),
		ErrorMessage: o.Detail,
		LogsTail:     o.LogsTail,
	}

	if o.Status != model.StatusCompleted {
		s.writeJSON(w, errorStatusCode(o.Kind), resp)
		return
	}

	resp.ArtifactPath = o.ArtifactPaths[0]
	resp.Confidence = string(o.Confidence)
	resp.FPS = o.FrameRate
	resp.DurationSec = o.DurationSec()

	data, err := os.ReadFile(o.ArtifactPaths[0])
	if err != nil {
		s.logger.Error("read artifact", "path", o.ArtifactPaths[0], "error", err)
		resp.Status = model.StatusFailed
		resp.ErrorCode = string(model.KindNoArtifact)
		resp.ErrorMessage = fmt.Sprintf("artifact vanished before delivery: %v", err)
		s.writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	resp.VideoBase64 = base64.StdEncoding.EncodeToString(data)
	resp.SizeBytes = len(data)

	s.writeJSON(w, http.StatusOK, resp)
}

// errorStatusCode maps an error kind to the HTTP status of a failed run.
func errorStatusCode(kind model.ErrorKind) int {
	switch kind {
	case model.KindInput:
		return http.StatusBadRequest
	case model.KindEngineUnavailable:
		return http.StatusServiceUnavailable
	case model.KindTimeout:
		return http.StatusGatewayTimeout
	case model.KindEngineFault, model.KindNoArtifact:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// stageImage decodes an inline image into the staging directory and returns
// the path relative to the engine's input root, which is what a LoadImage
// node expects.
func (s *Server) stageImage(stageDir, name, b64 string) (string, error) {
	// Tolerate data-URI prefixes like "data:image/png;base64,".
	if idx := strings.Index(b64, ","); idx != -1 && strings.HasPrefix(b64, "data:") {
		b64 = b64[idx+1:]
	}

	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", err
	}

	rel := filepath.Join(stageDir, name)
	if err := os.WriteFile(filepath.Join(s.cfg.InputDir(), rel), data, 0o644); err != nil {
		return "", fmt.Errorf("write staged image: %w", err)
	}
	return rel, nil
}

func (s *Server) writeGenerateError(w http.ResponseWriter, status int, kind model.ErrorKind, msg string) {
	s.writeJSON(w, status, generateResponse{
		Status:       model.StatusFailed,
		ErrorCode:    string(kind),
		ErrorMessage: msg,
	})
}
