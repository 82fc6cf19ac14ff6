package model

import "time"

// Generation status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// Workflow variant constants. The variant selects which workflow template is
// loaded and which optional binding slots are active.
const (
	VariantI2V   = "wan22_i2v" // single start image
	VariantFLF2V = "flf2v"     // first-frame / last-frame, requires an end image
)

// ErrorKind is the stable machine-readable failure classification carried by
// every non-completed outcome.
type ErrorKind string

const (
	KindConfig            ErrorKind = "config_error"       // bad template, missing slot; never retried
	KindInput             ErrorKind = "input_error"        // malformed request parameters; never retried
	KindEngineUnavailable ErrorKind = "engine_unavailable" // submission or readiness failed; retryable upstream
	KindEngineFault       ErrorKind = "engine_fault"       // engine reported an execution error
	KindTimeout           ErrorKind = "timeout"            // execution budget exceeded
	KindNoArtifact        ErrorKind = "no_artifact"        // engine signaled success but nothing resolvable
)

// Request parameter defaults, matching the workflow templates shipped with
// the service.
const (
	DefaultCFG            = 2.0
	DefaultSteps          = 10
	DefaultFrames         = 81
	DefaultFrameRate      = 24.0
	DefaultContextOverlap = 16
	DefaultWidth          = 480
	DefaultHeight         = 832

	DefaultNegativePrompt = "blurry, distorted, low quality, watermark, text overlay"
)

// validTransitions maps each generation status to the set of statuses it may
// transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning:  true,
		StatusFailed:   true,
		StatusTimedOut: true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimedOut:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Request is a normalized generation request. It is constructed once per
// incoming job and immutable thereafter; image data has already been staged
// to disk by the time the orchestrator sees it.
type Request struct {
	// ImagePath and EndImagePath are paths relative to the engine's input
	// directory, suitable for a LoadImage node. EndImagePath is only set for
	// the flf2v variant.
	ImagePath    string
	EndImagePath string

	Variant        string
	Seed           int64
	CFG            float64
	Steps          int
	Frames         int
	Width          int
	Height         int
	Prompt         string
	NegativePrompt string
	ContextOverlap int
}

// Confidence describes how an artifact path was resolved.
type Confidence string

const (
	// ConfidenceHistory means the artifact was named explicitly by the
	// engine's history record.
	ConfidenceHistory Confidence = "history"
	// ConfidenceScan means the artifact was recovered by scanning the output
	// directory for the newest matching file. Lower trust: the output tree is
	// shared with other requests the engine may be servicing.
	ConfidenceScan Confidence = "scan"
)

// Outcome is the terminal result of one orchestration run. Exactly one
// Outcome is produced per submission; Status is always one of
// StatusCompleted, StatusFailed, StatusTimedOut.
type Outcome struct {
	Status string

	// Set when Status == StatusCompleted. ArtifactPaths holds every verified
	// output in history order; ArtifactPaths[0] is the primary result.
	ArtifactPaths []string
	Confidence    Confidence

	// Resolved parameters actually submitted, echoed back so callers can see
	// defaulted/snapped values.
	Seed      int64
	Frames    int
	FrameRate float64
	Width     int
	Height    int

	// Set when Status != StatusCompleted.
	Kind   ErrorKind
	Detail string

	// LogsTail carries a bounded tail of the engine's log for timeout and
	// fault outcomes, when the log is readable.
	LogsTail string

	Elapsed time.Duration
}

// DurationSec returns the clip duration implied by the resolved frame count
// and frame rate.
func (o *Outcome) DurationSec() float64 {
	if o.FrameRate <= 0 {
		return 0
	}
	return float64(o.Frames) / o.FrameRate
}

// Generation is the persisted record of one generation run.
type Generation struct {
	ID           string     `json:"id"`
	Status       string     `json:"status"`
	Variant      string     `json:"variant"`
	SessionID    string     `json:"session_id"`
	PromptID     string     `json:"prompt_id,omitempty"`
	Seed         int64      `json:"seed"`
	CFG          float64    `json:"cfg"`
	Steps        int        `json:"steps"`
	Frames       int        `json:"frames"`
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Prompt       string     `json:"prompt,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	ErrorKind    string     `json:"error_kind,omitempty"`
	ErrorDetail  string     `json:"error_detail,omitempty"`
	DurationMS   *int       `json:"duration_ms,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}
