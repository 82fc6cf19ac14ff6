package workflow

import (
	"errors"
	"fmt"

	"github.com/tenexa/wanbridge/internal/model"
)

// Well-known node identifiers in the shipped Wan 2.2 templates. The binder
// validates every slot against the loaded graph, so renumbering a template
// without updating these is a loud configuration error, not a silent no-op.
const (
	nodeLoadImage      = "244" // LoadImage (start frame)
	nodeLoadEndImage   = "617" // LoadImage (end frame, flf2v only)
	nodeI2VEncode      = "541" // WanVideoImageToVideoEncode
	nodeSamplerHigh    = "220" // WanVideoSampler (high noise)
	nodeSamplerLow     = "540" // WanVideoSampler (low noise)
	nodeTextEncode     = "135" // WanVideoTextEncode
	nodeContextOptions = "498" // WanVideoContextOptions
	nodeVideoCombine   = "131" // VHS_VideoCombine
)

// ErrMissingEndImage is returned when the flf2v variant is requested without
// a staged end image. Detected before any network call.
var ErrMissingEndImage = errors.New("flf2v workflow requires an end image")

// SlotMissingError reports a binding slot whose target node is absent from
// the loaded template, indicating a template/variant mismatch.
type SlotMissingError struct {
	Node  string
	Field string
}

func (e *SlotMissingError) Error() string {
	return fmt.Sprintf("binding slot %s.%s: node not present in template", e.Node, e.Field)
}

// slot is one entry of the declarative binding table: a target node input and
// the request value that lands there.
type slot struct {
	node      string
	field     string
	value     func(*model.Request) any
	flf2vOnly bool
}

// bindings is the fixed slot table applied on every bind. Seed, cfg, and
// steps go to the high-noise sampler; the low-noise sampler shares seed and
// cfg but keeps its template step count.
var bindings = []slot{
	{node: nodeLoadImage, field: "image", value: func(r *model.Request) any { return r.ImagePath }},
	{node: nodeLoadEndImage, field: "image", value: func(r *model.Request) any { return r.EndImagePath }, flf2vOnly: true},
	{node: nodeI2VEncode, field: "num_frames", value: func(r *model.Request) any { return r.Frames }},
	{node: nodeI2VEncode, field: "width", value: func(r *model.Request) any { return SnapDim(r.Width) }},
	{node: nodeI2VEncode, field: "height", value: func(r *model.Request) any { return SnapDim(r.Height) }},
	{node: nodeSamplerHigh, field: "seed", value: func(r *model.Request) any { return r.Seed }},
	{node: nodeSamplerHigh, field: "cfg", value: func(r *model.Request) any { return r.CFG }},
	{node: nodeSamplerHigh, field: "steps", value: func(r *model.Request) any { return r.Steps }},
	{node: nodeSamplerLow, field: "seed", value: func(r *model.Request) any { return r.Seed }},
	{node: nodeSamplerLow, field: "cfg", value: func(r *model.Request) any { return r.CFG }},
	{node: nodeTextEncode, field: "positive_prompt", value: func(r *model.Request) any { return r.Prompt }},
	{node: nodeTextEncode, field: "negative_prompt", value: func(r *model.Request) any { return r.NegativePrompt }},
	{node: nodeContextOptions, field: "context_overlap", value: func(r *model.Request) any { return r.ContextOverlap }},
}

// Bind applies the request's parameters to a deep copy of the template and
// returns the submission-ready graph. The template passed in is never
// modified. Every active slot whose target node is missing fails with a
// *SlotMissingError.
func Bind(g Graph, req *model.Request, variant string) (Graph, error) {
	if variant != model.VariantI2V && variant != model.VariantFLF2V {
		return nil, fmt.Errorf("unknown workflow variant %q", variant)
	}
	if variant == model.VariantFLF2V && req.EndImagePath == "" {
		return nil, ErrMissingEndImage
	}

	bound := g.Clone()
	for _, s := range bindings {
		if s.flf2vOnly && variant != model.VariantFLF2V {
			continue
		}
		n, ok := bound[s.node]
		if !ok || n.Inputs == nil {
			return nil, &SlotMissingError{Node: s.node, Field: s.field}
		}
		n.Inputs[s.field] = s.value(req)
	}

	return bound, nil
}

// SnapDim snaps a requested dimension to the nearest multiple of 16 using
// round-half-up, with a floor of 16. Examples: 0→16, 8→16, 9→16, 24→32,
// 480→480, 500→496, -5→16.
func SnapDim(v int) int {
	snapped := ((v + 8) / 16) * 16
	if snapped < 16 {
		return 16
	}
	return snapped
}

// FrameRate reads the output node's frame rate from a graph, falling back to
// the default when the node or field is absent.
func FrameRate(g Graph) float64 {
	n, ok := g[nodeVideoCombine]
	if !ok {
		return model.DefaultFrameRate
	}
	switch v := n.Inputs["frame_rate"].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return model.DefaultFrameRate
	}
}
