package workflow

import (
	"fmt"

	"github.com/tenexa/wanbridge/internal/model"
)

// Node is a single graph node: an operation kind plus its input values.
// Inputs may be scalars, strings, or two-element [node-id, output-index]
// references to other nodes.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Graph is a workflow template keyed by node identifier. It marshals back to
// the exact wire shape the engine's submission endpoint expects.
type Graph map[string]Node

// Clone returns a deep copy of the graph. Binding always operates on a clone
// so the loaded template can be reused across requests.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for id, n := range g {
		out[id] = Node{
			ClassType: n.ClassType,
			Inputs:    cloneMap(n.Inputs),
			Meta:      cloneMap(n.Meta),
		}
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// TemplateName maps a workflow variant to its template file name.
func TemplateName(variant string) (string, error) {
	switch variant {
	case model.VariantI2V:
		return "wan22_i2v_api.json", nil
	case model.VariantFLF2V:
		return "wan22_flf2v_api.json", nil
	default:
		return "", fmt.Errorf("unknown workflow variant %q", variant)
	}
}
