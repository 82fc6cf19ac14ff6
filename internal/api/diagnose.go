package api

import (
	"net/http"

	"github.com/tenexa/wanbridge/internal/diag"
	"github.com/tenexa/wanbridge/internal/model"
	"github.com/tenexa/wanbridge/internal/workflow"
)

// workflowCheck reports one template's loadability and unmet model references.
type workflowCheck struct {
	Exists        bool     `json:"exists"`
	Nodes         int      `json:"nodes"`
	Error         string   `json:"error,omitempty"`
	MissingModels []string `json:"missing_models"`
	MissingLoras  []string `json:"missing_loras"`
}

// diagnoseResponse is the JSON response for GET /v1/diagnose.
type diagnoseResponse struct {
	EngineReachable bool                     `json:"engine_reachable"`
	EngineAddr      string                   `json:"engine_addr"`
	Disk            diag.DiskUsage           `json:"disk_usage"`
	Paths           map[string]string        `json:"paths"`
	Models          map[string][]string      `json:"models,omitempty"`
	Workflows       map[string]workflowCheck `json:"workflows,omitempty"`
	LogsTail        string                   `json:"logs_tail,omitempty"`
}

// handleDiagnose runs the full engine-side diagnostic sweep: reachability,
// disk, model inventory, and template requirements for every variant.
func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	resp := diagnoseResponse{
		EngineReachable: s.prober.Ready(r.Context()),
		EngineAddr:      s.cfg.EngineAddr,
		Paths: map[string]string{
			"engine_root":  s.cfg.EngineRoot,
			"input_dir":    s.cfg.InputDir(),
			"output_dir":   s.cfg.OutputDir(),
			"workflow_dir": s.cfg.WorkflowDir,
		},
	}

	if disk, err := diag.Disk(s.cfg.EngineRoot); err == nil {
		resp.Disk = disk
	} else {
		s.logger.Warn("disk usage unavailable", "error", err)
	}

	if !resp.EngineReachable {
		resp.LogsTail = diag.LogTail(s.cfg.LogPath(), diag.DefaultLogTailLines)
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Models = diag.ListModels(s.cfg.EngineRoot)
	resp.Workflows = make(map[string]workflowCheck)

	templates := workflow.NewStore(s.cfg.WorkflowDir)
	for _, variant := range []string{model.VariantI2V, model.VariantFLF2V} {
		name, err := workflow.TemplateName(variant)
		if err != nil {
			continue
		}

		check := workflowCheck{MissingModels: []string{}, MissingLoras: []string{}}
		g, err := templates.Load(name)
		if err != nil {
			check.Error = err.Error()
		} else {
			check.Exists = true
			check.Nodes = len(g)
			req := diag.CheckGraph(g, resp.Models)
			if req.MissingModels != nil {
				check.MissingModels = req.MissingModels
			}
			if req.MissingLoras != nil {
				check.MissingLoras = req.MissingLoras
			}
		}
		resp.Workflows[name] = check
	}

	s.writeJSON(w, http.StatusOK, resp)
}
