package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenexa/wanbridge/internal/artifact"
	"github.com/tenexa/wanbridge/internal/comfy"
	"github.com/tenexa/wanbridge/internal/diag"
	"github.com/tenexa/wanbridge/internal/model"
	"github.com/tenexa/wanbridge/internal/store"
	"github.com/tenexa/wanbridge/internal/workflow"
)

// Client is the engine-facing surface the orchestrator needs: submit a graph,
// subscribe to its event stream, and query its history. *comfy.Client is
// adapted via AdaptClient; tests substitute scripted fakes.
type Client interface {
	Submit(ctx context.Context, g workflow.Graph, sessionID string) (string, error)
	OpenStream(ctx context.Context, sessionID string) (comfy.EventSource, error)
	History(ctx context.Context, promptID string) (comfy.History, error)
}

// AdaptClient wraps a *comfy.Client so its concrete stream type satisfies the
// Client interface.
func AdaptClient(c *comfy.Client) Client {
	return clientAdapter{c}
}

type clientAdapter struct {
	*comfy.Client
}

func (a clientAdapter) OpenStream(ctx context.Context, sessionID string) (comfy.EventSource, error) {
	return a.Client.OpenStream(ctx, sessionID)
}

// Engine runs one generation end to end: load template, bind parameters,
// submit, monitor to a terminal state, resolve artifacts, persist the record.
type Engine struct {
	store     store.Store
	client    Client
	templates *workflow.Store
	resolver  *artifact.Resolver
	broker    *ProgressBroker
	logger    *slog.Logger

	// execTimeout is the wall-clock budget for a single graph execution.
	execTimeout time.Duration
	// logPath is the engine's log file, tailed into failure outcomes.
	logPath string
}

// NewEngine creates an orchestration engine.
func NewEngine(s store.Store, client Client, templates *workflow.Store, resolver *artifact.Resolver, execTimeout time.Duration, logPath string, logger *slog.Logger) *Engine {
	return &Engine{
		store:       s,
		client:      client,
		templates:   templates,
		resolver:    resolver,
		broker:      NewProgressBroker(),
		logger:      logger,
		execTimeout: execTimeout,
		logPath:     logPath,
	}
}

// Broker returns the engine's progress broker for SSE subscription.
func (e *Engine) Broker() *ProgressBroker {
	return e.broker
}

// Generate runs one generation synchronously and returns the persisted record
// id plus the terminal outcome. Exactly one outcome is produced per call; all
// orchestration failures are folded into it with a stable error kind. The
// returned error is non-nil only when the record could not be created, in
// which case nothing was submitted.
func (e *Engine) Generate(ctx context.Context, req *model.Request) (string, *model.Outcome, error) {
	gen := &model.Generation{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		Variant:   req.Variant,
		SessionID: model.NewID(),
		Seed:      req.Seed,
		CFG:       req.CFG,
		Steps:     req.Steps,
		Frames:    req.Frames,
		Width:     workflow.SnapDim(req.Width),
		Height:    workflow.SnapDim(req.Height),
		Prompt:    req.Prompt,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.CreateGeneration(ctx, gen); err != nil {
		return "", nil, fmt.Errorf("create generation: %w", err)
	}

	// Close the progress stream when the run finishes, regardless of outcome.
	defer e.broker.Close(gen.ID)

	outcome := e.run(ctx, gen, req)
	e.finish(gen, outcome)
	observeGeneration(outcome.Status, req.Variant, outcome.Elapsed)

	return gen.ID, outcome, nil
}

// run drives the generation to a terminal outcome. It never returns nil.
func (e *Engine) run(ctx context.Context, gen *model.Generation, req *model.Request) *model.Outcome {
	start := time.Now()
	fail := func(kind model.ErrorKind, detail string) *model.Outcome {
		e.logger.Error("generation failed", "generation_id", gen.ID, "kind", string(kind), "detail", detail)
		return &model.Outcome{
			Status:  model.StatusFailed,
			Kind:    kind,
			Detail:  detail,
			Seed:    req.Seed,
			Frames:  req.Frames,
			Width:   gen.Width,
			Height:  gen.Height,
			Elapsed: time.Since(start),
		}
	}

	name, err := workflow.TemplateName(req.Variant)
	if err != nil {
		return fail(model.KindConfig, err.Error())
	}
	tmpl, err := e.templates.Load(name)
	if err != nil {
		return fail(model.KindConfig, fmt.Sprintf("load template: %v", err))
	}

	bound, err := workflow.Bind(tmpl, req, req.Variant)
	if err != nil {
		if errors.Is(err, workflow.ErrMissingEndImage) {
			return fail(model.KindInput, err.Error())
		}
		return fail(model.KindConfig, fmt.Sprintf("bind template: %v", err))
	}
	frameRate := workflow.FrameRate(bound)

	// Subscribe before submitting so a completion that lands between the two
	// calls is never missed.
	stream, err := e.client.OpenStream(ctx, gen.SessionID)
	if err != nil {
		return fail(model.KindEngineUnavailable, fmt.Sprintf("open event stream: %v", err))
	}
	defer stream.Close()

	promptID, err := e.client.Submit(ctx, bound, gen.SessionID)
	if err != nil {
		return fail(model.KindEngineUnavailable, fmt.Sprintf("submit graph: %v", err))
	}
	gen.PromptID = promptID

	if err := e.store.UpdateGenerationStatus(ctx, gen.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "generation_id", gen.ID, "error", err)
	}
	startedAt := time.Now().UTC()
	gen.StartedAt = &startedAt

	mon := NewMonitor(stream, e.client, e.execTimeout, e.logger)
	mon.onTransition = func(state string) {
		e.broker.Publish(gen.ID, state)
	}

	res, err := mon.Wait(ctx, promptID)
	if err != nil {
		return fail(model.KindEngineUnavailable, fmt.Sprintf("monitor: %v", err))
	}

	switch res.State {
	case StateTimedOut:
		return &model.Outcome{
			Status:   model.StatusTimedOut,
			Kind:     model.KindTimeout,
			Detail:   fmt.Sprintf("execution exceeded %s budget", e.execTimeout),
			LogsTail: diag.LogTail(e.logPath, diag.DefaultLogTailLines),
			Seed:     req.Seed,
			Frames:   req.Frames,
			Width:    gen.Width,
			Height:   gen.Height,
			Elapsed:  res.Elapsed,
		}

	case StateFaulted:
		return &model.Outcome{
			Status:   model.StatusFailed,
			Kind:     model.KindEngineFault,
			Detail:   res.FaultDetail,
			LogsTail: diag.LogTail(e.logPath, diag.DefaultLogTailLines),
			Seed:     req.Seed,
			Frames:   req.Frames,
			Width:    gen.Width,
			Height:   gen.Height,
			Elapsed:  res.Elapsed,
		}
	}

	artifacts := e.resolver.Resolve(res.History)
	if len(artifacts) == 0 {
		return &model.Outcome{
			Status:  model.StatusFailed,
			Kind:    model.KindNoArtifact,
			Detail:  "engine reported completion but no artifact could be resolved",
			Seed:    req.Seed,
			Frames:  req.Frames,
			Width:   gen.Width,
			Height:  gen.Height,
			Elapsed: res.Elapsed,
		}
	}

	artifactResolutions.WithLabelValues(string(artifacts[0].Confidence)).Inc()

	paths := make([]string, len(artifacts))
	for i, a := range artifacts {
		paths[i] = a.Path
	}

	e.logger.Info("generation complete",
		"generation_id", gen.ID,
		"prompt_id", promptID,
		"artifact", paths[0],
		"confidence", string(artifacts[0].Confidence),
		"elapsed", res.Elapsed)

	return &model.Outcome{
		Status:        model.StatusCompleted,
		ArtifactPaths: paths,
		Confidence:    artifacts[0].Confidence,
		Seed:          req.Seed,
		Frames:        req.Frames,
		FrameRate:     frameRate,
		Width:         gen.Width,
		Height:        gen.Height,
		Elapsed:       res.Elapsed,
	}
}

// finish writes the terminal outcome onto the persisted record. Persistence
// failures are logged, never surfaced: the caller already holds the outcome.
func (e *Engine) finish(gen *model.Generation, o *model.Outcome) {
	now := time.Now().UTC()
	durationMS := int(o.Elapsed.Milliseconds())

	gen.Status = o.Status
	gen.ErrorKind = string(o.Kind)
	gen.ErrorDetail = o.Detail
	gen.DurationMS = &durationMS
	gen.FinishedAt = &now
	if len(o.ArtifactPaths) > 0 {
		gen.ArtifactPath = o.ArtifactPaths[0]
	}

	if err := e.store.UpdateGeneration(context.Background(), gen); err != nil {
		e.logger.Error("failed to persist terminal generation", "generation_id", gen.ID, "error", err)
	}
}
