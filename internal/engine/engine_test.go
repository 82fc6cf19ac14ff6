package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tenexa/wanbridge/internal/artifact"
	"github.com/tenexa/wanbridge/internal/comfy"
	"github.com/tenexa/wanbridge/internal/model"
	"github.com/tenexa/wanbridge/internal/store"
	"github.com/tenexa/wanbridge/internal/workflow"
)

// testTemplate is a minimal graph carrying every bound node of the real
// Wan 2.2 templates.
const testTemplate = `{
  "244": {"class_type": "LoadImage", "inputs": {"image": ""}},
  "541": {"class_type": "WanVideoImageToVideoEncode", "inputs": {"num_frames": 81, "width": 480, "height": 832}},
  "220": {"class_type": "WanVideoSampler", "inputs": {"seed": 0, "cfg": 1.0, "steps": 10}},
  "540": {"class_type": "WanVideoSampler", "inputs": {"seed": 0, "cfg": 1.0, "steps": 10}},
  "135": {"class_type": "WanVideoTextEncode", "inputs": {"positive_prompt": "", "negative_prompt": ""}},
  "498": {"class_type": "WanVideoContextOptions", "inputs": {"context_overlap": 16}},
  "131": {"class_type": "VHS_VideoCombine", "inputs": {"frame_rate": 16, "filename_prefix": "wan"}}
}`

type fakeClient struct {
	stream      comfy.EventSource
	streamErr   error
	hist        comfy.History
	promptID    string
	submitErr   error
	submitted   workflow.Graph
	submitCalls int
}

func (c *fakeClient) Submit(ctx context.Context, g workflow.Graph, sessionID string) (string, error) {
	c.submitCalls++
	if c.submitErr != nil {
		return "", c.submitErr
	}
	c.submitted = g
	return c.promptID, nil
}

func (c *fakeClient) OpenStream(ctx context.Context, sessionID string) (comfy.EventSource, error) {
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	return c.stream, nil
}

func (c *fakeClient) History(ctx context.Context, promptID string) (comfy.History, error) {
	return c.hist, nil
}

// silentStream returns a read timeout immediately so timeout tests do not
// wait out the real per-read deadline.
type silentStream struct{}

func (silentStream) Next(timeout time.Duration) (comfy.Event, error) {
	time.Sleep(2 * time.Millisecond)
	return comfy.Event{}, comfy.ErrReadTimeout
}

func (silentStream) Close() error { return nil }

type testEnv struct {
	engine *Engine
	store  store.Store
	client *fakeClient
	outDir string
}

func newTestEnv(t *testing.T, client *fakeClient, execTimeout time.Duration) *testEnv {
	t.Helper()

	wfDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(wfDir, "wan22_i2v_api.json"), []byte(testTemplate), 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}

	outDir := t.TempDir()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := discard()
	resolver := artifact.NewResolver(outDir, []string{"videos", "gifs"}, logger)
	eng := NewEngine(s, client, workflow.NewStore(wfDir), resolver, execTimeout, filepath.Join(outDir, "comfy.log"), logger)

	return &testEnv{engine: eng, store: s, client: client, outDir: outDir}
}

func testReq() *model.Request {
	return &model.Request{
		ImagePath:      "req/input.png",
		Variant:        model.VariantI2V,
		Seed:           42,
		CFG:            2.0,
		Steps:          4,
		Frames:         16,
		Width:          500,
		Height:         832,
		Prompt:         "a calm lake at dawn",
		NegativePrompt: model.DefaultNegativePrompt,
		ContextOverlap: 16,
	}
}

func gifsOutput(filename string) comfy.History {
	raw, _ := json.Marshal([]comfy.OutputFile{{Filename: filename}})
	return comfy.History{
		Outputs: map[string]comfy.NodeOutput{
			"131": {"gifs": raw},
		},
	}
}

func TestGenerateCompleted(t *testing.T) {
	client := &fakeClient{
		promptID: "p1",
		stream: &scriptedStream{steps: []step{
			{ev: executing("p1", "220")},
			{ev: executing("p1", "")},
		}},
		hist: gifsOutput("wan_00001.mp4"),
	}
	env := newTestEnv(t, client, time.Minute)
	if err := os.WriteFile(filepath.Join(env.outDir, "wan_00001.mp4"), []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	id, outcome, err := env.engine.Generate(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if outcome.Status != model.StatusCompleted {
		t.Fatalf("Status = %q (kind %q, detail %q)", outcome.Status, outcome.Kind, outcome.Detail)
	}
	if len(outcome.ArtifactPaths) != 1 || filepath.Base(outcome.ArtifactPaths[0]) != "wan_00001.mp4" {
		t.Errorf("ArtifactPaths = %v", outcome.ArtifactPaths)
	}
	if outcome.Confidence != model.ConfidenceHistory {
		t.Errorf("Confidence = %q, want %q", outcome.Confidence, model.ConfidenceHistory)
	}
	if outcome.Seed != 42 || outcome.Frames != 16 {
		t.Errorf("resolved parameters not echoed: %+v", outcome)
	}
	if outcome.Width != 496 {
		t.Errorf("Width = %d, want 496 (snapped from 500)", outcome.Width)
	}
	if outcome.FrameRate != 16 {
		t.Errorf("FrameRate = %v, want 16 from template", outcome.FrameRate)
	}
	if outcome.DurationSec() != 1.0 {
		t.Errorf("DurationSec = %v, want 1.0", outcome.DurationSec())
	}

	// The submitted graph carries the bound values.
	if got := client.submitted["220"].Inputs["seed"]; got != int64(42) {
		t.Errorf("submitted seed = %v (%T), want int64 42", got, got)
	}
	if got := client.submitted["541"].Inputs["width"]; got != 496 {
		t.Errorf("submitted width = %v, want 496", got)
	}

	gen, err := env.store.GetGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if gen.Status != model.StatusCompleted || gen.PromptID != "p1" {
		t.Errorf("persisted record = %+v", gen)
	}
	if gen.ArtifactPath == "" || gen.DurationMS == nil || gen.FinishedAt == nil {
		t.Errorf("terminal fields not persisted: %+v", gen)
	}
}

func TestGenerateEngineFault(t *testing.T) {
	detail := `{"type":"execution_error","data":{"exception_message":"CUDA out of memory"}}`
	client := &fakeClient{
		promptID: "p1",
		stream: &scriptedStream{steps: []step{
			{ev: executing("p1", "220")},
			{ev: executionError("p1", detail)},
		}},
	}
	env := newTestEnv(t, client, time.Minute)

	id, outcome, err := env.engine.Generate(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if outcome.Status != model.StatusFailed || outcome.Kind != model.KindEngineFault {
		t.Fatalf("outcome = %q/%q, want failed/engine_fault", outcome.Status, outcome.Kind)
	}
	if !strings.Contains(outcome.Detail, "CUDA out of memory") {
		t.Errorf("Detail = %q, want verbatim engine payload", outcome.Detail)
	}
	if outcome.LogsTail == "" {
		t.Error("LogsTail empty, want at least a placeholder")
	}

	gen, err := env.store.GetGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if gen.Status != model.StatusFailed || gen.ErrorKind != string(model.KindEngineFault) {
		t.Errorf("persisted record = %+v", gen)
	}
}

func TestGenerateTimeout(t *testing.T) {
	client := &fakeClient{promptID: "p1", stream: silentStream{}}
	env := newTestEnv(t, client, 20*time.Millisecond)

	id, outcome, err := env.engine.Generate(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if outcome.Status != model.StatusTimedOut || outcome.Kind != model.KindTimeout {
		t.Fatalf("outcome = %q/%q, want timed_out/timeout", outcome.Status, outcome.Kind)
	}

	gen, err := env.store.GetGeneration(context.Background(), id)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if gen.Status != model.StatusTimedOut {
		t.Errorf("persisted status = %q, want timed_out", gen.Status)
	}
}

func TestGenerateNoArtifact(t *testing.T) {
	client := &fakeClient{
		promptID: "p1",
		stream: &scriptedStream{steps: []step{
			{ev: executing("p1", "")},
		}},
		// Completion with an empty history and an empty output tree.
	}
	env := newTestEnv(t, client, time.Minute)

	_, outcome, err := env.engine.Generate(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if outcome.Status != model.StatusFailed || outcome.Kind != model.KindNoArtifact {
		t.Fatalf("outcome = %q/%q, want failed/no_artifact", outcome.Status, outcome.Kind)
	}
}

func TestGenerateMissingEndImage(t *testing.T) {
	client := &fakeClient{promptID: "p1", stream: &scriptedStream{}}
	env := newTestEnv(t, client, time.Minute)

	req := testReq()
	req.Variant = model.VariantFLF2V

	_, outcome, err := env.engine.Generate(context.Background(), req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if outcome.Status != model.StatusFailed || outcome.Kind != model.KindInput {
		t.Fatalf("outcome = %q/%q, want failed/input_error", outcome.Status, outcome.Kind)
	}
	if client.submitCalls != 0 {
		t.Errorf("submit calls = %d, want 0 before binding succeeds", client.submitCalls)
	}
}

func TestGenerateTemplateMissing(t *testing.T) {
	client := &fakeClient{promptID: "p1", stream: &scriptedStream{}}
	env := newTestEnv(t, client, time.Minute)

	// Point the engine at an empty template directory.
	env.engine.templates = workflow.NewStore(t.TempDir())

	_, outcome, err := env.engine.Generate(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if outcome.Status != model.StatusFailed || outcome.Kind != model.KindConfig {
		t.Fatalf("outcome = %q/%q, want failed/config_error", outcome.Status, outcome.Kind)
	}
	if client.submitCalls != 0 {
		t.Errorf("submit calls = %d, want 0", client.submitCalls)
	}
}

func TestGenerateEngineUnavailable(t *testing.T) {
	client := &fakeClient{streamErr: comfy.ErrUnreachable}
	env := newTestEnv(t, client, time.Minute)

	_, outcome, err := env.engine.Generate(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if outcome.Status != model.StatusFailed || outcome.Kind != model.KindEngineUnavailable {
		t.Fatalf("outcome = %q/%q, want failed/engine_unavailable", outcome.Status, outcome.Kind)
	}
}

func TestGeneratePublishesProgress(t *testing.T) {
	client := &fakeClient{
		promptID: "p1",
		stream: &scriptedStream{steps: []step{
			{ev: executing("p1", "220")},
			{ev: executing("p1", "")},
		}},
		hist: gifsOutput("wan_00002.mp4"),
	}
	env := newTestEnv(t, client, time.Minute)
	if err := os.WriteFile(filepath.Join(env.outDir, "wan_00002.mp4"), []byte("mp4"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	// The broker keys progress by generation id, which is allocated inside
	// Generate. Subscribe from the monitor's first transition instead: run
	// the generation, then verify a late subscriber observes the closed
	// topic, which proves the lifecycle reached Close.
	id, outcome, err := env.engine.Generate(context.Background(), testReq())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if outcome.Status != model.StatusCompleted {
		t.Fatalf("Status = %q", outcome.Status)
	}

	ch, unsub := env.engine.Broker().Subscribe(id)
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("want closed progress channel after generation finished")
	}
}
