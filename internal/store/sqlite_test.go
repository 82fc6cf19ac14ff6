package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tenexa/wanbridge/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeGeneration() *model.Generation {
	return &model.Generation{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		Variant:   model.VariantI2V,
		SessionID: model.NewID(),
		Seed:      42,
		CFG:       2.0,
		Steps:     10,
		Frames:    81,
		Width:     480,
		Height:    832,
		Prompt:    "a calm lake at dawn",
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateAndGetGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := makeGeneration()
	if err := s.CreateGeneration(ctx, g); err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}

	got, err := s.GetGeneration(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if got.ID != g.ID || got.Status != model.StatusPending || got.Variant != model.VariantI2V {
		t.Errorf("got %+v, want created record", got)
	}
	if got.Seed != 42 || got.CFG != 2.0 || got.Width != 480 {
		t.Errorf("parameters not persisted: %+v", got)
	}
}

func TestGetGenerationNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetGeneration(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListGenerations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		g := makeGeneration()
		g.CreatedAt = time.Now().UTC().Add(time.Duration(i) * time.Second)
		if err := s.CreateGeneration(ctx, g); err != nil {
			t.Fatalf("CreateGeneration: %v", err)
		}
	}

	got, total, err := s.ListGenerations(ctx, 3, 0)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
	// Newest first.
	if len(got) == 3 && got[0].CreatedAt.Before(got[1].CreatedAt) {
		t.Error("list not ordered created_at DESC")
	}
}

func TestUpdateGenerationStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := makeGeneration()
	if err := s.CreateGeneration(ctx, g); err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}

	if err := s.UpdateGenerationStatus(ctx, g.ID, model.StatusRunning); err != nil {
		t.Fatalf("pending->running: %v", err)
	}

	// pending is not reachable from running.
	err := s.UpdateGenerationStatus(ctx, g.ID, model.StatusPending)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("running->pending err = %v, want ErrInvalidTransition", err)
	}

	if err := s.UpdateGenerationStatus(ctx, g.ID, model.StatusCompleted); err != nil {
		t.Fatalf("running->completed: %v", err)
	}

	got, err := s.GetGeneration(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if got.FinishedAt == nil {
		t.Error("terminal status did not set finished_at")
	}
}

func TestUpdateGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := makeGeneration()
	if err := s.CreateGeneration(ctx, g); err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}

	started := time.Now().UTC().Add(-30 * time.Second)
	finished := time.Now().UTC()
	dur := 30000
	g.Status = model.StatusCompleted
	g.PromptID = "p-123"
	g.ArtifactPath = "/output/wan_00001.mp4"
	g.DurationMS = &dur
	g.StartedAt = &started
	g.FinishedAt = &finished

	if err := s.UpdateGeneration(ctx, g); err != nil {
		t.Fatalf("UpdateGeneration: %v", err)
	}

	got, err := s.GetGeneration(ctx, g.ID)
	if err != nil {
		t.Fatalf("GetGeneration: %v", err)
	}
	if got.Status != model.StatusCompleted || got.PromptID != "p-123" {
		t.Errorf("got %+v, want completed record", got)
	}
	if got.ArtifactPath != "/output/wan_00001.mp4" {
		t.Errorf("ArtifactPath = %q", got.ArtifactPath)
	}
	if got.DurationMS == nil || *got.DurationMS != 30000 {
		t.Errorf("DurationMS = %v, want 30000", got.DurationMS)
	}
}

func TestUpdateGenerationNotFound(t *testing.T) {
	s := newTestStore(t)
	g := makeGeneration()
	g.Status = model.StatusFailed
	if err := s.UpdateGeneration(context.Background(), g); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetGenerationStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		g := makeGeneration()
		if err := s.CreateGeneration(ctx, g); err != nil {
			t.Fatalf("CreateGeneration: %v", err)
		}
		if i == 0 {
			dur := 1000
			g.Status = model.StatusCompleted
			g.DurationMS = &dur
			if err := s.UpdateGeneration(ctx, g); err != nil {
				t.Fatalf("UpdateGeneration: %v", err)
			}
		}
	}

	stats, err := s.GetGenerationStats(ctx)
	if err != nil {
		t.Fatalf("GetGenerationStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.StatusPending] != 2 {
		t.Errorf("pending count = %d, want 2", stats.CountByStatus[model.StatusPending])
	}
	if stats.CountByStatus[model.StatusCompleted] != 1 {
		t.Errorf("completed count = %d, want 1", stats.CountByStatus[model.StatusCompleted])
	}
	if stats.CountByVariant[model.VariantI2V] != 3 {
		t.Errorf("variant count = %d, want 3", stats.CountByVariant[model.VariantI2V])
	}
	if stats.AvgDurationMS != 1000 {
		t.Errorf("AvgDurationMS = %v, want 1000", stats.AvgDurationMS)
	}
}
