package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tenexa/wanbridge/internal/model"
)

func seedGeneration(t *testing.T, h *testHarness, status string) *model.Generation {
	t.Helper()
	g := &model.Generation{
		ID:        model.NewID(),
		Status:    status,
		Variant:   model.VariantI2V,
		SessionID: model.NewID(),
		Seed:      42,
		CFG:       2.0,
		Steps:     10,
		Frames:    81,
		Width:     480,
		Height:    832,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.CreateGeneration(context.Background(), g); err != nil {
		t.Fatalf("CreateGeneration: %v", err)
	}
	return g
}

func TestGetGeneration(t *testing.T) {
	h := newTestServer(t)
	g := seedGeneration(t, h, model.StatusCompleted)

	ts := httptest.NewServer(h.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/generations/" + g.ID)
	if err != nil {
		t.Fatalf("GET generation: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got model.Generation
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != g.ID || got.Status != model.StatusCompleted {
		t.Errorf("got %+v, want seeded record", got)
	}
}

func TestGetGenerationNotFound(t *testing.T) {
	h := newTestServer(t)
	ts := httptest.NewServer(h.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/generations/missing")
	if err != nil {
		t.Fatalf("GET generation: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListGenerations(t *testing.T) {
	h := newTestServer(t)
	for i := 0; i < 3; i++ {
		seedGeneration(t, h, model.StatusPending)
	}

	ts := httptest.NewServer(h.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/generations?limit=2")
	if err != nil {
		t.Fatalf("GET generations: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got listGenerationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 3 {
		t.Errorf("total = %d, want 3", got.Total)
	}
	if len(got.Generations) != 2 {
		t.Errorf("len = %d, want 2", len(got.Generations))
	}
	if got.Limit != 2 {
		t.Errorf("limit = %d, want 2", got.Limit)
	}
}

func TestListGenerationsEmpty(t *testing.T) {
	h := newTestServer(t)
	ts := httptest.NewServer(h.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/generations")
	if err != nil {
		t.Fatalf("GET generations: %v", err)
	}
	defer resp.Body.Close()

	var got listGenerationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 0 || got.Generations == nil {
		t.Errorf("got %+v, want empty non-nil list", got)
	}
}

func TestStatsEndpoint(t *testing.T) {
	h := newTestServer(t)
	seedGeneration(t, h, model.StatusPending)
	seedGeneration(t, h, model.StatusCompleted)

	ts := httptest.NewServer(h.srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.Total != 2 {
		t.Errorf("total = %d, want 2", got.Total)
	}
	if got.ByStatus[model.StatusCompleted] != 1 {
		t.Errorf("by_status[completed] = %d, want 1", got.ByStatus[model.StatusCompleted])
	}
	if got.ByVariant[model.VariantI2V] != 2 {
		t.Errorf("by_variant[wan22_i2v] = %d, want 2", got.ByVariant[model.VariantI2V])
	}
}
