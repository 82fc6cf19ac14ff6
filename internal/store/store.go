package store

import (
	"context"
	"errors"

	"github.com/tenexa/wanbridge/internal/model"
)

// ErrInvalidTransition is returned when a generation status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// GenerationStats holds aggregate generation statistics.
type GenerationStats struct {
	Total          int            `json:"total"`
	CountByStatus  map[string]int `json:"count_by_status"`
	CountByVariant map[string]int `json:"count_by_variant"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for generation records.
type Store interface {
	CreateGeneration(ctx context.Context, g *model.Generation) error
	GetGeneration(ctx context.Context, id string) (*model.Generation, error)
	ListGenerations(ctx context.Context, limit, offset int) ([]*model.Generation, int, error)
	UpdateGenerationStatus(ctx context.Context, id, status string) error
	UpdateGeneration(ctx context.Context, g *model.Generation) error
	GetGenerationStats(ctx context.Context) (*GenerationStats, error)
	Close() error
}
