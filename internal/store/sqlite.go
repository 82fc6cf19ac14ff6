package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tenexa/wanbridge/internal/model"

	_ "modernc.org/sqlite"
)

const createGenerationsTable = `
CREATE TABLE IF NOT EXISTS generations (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    variant      TEXT NOT NULL,
    session_id   TEXT NOT NULL,
    prompt_id    TEXT,
    seed         INTEGER NOT NULL,
    cfg          REAL NOT NULL,
    steps        INTEGER NOT NULL,
    frames       INTEGER NOT NULL,
    width        INTEGER NOT NULL,
    height       INTEGER NOT NULL,
    prompt       TEXT,
    artifact_path TEXT,
    error_kind   TEXT,
    error_detail TEXT,
    duration_ms  INTEGER,
    created_at   DATETIME NOT NULL,
    started_at   DATETIME,
    finished_at  DATETIME
)`

// ErrNotFound is returned when a generation is not found.
var ErrNotFound = errors.New("generation not found")

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createGenerationsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create generations table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateGeneration inserts a new generation record.
func (s *SQLiteStore) CreateGeneration(ctx context.Context, g *model.Generation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations (
			id, status, variant, session_id, prompt_id, seed, cfg, steps,
			frames, width, height, prompt, artifact_path, error_kind,
			error_detail, duration_ms, created_at, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Status, g.Variant, g.SessionID, g.PromptID, g.Seed, g.CFG, g.Steps,
		g.Frames, g.Width, g.Height, g.Prompt, g.ArtifactPath, g.ErrorKind,
		g.ErrorDetail, g.DurationMS, g.CreatedAt, g.StartedAt, g.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

const generationColumns = `id, status, variant, session_id, prompt_id, seed, cfg, steps,
	frames, width, height, prompt, artifact_path, error_kind,
	error_detail, duration_ms, created_at, started_at, finished_at`

func scanGeneration(row interface{ Scan(...any) error }) (*model.Generation, error) {
	g := &model.Generation{}
	err := row.Scan(
		&g.ID, &g.Status, &g.Variant, &g.SessionID, &g.PromptID, &g.Seed, &g.CFG, &g.Steps,
		&g.Frames, &g.Width, &g.Height, &g.Prompt, &g.ArtifactPath, &g.ErrorKind,
		&g.ErrorDetail, &g.DurationMS, &g.CreatedAt, &g.StartedAt, &g.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// GetGeneration retrieves a generation by ID.
func (s *SQLiteStore) GetGeneration(ctx context.Context, id string) (*model.Generation, error) {
	g, err := scanGeneration(s.db.QueryRowContext(ctx,
		"SELECT "+generationColumns+" FROM generations WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return g, nil
}

// ListGenerations returns a paginated list ordered by created_at DESC, along
// with the total count of all generations.
func (s *SQLiteStore) ListGenerations(ctx context.Context, limit, offset int) ([]*model.Generation, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM generations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count generations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		"SELECT "+generationColumns+" FROM generations ORDER BY created_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var generations []*model.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan generation: %w", err)
		}
		generations = append(generations, g)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate generations: %w", err)
	}

	return generations, total, nil
}

// UpdateGenerationStatus updates the status of a generation, enforcing the
// transition table. For terminal statuses it also sets finished_at.
func (s *SQLiteStore) UpdateGenerationStatus(ctx context.Context, id, status string) error {
	current, err := s.GetGeneration(ctx, id)
	if err != nil {
		return err
	}
	if !model.ValidTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, status)
	}

	var result sql.Result
	if status == model.StatusCompleted || status == model.StatusFailed || status == model.StatusTimedOut {
		result, err = s.db.ExecContext(ctx,
			"UPDATE generations SET status = ?, finished_at = ? WHERE id = ?",
			status, time.Now().UTC(), id,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			"UPDATE generations SET status = ? WHERE id = ?",
			status, id,
		)
	}
	if err != nil {
		return fmt.Errorf("update generation status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// UpdateGeneration writes a terminal generation record: status, prompt id,
// artifact path, error fields, and timing.
func (s *SQLiteStore) UpdateGeneration(ctx context.Context, g *model.Generation) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE generations SET
			status = ?, prompt_id = ?, artifact_path = ?, error_kind = ?,
			error_detail = ?, duration_ms = ?, started_at = ?, finished_at = ?
		WHERE id = ?`,
		g.Status, g.PromptID, g.ArtifactPath, g.ErrorKind,
		g.ErrorDetail, g.DurationMS, g.StartedAt, g.FinishedAt,
		g.ID,
	)
	if err != nil {
		return fmt.Errorf("update generation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// GetGenerationStats aggregates counts and average duration across all records.
func (s *SQLiteStore) GetGenerationStats(ctx context.Context) (*GenerationStats, error) {
	stats := &GenerationStats{
		CountByStatus:  make(map[string]int),
		CountByVariant: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, variant, COUNT(*) FROM generations GROUP BY status, variant")
	if err != nil {
		return nil, fmt.Errorf("aggregate generations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status, variant string
		var count int
		if err := rows.Scan(&status, &variant, &count); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		stats.Total += count
		stats.CountByStatus[status] += count
		stats.CountByVariant[variant] += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregates: %w", err)
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		"SELECT AVG(duration_ms) FROM generations WHERE duration_ms IS NOT NULL").Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}

	return stats, nil
}
