package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenexa/wanbridge/internal/comfy"
)

// Monitor states. A submitted job moves queued → running → one of the three
// terminal states; callers only ever see a terminal state.
const (
	StateQueued    = "queued"
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFaulted   = "faulted"
	StateTimedOut  = "timed_out"
)

// defaultReadTimeout is the per-read deadline on the event stream. It bounds
// how stale the budget check can get on a silent stream; it is not a failure
// condition.
const defaultReadTimeout = 5 * time.Second

// HistoryFetcher fetches the engine's record of a finished job.
// *comfy.Client satisfies it.
type HistoryFetcher interface {
	History(ctx context.Context, promptID string) (comfy.History, error)
}

// MonitorResult is the terminal observation of one submission.
type MonitorResult struct {
	State string

	// History is populated when State == StateCompleted, from the single
	// history query performed after the completion event.
	History comfy.History

	// FaultDetail carries the engine's execution_error payload verbatim
	// when State == StateFaulted.
	FaultDetail string

	Elapsed time.Duration
}

// Monitor drives a submitted job to a terminal state by consuming the event
// stream for its session.
type Monitor struct {
	stream      comfy.EventSource
	history     HistoryFetcher
	budget      time.Duration
	readTimeout time.Duration
	logger      *slog.Logger

	// onTransition, when set, is invoked with each state the monitor
	// enters, including the terminal one.
	onTransition func(state string)
}

// NewMonitor creates a monitor over an open event stream. budget is the
// wall-clock execution limit measured from the Wait call.
func NewMonitor(stream comfy.EventSource, history HistoryFetcher, budget time.Duration, logger *slog.Logger) *Monitor {
	return &Monitor{
		stream:      stream,
		history:     history,
		budget:      budget,
		readTimeout: defaultReadTimeout,
		logger:      logger,
	}
}

// Wait blocks until the job identified by promptID reaches a terminal state.
//
// Completion is the engine's convention: an "executing" event with a null
// node and a matching prompt id. An "execution_error" event for the matching
// id is immediately terminal; the first terminal-triggering event wins.
// Events carrying a foreign prompt id never cause a transition, since the
// stream may be shared or carry stragglers from a prior attempt.
//
// The budget is re-checked at least every readTimeout regardless of stream
// activity, so neither a silent engine nor an endlessly chatty one can stall
// the deadline. An error return means the monitor lost its view of the job
// (stream failure, context cancellation), not that the job itself failed.
func (m *Monitor) Wait(ctx context.Context, promptID string) (MonitorResult, error) {
	start := time.Now()
	state := StateQueued
	m.transition(state)

	for {
		if err := ctx.Err(); err != nil {
			return MonitorResult{}, err
		}
		if elapsed := time.Since(start); elapsed > m.budget {
			m.transition(StateTimedOut)
			m.logger.Warn("execution budget exceeded", "prompt_id", promptID, "elapsed", elapsed)
			return MonitorResult{State: StateTimedOut, Elapsed: elapsed}, nil
		}

		ev, err := m.stream.Next(m.readTimeout)
		if errors.Is(err, comfy.ErrReadTimeout) {
			continue
		}
		if err != nil {
			return MonitorResult{}, fmt.Errorf("event stream: %w", err)
		}

		if ev.Data.PromptID != promptID {
			continue
		}

		switch ev.Type {
		case comfy.EventExecutionError:
			m.transition(StateFaulted)
			m.logger.Error("engine reported execution error", "prompt_id", promptID, "detail", string(ev.Raw))
			return MonitorResult{
				State:       StateFaulted,
				FaultDetail: string(ev.Raw),
				Elapsed:     time.Since(start),
			}, nil

		case comfy.EventExecuting:
			if ev.Data.Node != nil {
				if state == StateQueued {
					state = StateRunning
					m.transition(state)
				}
				continue
			}

			// Null node on the awaited prompt id: the graph is fully
			// drained. One history query, never speculative.
			m.transition(StateCompleted)
			elapsed := time.Since(start)
			m.logger.Info("execution complete", "prompt_id", promptID, "elapsed", elapsed)

			hist, err := m.history.History(ctx, promptID)
			if err != nil {
				return MonitorResult{}, fmt.Errorf("history after completion: %w", err)
			}
			return MonitorResult{State: StateCompleted, History: hist, Elapsed: elapsed}, nil
		}
	}
}

func (m *Monitor) transition(state string) {
	if m.onTransition != nil {
		m.onTransition(state)
	}
}
