package turn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bastion.ai/internal/sim/collab"
	"bastion.ai/internal/sim/finale"
	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/state"
)

// Trace is the immutable per-turn record handed to sinks.
type Trace struct {
	RunID          string    `json:"run_id"`
	Turn           int       `json:"turn"`
	At             time.Time `json:"at"`
	Decision       Decision  `json:"decision"`
	DecisionDigest string    `json:"decision_digest"`

	// PreState is what the decision was computed from; replay re-derives
	// the decision from it.
	PreState state.Snapshot `json:"pre_state"`

	Intent    collab.Intent           `json:"intent"`
	Plan      collab.Plan             `json:"plan"`
	Executed  []safefn.ExecutedAction `json:"executed_actions"`
	Delta     safefn.StateDelta       `json:"state_delta"`
	WorldTick WorldTick               `json:"world_tick"`
	Rendering collab.Rendering        `json:"rendering"`
	Finale    *finale.Result          `json:"finale,omitempty"`
	Fallbacks []string                `json:"fallbacks,omitempty"`
}

type TraceSink interface {
	WriteTrace(ctx context.Context, tr Trace) error
}

// MultiSink writes to every sink and joins the failures.
type MultiSink []TraceSink

func (m MultiSink) WriteTrace(ctx context.Context, tr Trace) error {
	var errs []error
	for i, s := range m {
		if s == nil {
			continue
		}
		if err := writeTrace(ctx, s, tr); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// writeTrace reports a panicking sink as an error. The turn has already been
// committed when sinks run.
func writeTrace(ctx context.Context, s TraceSink, tr Trace) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return s.WriteTrace(ctx, tr)
}

// SinkFunc adapts a function to TraceSink.
type SinkFunc func(ctx context.Context, tr Trace) error

func (f SinkFunc) WriteTrace(ctx context.Context, tr Trace) error { return f(ctx, tr) }
