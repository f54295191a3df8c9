package safefn

import (
	"fmt"
	"io"
	"log"
	"math"

	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Action is one requested safe-function call.
type Action struct {
	Function    string         `json:"function"`
	Args        map[string]any `json:"args,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
}

type ExecutedAction struct {
	Function string         `json:"function"`
	Category string         `json:"category,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Status   string         `json:"status"`
	Error    string         `json:"error,omitempty"`
	Code     string         `json:"code,omitempty"`
}

// StateDelta lists metric and stockpile changes; zero changes are omitted.
type StateDelta struct {
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Stockpiles map[string]float64 `json:"stockpiles,omitempty"`
}

func (d StateDelta) Empty() bool {
	return len(d.Metrics) == 0 && len(d.Stockpiles) == 0
}

type ApplyResult struct {
	WorldState state.Snapshot   `json:"world_state"`
	Executed   []ExecutedAction `json:"executed_actions"`
	Delta      StateDelta       `json:"state_delta"`
}

// Executor applies actions through a registry. Each call runs against a
// copy of the state and is committed only if its handler succeeds.
type Executor struct {
	reg    *Registry
	logger *log.Logger
}

func NewExecutor(reg *Registry, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Executor{reg: reg, logger: logger}
}

func (e *Executor) Registry() *Registry { return e.reg }

// ApplyActions runs actions in order. A failing call is reported with
// status "error" and does not stop the calls after it.
func (e *Executor) ApplyActions(gs *state.GameState, actions []Action) (ApplyResult, error) {
	if gs == nil {
		return ApplyResult{}, fmt.Errorf("safefn: nil state")
	}
	before := gs.Snapshot()
	executed := make([]ExecutedAction, 0, len(actions))
	for _, a := range actions {
		executed = append(executed, e.applyOne(gs, a))
	}
	return ApplyResult{
		WorldState: gs.Snapshot(),
		Executed:   executed,
		Delta:      Diff(before, gs.Snapshot()),
	}, nil
}

func (e *Executor) applyOne(gs *state.GameState, a Action) ExecutedAction {
	out := ExecutedAction{Function: a.Function, Args: a.Args}
	h, ok := e.reg.Get(a.Function)
	if !ok {
		return e.fail(out, &simerr.ActionExecutionError{Function: a.Function, Unknown: true})
	}
	out.Category = h.Category

	work := gs.Clone()
	if err := safeApply(h, &work, Args(a.Args)); err != nil {
		return e.fail(out, &simerr.ActionExecutionError{Function: a.Function, Err: err})
	}
	work.History = append(work.History, state.CallRecord{
		Turn:     work.Turn,
		Function: h.Name,
		Category: h.Category,
		Args:     a.Args,
		Status:   StatusOK,
	})
	*gs = work
	out.Status = StatusOK
	return out
}

func safeApply(h Handler, gs *state.GameState, args Args) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	if args == nil {
		args = Args{}
	}
	return h.Apply(gs, args)
}

func (e *Executor) fail(out ExecutedAction, err *simerr.ActionExecutionError) ExecutedAction {
	e.logger.Printf("safe function failed: %v", err)
	out.Status = StatusError
	out.Error = err.Error()
	out.Code = err.Code()
	return out
}

// Diff compares metrics and stockpiles of two snapshots.
func Diff(before, after state.Snapshot) StateDelta {
	d := StateDelta{}
	b, a := before.Metrics, after.Metrics
	pairs := []struct {
		name string
		b, a float64
	}{
		{"order", b.Order, a.Order},
		{"morale", b.Morale, a.Morale},
		{"resources", b.Resources, a.Resources},
		{"knowledge", b.Knowledge, a.Knowledge},
		{"corruption", b.Corruption, a.Corruption},
		{"glitch", b.Glitch, a.Glitch},
	}
	for _, p := range pairs {
		if delta := p.a - p.b; math.Abs(delta) > 1e-9 {
			if d.Metrics == nil {
				d.Metrics = map[string]float64{}
			}
			d.Metrics[p.name] = delta
		}
	}
	keys := map[string]bool{}
	for k := range before.Stockpiles {
		keys[k] = true
	}
	for k := range after.Stockpiles {
		keys[k] = true
	}
	for k := range keys {
		if delta := after.Stockpiles[k] - before.Stockpiles[k]; math.Abs(delta) > 1e-9 {
			if d.Stockpiles == nil {
				d.Stockpiles = map[string]float64{}
			}
			d.Stockpiles[k] = delta
		}
	}
	return d
}
