// Package campaign owns one running siege: its state, its orchestrator and
// its run id.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"bastion.ai/internal/agents/scripted"
	"bastion.ai/internal/persistence/snapshot"
	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/collab"
	"bastion.ai/internal/sim/director/curve"
	"bastion.ai/internal/sim/director/endgame"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/finale"
	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
	"bastion.ai/internal/sim/tuning"
	"bastion.ai/internal/sim/turn"
)

// Agents groups the three collaborators. Nil fields fall back to the
// scripted agent.
type Agents struct {
	Intent   collab.NarrativeAgent
	Planner  collab.Planner
	Renderer collab.Renderer
}

type Config struct {
	Tuning     tuning.Tuning
	StoryGraph *catalogs.StoryGraph
	FinalPaths *catalogs.FinalPathCatalog
	Registry   *safefn.Registry
	Agents     Agents

	// RunID is generated when empty.
	RunID  string
	Sink   turn.TraceSink
	Logger *log.Logger
	Now    func() time.Time
}

// Digests identify the inputs a run was started with.
type Digests struct {
	StoryGraph string `json:"story_graph"`
	FinalPaths string `json:"final_paths"`
	Tuning     string `json:"tuning"`
}

type Campaign struct {
	cfg     Config
	runID   string
	logger  *log.Logger
	digests Digests

	director *turn.Director
	finale   *finale.Engine
	orch     *turn.Orchestrator

	stepMu sync.Mutex

	mu   sync.RWMutex
	gs   state.GameState
	last *turn.Result
}

// New starts a campaign from initial, which is copied.
func New(cfg Config, initial *state.GameState) (*Campaign, error) {
	if initial == nil {
		initial = state.DefaultScenario()
	}
	if err := initial.Snapshot().Validate(); err != nil {
		return nil, fmt.Errorf("initial state: %w", err)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	return build(cfg, initial.Clone())
}

// Resume rebuilds a campaign from a snapshot, keeping its run id and threat
// baseline.
func Resume(cfg Config, snap snapshot.SnapshotV1) (*Campaign, error) {
	if snap.Header.RunID == "" {
		return nil, fmt.Errorf("snapshot has no run id")
	}
	if err := snap.State.Snapshot().Validate(); err != nil {
		return nil, fmt.Errorf("snapshot state: %w", err)
	}
	cfg.RunID = snap.Header.RunID
	c, err := build(cfg, snap.State.Clone())
	if err != nil {
		return nil, err
	}
	if snap.BaseThreat != nil {
		c.director.Threat.SetBaseThreat(*snap.BaseThreat)
	}
	for _, chk := range []struct{ name, was, now string }{
		{"story graph", snap.StoryGraphDigest, c.digests.StoryGraph},
		{"final paths", snap.FinalPathsDigest, c.digests.FinalPaths},
		{"tuning", snap.TuningDigest, c.digests.Tuning},
	} {
		if chk.was != "" && chk.was != chk.now {
			c.logger.Printf("resume %s: %s changed since snapshot (%s -> %s)", c.runID, chk.name, short(chk.was), short(chk.now))
		}
	}
	return c, nil
}

func build(cfg Config, gs state.GameState) (*Campaign, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if cfg.StoryGraph == nil {
		sg, err := catalogs.DefaultStoryGraph()
		if err != nil {
			return nil, err
		}
		cfg.StoryGraph = sg
	}
	if cfg.FinalPaths == nil {
		fp, err := catalogs.DefaultFinalPaths()
		if err != nil {
			return nil, err
		}
		cfg.FinalPaths = fp
	}
	if cfg.Registry == nil {
		cfg.Registry = safefn.DefaultRegistry()
	}
	def := scripted.New()
	if cfg.Agents.Intent == nil {
		cfg.Agents.Intent = def
	}
	if cfg.Agents.Planner == nil {
		cfg.Agents.Planner = def
	}
	if cfg.Agents.Renderer == nil {
		cfg.Agents.Renderer = def
	}

	exec := safefn.NewExecutor(cfg.Registry, cfg.Logger)
	dir := NewDirector(cfg.StoryGraph, cfg.Tuning, cfg.Registry, cfg.Logger)
	fin, err := finale.NewEngine(finale.Config{
		Catalog:  cfg.FinalPaths,
		Registry: cfg.Registry,
		Executor: exec,
		Renderer: cfg.Agents.Renderer,
		Timeout:  cfg.Tuning.Orchestrator.CollaboratorTimeout(),
		Logger:   cfg.Logger,
		Rescore:  dir.Threat.Compute,
	})
	if err != nil {
		return nil, err
	}
	orch, err := turn.NewOrchestrator(turn.Config{
		Director: dir,
		Tuning:   cfg.Tuning,
		Intent:   cfg.Agents.Intent,
		Planner:  cfg.Agents.Planner,
		Renderer: cfg.Agents.Renderer,
		Executor: exec,
		Registry: cfg.Registry,
		Finale:   fin,
		Sink:     cfg.Sink,
		RunID:    cfg.RunID,
		Logger:   cfg.Logger,
		Now:      cfg.Now,
	})
	if err != nil {
		return nil, err
	}
	return &Campaign{
		cfg:    cfg,
		runID:  cfg.RunID,
		logger: cfg.Logger,
		digests: Digests{
			StoryGraph: cfg.StoryGraph.Digest,
			FinalPaths: cfg.FinalPaths.Digest,
			Tuning:     cfg.Tuning.Digest(),
		},
		director: dir,
		finale:   fin,
		orch:     orch,
		gs:       gs,
	}, nil
}

// NewDirector wires the decision components for one campaign. Replay uses it
// to re-derive decisions from traces.
func NewDirector(sg *catalogs.StoryGraph, tune tuning.Tuning, reg *safefn.Registry, logger *log.Logger) *turn.Director {
	return &turn.Director{
		Graph:   sg.Graph,
		Threat:  threat.New(tune.Threat, reg.Lookup, logger),
		Curve:   curve.New(tune.Curve.Overrides),
		Endgame: endgame.New(tune.Endgame),
	}
}

func (c *Campaign) RunID() string                          { return c.runID }
func (c *Campaign) Digests() Digests                       { return c.digests }
func (c *Campaign) StoryGraph() *catalogs.StoryGraph       { return c.cfg.StoryGraph }
func (c *Campaign) FinalPaths() *catalogs.FinalPathCatalog { return c.cfg.FinalPaths }
func (c *Campaign) Registry() *safefn.Registry             { return c.cfg.Registry }

// State is a deep copy of the current state.
func (c *Campaign) State() state.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gs.Snapshot()
}

func (c *Campaign) Ended() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gs.Ended
}

// Last is the most recent turn result, if any.
func (c *Campaign) Last() (turn.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return turn.Result{}, false
	}
	return *c.last, true
}

// Step runs one turn. Readers keep seeing the previous state until the turn
// commits. A second concurrent Step gets simerr.ErrTurnInFlight.
func (c *Campaign) Step(ctx context.Context) (turn.Result, error) {
	if !c.stepMu.TryLock() {
		return turn.Result{}, simerr.ErrTurnInFlight
	}
	defer c.stepMu.Unlock()

	c.mu.RLock()
	work := c.gs.Clone()
	c.mu.RUnlock()

	res, err := c.orch.RunTurn(ctx, &work)
	if err != nil {
		return turn.Result{}, err
	}

	c.mu.Lock()
	c.gs = work
	c.last = &res
	c.mu.Unlock()
	return res, nil
}

// PreviewFinale resolves the ending the current state would get without
// playing it.
func (c *Campaign) PreviewFinale() (catalogs.FinalPath, finale.Factors, error) {
	snap := c.State()
	th, err := c.director.Threat.Compute(snap)
	if err != nil {
		return catalogs.FinalPath{}, finale.Factors{}, err
	}
	return c.finale.Preview(snap, &th)
}

// Snapshot captures everything Resume needs.
func (c *Campaign) Snapshot() snapshot.SnapshotV1 {
	c.mu.RLock()
	gs := c.gs.Clone()
	c.mu.RUnlock()

	out := snapshot.SnapshotV1{
		Header:           snapshot.Header{RunID: c.runID, Turn: gs.Turn, Ended: gs.Ended},
		State:            gs,
		StoryGraphDigest: c.digests.StoryGraph,
		FinalPathsDigest: c.digests.FinalPaths,
		TuningDigest:     c.digests.Tuning,
	}
	if base, ok := c.director.Threat.BaseThreat(); ok {
		out.BaseThreat = &base
	}
	return out
}

func (c *Campaign) Save(path string) error {
	return snapshot.WriteSnapshot(path, c.Snapshot())
}

// Run steps the campaign every interval until it ends, maxTurns turns have
// run (0 means no limit) or ctx is done. onTurn sees each result.
func (c *Campaign) Run(ctx context.Context, every time.Duration, maxTurns int, onTurn func(turn.Result)) error {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	played := 0
	for {
		if c.Ended() || (maxTurns > 0 && played >= maxTurns) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			res, err := c.Step(ctx)
			if err != nil {
				if errors.Is(err, simerr.ErrTurnInFlight) {
					continue
				}
				return err
			}
			played++
			if onTurn != nil {
				onTurn(res)
			}
		}
	}
}

func short(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
