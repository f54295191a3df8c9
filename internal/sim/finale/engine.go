package finale

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/collab"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
)

const (
	SourceRenderer = "renderer"
	SourceFallback = "fallback"
)

var fallbackLines = [2]string{
	"When the dust settled, the survivors counted what remained and began to rebuild.",
	"Whatever the chroniclers make of it, the siege is over.",
}

type PathInfo struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Tone    string `json:"tone"`
	Summary string `json:"summary"`
}

type StructureSummary struct {
	Status    string  `json:"status"`
	Integrity float64 `json:"integrity"`
}

// ThreatSummary describes the threat after the finale actions ran. Before is
// the value the path was resolved with.
type ThreatSummary struct {
	Score  float64      `json:"score"`
	Source string       `json:"source"`
	Phase  threat.Phase `json:"phase,omitempty"`
	Before float64      `json:"before"`
}

// ThreatRescored marks a threat summary scored from the post-finale state.
const ThreatRescored = "rescored"

// RescoreFunc scores a snapshot the way the director does.
type RescoreFunc func(snap state.Snapshot) (threat.Snapshot, error)

// Narrative is the finale prose. Payload is what gets checked against the
// path's output schema.
type Narrative struct {
	Title      string         `json:"title"`
	Tone       string         `json:"tone"`
	Paragraphs []string       `json:"paragraphs"`
	Extra      map[string]any `json:"extra,omitempty"`
}

func (n Narrative) Payload() map[string]any {
	out := make(map[string]any, len(n.Extra)+3)
	for k, v := range n.Extra {
		out[k] = v
	}
	out["title"] = n.Title
	out["tone"] = n.Tone
	out["paragraphs"] = n.Paragraphs
	return out
}

// Result always carries every field, whatever failed along the way.
type Result struct {
	Path            PathInfo                    `json:"path"`
	Factors         Factors                     `json:"factors"`
	Actions         []safefn.ExecutedAction     `json:"actions"`
	NPCFates        map[string]string           `json:"npc_fates"`
	Structures      map[string]StructureSummary `json:"structures"`
	Resources       map[string]float64          `json:"resources"`
	Threat          ThreatSummary               `json:"threat"`
	Narrative       Narrative                   `json:"narrative"`
	NarrativeSource string                      `json:"narrative_source"`
}

type Config struct {
	Catalog  *catalogs.FinalPathCatalog
	Registry collab.Registry
	Executor collab.Executor
	Renderer collab.Renderer // optional
	Timeout  time.Duration
	Logger   *log.Logger
	// Rescore is optional. Without it the summary keeps the resolved threat
	// unless the post-finale metrics carry their own.
	Rescore RescoreFunc
}

type Engine struct {
	resolver *Resolver
	catalog  *catalogs.FinalPathCatalog
	registry collab.Registry
	executor collab.Executor
	renderer collab.Renderer
	timeout  time.Duration
	logger   *log.Logger
	rescore  RescoreFunc
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil || cfg.Registry == nil || cfg.Executor == nil {
		return nil, fmt.Errorf("finale: catalog, registry and executor are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	return &Engine{
		resolver: NewResolver(cfg.Catalog),
		catalog:  cfg.Catalog,
		registry: cfg.Registry,
		executor: cfg.Executor,
		renderer: cfg.Renderer,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
		rescore:  cfg.Rescore,
	}, nil
}

func (e *Engine) Resolver() *Resolver { return e.resolver }

// Preview resolves the path without touching state.
func (e *Engine) Preview(snap state.Snapshot, th *threat.Snapshot) (catalogs.FinalPath, Factors, error) {
	return e.resolver.Determine(snap, inputsFor(th))
}

// Run resolves the ending for gs and plays it out.
func (e *Engine) Run(ctx context.Context, gs *state.GameState, th *threat.Snapshot) (Result, error) {
	snap := gs.Snapshot()
	if err := snap.Validate(); err != nil {
		return Result{}, err
	}
	path, factors, err := e.resolver.Determine(snap, inputsFor(th))
	if err != nil {
		return Result{}, err
	}
	return e.play(ctx, gs, path, factors, th)
}

// RunPath plays out a specific catalog path, skipping resolution.
func (e *Engine) RunPath(ctx context.Context, gs *state.GameState, pathID string, th *threat.Snapshot) (Result, error) {
	snap := gs.Snapshot()
	if err := snap.Validate(); err != nil {
		return Result{}, err
	}
	path, ok := e.catalog.Get(pathID)
	if !ok {
		return Result{}, errMissingPath(pathID)
	}
	factors := ResolveFactors(snap, inputsFor(th))
	return e.play(ctx, gs, path, factors, th)
}

func inputsFor(th *threat.Snapshot) Inputs {
	if th == nil {
		return Inputs{}
	}
	score := th.Score
	return Inputs{ThreatOverride: &score}
}

func errMissingPath(id string) error {
	return simerr.Invalid("final_path", "unknown path %q", id)
}

func (e *Engine) play(ctx context.Context, gs *state.GameState, path catalogs.FinalPath, factors Factors, th *threat.Snapshot) (Result, error) {
	actions, err := ActionsFor(path.ID, TargetsFor(gs.Snapshot()))
	if err != nil {
		return Result{}, simerr.Invalid("final_path", "%v", err)
	}

	executed := make([]safefn.ExecutedAction, 0, len(actions))
	for _, a := range actions {
		executed = append(executed, e.execute(gs, a))
	}
	gs.Ended = true
	gs.FinalPathID = path.ID

	post := gs.Snapshot()
	res := Result{
		Path:       PathInfo{ID: path.ID, Title: path.Title, Tone: path.Tone, Summary: path.Summary},
		Factors:    factors,
		Actions:    executed,
		NPCFates:   Fates(post),
		Structures: structures(post),
		Resources:  resources(post),
		Threat:     e.threatAfter(post, factors, th),
	}
	res.Narrative, res.NarrativeSource = e.narrate(ctx, post, path, executed, th)
	return res, nil
}

func (e *Engine) threatAfter(post state.Snapshot, factors Factors, th *threat.Snapshot) ThreatSummary {
	sum := ThreatSummary{Score: factors.Threat, Source: factors.ThreatSource, Before: factors.Threat}
	if th != nil {
		sum.Phase = th.Phase
	}
	if e.rescore != nil {
		ts, err := e.rescore(post)
		if err == nil {
			sum.Score, sum.Source, sum.Phase = ts.Score, ThreatRescored, ts.Phase
			return sum
		}
		e.logger.Printf("finale threat rescore failed: %v", err)
	}
	if th == nil {
		sum.Score, sum.Source = ResolveThreat(post.Metrics, nil)
	}
	return sum
}

// execute runs one call. Any failure becomes an error entry for that call
// alone.
func (e *Engine) execute(gs *state.GameState, a safefn.Action) safefn.ExecutedAction {
	h, ok := e.registry.Get(a.Function)
	if !ok {
		err := &simerr.ActionExecutionError{Function: a.Function, Unknown: true}
		e.logger.Printf("finale action skipped: %v", err)
		return safefn.ExecutedAction{Function: a.Function, Args: a.Args, Status: safefn.StatusError, Error: err.Error(), Code: err.Code()}
	}
	out, err := e.executor.ApplyActions(gs, []safefn.Action{a})
	if err != nil || len(out.Executed) != 1 {
		if err == nil {
			err = fmt.Errorf("executor returned %d results", len(out.Executed))
		}
		ae := &simerr.ActionExecutionError{Function: a.Function, Err: err}
		e.logger.Printf("finale action failed: %v", ae)
		return safefn.ExecutedAction{Function: a.Function, Category: h.Category, Args: a.Args, Status: safefn.StatusError, Error: ae.Error(), Code: ae.Code()}
	}
	if out.Executed[0].Status != safefn.StatusOK {
		e.logger.Printf("finale action %s: %s", a.Function, out.Executed[0].Error)
	}
	return out.Executed[0]
}

func (e *Engine) narrate(ctx context.Context, post state.Snapshot, path catalogs.FinalPath, executed []safefn.ExecutedAction, th *threat.Snapshot) (Narrative, string) {
	if e.renderer == nil {
		return Fallback(path), SourceFallback
	}
	req := collab.RenderRequest{
		State:    post,
		Executed: executed,
		Finale:   &collab.FinaleBrief{PathID: path.ID, Title: path.Title, Tone: path.Tone, Summary: path.Summary},
	}
	if th != nil {
		req.Phase = th.Phase
	}
	res := collab.Invoke(ctx, "renderer", e.timeout, func(ctx context.Context) (collab.Rendering, error) {
		return e.renderer.Render(ctx, req)
	})
	if !res.OK() {
		e.logger.Printf("finale narrative fallback: %v", res.Err)
		return Fallback(path), SourceFallback
	}
	n := Narrative{
		Title:      path.Title,
		Tone:       path.Tone,
		Paragraphs: paragraphs(res.Value),
		Extra:      res.Value.Extra,
	}
	if err := path.ValidateOutput(n.Payload()); err != nil {
		e.logger.Printf("finale narrative fallback: %v", err)
		return Fallback(path), SourceFallback
	}
	return n, SourceRenderer
}

func paragraphs(r collab.Rendering) []string {
	if len(r.Paragraphs) > 0 {
		return r.Paragraphs
	}
	var out []string
	for _, p := range strings.Split(r.NarrativeBlock, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Fallback is the fixed narrative used whenever rendering fails.
func Fallback(path catalogs.FinalPath) Narrative {
	return Narrative{
		Title:      path.Title,
		Tone:       path.Tone,
		Paragraphs: []string{path.Summary, fallbackLines[0], fallbackLines[1]},
	}
}

// Fates classifies every tracked NPC as fallen, escaped or alive.
func Fates(snap state.Snapshot) map[string]string {
	out := make(map[string]string, len(snap.NPCs))
	for _, n := range snap.NPCs {
		switch {
		case !n.Alive():
			out[n.ID] = "fallen"
		case n.Escaped():
			out[n.ID] = "escaped"
		default:
			out[n.ID] = "alive"
		}
	}
	return out
}

func structures(snap state.Snapshot) map[string]StructureSummary {
	out := make(map[string]StructureSummary, len(snap.Structures))
	for _, s := range snap.Structures {
		out[s.ID] = StructureSummary{Status: s.Status, Integrity: s.Integrity}
	}
	return out
}

func resources(snap state.Snapshot) map[string]float64 {
	out := make(map[string]float64, len(snap.Stockpiles)+1)
	for k, v := range snap.Stockpiles {
		out[k] = v
	}
	out["resources"] = snap.Metrics.Resources
	return out
}
