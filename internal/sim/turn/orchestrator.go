package turn

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"bastion.ai/internal/sim/collab"
	"bastion.ai/internal/sim/director/endgame"
	"bastion.ai/internal/sim/director/storygraph"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/finale"
	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
	"bastion.ai/internal/sim/tuning"
)

// Fallback markers recorded in Result.Fallbacks.
const (
	FallbackIntent    = "intent"
	FallbackPlan      = "plan"
	FallbackExecutor  = "executor"
	FallbackRendering = "rendering"
)

type Config struct {
	Director *Director
	Tuning   tuning.Tuning

	Intent   collab.NarrativeAgent
	Planner  collab.Planner
	Renderer collab.Renderer
	Executor collab.Executor
	Registry collab.Registry
	Finale   *finale.Engine

	Sink   TraceSink
	RunID  string
	Logger *log.Logger
	Now    func() time.Time
}

// Result is returned once per turn.
type Result struct {
	Turn            int                     `json:"turn"`
	CurrentNodeID   string                  `json:"current_node_id"`
	NextNodeID      string                  `json:"next_node_id"`
	NodeDescription string                  `json:"node_description"`
	EventSeed       string                  `json:"event_seed"`
	Threat          threat.Snapshot         `json:"threat"`
	Directive       endgame.Directive       `json:"endgame"`
	Intent          collab.Intent           `json:"intent"`
	Plan            collab.Plan             `json:"plan"`
	Executed        []safefn.ExecutedAction `json:"executed_actions"`
	Delta           safefn.StateDelta       `json:"state_delta"`
	WorldTick       WorldTick               `json:"world_tick"`
	Rendering       collab.Rendering        `json:"rendering"`
	Finale          *finale.Result          `json:"finale,omitempty"`
	Fallbacks       []string                `json:"fallbacks,omitempty"`
	DecisionDigest  string                  `json:"decision_digest"`
	TraceError      string                  `json:"trace_error,omitempty"`

	Decision Decision `json:"-"`
}

// Orchestrator owns the turn pipeline for one campaign. At most one turn
// runs at a time.
type Orchestrator struct {
	cfg    Config
	logger *log.Logger
	mu     sync.Mutex
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Director == nil || cfg.Executor == nil || cfg.Finale == nil {
		return nil, fmt.Errorf("turn: director, executor and finale engine are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg, logger: cfg.Logger}, nil
}

func (o *Orchestrator) Director() *Director { return o.cfg.Director }

// RunTurn advances gs by one turn. Validation failures return before gs is
// touched; collaborator failures are replaced by fallbacks.
func (o *Orchestrator) RunTurn(ctx context.Context, gs *state.GameState) (Result, error) {
	if !o.mu.TryLock() {
		return Result{}, simerr.ErrTurnInFlight
	}
	defer o.mu.Unlock()

	if gs == nil {
		return Result{}, simerr.Invalid("state", "nil")
	}
	if gs.Ended {
		return Result{}, simerr.ErrCampaignEnded
	}

	pre := gs.Snapshot()
	dec, err := o.cfg.Director.Decide(pre, gs.EventNodeID)
	if err != nil {
		return Result{}, err
	}
	current := dec.CurrentNode()
	directive := dec.Directive

	res := Result{
		Turn:            pre.Turn,
		CurrentNodeID:   dec.CurrentNodeID,
		NextNodeID:      dec.NextNodeID,
		NodeDescription: current.Description,
		EventSeed:       dec.EventSeed,
		Threat:          dec.Threat,
		Directive:       directive,
		DecisionDigest:  dec.Digest(),
		Decision:        dec,
	}
	timeout := o.cfg.Tuning.Orchestrator.CollaboratorTimeout()

	// Intent.
	intentReq := collab.IntentRequest{
		State:     pre,
		Threat:    dec.Threat,
		EventSeed: dec.EventSeed,
		EventNode: &current,
		Directive: &directive,
	}
	res.Intent = o.intent(ctx, intentReq, timeout, &res)

	// Plan.
	maxCalls := o.cfg.Tuning.Orchestrator.MaxPlannedCalls
	if directive.Trigger {
		maxCalls = o.cfg.Tuning.Orchestrator.EndgamePlannedCalls
	}
	planReq := collab.PlanRequest{
		State:     pre,
		Threat:    dec.Threat,
		Intent:    res.Intent,
		EventSeed: dec.EventSeed,
		EventNode: &current,
		Directive: &directive,
		MaxCalls:  maxCalls,
	}
	if o.cfg.Registry != nil {
		planReq.Functions = o.cfg.Registry.Names()
	}
	res.Plan = o.plan(ctx, planReq, timeout, &res)

	// Everything below mutates a working copy committed at the end.
	work := gs.Clone()
	tick := ComputeWorldTick(pre, o.cfg.Tuning.WorldTick)

	applied, err := o.cfg.Executor.ApplyActions(&work, res.Plan.Actions)
	if err != nil {
		o.logger.Printf("turn %d: executor failed, no actions applied: %v", pre.Turn, err)
		res.Fallbacks = append(res.Fallbacks, FallbackExecutor)
		work = gs.Clone()
		applied = safefn.ApplyResult{}
	}
	res.Executed = applied.Executed
	res.Delta = applied.Delta

	tick.Apply(&work, o.cfg.Tuning.WorldTick)
	res.WorldTick = tick

	if directive.Trigger {
		th := dec.Threat
		fr, err := o.cfg.Finale.Run(ctx, &work, &th)
		if err != nil {
			return Result{}, fmt.Errorf("finale: %w", err)
		}
		res.Finale = &fr
		res.Rendering = collab.Rendering{
			NarrativeBlock: strings.Join(fr.Narrative.Paragraphs, "\n\n"),
			Atmosphere:     fr.Path.Tone,
		}
	} else {
		res.Rendering = o.render(ctx, collab.RenderRequest{
			State:     work.Snapshot(),
			Executed:  res.Executed,
			Phase:     dec.Threat.Phase,
			EventSeed: dec.EventSeed,
			EventNode: &current,
		}, timeout, &res)
	}

	work.EventNodeID = dec.NextNodeID
	work.Turn = pre.Turn + 1
	*gs = work

	o.trace(ctx, pre, &res)
	return res, nil
}

func (o *Orchestrator) intent(ctx context.Context, req collab.IntentRequest, timeout time.Duration, res *Result) collab.Intent {
	if o.cfg.Intent != nil {
		r := collab.Invoke(ctx, "intent", timeout, func(ctx context.Context) (collab.Intent, error) {
			return o.cfg.Intent.GenerateIntent(ctx, req)
		})
		if r.OK() {
			return r.Value
		}
		o.logger.Printf("turn %d: intent fallback: %v", req.State.Turn, r.Err)
	}
	res.Fallbacks = append(res.Fallbacks, FallbackIntent)
	return FallbackIntentFor(*req.EventNode, req.EventSeed)
}

func (o *Orchestrator) plan(ctx context.Context, req collab.PlanRequest, timeout time.Duration, res *Result) collab.Plan {
	if o.cfg.Planner != nil {
		r := collab.Invoke(ctx, "planner", timeout, func(ctx context.Context) (collab.Plan, error) {
			return o.cfg.Planner.PlanActions(ctx, req)
		})
		if r.OK() {
			p := r.Value
			if req.MaxCalls >= 0 && len(p.Actions) > req.MaxCalls {
				o.logger.Printf("turn %d: plan trimmed from %d to %d calls", req.State.Turn, len(p.Actions), req.MaxCalls)
				p.Actions = p.Actions[:req.MaxCalls]
			}
			return p
		}
		o.logger.Printf("turn %d: plan fallback: %v", req.State.Turn, r.Err)
	}
	res.Fallbacks = append(res.Fallbacks, FallbackPlan)
	return collab.Plan{Actions: []safefn.Action{}}
}

func (o *Orchestrator) render(ctx context.Context, req collab.RenderRequest, timeout time.Duration, res *Result) collab.Rendering {
	if o.cfg.Renderer != nil {
		r := collab.Invoke(ctx, "renderer", timeout, func(ctx context.Context) (collab.Rendering, error) {
			return o.cfg.Renderer.Render(ctx, req)
		})
		if r.OK() {
			return r.Value
		}
		o.logger.Printf("turn %d: rendering fallback: %v", req.State.Turn, r.Err)
	}
	res.Fallbacks = append(res.Fallbacks, FallbackRendering)
	return FallbackRenderingFor(*req.EventNode, req.Phase, req.EventSeed, req.Executed)
}

func (o *Orchestrator) trace(ctx context.Context, pre state.Snapshot, res *Result) {
	if o.cfg.Sink == nil {
		return
	}
	tr := Trace{
		RunID:          o.cfg.RunID,
		Turn:           res.Turn,
		At:             o.cfg.Now().UTC(),
		Decision:       res.Decision,
		DecisionDigest: res.DecisionDigest,
		PreState:       pre,
		Intent:         res.Intent,
		Plan:           res.Plan,
		Executed:       res.Executed,
		Delta:          res.Delta,
		WorldTick:      res.WorldTick,
		Rendering:      res.Rendering,
		Finale:         res.Finale,
		Fallbacks:      res.Fallbacks,
	}
	if err := writeTrace(ctx, o.cfg.Sink, tr); err != nil {
		te := &simerr.TraceWriteError{Sink: fmt.Sprintf("%T", o.cfg.Sink), Err: err}
		o.logger.Printf("turn %d: %v", res.Turn, te)
		res.TraceError = te.Error()
	}
}

// FallbackIntentFor builds the intent used when the narrative agent fails.
func FallbackIntentFor(node storygraph.Node, seed string) collab.Intent {
	opts := make([]string, 0, len(node.Next))
	for _, t := range node.Next {
		opts = append(opts, t.Label)
	}
	if len(opts) == 0 {
		opts = append(opts, "wait")
	}
	return collab.Intent{
		SceneIntent:   fmt.Sprintf("%s (%s)", node.Description, strings.ReplaceAll(seed, "_", " ")),
		PlayerOptions: opts,
	}
}

// FallbackRenderingFor builds the rendering used when the renderer fails.
func FallbackRenderingFor(node storygraph.Node, phase threat.Phase, seed string, executed []safefn.ExecutedAction) collab.Rendering {
	var done []string
	for _, a := range executed {
		if a.Status == safefn.StatusOK {
			done = append(done, strings.ReplaceAll(a.Function, "_", " "))
		}
	}
	block := node.Description
	if len(done) > 0 {
		block += " Orders carried out: " + strings.Join(done, ", ") + "."
	}
	return collab.Rendering{
		NarrativeBlock: block,
		Atmosphere:     fmt.Sprintf("%s, %s", phase, strings.ReplaceAll(seed, "_", " ")),
	}
}
