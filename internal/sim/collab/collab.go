// Package collab defines the external collaborators the turn engine
// delegates to, and the bounded call wrapper every call site goes through.
package collab

import (
	"context"

	"bastion.ai/internal/sim/director/endgame"
	"bastion.ai/internal/sim/director/storygraph"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/state"
)

type IntentRequest struct {
	State     state.Snapshot     `json:"state"`
	Threat    threat.Snapshot    `json:"threat"`
	EventSeed string             `json:"event_seed,omitempty"`
	EventNode *storygraph.Node   `json:"event_node,omitempty"`
	Directive *endgame.Directive `json:"endgame_directive,omitempty"`
}

type Intent struct {
	SceneIntent   string   `json:"scene_intent"`
	PlayerOptions []string `json:"player_options"`
}

type PlanRequest struct {
	State     state.Snapshot     `json:"state"`
	Threat    threat.Snapshot    `json:"threat"`
	Intent    Intent             `json:"intent"`
	EventSeed string             `json:"event_seed,omitempty"`
	EventNode *storygraph.Node   `json:"event_node,omitempty"`
	Directive *endgame.Directive `json:"endgame_directive,omitempty"`
	Functions []string           `json:"available_functions,omitempty"`
	MaxCalls  int                `json:"max_calls"`
}

type Plan struct {
	Actions []safefn.Action `json:"planned_actions"`
}

type RenderRequest struct {
	State     state.Snapshot          `json:"state"`
	Executed  []safefn.ExecutedAction `json:"executed_actions"`
	Phase     threat.Phase            `json:"threat_phase"`
	EventSeed string                  `json:"event_seed,omitempty"`
	EventNode *storygraph.Node        `json:"event_node,omitempty"`

	// Finale is set when the renderer is asked for an ending.
	Finale *FinaleBrief `json:"finale,omitempty"`
}

// FinaleBrief tells the renderer which ending it is writing.
type FinaleBrief struct {
	PathID  string `json:"path_id"`
	Title   string `json:"title"`
	Tone    string `json:"tone"`
	Summary string `json:"summary"`
}

type Rendering struct {
	NarrativeBlock string            `json:"narrative_block"`
	NPCDialogues   map[string]string `json:"npc_dialogues,omitempty"`
	Atmosphere     string            `json:"atmosphere,omitempty"`

	// Paragraphs is only filled for finale renderings.
	Paragraphs []string       `json:"paragraphs,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

type NarrativeAgent interface {
	GenerateIntent(ctx context.Context, req IntentRequest) (Intent, error)
}

type Planner interface {
	PlanActions(ctx context.Context, req PlanRequest) (Plan, error)
}

type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (Rendering, error)
}

// Executor applies safe-function calls. Implementations must treat each call
// as all-or-nothing.
type Executor interface {
	ApplyActions(gs *state.GameState, actions []safefn.Action) (safefn.ApplyResult, error)
}

// Registry exposes handler metadata.
type Registry interface {
	Get(name string) (safefn.Handler, bool)
	Names() []string
}

var (
	_ Executor = (*safefn.Executor)(nil)
	_ Registry = (*safefn.Registry)(nil)
)
