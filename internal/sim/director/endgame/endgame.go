// Package endgame decides when a campaign should enter its finale.
package endgame

import (
	"encoding/json"

	"bastion.ai/internal/sim/director/storygraph"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/state"
	"bastion.ai/internal/sim/tuning"
)

// Path categories recommended to the finale.
const (
	PathDesperate = "desperate"
	PathHeroic    = "heroic"
	PathStrategic = "strategic"
)

const (
	ReasonLowMorale    = "low_morale"
	ReasonLowResources = "low_resources"
	ReasonEnemyMarkers = "enemy_markers"
)

// Directive is the per-turn finale decision. Reason is empty when nothing
// triggered and encodes as null.
type Directive struct {
	Trigger         bool
	Reason          string
	RecommendedPath string
}

func (d Directive) MarshalJSON() ([]byte, error) {
	var reason *string
	if d.Reason != "" {
		reason = &d.Reason
	}
	return json.Marshal(struct {
		Trigger         bool    `json:"final_trigger"`
		Reason          *string `json:"reason"`
		RecommendedPath string  `json:"recommended_path"`
	}{d.Trigger, reason, d.RecommendedPath})
}

func (d *Directive) UnmarshalJSON(data []byte) error {
	var raw struct {
		Trigger         bool    `json:"final_trigger"`
		Reason          *string `json:"reason"`
		RecommendedPath string  `json:"recommended_path"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Directive{Trigger: raw.Trigger, RecommendedPath: raw.RecommendedPath}
	if raw.Reason != nil {
		d.Reason = *raw.Reason
	}
	return nil
}

type Detector struct {
	cfg tuning.Endgame
}

func New(cfg tuning.Endgame) *Detector {
	return &Detector{cfg: cfg}
}

// Check evaluates the finale conditions. A terminal node always triggers;
// otherwise only the collapse phase can.
func (d *Detector) Check(snap state.Snapshot, th threat.Snapshot, node *storygraph.Node) Directive {
	if node != nil && node.Final {
		return Directive{
			Trigger:         true,
			Reason:          "terminal_node:" + node.ID,
			RecommendedPath: PathForTags(*node),
		}
	}
	if th.Phase != threat.PhaseCollapse {
		return Directive{RecommendedPath: PathStrategic}
	}
	switch {
	case snap.Metrics.Morale < d.cfg.MoraleBelow:
		return Directive{Trigger: true, Reason: ReasonLowMorale, RecommendedPath: PathDesperate}
	case snap.Metrics.Resources < d.cfg.ResourcesBelow:
		return Directive{Trigger: true, Reason: ReasonLowResources, RecommendedPath: PathStrategic}
	case snap.HostileMarkerCount() >= d.cfg.HostileMarkers:
		return Directive{Trigger: true, Reason: ReasonEnemyMarkers, RecommendedPath: PathHeroic}
	}
	return Directive{RecommendedPath: PathStrategic}
}

// PathForTags maps a terminal node's tags to a path category.
func PathForTags(n storygraph.Node) string {
	switch {
	case n.HasTag("collapse"):
		return PathDesperate
	case n.HasTag("hope"):
		return PathHeroic
	default:
		return PathStrategic
	}
}
