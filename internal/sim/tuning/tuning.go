package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	Threat       Threat       `yaml:"threat" json:"threat"`
	Curve        Curve        `yaml:"event_curve" json:"event_curve"`
	Endgame      Endgame      `yaml:"endgame" json:"endgame"`
	WorldTick    WorldTick    `yaml:"world_tick" json:"world_tick"`
	Orchestrator Orchestrator `yaml:"orchestrator" json:"orchestrator"`
}

type Threat struct {
	EscalationRate  float64 `yaml:"escalation_rate" json:"escalation_rate"`
	EscalationCurve float64 `yaml:"escalation_curve" json:"escalation_curve"`
	EscalationCap   float64 `yaml:"escalation_cap" json:"escalation_cap"`

	HostilityWindow   int      `yaml:"hostility_window" json:"hostility_window"`
	HostilityBase     float64  `yaml:"hostility_base" json:"hostility_base"`
	HostilityDecay    float64  `yaml:"hostility_decay" json:"hostility_decay"`
	HostilityKeywords []string `yaml:"hostility_keywords" json:"hostility_keywords"`
	CombatCategories  []string `yaml:"combat_categories" json:"combat_categories"`
	LogLines          int      `yaml:"log_lines" json:"log_lines"`

	Weights    ThreatWeights   `yaml:"weights" json:"weights"`
	Thresholds PhaseThresholds `yaml:"thresholds" json:"thresholds"`
}

type ThreatWeights struct {
	Base        float64 `yaml:"base" json:"base"`
	Escalation  float64 `yaml:"escalation" json:"escalation"`
	MoraleGap   float64 `yaml:"morale_gap" json:"morale_gap"`
	ResourceGap float64 `yaml:"resource_gap" json:"resource_gap"`
	Hostility   float64 `yaml:"hostility" json:"hostility"`
}

// PhaseThresholds are exclusive upper bounds: score < Calm is calm,
// score < Rising is rising, score < Peak is peak, everything above collapses.
type PhaseThresholds struct {
	Calm   float64 `yaml:"calm" json:"calm"`
	Rising float64 `yaml:"rising" json:"rising"`
	Peak   float64 `yaml:"peak" json:"peak"`
}

type Curve struct {
	// Phase name -> ordered archetype labels. A non-empty list replaces the
	// built-in labels for that phase.
	Overrides map[string][]string `yaml:"overrides" json:"overrides,omitempty"`
}

type Endgame struct {
	MoraleBelow    float64 `yaml:"morale_below" json:"morale_below"`
	ResourcesBelow float64 `yaml:"resources_below" json:"resources_below"`
	HostileMarkers int     `yaml:"hostile_markers" json:"hostile_markers"`
}

type WorldTick struct {
	FoodItem         string  `yaml:"food_item" json:"food_item"`
	FoodPerNPC       float64 `yaml:"food_per_npc" json:"food_per_npc"`
	ResourcesPerNPC  float64 `yaml:"resources_per_npc" json:"resources_per_npc"`
	FatiguePerTurn   float64 `yaml:"fatigue_per_turn" json:"fatigue_per_turn"`
	FatigueCap       float64 `yaml:"fatigue_cap" json:"fatigue_cap"`
	StarvationMorale float64 `yaml:"starvation_morale" json:"starvation_morale"`
}

type Orchestrator struct {
	CollaboratorTimeoutMs int `yaml:"collaborator_timeout_ms" json:"collaborator_timeout_ms"`
	MaxPlannedCalls       int `yaml:"max_planned_calls" json:"max_planned_calls"`
	EndgamePlannedCalls   int `yaml:"endgame_planned_calls" json:"endgame_planned_calls"`
}

func (o Orchestrator) CollaboratorTimeout() time.Duration {
	return time.Duration(o.CollaboratorTimeoutMs) * time.Millisecond
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Threat: Threat{
			EscalationRate:  1.8,
			EscalationCurve: 1.15,
			EscalationCap:   35,

			HostilityWindow: 4,
			HostilityBase:   12,
			HostilityDecay:  3,
			HostilityKeywords: []string{
				"attack", "raid", "assault", "ambush", "siege", "skirmish", "sortie", "strike", "battle", "breach", "fight",
			},
			CombatCategories: []string{"combat", "military", "assault"},
			LogLines:         3,

			Weights: ThreatWeights{
				Base:        0.35,
				Escalation:  0.6,
				MoraleGap:   0.25,
				ResourceGap: 0.3,
				Hostility:   0.8,
			},
			Thresholds: PhaseThresholds{Calm: 30, Rising: 55, Peak: 80},
		},
		Endgame: Endgame{
			MoraleBelow:    20,
			ResourcesBelow: 15,
			HostileMarkers: 3,
		},
		WorldTick: WorldTick{
			FoodItem:         "food",
			FoodPerNPC:       1,
			ResourcesPerNPC:  0.25,
			FatiguePerTurn:   2,
			FatigueCap:       100,
			StarvationMorale: 3,
		},
		Orchestrator: Orchestrator{
			CollaboratorTimeoutMs: 20000,
			MaxPlannedCalls:       4,
			EndgamePlannedCalls:   2,
		},
	}
}

// Load overlays tuning.yaml onto Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	th := t.Threat.Thresholds
	if !(th.Calm < th.Rising && th.Rising < th.Peak) {
		return fmt.Errorf("threat.thresholds must be strictly increasing (calm=%v rising=%v peak=%v)", th.Calm, th.Rising, th.Peak)
	}
	if t.Threat.EscalationRate < 0 || t.Threat.EscalationCap < 0 || t.Threat.EscalationCurve < 0 {
		return fmt.Errorf("threat escalation parameters must be >= 0")
	}
	if t.Threat.HostilityWindow < 0 || t.Threat.HostilityDecay < 0 || t.Threat.LogLines < 0 {
		return fmt.Errorf("threat hostility parameters must be >= 0")
	}
	for phase, labels := range t.Curve.Overrides {
		switch phase {
		case "calm", "rising", "peak", "collapse":
		default:
			return fmt.Errorf("event_curve.overrides: unknown phase %q", phase)
		}
		for _, l := range labels {
			if l == "" {
				return fmt.Errorf("event_curve.overrides.%s: empty label", phase)
			}
		}
	}
	if t.WorldTick.FoodPerNPC < 0 || t.WorldTick.FatiguePerTurn < 0 || t.WorldTick.ResourcesPerNPC < 0 {
		return fmt.Errorf("world_tick rates must be >= 0")
	}
	if t.Orchestrator.CollaboratorTimeoutMs <= 0 {
		return fmt.Errorf("orchestrator.collaborator_timeout_ms must be > 0")
	}
	if t.Orchestrator.MaxPlannedCalls < 0 || t.Orchestrator.EndgamePlannedCalls < 0 {
		return fmt.Errorf("orchestrator planned call budgets must be >= 0")
	}
	return nil
}

// Digest is the sha256 of the canonical JSON encoding of the applied values.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
