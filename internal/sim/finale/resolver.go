// Package finale picks the campaign's ending and plays it out.
package finale

import (
	"strings"

	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/state"
)

const (
	PathVictoryDefense      = "victory_defense"
	PathEvacuationSuccess   = "evacuation_success"
	PathHeroicLastStand     = "heroic_last_stand"
	PathCollapseFailure     = "collapse_failure"
	PathUnknownAnomaly      = "unknown_anomaly"
	PathBetrayalEnding      = "betrayal_ending"
	PathBittersweetSurvival = "bittersweet_survival"
	PathNegotiatedTruce     = "negotiated_truce"
	PathPyrrhicVictory      = "pyrrhic_victory"
	PathExileMarch          = "exile_march"
)

var leadershipRoles = []string{"captain", "commander", "leader", "warden", "seer", "strategist"}

// Inputs carries values the caller knows better than the snapshot.
type Inputs struct {
	ThreatOverride      *float64
	LeadershipAlignment *float64
}

// Factors are the resolved numbers the rules were evaluated against.
type Factors struct {
	Morale              float64 `json:"morale"`
	Threat              float64 `json:"threat"`
	ThreatSource        string  `json:"threat_source"`
	AliveRatio          float64 `json:"alive_ratio"`
	KeyNPCLosses        int     `json:"key_npc_losses"`
	Corruption          float64 `json:"corruption"`
	LeadershipAlignment float64 `json:"leadership_alignment"`
	Rule                int     `json:"rule"`
}

type Resolver struct {
	catalog *catalogs.FinalPathCatalog
}

func NewResolver(catalog *catalogs.FinalPathCatalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Determine evaluates the ending rules in order; the first match wins.
func (r *Resolver) Determine(snap state.Snapshot, in Inputs) (catalogs.FinalPath, Factors, error) {
	f := ResolveFactors(snap, in)
	id, rule := Choose(f)
	f.Rule = rule
	p, ok := r.catalog.Get(id)
	if !ok {
		return catalogs.FinalPath{}, f, errMissingPath(id)
	}
	return p, f, nil
}

// Choose maps factors to a path id and the 1-based rule that fired.
func Choose(f Factors) (string, int) {
	switch {
	case f.Morale > 60 && f.Threat < 40:
		return PathVictoryDefense, 1
	case f.Morale > 40 && f.AliveRatio > 0.7:
		return PathEvacuationSuccess, 2
	case f.Threat > 80 && f.KeyNPCLosses > 2:
		return PathHeroicLastStand, 3
	case f.Threat > 90 && f.Morale < 30:
		return PathCollapseFailure, 4
	case f.Corruption > 60:
		return PathUnknownAnomaly, 5
	case f.LeadershipAlignment < -20:
		return PathBetrayalEnding, 6
	default:
		return PathBittersweetSurvival, 7
	}
}

func ResolveFactors(snap state.Snapshot, in Inputs) Factors {
	m := snap.Metrics
	threat, source := ResolveThreat(m, in.ThreatOverride)
	return Factors{
		Morale:              m.Morale,
		Threat:              threat,
		ThreatSource:        source,
		AliveRatio:          AliveRatio(snap.NPCs),
		KeyNPCLosses:        KeyNPCLosses(snap.NPCs),
		Corruption:          m.Corruption,
		LeadershipAlignment: LeadershipAlignment(m, in.LeadershipAlignment),
	}
}

// ResolveThreat applies override > metrics.threat > 100-stability > 50.
func ResolveThreat(m state.Metrics, override *float64) (float64, string) {
	switch {
	case override != nil:
		return *override, "override"
	case m.Threat != nil:
		return *m.Threat, "metrics"
	case m.Stability != nil:
		return 100 - *m.Stability, "stability"
	}
	return 50, "default"
}

func AliveRatio(npcs []state.NPC) float64 {
	if len(npcs) == 0 {
		return 1
	}
	alive := 0
	for _, n := range npcs {
		if n.Alive() {
			alive++
		}
	}
	return float64(alive) / float64(len(npcs))
}

func KeyNPCLosses(npcs []state.NPC) int {
	n := 0
	for _, npc := range npcs {
		if !npc.Alive() && IsLeader(npc) {
			n++
		}
	}
	return n
}

func IsLeader(npc state.NPC) bool {
	role := strings.ToLower(npc.Role)
	for _, kw := range leadershipRoles {
		if strings.Contains(role, kw) {
			return true
		}
	}
	return false
}

// LeadershipAlignment prefers the explicit score, then the metric, then
// logic minus emotion with order and morale standing in.
func LeadershipAlignment(m state.Metrics, explicit *float64) float64 {
	if explicit != nil {
		return *explicit
	}
	if m.LeadershipAlignment != nil {
		return *m.LeadershipAlignment
	}
	logic, emotion := m.Order, m.Morale
	if m.LogicScore != nil {
		logic = *m.LogicScore
	}
	if m.EmotionScore != nil {
		emotion = *m.EmotionScore
	}
	return logic - emotion
}
