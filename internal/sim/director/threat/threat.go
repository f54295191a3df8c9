// Package threat turns a state snapshot into a tension score and phase.
package threat

import (
	"io"
	"log"
	"math"
	"strings"
	"sync"

	"bastion.ai/internal/sim/state"
	"bastion.ai/internal/sim/tuning"
)

type Phase string

const (
	PhaseCalm     Phase = "calm"
	PhaseRising   Phase = "rising"
	PhasePeak     Phase = "peak"
	PhaseCollapse Phase = "collapse"
)

// Phases lists every phase in escalation order.
var Phases = []Phase{PhaseCalm, PhaseRising, PhasePeak, PhaseCollapse}

func ParsePhase(s string) (Phase, bool) {
	for _, p := range Phases {
		if string(p) == s {
			return p, true
		}
	}
	return "", false
}

// Snapshot is the per-turn threat value. It is passed and stored by value.
type Snapshot struct {
	BaseThreat      float64 `json:"base_threat"`
	Escalation      float64 `json:"escalation"`
	Morale          float64 `json:"morale"`
	Resources       float64 `json:"resources"`
	RecentHostility float64 `json:"recent_hostility"`
	Turn            int     `json:"turn"`
	Score           float64 `json:"threat_score"`
	Phase           Phase   `json:"phase"`
}

// CategoryLookup resolves a safe-function name to its registry category.
type CategoryLookup func(function string) (category string, ok bool)

// Model computes threat snapshots. The base threat is resolved once and then
// held for the lifetime of the model; every campaign owns its own Model.
type Model struct {
	cfg    tuning.Threat
	lookup CategoryLookup
	logger *log.Logger

	mu      sync.Mutex
	base    float64
	hasBase bool
}

func New(cfg tuning.Threat, lookup CategoryLookup, logger *log.Logger) *Model {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Model{cfg: cfg, lookup: lookup, logger: logger}
}

// SetBaseThreat locks the baseline explicitly.
func (m *Model) SetBaseThreat(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base = clamp(v, 0, 100)
	m.hasBase = true
}

func (m *Model) HasBaseline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hasBase
}

func (m *Model) BaseThreat() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base, m.hasBase
}

// ResolveBase returns the locked baseline, locking it from snap on first use.
func (m *Model) ResolveBase(snap state.Snapshot) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasBase {
		return m.base
	}
	m.base = DeriveBase(snap.Metrics)
	m.hasBase = true
	m.logger.Printf("threat baseline locked at %.2f (turn %d)", m.base, snap.Turn)
	return m.base
}

// DeriveBase reads metrics.base_threat, or derives a baseline from order,
// corruption and glitch.
func DeriveBase(mt state.Metrics) float64 {
	if mt.BaseThreat != nil {
		return clamp(*mt.BaseThreat, 0, 100)
	}
	return clamp(0.4*(100-mt.Order)+0.4*mt.Corruption+0.2*mt.Glitch, 0, 100)
}

// Compute scores snap. It fails only when snap is malformed.
func (m *Model) Compute(snap state.Snapshot) (Snapshot, error) {
	if err := snap.Validate(); err != nil {
		return Snapshot{}, err
	}
	base := m.ResolveBase(snap)
	esc := m.Escalation(snap.Turn)
	hostility := m.RecentHostility(snap)
	morale := snap.Metrics.Morale
	resources := snap.Metrics.Resources

	w := m.cfg.Weights
	raw := base*w.Base +
		esc*w.Escalation +
		(100-morale)*w.MoraleGap +
		(50-resources)*w.ResourceGap +
		hostility*w.Hostility
	score := clamp(round2(raw), 0, 100)

	return Snapshot{
		BaseThreat:      base,
		Escalation:      esc,
		Morale:          morale,
		Resources:       resources,
		RecentHostility: hostility,
		Turn:            snap.Turn,
		Score:           score,
		Phase:           PhaseFor(score, m.cfg.Thresholds),
	}, nil
}

func (m *Model) Escalation(turn int) float64 {
	if turn <= 0 {
		return 0
	}
	return math.Min(m.cfg.EscalationCap, m.cfg.EscalationRate*math.Pow(float64(turn), m.cfg.EscalationCurve))
}

// PhaseFor quantizes a score. Thresholds are exclusive upper bounds.
func PhaseFor(score float64, th tuning.PhaseThresholds) Phase {
	switch {
	case score < th.Calm:
		return PhaseCalm
	case score < th.Rising:
		return PhaseRising
	case score < th.Peak:
		return PhasePeak
	default:
		return PhaseCollapse
	}
}

// RecentHostility scores recent combat. Structured history wins; without it
// the textual log counts at half weight, and without log hits the combat
// counters are used.
func (m *Model) RecentHostility(snap state.Snapshot) float64 {
	if len(snap.History) > 0 {
		return m.historyHostility(snap.History)
	}
	if h := m.logHostility(snap.Log); h > 0 {
		return h
	}
	return counterHostility(snap.Combat)
}

func (m *Model) historyHostility(history []state.CallRecord) float64 {
	window := m.cfg.HostilityWindow
	if window <= 0 {
		return 0
	}
	var total float64
	idx := 0
	for i := len(history) - 1; i >= 0 && idx < window; i-- {
		if m.IsCombat(history[i]) {
			total += m.decayed(idx)
		}
		idx++
	}
	return total
}

func (m *Model) logHostility(lines []string) float64 {
	var total float64
	idx := 0
	for i := len(lines) - 1; i >= 0 && idx < m.cfg.LogLines; i-- {
		if m.matchesKeyword(lines[i]) {
			total += m.decayed(idx) * 0.5
		}
		idx++
	}
	return total
}

// counterHostility is independent of the baseline, which already enters the
// score through its own weight.
func counterHostility(c state.Combat) float64 {
	sk := math.Min(float64(max(c.Skirmishes, 0)), 5)
	cas := math.Min(float64(max(c.Casualties, 0)), 10)
	return sk*0.5 + cas*0.3
}

func (m *Model) decayed(idx int) float64 {
	return math.Max(0, m.cfg.HostilityBase-float64(idx)*m.cfg.HostilityDecay)
}

// IsCombat classifies one history entry: its own category first, then the
// registry category, then keyword matching on the function name.
func (m *Model) IsCombat(rec state.CallRecord) bool {
	if m.isCombatCategory(rec.Category) {
		return true
	}
	if m.lookup != nil {
		if cat, ok := m.lookup(rec.Function); ok && m.isCombatCategory(cat) {
			return true
		}
	}
	return m.matchesKeyword(rec.Function)
}

func (m *Model) isCombatCategory(cat string) bool {
	if cat == "" {
		return false
	}
	cat = strings.ToLower(cat)
	for _, c := range m.cfg.CombatCategories {
		if strings.ToLower(c) == cat {
			return true
		}
	}
	return false
}

func (m *Model) matchesKeyword(s string) bool {
	s = strings.ToLower(s)
	for _, kw := range m.cfg.HostilityKeywords {
		if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
