package state

import (
	"sort"
	"strings"
)

type Metrics struct {
	Order      float64 `json:"order"`
	Morale     float64 `json:"morale"`
	Resources  float64 `json:"resources"`
	Knowledge  float64 `json:"knowledge"`
	Corruption float64 `json:"corruption"`
	Glitch     float64 `json:"glitch"`

	// Optional metrics. Absent means "derive it".
	BaseThreat          *float64 `json:"base_threat,omitempty"`
	Threat              *float64 `json:"threat,omitempty"`
	Stability           *float64 `json:"stability,omitempty"`
	LeadershipAlignment *float64 `json:"leadership_alignment,omitempty"`
	LogicScore          *float64 `json:"logic_score,omitempty"`
	EmotionScore        *float64 `json:"emotion_score,omitempty"`
}

type NPC struct {
	ID       string  `json:"id"`
	Name     string  `json:"name,omitempty"`
	Role     string  `json:"role,omitempty"`
	Status   string  `json:"status,omitempty"`
	Location string  `json:"location,omitempty"`
	Health   float64 `json:"health"`
	Fatigue  float64 `json:"fatigue"`
	X        int     `json:"x"`
	Y        int     `json:"y"`
}

// Alive reports whether the NPC still counts as a survivor.
func (n NPC) Alive() bool {
	switch strings.ToLower(n.Status) {
	case "dead", "fallen":
		return false
	}
	return n.Health > 0
}

// Escaped reports whether status or location says the NPC got out.
func (n NPC) Escaped() bool {
	switch strings.ToLower(n.Status) {
	case "escaped", "evacuated":
		return true
	}
	loc := strings.ToLower(n.Location)
	for _, kw := range []string{"escape", "evacuat", "outside"} {
		if strings.Contains(loc, kw) {
			return true
		}
	}
	return false
}

type Structure struct {
	ID        string  `json:"id"`
	Kind      string  `json:"kind,omitempty"`
	Status    string  `json:"status,omitempty"`
	Integrity float64 `json:"integrity"`
}

// CallRecord is one entry of the safe-function history.
type CallRecord struct {
	Turn     int            `json:"turn"`
	Function string         `json:"function"`
	Category string         `json:"category,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Status   string         `json:"status,omitempty"`
}

type Marker struct {
	ID         string `json:"id"`
	EntityType string `json:"entity_type"`
	Label      string `json:"label,omitempty"`
	Hostile    bool   `json:"hostile,omitempty"`
	X          int    `json:"x"`
	Y          int    `json:"y"`
}

func (m Marker) IsHostile() bool {
	return m.Hostile || strings.Contains(strings.ToLower(m.EntityType), "enemy")
}

type Combat struct {
	Skirmishes int `json:"skirmishes"`
	Casualties int `json:"casualties"`
}

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// GameState is the live campaign container. During a turn it is owned by the
// orchestrator and mutated only through the safe-function executor and the
// world tick.
type GameState struct {
	Turn    int     `json:"turn"`
	Metrics Metrics `json:"metrics"`

	NPCs       []NPC              `json:"npc_locations"`
	Structures []Structure        `json:"structures"`
	Stockpiles map[string]float64 `json:"stockpiles"`
	History    []CallRecord       `json:"safe_function_history"`
	Markers    []Marker           `json:"map_event_markers"`

	Combat Combat          `json:"combat"`
	Log    []string        `json:"log,omitempty"`
	Player Position        `json:"player"`
	Flags  map[string]bool `json:"flags,omitempty"`

	EventNodeID string `json:"event_node_id,omitempty"`
	Ended       bool   `json:"ended,omitempty"`
	FinalPathID string `json:"final_path_id,omitempty"`
}

// Snapshot is the read-only view handed to the scoring components. It shares
// the layout of GameState but is always a deep copy.
type Snapshot GameState

func (g *GameState) Snapshot() Snapshot {
	return Snapshot(g.Clone())
}

func (g *GameState) Clone() GameState {
	out := *g
	out.Metrics = g.Metrics.clone()
	out.NPCs = append([]NPC(nil), g.NPCs...)
	out.Structures = append([]Structure(nil), g.Structures...)
	out.Markers = append([]Marker(nil), g.Markers...)
	out.Log = append([]string(nil), g.Log...)
	if g.Stockpiles != nil {
		out.Stockpiles = make(map[string]float64, len(g.Stockpiles))
		for k, v := range g.Stockpiles {
			out.Stockpiles[k] = v
		}
	}
	if g.Flags != nil {
		out.Flags = make(map[string]bool, len(g.Flags))
		for k, v := range g.Flags {
			out.Flags[k] = v
		}
	}
	if g.History != nil {
		out.History = make([]CallRecord, len(g.History))
		for i, r := range g.History {
			out.History[i] = r
			out.History[i].Args = cloneArgs(r.Args)
		}
	}
	return out
}

// State returns a mutable copy of the snapshot.
func (s Snapshot) State() GameState {
	g := GameState(s)
	return g.Clone()
}

func (m Metrics) clone() Metrics {
	out := m
	out.BaseThreat = clonePtr(m.BaseThreat)
	out.Threat = clonePtr(m.Threat)
	out.Stability = clonePtr(m.Stability)
	out.LeadershipAlignment = clonePtr(m.LeadershipAlignment)
	out.LogicScore = clonePtr(m.LogicScore)
	out.EmotionScore = clonePtr(m.EmotionScore)
	return out
}

func clonePtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneArgs(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Float returns a pointer to v, for populating optional metrics.
func Float(v float64) *float64 { return &v }

func (s Snapshot) HostileMarkerCount() int {
	n := 0
	for _, m := range s.Markers {
		if m.IsHostile() {
			n++
		}
	}
	return n
}

func (s Snapshot) ActiveNPCCount() int {
	n := 0
	for _, npc := range s.NPCs {
		if npc.Alive() && !npc.Escaped() {
			n++
		}
	}
	return n
}

func (s Snapshot) NPCByID(id string) (NPC, bool) {
	for _, npc := range s.NPCs {
		if npc.ID == id {
			return npc, true
		}
	}
	return NPC{}, false
}

// PrimaryStructureID is the first tracked structure that is still standing,
// falling back to the first tracked one.
func (s Snapshot) PrimaryStructureID() (string, bool) {
	for _, st := range s.Structures {
		if st.Integrity > 0 && st.Status != "destroyed" {
			return st.ID, true
		}
	}
	if len(s.Structures) > 0 {
		return s.Structures[0].ID, true
	}
	return "", false
}

// PrimaryNPCID is the first surviving NPC, falling back to the first tracked one.
func (s Snapshot) PrimaryNPCID() (string, bool) {
	for _, npc := range s.NPCs {
		if npc.Alive() {
			return npc.ID, true
		}
	}
	if len(s.NPCs) > 0 {
		return s.NPCs[0].ID, true
	}
	return "", false
}

func (s Snapshot) StockpileKeys() []string {
	keys := make([]string, 0, len(s.Stockpiles))
	for k := range s.Stockpiles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (g *GameState) NPC(id string) *NPC {
	for i := range g.NPCs {
		if g.NPCs[i].ID == id {
			return &g.NPCs[i]
		}
	}
	return nil
}

func (g *GameState) Structure(id string) *Structure {
	for i := range g.Structures {
		if g.Structures[i].ID == id {
			return &g.Structures[i]
		}
	}
	return nil
}

func (g *GameState) SetFlag(name string, v bool) {
	if g.Flags == nil {
		g.Flags = map[string]bool{}
	}
	g.Flags[name] = v
}

func (g *GameState) AddStock(item string, delta float64) {
	if g.Stockpiles == nil {
		g.Stockpiles = map[string]float64{}
	}
	v := g.Stockpiles[item] + delta
	if v < 0 {
		v = 0
	}
	g.Stockpiles[item] = v
}
