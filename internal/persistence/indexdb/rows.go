package indexdb

import (
	"encoding/json"
	"strings"
	"time"

	"bastion.ai/internal/sim/turn"
)

// RunInfo describes one campaign run and the inputs it was started with.
type RunInfo struct {
	RunID            string `json:"run_id"`
	StartedAt        string `json:"started_at"`
	Scenario         string `json:"scenario,omitempty"`
	StoryGraphDigest string `json:"story_graph_digest"`
	FinalPathsDigest string `json:"final_paths_digest"`
	TuningDigest     string `json:"tuning_digest"`
}

type TurnRow struct {
	RunID       string   `json:"run_id"`
	Turn        int      `json:"turn"`
	Digest      string   `json:"decision_digest"`
	CurrentNode string   `json:"current_node_id"`
	NextNode    string   `json:"next_node_id"`
	EventSeed   string   `json:"event_seed"`
	ThreatScore float64  `json:"threat_score"`
	Phase       string   `json:"phase"`
	Trigger     bool     `json:"final_trigger"`
	Reason      string   `json:"reason,omitempty"`
	Actions     int      `json:"actions"`
	Fallbacks   []string `json:"fallbacks,omitempty"`
	At          string   `json:"at"`
}

type ActionRow struct {
	Seq      int    `json:"seq"`
	Function string `json:"function"`
	Category string `json:"category,omitempty"`
	Status   string `json:"status"`
	Code     string `json:"code,omitempty"`
	ArgsJSON string `json:"args_json"`
}

type FinaleRow struct {
	RunID           string  `json:"run_id"`
	Turn            int     `json:"turn"`
	PathID          string  `json:"path_id"`
	Rule            int     `json:"rule"`
	Morale          float64 `json:"morale"`
	Threat          float64 `json:"threat"`
	NarrativeSource string  `json:"narrative_source"`
}

func turnRowFrom(tr turn.Trace) TurnRow {
	d := tr.Decision
	return TurnRow{
		RunID:       tr.RunID,
		Turn:        tr.Turn,
		Digest:      tr.DecisionDigest,
		CurrentNode: d.CurrentNodeID,
		NextNode:    d.NextNodeID,
		EventSeed:   d.EventSeed,
		ThreatScore: d.Threat.Score,
		Phase:       string(d.Threat.Phase),
		Trigger:     d.Directive.Trigger,
		Reason:      d.Directive.Reason,
		Actions:     len(tr.Executed),
		Fallbacks:   tr.Fallbacks,
		At:          tr.At.UTC().Format(time.RFC3339Nano),
	}
}

func actionRowsFrom(tr turn.Trace) []ActionRow {
	out := make([]ActionRow, 0, len(tr.Executed))
	for i, a := range tr.Executed {
		args, _ := json.Marshal(a.Args)
		out = append(out, ActionRow{
			Seq:      i,
			Function: a.Function,
			Category: a.Category,
			Status:   a.Status,
			Code:     a.Code,
			ArgsJSON: string(args),
		})
	}
	return out
}

func finaleRowFrom(tr turn.Trace) (FinaleRow, bool) {
	if tr.Finale == nil {
		return FinaleRow{}, false
	}
	f := tr.Finale
	return FinaleRow{
		RunID:           tr.RunID,
		Turn:            tr.Turn,
		PathID:          f.Path.ID,
		Rule:            f.Factors.Rule,
		Morale:          f.Factors.Morale,
		Threat:          f.Factors.Threat,
		NarrativeSource: f.NarrativeSource,
	}, true
}

func joinFallbacks(fb []string) string { return strings.Join(fb, ",") }

func splitFallbacks(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
