package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"bastion.ai/internal/sim/turn"
)

func (s *SQLiteIndex) Runs(ctx context.Context) ([]RunInfo, error) {
	return QueryRuns(ctx, s.db)
}

func (s *SQLiteIndex) Turns(ctx context.Context, runID string) ([]TurnRow, error) {
	return QueryTurns(ctx, s.db, runID)
}

// Querier is satisfied by *sql.DB and *sql.Tx; cmd/admin opens the index
// read-only and uses the same queries.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func QueryRuns(ctx context.Context, q Querier) ([]RunInfo, error) {
	rows, err := q.QueryContext(ctx, `SELECT run_id,started_at,scenario,story_graph_digest,final_paths_digest,tuning_digest FROM runs ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunInfo
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.Scenario, &r.StoryGraphDigest, &r.FinalPathsDigest, &r.TuningDigest); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func QueryTurns(ctx context.Context, q Querier, runID string) ([]TurnRow, error) {
	rows, err := q.QueryContext(ctx, `SELECT run_id,turn,digest,current_node,next_node,event_seed,threat_score,phase,final_trigger,COALESCE(reason,''),actions,fallbacks,at
		FROM turns WHERE run_id=? ORDER BY turn ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TurnRow
	for rows.Next() {
		var (
			r        TurnRow
			trigger  int
			fallback string
		)
		if err := rows.Scan(&r.RunID, &r.Turn, &r.Digest, &r.CurrentNode, &r.NextNode, &r.EventSeed,
			&r.ThreatScore, &r.Phase, &trigger, &r.Reason, &r.Actions, &fallback, &r.At); err != nil {
			return nil, err
		}
		r.Trigger = trigger != 0
		r.Fallbacks = splitFallbacks(fallback)
		out = append(out, r)
	}
	return out, rows.Err()
}

func QueryActions(ctx context.Context, q Querier, runID string, turnNo int) ([]ActionRow, error) {
	rows, err := q.QueryContext(ctx, `SELECT seq,function,category,status,COALESCE(code,''),args_json
		FROM actions WHERE run_id=? AND turn=? ORDER BY seq ASC`, runID, turnNo)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActionRow
	for rows.Next() {
		var a ActionRow
		if err := rows.Scan(&a.Seq, &a.Function, &a.Category, &a.Status, &a.Code, &a.ArgsJSON); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// QueryFinale returns ok=false when the run has not ended.
func QueryFinale(ctx context.Context, q Querier, runID string) (FinaleRow, bool, error) {
	var f FinaleRow
	err := q.QueryRowContext(ctx, `SELECT run_id,turn,path_id,rule,morale,threat,narrative_source FROM finales WHERE run_id=?`, runID).
		Scan(&f.RunID, &f.Turn, &f.PathID, &f.Rule, &f.Morale, &f.Threat, &f.NarrativeSource)
	if errors.Is(err, sql.ErrNoRows) {
		return FinaleRow{}, false, nil
	}
	if err != nil {
		return FinaleRow{}, false, err
	}
	return f, true, nil
}

// QueryTrace loads the full stored trace of one turn.
func QueryTrace(ctx context.Context, q Querier, runID string, turnNo int) (turn.Trace, bool, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT raw_json FROM turns WHERE run_id=? AND turn=?`, runID, turnNo).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return turn.Trace{}, false, nil
	}
	if err != nil {
		return turn.Trace{}, false, err
	}
	var tr turn.Trace
	if err := json.Unmarshal([]byte(raw), &tr); err != nil {
		return turn.Trace{}, false, err
	}
	return tr, true, nil
}
