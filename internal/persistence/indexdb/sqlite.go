package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/tuning"
	"bastion.ai/internal/sim/turn"
)

// SQLiteIndex is a queryable secondary index over the turn traces. Writes are
// queued to a single writer goroutine and dropped when the queue is full; the
// JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTurn atomic.Uint64
	dropRun  atomic.Uint64
}

type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTurnTotal uint64 `json:"drop_turn_total"`
	DropRunTotal  uint64 `json:"drop_run_total"`
}

type reqKind int

const (
	reqTurn reqKind = iota + 1
	reqRun
)

type req struct {
	kind reqKind

	trace turn.Trace
	run   RunInfo
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			scenario TEXT NOT NULL,
			story_graph_digest TEXT NOT NULL,
			final_paths_digest TEXT NOT NULL,
			tuning_digest TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			run_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			digest TEXT NOT NULL,
			current_node TEXT NOT NULL,
			next_node TEXT NOT NULL,
			event_seed TEXT NOT NULL,
			threat_score REAL NOT NULL,
			phase TEXT NOT NULL,
			final_trigger INTEGER NOT NULL,
			reason TEXT,
			actions INTEGER NOT NULL,
			fallbacks TEXT NOT NULL,
			at TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, turn)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_turns_phase ON turns(phase, run_id);`,
		`CREATE TABLE IF NOT EXISTS actions (
			run_id TEXT NOT NULL,
			turn INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			function TEXT NOT NULL,
			category TEXT NOT NULL,
			status TEXT NOT NULL,
			code TEXT,
			args_json TEXT NOT NULL,
			PRIMARY KEY (run_id, turn, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_function ON actions(function, run_id, turn);`,
		`CREATE TABLE IF NOT EXISTS finales (
			run_id TEXT PRIMARY KEY,
			turn INTEGER NOT NULL,
			path_id TEXT NOT NULL,
			rule INTEGER NOT NULL,
			morale REAL NOT NULL,
			threat REAL NOT NULL,
			narrative_source TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTurnTotal: s.dropTurn.Load(),
		DropRunTotal:  s.dropRun.Load(),
	}
}

// WriteTrace makes the index a turn.TraceSink. It never blocks the turn.
func (s *SQLiteIndex) WriteTrace(_ context.Context, tr turn.Trace) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTurn, trace: tr}:
	default:
		s.dropTurn.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordRun(run RunInfo) {
	if s == nil || s.closed.Load() || run.RunID == "" {
		return
	}
	if run.StartedAt == "" {
		run.StartedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	select {
	case s.ch <- req{kind: reqRun, run: run}:
	default:
		s.dropRun.Add(1)
	}
}

// UpsertCatalogs stores the catalogs and tuning a run is using, keyed by
// name, alongside their digests.
func (s *SQLiteIndex) UpsertCatalogs(story *catalogs.StoryGraph, paths *catalogs.FinalPathCatalog, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if story != nil {
		if b, err := json.Marshal(story.Graph); err == nil {
			rows = append(rows, kv{name: "story_graph", digest: story.Digest, json: b})
		}
	}
	if paths != nil {
		list := make([]catalogs.FinalPath, 0, paths.Len())
		for _, id := range paths.IDs() {
			p, _ := paths.Get(id)
			list = append(list, p)
		}
		if b, err := json.Marshal(list); err == nil {
			rows = append(rows, kv{name: "final_paths", digest: paths.Digest, json: b})
		}
	}
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, kv{name: "tuning", digest: tune.Digest(), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,started_at,scenario,story_graph_digest,final_paths_digest,tuning_digest) VALUES(?,?,?,?,?,?)`)
	insertTurn, _ := s.db.Prepare(`INSERT OR REPLACE INTO turns(run_id,turn,digest,current_node,next_node,event_seed,threat_score,phase,final_trigger,reason,actions,fallbacks,at,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertAction, _ := s.db.Prepare(`INSERT OR REPLACE INTO actions(run_id,turn,seq,function,category,status,code,args_json) VALUES(?,?,?,?,?,?,?,?)`)
	insertFinale, _ := s.db.Prepare(`INSERT OR REPLACE INTO finales(run_id,turn,path_id,rule,morale,threat,narrative_source) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRun, insertTurn, insertAction, insertFinale} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// Turns arrive a few per second at most, so an idle queue commits
	// immediately and readers see fresh rows.
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if len(s.ch) == 0 || opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRun:
			ru := r.run
			exec(insertRun, ru.RunID, ru.StartedAt, ru.Scenario, ru.StoryGraphDigest, ru.FinalPathsDigest, ru.TuningDigest)

		case reqTurn:
			row := turnRowFrom(r.trace)
			raw, _ := json.Marshal(r.trace)
			trigger := 0
			if row.Trigger {
				trigger = 1
			}
			if !exec(insertTurn,
				row.RunID, row.Turn, row.Digest,
				row.CurrentNode, row.NextNode, row.EventSeed,
				row.ThreatScore, row.Phase, trigger, row.Reason,
				row.Actions, joinFallbacks(row.Fallbacks), row.At,
				string(raw),
			) {
				continue
			}
			for _, a := range actionRowsFrom(r.trace) {
				if !exec(insertAction, row.RunID, row.Turn, a.Seq, a.Function, a.Category, a.Status, a.Code, a.ArgsJSON) {
					break
				}
			}
			if f, ok := finaleRowFrom(r.trace); ok {
				exec(insertFinale, f.RunID, f.Turn, f.PathID, f.Rule, f.Morale, f.Threat, f.NarrativeSource)
			}
		}
		flushIfNeeded()
	}

	commit()
}
