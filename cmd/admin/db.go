package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"bastion.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/bastion.sqlite)")
	runID := fs.String("run", "", "run id (default: most recent run)")
	turnNo := fs.Int("turn", -1, "turn number (actions, trace)")
	limit := fs.Int("limit", 20, "result limit (runs, turns)")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "bastion.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	_, _ = db.Exec(`PRAGMA query_only=ON;`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := runQuery(ctx, db, q, *runID, *turnNo, *limit); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, db indexdb.Querier, q, runID string, turnNo, limit int) error {
	if limit <= 0 {
		limit = 20
	}
	if q != "runs" && runID == "" {
		runs, err := indexdb.QueryRuns(ctx, db)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("no runs indexed")
		}
		runID = runs[0].RunID
	}

	switch q {
	case "runs":
		runs, err := indexdb.QueryRuns(ctx, db)
		if err != nil {
			return err
		}
		for i, r := range runs {
			if i >= limit {
				break
			}
			printJSON(r)
		}

	case "turns":
		rows, err := indexdb.QueryTurns(ctx, db, runID)
		if err != nil {
			return err
		}
		if len(rows) > limit {
			rows = rows[len(rows)-limit:]
		}
		for _, r := range rows {
			printJSON(r)
		}

	case "actions":
		if turnNo < 0 {
			return fmt.Errorf("missing -turn")
		}
		rows, err := indexdb.QueryActions(ctx, db, runID, turnNo)
		if err != nil {
			return err
		}
		for _, r := range rows {
			printJSON(r)
		}

	case "finale":
		row, ok, err := indexdb.QueryFinale(ctx, db, runID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("run %s has no finale yet", runID)
		}
		printJSON(row)

	case "trace":
		if turnNo < 0 {
			return fmt.Errorf("missing -turn")
		}
		tr, ok, err := indexdb.QueryTrace(ctx, db, runID, turnNo)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no trace for run %s turn %d", runID, turnNo)
		}
		printJSON(tr)

	default:
		return fmt.Errorf("unknown query (want runs|turns|actions|finale|trace)")
	}
	return nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
