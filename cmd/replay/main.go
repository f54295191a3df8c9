package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "bastion.ai/internal/persistence/log"
	"bastion.ai/internal/sim/campaign"
	"bastion.ai/internal/sim/safefn"
	"bastion.ai/internal/sim/turn"
)

func main() {
	var (
		runDir     = flag.String("run", "", "run directory (<data>/runs/<run_id>) containing turns/turns-*.jsonl.zst")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		fromTurn   = flag.Int("from_turn", 0, "start verifying from turn (inclusive, optional)")
		toTurn     = flag.Int("to_turn", -1, "stop at turn (inclusive, optional)")
	)
	flag.Parse()

	if *runDir == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}

	cfg, err := campaign.LoadConfig(*configDir, *tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	files, err := persistlog.ListTurnFiles(*runDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list turn logs:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no turn logs found in", filepath.Join(*runDir, "turns"))
		os.Exit(1)
	}

	v := &verifier{
		director: campaign.NewDirector(cfg.StoryGraph, cfg.Tuning, safefn.DefaultRegistry(), nil),
		from:     *fromTurn,
		to:       *toTurn,
	}
	for _, path := range files {
		if err := persistlog.ReadTraces(path, v.check); err != nil {
			fmt.Fprintf(os.Stderr, "replay %s: %v\n", filepath.Base(path), err)
			os.Exit(1)
		}
	}
	fmt.Printf("replay ok: run=%s checked=%d turns (skipped=%d)\n", v.runID, v.checked, v.skipped)
}

// verifier re-derives each traced decision from its pre-turn state and
// compares digests.
type verifier struct {
	director *turn.Director
	from, to int

	runID    string
	lastTurn int
	seen     bool
	checked  int
	skipped  int
}

func (v *verifier) check(tr turn.Trace) error {
	if v.seen {
		if tr.RunID != v.runID {
			return fmt.Errorf("turn %d: run id %s, expected %s", tr.Turn, tr.RunID, v.runID)
		}
		if tr.Turn != v.lastTurn+1 {
			return fmt.Errorf("turn gap: %d follows %d", tr.Turn, v.lastTurn)
		}
	} else {
		v.seen = true
		v.runID = tr.RunID
		// The baseline is locked on the first turn and carried by every
		// later decision.
		v.director.Threat.SetBaseThreat(tr.Decision.Threat.BaseThreat)
	}
	v.lastTurn = tr.Turn

	if tr.Turn < v.from || (v.to >= 0 && tr.Turn > v.to) {
		v.skipped++
		return nil
	}
	if got := tr.Decision.Digest(); got != tr.DecisionDigest {
		return fmt.Errorf("turn %d: recorded decision does not match its digest", tr.Turn)
	}
	dec, err := v.director.Decide(tr.PreState, tr.PreState.EventNodeID)
	if err != nil {
		return fmt.Errorf("turn %d: decide: %w", tr.Turn, err)
	}
	if got := dec.Digest(); got != tr.DecisionDigest {
		return fmt.Errorf("digest mismatch at turn %d: got=%s want=%s (next node %s vs %s)",
			tr.Turn, got, tr.DecisionDigest, dec.NextNodeID, tr.Decision.NextNodeID)
	}
	v.checked++
	return nil
}
