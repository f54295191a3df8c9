package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"bastion.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "fork":
			forkCmd(os.Args[2:])
			return
		case "inspect":
			inspectCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "turn":
			turnCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

type runListing struct {
	RunID       string `json:"run_id"`
	Turn        int    `json:"turn"`
	Ended       bool   `json:"ended"`
	Snapshot    string `json:"snapshot,omitempty"`
	Snapshots   int    `json:"snapshots"`
	Archived    bool   `json:"archived"`
	FinalPathID string `json:"final_path_id,omitempty"`
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	runs, err := listRuns(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, r := range runs {
		printJSON(r)
	}
}

func listRuns(dataDir string) ([]runListing, error) {
	entries, err := os.ReadDir(filepath.Join(dataDir, "runs"))
	if err != nil {
		return nil, err
	}
	var out []runListing
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		r := runListing{RunID: e.Name()}
		snapDir := filepath.Join(dataDir, "runs", e.Name(), "snapshots")
		if ents, err := os.ReadDir(snapDir); err == nil {
			for _, se := range ents {
				if strings.HasSuffix(se.Name(), ".snap.zst") {
					r.Snapshots++
				}
			}
		}
		if latest, err := snapshot.Latest(snapDir); err == nil && latest != "" {
			r.Snapshot = latest
			if snap, err := snapshot.ReadSnapshot(latest); err == nil {
				r.Turn = snap.Header.Turn
				r.Ended = snap.Header.Ended
				r.FinalPathID = snap.State.FinalPathID
			}
		}
		if _, err := os.Stat(filepath.Join(dataDir, "archives", e.Name(), "meta.json")); err == nil {
			r.Archived = true
		}
		out = append(out, r)
	}
	return out, nil
}

func inspectCmd(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	snapPath := fs.String("snapshot", "", "path to .snap.zst")
	full := fs.Bool("full", false, "print the whole state, including call history")
	_ = fs.Parse(args)

	if strings.TrimSpace(*snapPath) == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	if *full {
		printJSON(snap)
		return
	}

	alive := 0
	for _, n := range snap.State.NPCs {
		if n.Alive() {
			alive++
		}
	}
	fmt.Printf("snapshot v%d run=%s turn=%d ended=%t node=%s npcs=%d/%d structures=%d markers=%d history=%d\n",
		snap.Header.Version, snap.Header.RunID, snap.Header.Turn, snap.Header.Ended, snap.State.EventNodeID,
		alive, len(snap.State.NPCs), len(snap.State.Structures), len(snap.State.Markers), len(snap.State.History))
	printJSON(snap.State.Metrics)
}

// forkCmd copies a run's snapshot at some turn into a fresh run directory so
// the server can resume an alternate timeline with -snapshot.
func forkCmd(args []string) {
	fs := flag.NewFlagSet("fork", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	runID := fs.String("run", "", "source run id")
	turnNo := fs.Int("turn", -1, "source turn (default: latest snapshot)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*runID) == "" {
		fmt.Fprintln(os.Stderr, "missing -run")
		os.Exit(2)
	}
	out, err := forkRun(*dataDir, *runID, *turnNo, uuid.NewString())
	if err != nil {
		fmt.Fprintln(os.Stderr, "fork:", err)
		os.Exit(1)
	}
	fmt.Println(out)
}

func forkRun(dataDir, runID string, turnNo int, newRunID string) (string, error) {
	snapDir := filepath.Join(dataDir, "runs", runID, "snapshots")
	src := filepath.Join(snapDir, snapshot.FileName(turnNo))
	if turnNo < 0 {
		latest, err := snapshot.Latest(snapDir)
		if err != nil {
			return "", err
		}
		if latest == "" {
			return "", fmt.Errorf("run %s has no snapshots", runID)
		}
		src = latest
	}
	snap, err := snapshot.ReadSnapshot(src)
	if err != nil {
		return "", err
	}
	if snap.Header.Ended {
		return "", fmt.Errorf("snapshot %s is past the finale", filepath.Base(src))
	}
	snap.Header.RunID = newRunID
	dst := filepath.Join(dataDir, "runs", newRunID, "snapshots", snapshot.FileName(snap.Header.Turn))
	if err := snapshot.WriteSnapshot(dst, snap); err != nil {
		return "", err
	}
	return dst, nil
}
