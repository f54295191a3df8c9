package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"bastion.ai/internal/persistence/archive"
	"bastion.ai/internal/persistence/indexdb"
	"bastion.ai/internal/persistence/snapshot"
	"bastion.ai/internal/protocol"
	"bastion.ai/internal/sim/campaign"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/turn"
	"bastion.ai/internal/transport/observer"
)

// app ties a campaign to its HTTP surface and its on-disk run directory.
type app struct {
	camp   *campaign.Campaign
	obs    *observer.Server
	idx    runtimeIndex
	logger *log.Logger

	dataDir string
	runDir  string

	snapMu       sync.Mutex
	turnsTotal   atomic.Uint64
	snapFailures atomic.Uint64
}

func (a *app) routes(mux *http.ServeMux, enableAdmin, enablePprof bool) {
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", a.handleMetrics)
	mux.HandleFunc("/v1/state", a.handleState)
	mux.HandleFunc("/v1/finale/preview", a.handlePreview)
	mux.HandleFunc("/v1/observer/ws", a.obs.WSHandler())

	if enableAdmin {
		// Local-only: advancing the campaign changes the run.
		mux.HandleFunc("/v1/turn", a.handleTurn)
		mux.HandleFunc("/admin/v1/snapshot", a.handleSnapshot)
	} else {
		a.logger.Printf("admin endpoints disabled (BASTION_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	} else {
		a.logger.Printf("pprof endpoints disabled (BASTION_ENABLE_PPROF_HTTP=false)")
	}
}

func (a *app) handleState(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap := a.camp.State()
	if r.URL.Query().Get("history") != "1" {
		snap.History = nil
	}
	writeJSON(rw, http.StatusOK, struct {
		RunID   string           `json:"run_id"`
		Digests campaign.Digests `json:"digests"`
		State   any              `json:"state"`
	}{a.camp.RunID(), a.camp.Digests(), snap})
}

func (a *app) handleTurn(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	res, err := a.camp.Step(r.Context())
	if err != nil {
		writeError(rw, err)
		return
	}
	a.afterTurn(res)
	writeJSON(rw, http.StatusOK, res)
}

func (a *app) handlePreview(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path, factors, err := a.camp.PreviewFinale()
	if err != nil {
		writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{
		"path_id": path.ID,
		"title":   path.Title,
		"tone":    path.Tone,
		"summary": path.Summary,
		"factors": factors,
	})
}

func (a *app) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !isLoopbackRemote(r.RemoteAddr) {
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}
	path, err := a.saveSnapshot()
	if err != nil {
		writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path})
}

// afterTurn runs for every committed turn, whoever triggered it.
func (a *app) afterTurn(res turn.Result) {
	a.turnsTotal.Add(1)
	if _, err := a.saveSnapshot(); err != nil {
		a.logger.Printf("snapshot write: %v", err)
	}
	if res.Finale != nil {
		a.logger.Printf("run %s ended at turn %d: %s", a.camp.RunID(), res.Turn, res.Finale.Path.ID)
	}
}

func (a *app) saveSnapshot() (string, error) {
	a.snapMu.Lock()
	defer a.snapMu.Unlock()

	snap := a.camp.Snapshot()
	path := filepath.Join(a.runDir, "snapshots", snapshot.FileName(snap.Header.Turn))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		a.snapFailures.Add(1)
		return "", err
	}
	if archivedPath, ok, err := archive.ArchiveEndedRun(a.dataDir, path, snap); err != nil {
		a.logger.Printf("archive run: %v", err)
	} else if ok {
		a.logger.Printf("archived run %s to %s", snap.Header.RunID, archivedPath)
	}
	return path, nil
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	runID := a.camp.RunID()
	snap := a.camp.State()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP bastion_campaign_turn Current campaign turn.\n")
	fmt.Fprintf(rw, "# TYPE bastion_campaign_turn gauge\n")
	fmt.Fprintf(rw, "bastion_campaign_turn{run=%q} %d\n", runID, snap.Turn)

	fmt.Fprintf(rw, "# HELP bastion_campaign_ended Whether the finale has played.\n")
	fmt.Fprintf(rw, "# TYPE bastion_campaign_ended gauge\n")
	fmt.Fprintf(rw, "bastion_campaign_ended{run=%q} %d\n", runID, boolInt(snap.Ended))

	fmt.Fprintf(rw, "# HELP bastion_turns_total Turns committed by this process.\n")
	fmt.Fprintf(rw, "# TYPE bastion_turns_total counter\n")
	fmt.Fprintf(rw, "bastion_turns_total{run=%q} %d\n", runID, a.turnsTotal.Load())

	fmt.Fprintf(rw, "# HELP bastion_campaign_metric Campaign metrics.\n")
	fmt.Fprintf(rw, "# TYPE bastion_campaign_metric gauge\n")
	m := snap.Metrics
	for _, kv := range []struct {
		name string
		v    float64
	}{
		{"order", m.Order},
		{"morale", m.Morale},
		{"resources", m.Resources},
		{"knowledge", m.Knowledge},
		{"corruption", m.Corruption},
		{"glitch", m.Glitch},
	} {
		fmt.Fprintf(rw, "bastion_campaign_metric{run=%q,metric=%q} %.3f\n", runID, kv.name, kv.v)
	}

	if last, ok := a.camp.Last(); ok {
		fmt.Fprintf(rw, "# HELP bastion_threat_score Threat score of the last turn.\n")
		fmt.Fprintf(rw, "# TYPE bastion_threat_score gauge\n")
		fmt.Fprintf(rw, "bastion_threat_score{run=%q,phase=%q} %.3f\n", runID, string(last.Threat.Phase), last.Threat.Score)

		fmt.Fprintf(rw, "# HELP bastion_last_turn_fallbacks Fallbacks taken in the last turn.\n")
		fmt.Fprintf(rw, "# TYPE bastion_last_turn_fallbacks gauge\n")
		fmt.Fprintf(rw, "bastion_last_turn_fallbacks{run=%q} %d\n", runID, len(last.Fallbacks))
	}

	fmt.Fprintf(rw, "# HELP bastion_observer_sessions Connected observers.\n")
	fmt.Fprintf(rw, "# TYPE bastion_observer_sessions gauge\n")
	fmt.Fprintf(rw, "bastion_observer_sessions %d\n", a.obs.Sessions())

	fmt.Fprintf(rw, "# HELP bastion_observer_dropped_total Observer messages dropped on slow clients.\n")
	fmt.Fprintf(rw, "# TYPE bastion_observer_dropped_total counter\n")
	fmt.Fprintf(rw, "bastion_observer_dropped_total %d\n", a.obs.Dropped())

	fmt.Fprintf(rw, "# HELP bastion_snapshot_failures_total Failed snapshot writes.\n")
	fmt.Fprintf(rw, "# TYPE bastion_snapshot_failures_total counter\n")
	fmt.Fprintf(rw, "bastion_snapshot_failures_total %d\n", a.snapFailures.Load())

	writeIndexMetrics(rw, a.idx)
}

func writeIndexMetrics(rw http.ResponseWriter, idx runtimeIndex) {
	switch x := idx.(type) {
	case *indexdb.SQLiteIndex:
		s := x.Stats()
		fmt.Fprintf(rw, "# HELP bastion_index_queue_depth Index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE bastion_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "bastion_index_queue_depth %d\n", s.QueueDepth)
		fmt.Fprintf(rw, "# HELP bastion_index_queue_capacity Index writer queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE bastion_index_queue_capacity gauge\n")
		fmt.Fprintf(rw, "bastion_index_queue_capacity %d\n", s.QueueCapacity)
		fmt.Fprintf(rw, "# HELP bastion_index_dropped_total Index writes dropped because the queue was full.\n")
		fmt.Fprintf(rw, "# TYPE bastion_index_dropped_total counter\n")
		fmt.Fprintf(rw, "bastion_index_dropped_total{kind=%q} %d\n", "turn", s.DropTurnTotal)
		fmt.Fprintf(rw, "bastion_index_dropped_total{kind=%q} %d\n", "run", s.DropRunTotal)
	case *indexdb.RemoteIndex:
		s := x.Stats()
		fmt.Fprintf(rw, "# HELP bastion_remote_index_flush_total Remote index batch flushes.\n")
		fmt.Fprintf(rw, "# TYPE bastion_remote_index_flush_total counter\n")
		fmt.Fprintf(rw, "bastion_remote_index_flush_total{result=%q} %d\n", "ok", s.FlushOK)
		fmt.Fprintf(rw, "bastion_remote_index_flush_total{result=%q} %d\n", "fail", s.FlushFail)
		fmt.Fprintf(rw, "# HELP bastion_remote_index_dropped_total Remote index events dropped.\n")
		fmt.Fprintf(rw, "# TYPE bastion_remote_index_dropped_total counter\n")
		fmt.Fprintf(rw, "bastion_remote_index_dropped_total{reason=%q} %d\n", "queue", s.QueueDropped)
		fmt.Fprintf(rw, "bastion_remote_index_dropped_total{reason=%q} %d\n", "retain", s.RetainDrop)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, err error) {
	code := simerr.CodeOf(err)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, simerr.ErrTurnInFlight):
		status = http.StatusConflict
	case errors.Is(err, simerr.ErrCampaignEnded):
		status = http.StatusGone
	case code == protocol.ErrValidation:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(rw, status, protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		Code:            code,
		Message:         err.Error(),
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
