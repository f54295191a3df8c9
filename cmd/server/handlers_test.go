package main

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bastion.ai/internal/persistence/snapshot"
	"bastion.ai/internal/protocol"
	"bastion.ai/internal/sim/campaign"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
	"bastion.ai/internal/sim/tuning"
	"bastion.ai/internal/transport/observer"
)

func newTestApp(t *testing.T) (*app, *httptest.Server) {
	t.Helper()
	dataDir := t.TempDir()
	logger := log.New(io.Discard, "", 0)

	a := &app{logger: logger, dataDir: dataDir}
	a.obs = observer.NewServer(func() observer.Info {
		return observer.Info{RunID: a.camp.RunID(), Turn: a.camp.State().Turn}
	}, logger)

	c, err := campaign.New(campaign.Config{Tuning: tuning.Defaults(), Sink: a.obs}, nil)
	if err != nil {
		t.Fatalf("campaign: %v", err)
	}
	a.camp = c
	a.runDir = filepath.Join(dataDir, "runs", c.RunID())

	mux := http.NewServeMux()
	a.routes(mux, true, false)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return a, srv
}

func TestStateAndTurn(t *testing.T) {
	a, srv := newTestApp(t)

	resp, err := http.Get(srv.URL + "/v1/state")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	var st struct {
		RunID string `json:"run_id"`
		State struct {
			Turn int `json:"turn"`
		} `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	resp.Body.Close()
	if st.RunID != a.camp.RunID() || st.State.Turn != 0 {
		t.Fatalf("state: %+v", st)
	}

	resp, err = http.Post(srv.URL+"/v1/turn", "application/json", nil)
	if err != nil {
		t.Fatalf("post turn: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("post turn status=%d body=%s", resp.StatusCode, body)
	}
	var res struct {
		Turn           int    `json:"turn"`
		DecisionDigest string `json:"decision_digest"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		t.Fatalf("decode turn: %v", err)
	}
	if res.Turn != 0 || res.DecisionDigest == "" {
		t.Fatalf("turn result: %+v", res)
	}

	path, err := snapshot.Latest(filepath.Join(a.runDir, "snapshots"))
	if err != nil || path == "" {
		t.Fatalf("expected a snapshot after the turn, got %q err=%v", path, err)
	}
	h, err := snapshot.ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.RunID != a.camp.RunID() || h.Turn != a.camp.State().Turn {
		t.Fatalf("snapshot header: %+v", h)
	}
}

func TestTurnRejectsGet(t *testing.T) {
	_, srv := newTestApp(t)
	resp, err := http.Get(srv.URL + "/v1/turn")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", resp.StatusCode)
	}
}

func TestMetrics(t *testing.T) {
	a, srv := newTestApp(t)
	if _, err := a.camp.Step(t.Context()); err != nil {
		t.Fatalf("step: %v", err)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	text := string(b)
	for _, want := range []string{
		`bastion_campaign_turn{run="` + a.camp.RunID() + `"} 1`,
		`bastion_campaign_metric{run="` + a.camp.RunID() + `",metric="morale"}`,
		"bastion_threat_score{",
		"bastion_observer_sessions 0",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %q:\n%s", want, text)
		}
	}
}

func TestFinalePreview(t *testing.T) {
	_, srv := newTestApp(t)
	resp, err := http.Get(srv.URL + "/v1/finale/preview")
	if err != nil {
		t.Fatalf("get preview: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		PathID string `json:"path_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || out.PathID == "" {
		t.Fatalf("status=%d out=%+v", resp.StatusCode, out)
	}
}

func TestWriteErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{simerr.ErrTurnInFlight, http.StatusConflict, protocol.ErrCampaignBusy},
		{simerr.ErrCampaignEnded, http.StatusGone, protocol.ErrCampaignEnded},
		{simerr.Invalid("metrics.morale", "out of range"), http.StatusUnprocessableEntity, protocol.ErrValidation},
		{errors.New("boom"), http.StatusInternalServerError, protocol.ErrInternal},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeError(rec, tc.err)
		if rec.Code != tc.status {
			t.Fatalf("%v: status=%d want %d", tc.err, rec.Code, tc.status)
		}
		var msg protocol.ErrorMsg
		if err := json.Unmarshal(rec.Body.Bytes(), &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != protocol.TypeError || msg.Code != tc.code {
			t.Fatalf("%v: msg=%+v", tc.err, msg)
		}
	}
}

func TestLatestRunSnapshotSkipsEndedRuns(t *testing.T) {
	dataDir := t.TempDir()
	write := func(runID string, turn int, ended bool) string {
		t.Helper()
		gs := state.DefaultScenario()
		gs.Turn = turn
		gs.Ended = ended
		path := filepath.Join(dataDir, "runs", runID, "snapshots", snapshot.FileName(turn))
		snap := snapshot.SnapshotV1{
			Header: snapshot.Header{RunID: runID, Turn: turn, Ended: ended},
			State:  *gs,
		}
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			t.Fatalf("write snapshot: %v", err)
		}
		return path
	}

	if got := latestRunSnapshot(dataDir); got != "" {
		t.Fatalf("empty data dir: got %q", got)
	}
	live := write("run-live", 3, false)
	write("run-done", 9, true)
	if got := latestRunSnapshot(dataDir); got != live {
		t.Fatalf("latest=%q want %q", got, live)
	}

	if err := os.RemoveAll(filepath.Join(dataDir, "runs", "run-live")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := latestRunSnapshot(dataDir); got != "" {
		t.Fatalf("only ended runs left: got %q", got)
	}
}
