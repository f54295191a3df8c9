package observer

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bastion.ai/internal/protocol"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/finale"
	"bastion.ai/internal/sim/turn"
)

func dial(t *testing.T, srv *httptest.Server, sub protocol.SubscribeMsg) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(v); err != nil {
		t.Fatalf("read: %v", err)
	}
}

func waitSessions(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Sessions() == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("sessions=%d want %d", s.Sessions(), n)
}

func newTestServer() (*Server, *httptest.Server) {
	s := NewServer(func() Info {
		return Info{RunID: "run-1", Turn: 3, Catalogs: protocol.CatalogDigests{StoryGraphDigest: "sg", FinalPathsDigest: "fp"}}
	}, nil)
	return s, httptest.NewServer(s.WSHandler())
}

func trace(n int) turn.Trace {
	return turn.Trace{
		RunID:          "run-1",
		Turn:           n,
		DecisionDigest: "d",
		Decision: turn.Decision{
			CurrentNodeID: "first_smoke",
			NextNodeID:    "muster_the_walls",
			EventSeed:     "quiet_watch",
			Threat:        threat.Snapshot{Score: 21, Phase: threat.PhaseCalm},
		},
	}
}

func TestSubscribeWelcomeAndTurns(t *testing.T) {
	s, srv := newTestServer()
	defer srv.Close()

	conn := dial(t, srv, protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version})
	defer conn.Close()

	var w protocol.WelcomeMsg
	read(t, conn, &w)
	if w.Type != protocol.TypeWelcome || w.RunID != "run-1" || w.Turn != 3 || w.SessionID == "" {
		t.Fatalf("welcome: %+v", w)
	}
	waitSessions(t, s, 1)

	if err := s.WriteTrace(context.Background(), trace(3)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var m protocol.TurnMsg
	read(t, conn, &m)
	if m.Type != protocol.TypeTurn || m.Summary.Turn != 3 || m.Summary.Phase != "calm" || m.Summary.NextNodeID != "muster_the_walls" {
		t.Fatalf("turn msg: %+v", m)
	}
	var full turn.Trace
	if err := json.Unmarshal(m.Result, &full); err != nil || full.Decision.EventSeed != "quiet_watch" {
		t.Fatalf("embedded result: %v %+v", err, full.Decision)
	}
}

func TestFinaleFollowsTurn(t *testing.T) {
	s, srv := newTestServer()
	defer srv.Close()

	conn := dial(t, srv, protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version})
	defer conn.Close()
	var w protocol.WelcomeMsg
	read(t, conn, &w)
	waitSessions(t, s, 1)

	tr := trace(12)
	tr.Finale = &finale.Result{
		Path:            finale.PathInfo{ID: "victory_defense", Title: "The Walls Held"},
		Narrative:       finale.Narrative{Title: "The Walls Held", Tone: "triumphant", Paragraphs: []string{"a", "b", "c"}},
		NarrativeSource: "fallback",
	}
	if err := s.WriteTrace(context.Background(), tr); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var m protocol.TurnMsg
	read(t, conn, &m)
	if m.Type != protocol.TypeTurn || m.Summary.FinalPathID != "victory_defense" {
		t.Fatalf("turn msg: %+v", m.Summary)
	}
	var f protocol.FinaleMsg
	read(t, conn, &f)
	if f.Type != protocol.TypeFinale || f.Turn != 12 || f.PathID != "victory_defense" || len(f.Paragraphs) != 3 || f.NarrativeSource != "fallback" {
		t.Fatalf("finale msg: %+v", f)
	}
}

func TestSinceTurnReplaysBacklog(t *testing.T) {
	s, srv := newTestServer()
	defer srv.Close()

	for i := 0; i < 4; i++ {
		if err := s.WriteTrace(context.Background(), trace(i)); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	since := 2
	conn := dial(t, srv, protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, SinceTurn: &since})
	defer conn.Close()

	var w protocol.WelcomeMsg
	read(t, conn, &w)
	for _, want := range []int{2, 3} {
		var m protocol.TurnMsg
		read(t, conn, &m)
		if m.Summary.Turn != want {
			t.Fatalf("backlog turn %d want %d", m.Summary.Turn, want)
		}
	}
}

func TestRejectsBadHandshake(t *testing.T) {
	s, srv := newTestServer()
	defer srv.Close()

	conn := dial(t, srv, protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: "0.0"})
	defer conn.Close()

	var e protocol.ErrorMsg
	read(t, conn, &e)
	if e.Type != protocol.TypeError || e.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("error msg: %+v", e)
	}
	if s.Sessions() != 0 {
		t.Fatalf("rejected observer registered")
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.4:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("%s: got %v want %v", addr, got, want)
		}
	}
}
