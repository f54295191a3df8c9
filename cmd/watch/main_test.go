package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"bastion.ai/internal/protocol"
)

func encode(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestHandle(t *testing.T) {
	cases := []struct {
		name string
		msg  any
		want string
		done bool
		err  bool
	}{
		{
			name: "welcome",
			msg:  protocol.WelcomeMsg{Type: protocol.TypeWelcome, SessionID: "O1", RunID: "run-1", Turn: 4},
			want: "WELCOME session=O1 run=run-1 turn=4",
		},
		{
			name: "turn",
			msg: protocol.TurnMsg{Type: protocol.TypeTurn, Summary: protocol.TurnSummary{
				Turn: 4, CurrentNodeID: "a", NextNodeID: "b", EventSeed: "raid", ThreatScore: 62.5, Phase: "peak",
			}},
			want: "TURN 4 a -> b event=raid threat=62.5 (peak)",
		},
		{
			name: "finale",
			msg: protocol.FinaleMsg{Type: protocol.TypeFinale, PathID: "collapse_failure", Title: "Ash",
				Tone: "grim", NarrativeSource: "renderer", Paragraphs: []string{"one"}},
			want: "FINALE collapse_failure: Ash (grim, renderer)\n  one",
		},
		{
			name: "error",
			msg:  protocol.ErrorMsg{Type: protocol.TypeError, Code: protocol.ErrProtoBadRequest, Message: "bad"},
			done: true,
			err:  true,
		},
		{
			name: "unknown",
			msg:  map[string]string{"type": "NOPE"},
			err:  true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			done, err := handle(&buf, encode(t, tc.msg), false)
			if done != tc.done || (err != nil) != tc.err {
				t.Fatalf("done=%v err=%v", done, err)
			}
			if tc.want != "" && !strings.Contains(buf.String(), tc.want) {
				t.Fatalf("output %q does not contain %q", buf.String(), tc.want)
			}
		})
	}
}
