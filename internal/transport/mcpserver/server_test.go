package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"bastion.ai/internal/sim/campaign"
	"bastion.ai/internal/sim/tuning"
)

func connect(t *testing.T, c Campaign) *mcp.ClientSession {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	server := NewServer(c, "test")
	go func() { _ = server.Run(ctx, serverTransport) }()

	client := mcp.NewClient(&mcp.Implementation{Name: "client", Version: "v0.0.1"}, nil)
	cctx, ccancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer ccancel()
	session, err := client.Connect(cctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty result")
	}
	tc, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", res.Content[0])
	}
	return tc.Text
}

func TestTools(t *testing.T) {
	c, err := campaign.New(campaign.Config{Tuning: tuning.Defaults()}, nil)
	if err != nil {
		t.Fatalf("campaign: %v", err)
	}
	session := connect(t, c)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tools, err := session.ListTools(ctx, nil)
	if err != nil {
		t.Fatalf("list tools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"advance_turn", "get_state", "preview_finale"} {
		if !names[want] {
			t.Fatalf("missing tool %s in %v", want, names)
		}
	}

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "advance_turn", Arguments: map[string]any{"turns": 2}})
	if err != nil || res.IsError {
		t.Fatalf("advance_turn: err=%v res=%+v", err, res)
	}
	var adv AdvanceOutput
	if err := json.Unmarshal([]byte(text(t, res)), &adv); err != nil {
		t.Fatalf("decode advance: %v", err)
	}
	if len(adv.Turns) == 0 || adv.Turns[0].Turn != 0 || adv.Turns[0].RunID != c.RunID() {
		t.Fatalf("advance output: %+v", adv)
	}
	if got := c.State().Turn; got != len(adv.Turns) {
		t.Fatalf("campaign turn %d after %d turns", got, len(adv.Turns))
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "get_state", Arguments: map[string]any{}})
	if err != nil || res.IsError {
		t.Fatalf("get_state: err=%v res=%+v", err, res)
	}
	var st struct {
		RunID string `json:"run_id"`
		State struct {
			Turn    int   `json:"turn"`
			History []any `json:"safe_function_history"`
		} `json:"state"`
	}
	if err := json.Unmarshal([]byte(text(t, res)), &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if st.RunID != c.RunID() || st.State.Turn != c.State().Turn || st.State.History != nil {
		t.Fatalf("state output: %+v", st)
	}

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "preview_finale", Arguments: map[string]any{}})
	if err != nil || res.IsError {
		t.Fatalf("preview_finale: err=%v res=%+v", err, res)
	}
	var pv PreviewOutput
	if err := json.Unmarshal([]byte(text(t, res)), &pv); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if pv.PathID == "" || pv.Factors.ThreatSource == "" {
		t.Fatalf("preview output: %+v", pv)
	}
}
