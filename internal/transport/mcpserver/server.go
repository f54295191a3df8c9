// Package mcpserver exposes a running campaign as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"bastion.ai/internal/sim/catalogs"
	"bastion.ai/internal/sim/finale"
	"bastion.ai/internal/sim/state"
	"bastion.ai/internal/sim/turn"
)

// Campaign is the part of *campaign.Campaign the tools drive.
type Campaign interface {
	RunID() string
	State() state.Snapshot
	Step(ctx context.Context) (turn.Result, error)
	PreviewFinale() (catalogs.FinalPath, finale.Factors, error)
}

type advanceInput struct {
	Turns int `json:"turns,omitempty" jsonschema:"How many turns to run (default 1, max 10). Stops early when the finale plays."`
}

type TurnOutput struct {
	RunID       string   `json:"run_id"`
	Turn        int      `json:"turn"`
	NodeID      string   `json:"node_id"`
	NextNodeID  string   `json:"next_node_id"`
	EventSeed   string   `json:"event_seed"`
	ThreatScore float64  `json:"threat_score"`
	Phase       string   `json:"phase"`
	Narrative   string   `json:"narrative"`
	Actions     []string `json:"actions"`
	Fallbacks   []string `json:"fallbacks,omitempty"`
	FinalPathID string   `json:"final_path_id,omitempty"`
}

type AdvanceOutput struct {
	Turns []TurnOutput `json:"turns"`
	Ended bool         `json:"ended"`
}

type getStateInput struct {
	IncludeHistory bool `json:"include_history,omitempty" jsonschema:"Include the safe-function call history (can be long)"`
}

type previewInput struct{}

type PreviewOutput struct {
	PathID  string         `json:"path_id"`
	Title   string         `json:"title"`
	Tone    string         `json:"tone"`
	Summary string         `json:"summary"`
	Factors finale.Factors `json:"factors"`
}

func NewServer(c Campaign, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "bastion",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "advance_turn",
		Description: "Run the siege forward by one or more turns and report what happened.",
	}, advanceHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_state",
		Description: "Return the current campaign state: metrics, NPCs, structures, stockpiles and markers.",
	}, getStateHandler(c))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "preview_finale",
		Description: "Show which ending the current state would resolve to, without playing it.",
	}, previewHandler(c))

	return server
}

func advanceHandler(c Campaign) func(context.Context, *mcp.CallToolRequest, advanceInput) (*mcp.CallToolResult, AdvanceOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input advanceInput) (*mcp.CallToolResult, AdvanceOutput, error) {
		n := input.Turns
		if n <= 0 {
			n = 1
		}
		if n > 10 {
			n = 10
		}
		out := AdvanceOutput{Turns: []TurnOutput{}}
		for i := 0; i < n; i++ {
			res, err := c.Step(ctx)
			if err != nil {
				if len(out.Turns) == 0 {
					return nil, AdvanceOutput{}, err
				}
				break
			}
			out.Turns = append(out.Turns, turnOutput(c.RunID(), res))
			if res.Finale != nil {
				out.Ended = true
				break
			}
		}
		return jsonResult(out), out, nil
	}
}

func turnOutput(runID string, res turn.Result) TurnOutput {
	o := TurnOutput{
		RunID:       runID,
		Turn:        res.Turn,
		NodeID:      res.CurrentNodeID,
		NextNodeID:  res.NextNodeID,
		EventSeed:   res.EventSeed,
		ThreatScore: res.Threat.Score,
		Phase:       string(res.Threat.Phase),
		Narrative:   res.Rendering.NarrativeBlock,
		Actions:     make([]string, 0, len(res.Executed)),
		Fallbacks:   res.Fallbacks,
	}
	for _, a := range res.Executed {
		o.Actions = append(o.Actions, fmt.Sprintf("%s:%s", a.Function, a.Status))
	}
	if res.Finale != nil {
		o.FinalPathID = res.Finale.Path.ID
	}
	return o
}

func getStateHandler(c Campaign) func(context.Context, *mcp.CallToolRequest, getStateInput) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input getStateInput) (*mcp.CallToolResult, any, error) {
		snap := c.State()
		if !input.IncludeHistory {
			snap.History = nil
		}
		return jsonResult(struct {
			RunID string         `json:"run_id"`
			State state.Snapshot `json:"state"`
		}{c.RunID(), snap}), nil, nil
	}
}

func previewHandler(c Campaign) func(context.Context, *mcp.CallToolRequest, previewInput) (*mcp.CallToolResult, PreviewOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input previewInput) (*mcp.CallToolResult, PreviewOutput, error) {
		path, factors, err := c.PreviewFinale()
		if err != nil {
			return nil, PreviewOutput{}, err
		}
		out := PreviewOutput{
			PathID:  path.ID,
			Title:   path.Title,
			Tone:    path.Tone,
			Summary: path.Summary,
			Factors: factors,
		}
		return jsonResult(out), out, nil
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	b, _ := json.MarshalIndent(v, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(b)},
		},
	}
}
