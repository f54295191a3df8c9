// Package gemini backs the narrative collaborators with a Gemini model.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"bastion.ai/internal/sim/collab"
)

const DefaultModel = "gemini-2.5-flash"

// generator is the single model call the agent needs.
type generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

type clientGenerator struct {
	client *genai.Client
	model  string
}

func (g *clientGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

// Agent implements NarrativeAgent, Planner and Renderer. Every response is
// requested as JSON and decoded strictly; malformed output is an error the
// orchestrator turns into a fallback.
type Agent struct {
	gen generator
}

var (
	_ collab.NarrativeAgent = (*Agent)(nil)
	_ collab.Planner        = (*Agent)(nil)
	_ collab.Renderer       = (*Agent)(nil)
)

func New(ctx context.Context, apiKey, model string) (*Agent, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Agent{gen: &clientGenerator{client: client, model: model}}, nil
}

const (
	intentSystem = `You write the scene framing for a turn of a fortress siege story.
Reply with a JSON object {"scene_intent": string, "player_options": [string]}.
Offer two to four short player options.`

	planSystem = `You are the quartermaster of a besieged fortress. Choose safe functions to call this turn.
Reply with a JSON object {"planned_actions": [{"function": string, "args": object, "explanation": string}]}.
Only use names from available_functions and never exceed max_calls entries.`

	renderSystem = `You narrate a fortress siege turn in vivid but brief prose.
Reply with a JSON object {"narrative_block": string, "npc_dialogues": {npc_id: line}, "atmosphere": string}.`

	finaleSystem = `You write the ending of a fortress siege story. The finale field names the ending, its title, tone and summary.
Reply with a JSON object {"paragraphs": [string, string, string], "extra": object}.
Write exactly three paragraphs in the given tone; the first should echo the summary.`
)

func (a *Agent) GenerateIntent(ctx context.Context, req collab.IntentRequest) (collab.Intent, error) {
	var out collab.Intent
	if err := a.ask(ctx, intentSystem, req, &out); err != nil {
		return collab.Intent{}, err
	}
	if strings.TrimSpace(out.SceneIntent) == "" {
		return collab.Intent{}, fmt.Errorf("gemini: empty scene_intent")
	}
	return out, nil
}

func (a *Agent) PlanActions(ctx context.Context, req collab.PlanRequest) (collab.Plan, error) {
	var out collab.Plan
	if err := a.ask(ctx, planSystem, req, &out); err != nil {
		return collab.Plan{}, err
	}
	allowed := map[string]bool{}
	for _, fn := range req.Functions {
		allowed[fn] = true
	}
	kept := out.Actions[:0]
	for _, act := range out.Actions {
		if len(allowed) > 0 && !allowed[act.Function] {
			continue
		}
		kept = append(kept, act)
	}
	out.Actions = kept
	return out, nil
}

func (a *Agent) Render(ctx context.Context, req collab.RenderRequest) (collab.Rendering, error) {
	system := renderSystem
	if req.Finale != nil {
		system = finaleSystem
	}
	var out collab.Rendering
	if err := a.ask(ctx, system, req, &out); err != nil {
		return collab.Rendering{}, err
	}
	if req.Finale != nil && out.NarrativeBlock == "" {
		out.NarrativeBlock = strings.Join(out.Paragraphs, "\n\n")
	}
	return out, nil
}

func (a *Agent) ask(ctx context.Context, system string, req any, out any) error {
	prompt, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("gemini: encode request: %w", err)
	}
	text, err := a.gen.Generate(ctx, system, string(prompt))
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFence(text)), out); err != nil {
		return fmt.Errorf("gemini: decode response: %w", err)
	}
	return nil
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
