package protocol

import "encoding/json"

// SUBSCRIBE (observer -> server)
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id,omitempty"`
	// SinceTurn asks for buffered turns >= this one before live ones.
	SinceTurn *int `json:"since_turn,omitempty"`
}

// WELCOME (server -> observer)
type WelcomeMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	SessionID       string         `json:"session_id"`
	RunID           string         `json:"run_id"`
	Turn            int            `json:"turn"`
	Catalogs        CatalogDigests `json:"catalogs"`
}

type CatalogDigests struct {
	StoryGraphDigest string `json:"story_graph_digest"`
	FinalPathsDigest string `json:"final_paths_digest"`
	TuningDigest     string `json:"tuning_digest,omitempty"`
}

// TURN (server -> observer)
type TurnMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	RunID           string      `json:"run_id"`
	Summary         TurnSummary `json:"summary"`
	// Result is the full turn result as produced by the engine.
	Result json.RawMessage `json:"result,omitempty"`
}

type TurnSummary struct {
	Turn           int     `json:"turn"`
	CurrentNodeID  string  `json:"current_node_id"`
	NextNodeID     string  `json:"next_node_id"`
	EventSeed      string  `json:"event_seed"`
	ThreatScore    float64 `json:"threat_score"`
	Phase          string  `json:"phase"`
	FinalTrigger   bool    `json:"final_trigger"`
	FinalPathID    string  `json:"final_path_id,omitempty"`
	DecisionDigest string  `json:"decision_digest"`
}

// FINALE (server -> observer), sent once after the TURN that played the
// ending.
type FinaleMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	RunID           string   `json:"run_id"`
	Turn            int      `json:"turn"`
	PathID          string   `json:"path_id"`
	Title           string   `json:"title"`
	Tone            string   `json:"tone"`
	Paragraphs      []string `json:"paragraphs"`
	NarrativeSource string   `json:"narrative_source"`
}

// ERROR (server -> observer)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}
