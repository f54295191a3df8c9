// Package turn runs one campaign turn end to end.
package turn

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"bastion.ai/internal/sim/director/curve"
	"bastion.ai/internal/sim/director/endgame"
	"bastion.ai/internal/sim/director/storygraph"
	"bastion.ai/internal/sim/director/threat"
	"bastion.ai/internal/sim/simerr"
	"bastion.ai/internal/sim/state"
)

// Director bundles the deterministic decision components.
type Director struct {
	Graph   *storygraph.Graph
	Threat  *threat.Model
	Curve   *curve.Curve
	Endgame *endgame.Detector
}

// Decision is everything a turn decides before any collaborator is asked.
// Identical inputs always produce an identical Decision.
type Decision struct {
	CurrentNodeID string            `json:"current_node_id"`
	NextNodeID    string            `json:"next_node_id"`
	EventSeed     string            `json:"event_seed"`
	Threat        threat.Snapshot   `json:"threat"`
	Directive     endgame.Directive `json:"endgame"`

	current storygraph.Node
	next    storygraph.Node
}

func (d Decision) CurrentNode() storygraph.Node { return d.current }
func (d Decision) NextNode() storygraph.Node    { return d.next }

// Digest is a sha256 over the decision's JSON form.
func (d Decision) Digest() string {
	raw, _ := json.Marshal(d)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Decide scores snap and resolves the story beat. An empty nodeID means the
// graph entry.
func (d *Director) Decide(snap state.Snapshot, nodeID string) (Decision, error) {
	if nodeID == "" {
		nodeID = d.Graph.EntryID()
	}
	current, ok := d.Graph.Node(nodeID)
	if !ok {
		return Decision{}, simerr.Invalid("event_node_id", "unknown node %q", nodeID)
	}
	th, err := d.Threat.Compute(snap)
	if err != nil {
		return Decision{}, err
	}
	next := d.Graph.NextNode(current, snap, th)
	seed, err := d.Curve.NextEvent(&th, snap)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		CurrentNodeID: current.ID,
		NextNodeID:    next.ID,
		EventSeed:     seed,
		Threat:        th,
		Directive:     d.Endgame.Check(snap, th, &current),
		current:       current,
		next:          next,
	}, nil
}
