package storygraph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type Transition struct {
	Label  string
	Target string
}

// Transitions keeps the source order of a node's "next" object.
type Transitions []Transition

func (ts Transitions) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, t := range ts {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(t.Label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(t.Target)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (ts *Transitions) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*ts = nil
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("next: expected object")
	}
	out := Transitions{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		label, ok := tok.(string)
		if !ok {
			return fmt.Errorf("next: expected label")
		}
		var target string
		if err := dec.Decode(&target); err != nil {
			return fmt.Errorf("next.%s: %w", label, err)
		}
		out = append(out, Transition{Label: label, Target: target})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*ts = out
	return nil
}

// Node is one narrative beat.
type Node struct {
	ID          string      `json:"id"`
	Description string      `json:"description"`
	Tags        []string    `json:"tags"`
	Next        Transitions `json:"next"`
	Final       bool        `json:"is_final"`
}

func (n Node) HasTag(tag string) bool {
	for _, t := range n.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// Terminal nodes are absorbing: flagged final, or nowhere to go.
func (n Node) Terminal() bool {
	return n.Final || len(n.Next) == 0
}

// Targets returns the distinct transition targets in first-occurrence order.
func (n Node) Targets() []string {
	seen := make(map[string]bool, len(n.Next))
	out := make([]string, 0, len(n.Next))
	for _, t := range n.Next {
		if seen[t.Target] {
			continue
		}
		seen[t.Target] = true
		out = append(out, t.Target)
	}
	return out
}

// Target looks up a transition by label.
func (n Node) Target(label string) (string, bool) {
	for _, t := range n.Next {
		if t.Label == label {
			return t.Target, true
		}
	}
	return "", false
}
