// Package audit defines the shape of decision audit entries. The changes
// payload is heterogeneous on the wire: a field maps either to a plain value
// or to a {from, to} pair, and consumers must tolerate both.
package audit

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	ActionCreated         = "created"
	ActionEdited          = "edited"
	ActionStatusChanged   = "status_changed"
	ActionDeleted         = "deleted"
	ActionReviewSubmitted = "review_submitted"
	ActionCommented       = "commented"
)

// Value is one recorded change: either a scalar or a from/to transition.
type Value struct {
	Scalar     any
	From       any
	To         any
	Transition bool
}

func Scalar(v any) Value {
	return Value{Scalar: v}
}

func Transition(from, to any) Value {
	return Value{From: from, To: to, Transition: true}
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.Transition {
		return json.Marshal(map[string]any{"from": v.From, "to": v.To})
	}
	return json.Marshal(v.Scalar)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var pair struct {
		From *json.RawMessage `json:"from"`
		To   *json.RawMessage `json:"to"`
	}
	if err := json.Unmarshal(data, &pair); err == nil && pair.From != nil && pair.To != nil {
		var from, to any
		if err := json.Unmarshal(*pair.From, &from); err != nil {
			return err
		}
		if err := json.Unmarshal(*pair.To, &to); err != nil {
			return err
		}
		*v = Transition(from, to)
		return nil
	}
	var scalar any
	if err := json.Unmarshal(data, &scalar); err != nil {
		return err
	}
	*v = Scalar(scalar)
	return nil
}

// ChangeSet maps field names to recorded changes.
type ChangeSet map[string]Value

// Summary renders a human-readable line, e.g. `status: draft → review; title: Kickoff`.
func (c ChangeSet) Summary() string {
	if len(c) == 0 {
		return ""
	}
	keys := make([]string, 0, len(c))
	for key := range c {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := c[key]
		if value.Transition {
			parts = append(parts, fmt.Sprintf("%s: %v → %v", key, value.From, value.To))
		} else {
			parts = append(parts, fmt.Sprintf("%s: %v", key, value.Scalar))
		}
	}
	return strings.Join(parts, "; ")
}
