// Package filter models the admin panel's filter builder and produces the
// nested operator objects the data API accepts.
package filter

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Operator is a comparison understood by the data API.
type Operator string

const (
	OpEq         Operator = "_eq"
	OpNeq        Operator = "_neq"
	OpGt         Operator = "_gt"
	OpGte        Operator = "_gte"
	OpLt         Operator = "_lt"
	OpLte        Operator = "_lte"
	OpContains   Operator = "_contains"
	OpStartsWith Operator = "_starts_with"
	OpEndsWith   Operator = "_ends_with"
	OpIsNull     Operator = "_is_null"
	OpIn         Operator = "_in"
	OpNotIn      Operator = "_not_in"
	OpBetween    Operator = "_between"
)

// Operators lists every supported comparison.
var Operators = []Operator{
	OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte,
	OpContains, OpStartsWith, OpEndsWith,
	OpIsNull, OpIn, OpNotIn, OpBetween,
}

// Valid reports whether op is a known comparison.
func (op Operator) Valid() bool {
	for _, known := range Operators {
		if op == known {
			return true
		}
	}
	return false
}

// takesList reports whether op compares against an array value.
func (op Operator) takesList() bool {
	return op == OpIn || op == OpNotIn || op == OpBetween
}

// Logic joins the members of a Group.
type Logic string

const (
	And Logic = "and"
	Or  Logic = "or"
)

func (l Logic) key() string {
	if l == Or {
		return "_or"
	}
	return "_and"
}

// Node is a Condition or a nested Group.
type Node interface {
	node()
}

// Condition compares one field.
type Condition struct {
	ID       string   `json:"id"`
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
	Type     string   `json:"type,omitempty"`
}

func (*Condition) node() {}

// Group combines conditions and sub-groups. RelationContext is a dotted
// relation path that member fields are resolved against.
type Group struct {
	ID              string `json:"id"`
	Operator        Logic  `json:"operator"`
	Conditions      []Node `json:"conditions"`
	RelationContext string `json:"relationContext,omitempty"`
}

func (*Group) node() {}

// NewGroup creates a group with a fresh id.
func NewGroup(op Logic, nodes ...Node) *Group {
	if nodes == nil {
		nodes = []Node{}
	}
	return &Group{ID: uuid.NewString(), Operator: op, Conditions: nodes}
}

// NewCondition creates a condition with a fresh id.
func NewCondition(field string, op Operator, value any) *Condition {
	return &Condition{ID: uuid.NewString(), Field: field, Operator: op, Value: value}
}

// UnmarshalJSON decodes members as groups when they carry a conditions
// list and as conditions otherwise.
func (g *Group) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID              string            `json:"id"`
		Operator        Logic             `json:"operator"`
		Conditions      []json.RawMessage `json:"conditions"`
		RelationContext string            `json:"relationContext"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*g = Group{ID: raw.ID, Operator: raw.Operator, RelationContext: raw.RelationContext}
	g.Conditions = make([]Node, 0, len(raw.Conditions))
	for i, item := range raw.Conditions {
		var member struct {
			Conditions json.RawMessage `json:"conditions"`
		}
		if err := json.Unmarshal(item, &member); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
		if len(member.Conditions) > 0 && !bytes.Equal(member.Conditions, []byte("null")) {
			sub := new(Group)
			if err := json.Unmarshal(item, sub); err != nil {
				return fmt.Errorf("conditions[%d]: %w", i, err)
			}
			g.Conditions = append(g.Conditions, sub)
			continue
		}
		c := new(Condition)
		if err := json.Unmarshal(item, c); err != nil {
			return fmt.Errorf("conditions[%d]: %w", i, err)
		}
		g.Conditions = append(g.Conditions, c)
	}
	return nil
}

// HasActive reports whether the group holds at least one usable condition.
func (g *Group) HasActive() bool {
	if g == nil {
		return false
	}
	for _, n := range g.Conditions {
		switch v := n.(type) {
		case *Condition:
			if complete(v) {
				return true
			}
		case *Group:
			if v.HasActive() {
				return true
			}
		}
	}
	return false
}
