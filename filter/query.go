package filter

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/enfyra/app/apperr"
)

// Query is the wire form of a filter.
type Query = map[string]any

// BuildQuery converts g into the nested operator object. Incomplete
// conditions are skipped. A group with a single member collapses to that
// member; otherwise members are joined under _and or _or.
func BuildQuery(g *Group) Query {
	if g == nil {
		return Query{}
	}
	q := buildGroup(g, "")
	if q == nil {
		return Query{}
	}
	return q
}

func buildGroup(g *Group, relation string) Query {
	if g.RelationContext != "" {
		relation = g.RelationContext
	}
	parts := make([]any, 0, len(g.Conditions))
	for _, n := range g.Conditions {
		var q Query
		switch v := n.(type) {
		case *Condition:
			q = buildCondition(v, relation)
		case *Group:
			q = buildGroup(v, relation)
		}
		if q != nil {
			parts = append(parts, q)
		}
	}
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0].(Query)
	}
	return Query{g.Operator.key(): parts}
}

func buildCondition(c *Condition, relation string) Query {
	if !complete(c) {
		return nil
	}
	path := c.Field
	if relation != "" {
		path = relation + "." + c.Field
	}
	value := c.Value
	if c.Operator == OpIsNull {
		b, ok := c.Value.(bool)
		value = !ok || b
	}
	q := Query{string(c.Operator): value}
	segments := strings.Split(path, ".")
	for i := len(segments) - 1; i >= 0; i-- {
		q = Query{segments[i]: q}
	}
	return q
}

// complete reports whether c has everything needed to become a filter.
func complete(c *Condition) bool {
	if c == nil || strings.TrimSpace(c.Field) == "" || !c.Operator.Valid() {
		return false
	}
	if c.Operator == OpIsNull {
		return true
	}
	if c.Value == nil {
		return false
	}
	if s, ok := c.Value.(string); ok && s == "" {
		return false
	}
	if c.Operator.takesList() {
		list, ok := asList(c.Value)
		if !ok || len(list) == 0 {
			return false
		}
		if c.Operator == OpBetween && len(list) != 2 {
			return false
		}
	}
	return true
}

// Validate checks operators and value shapes, reporting the first problem
// as a 400 error.
func Validate(g *Group) error {
	return validateGroup(g, "filter")
}

func validateGroup(g *Group, path string) error {
	if g == nil {
		return apperr.BadRequest("%s: group is required", path)
	}
	if g.Operator != And && g.Operator != Or {
		return apperr.BadRequest("%s: unknown group operator %q", path, g.Operator)
	}
	for i, n := range g.Conditions {
		at := fmt.Sprintf("%s.conditions[%d]", path, i)
		switch v := n.(type) {
		case *Group:
			if err := validateGroup(v, at); err != nil {
				return err
			}
		case *Condition:
			if err := validateCondition(v, at); err != nil {
				return err
			}
		default:
			return apperr.BadRequest("%s: empty member", at)
		}
	}
	return nil
}

func validateCondition(c *Condition, at string) error {
	if c == nil {
		return apperr.BadRequest("%s: empty member", at)
	}
	if strings.TrimSpace(c.Field) == "" {
		return apperr.BadRequest("%s: field is required", at)
	}
	if !c.Operator.Valid() {
		return apperr.BadRequest("%s: unknown operator %q", at, c.Operator)
	}
	switch {
	case c.Operator == OpIsNull:
		if c.Value != nil {
			if _, ok := c.Value.(bool); !ok {
				return apperr.BadRequest("%s: _is_null takes no comparison value", at)
			}
		}
	case c.Operator.takesList():
		list, ok := asList(c.Value)
		if !ok {
			return apperr.BadRequest("%s: %s requires an array value", at, c.Operator)
		}
		if c.Operator == OpBetween && len(list) != 2 {
			return apperr.BadRequest("%s: _between requires exactly two values", at)
		}
	}
	return nil
}

// EncodeToURL serializes g for use in a query string.
func EncodeToURL(g *Group) (string, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// ParseFromURL reverses EncodeToURL. Padded and standard alphabets are
// accepted as well.
func ParseFromURL(s string) (*Group, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, apperr.BadRequest("empty filter")
	}
	var data []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.RawURLEncoding, base64.URLEncoding, base64.StdEncoding, base64.RawStdEncoding} {
		if data, err = enc.DecodeString(s); err == nil {
			break
		}
	}
	if err != nil {
		return nil, apperr.BadRequest("filter is not base64: %v", err)
	}
	g := new(Group)
	if err := json.Unmarshal(data, g); err != nil {
		return nil, apperr.BadRequest("filter is not a valid group: %v", err)
	}
	return g, nil
}
