package models

import "encoding/json"

// Operator names supported by condition leaves.
const (
	OpEquals      = "eq"
	OpNotEquals   = "neq"
	OpGreaterThan = "gt"
	OpLessThan    = "lt"
	OpGreaterEq   = "gte"
	OpLessEq      = "lte"
	OpContains    = "contains"
	OpNotContains = "not_contains"
	OpIn          = "in"
	OpNotIn       = "not_in"
	OpExists      = "exists"
	OpNotExists   = "not_exists"
)

// Condition is a recursive condition tree: either a branch (All = AND,
// Any = OR) or a single leaf {Field, Operator, Value}. A nil *Condition
// and an empty tree both match everything.
//
// Wire format mirrors the rule editor's JSON:
//
//	{"all": [ ... ]}
//	{"any": [ ... ]}
//	{"field": "contact.intent_score", "operator": "gt", "value": 70}
type Condition struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`

	Field    string `json:"field,omitempty"`
	Operator string `json:"operator,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// IsLeaf reports whether c carries a leaf comparison rather than a branch.
// Branch keys win when a malformed tree carries both.
func (c *Condition) IsLeaf() bool {
	return len(c.All) == 0 && len(c.Any) == 0 && c.Field != ""
}

// IsEmpty reports whether c constrains nothing.
func (c *Condition) IsEmpty() bool {
	return c == nil || (len(c.All) == 0 && len(c.Any) == 0 && c.Field == "")
}

// UnmarshalJSON accepts leaves, branches, and JSON null.
func (c *Condition) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	type alias Condition
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*c = Condition(a)
	return nil
}

// ConditionMatch is the audit snapshot of one matched leaf: what was
// compared, against what, and the actual value seen at evaluation time.
type ConditionMatch struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value,omitempty"`
	Actual   any    `json:"actual,omitempty"`
}
