package model

import "sort"

// ValueKind tags how a raw response cell encodes its value
type ValueKind string

const (
	ValueKindOption      ValueKind = "option"
	ValueKindMultiChoice ValueKind = "multi_choice"
	ValueKindNumeric     ValueKind = "numeric"
	ValueKindBoolean     ValueKind = "boolean"
	ValueKindText        ValueKind = "text"
)

// RawResponse is one answer row as materialized upstream: a value-kind tag
// plus mutually exclusive typed columns, of which at most one is populated.
type RawResponse struct {
	SessionID        string    `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
	QuestionID       string    `json:"questionId,omitempty" bson:"questionId,omitempty"`
	ValueType        ValueKind `json:"valueType" bson:"valueType"`
	ValueNumeric     *float64  `json:"valueNumeric,omitempty" bson:"valueNumeric,omitempty"`
	ValueBoolean     *bool     `json:"valueBoolean,omitempty" bson:"valueBoolean,omitempty"`
	ValueText        *string   `json:"valueText,omitempty" bson:"valueText,omitempty"`
	SelectedOptionID *string   `json:"selectedOptionId,omitempty" bson:"selectedOptionId,omitempty"`
	RawPayloadJSON   *string   `json:"rawPayloadJson,omitempty" bson:"rawPayloadJson,omitempty"`
}

// ProcessedResponse is a normalized answer. At most one of the value fields
// is set; all nil means the answer degraded to null. List is kept non-nil
// for multi-choice answers so an empty selection stays distinct from null.
type ProcessedResponse struct {
	QuestionID string    `json:"questionId"`
	Kind       ValueKind `json:"kind"`
	Text       *string   `json:"text,omitempty"`
	Number     *float64  `json:"number,omitempty"`
	Bool       *bool     `json:"bool,omitempty"`
	List       []string  `json:"list"`
}

// Value returns the canonical form: string, float64, bool, []string or nil.
func (r *ProcessedResponse) Value() any {
	switch {
	case r == nil:
		return nil
	case r.Text != nil:
		return *r.Text
	case r.Number != nil:
		return *r.Number
	case r.Bool != nil:
		return *r.Bool
	case r.List != nil:
		return r.List
	}
	return nil
}

// IsNull reports whether the answer degraded to null.
func (r *ProcessedResponse) IsNull() bool {
	return r == nil || (r.Text == nil && r.Number == nil && r.Bool == nil && r.List == nil)
}

// EqualValue reports whether two normalized answers carry the same value.
// Multi-choice lists compare as sets.
func (r *ProcessedResponse) EqualValue(other *ProcessedResponse) bool {
	if r.IsNull() || other.IsNull() {
		return r.IsNull() && other.IsNull()
	}
	switch {
	case r.Text != nil:
		return other.Text != nil && *r.Text == *other.Text
	case r.Number != nil:
		return other.Number != nil && *r.Number == *other.Number
	case r.Bool != nil:
		return other.Bool != nil && *r.Bool == *other.Bool
	case r.List != nil:
		if other.List == nil || len(r.List) != len(other.List) {
			return false
		}
		a := append([]string(nil), r.List...)
		b := append([]string(nil), other.List...)
		sort.Strings(a)
		sort.Strings(b)
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
		return true
	}
	return false
}
