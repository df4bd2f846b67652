package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"formsight/internal/model"
)

func strPtr(s string) *string   { return &s }
func numPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool      { return &b }

func TestNormalizeResponseKinds(t *testing.T) {
	options := map[string]string{"o1": "yes", "o2": "no"}

	tests := []struct {
		name string
		raw  *model.RawResponse
		opts map[string]string
		want any
	}{
		{
			name: "option resolves through lookup",
			raw:  &model.RawResponse{QuestionID: "q1", ValueType: model.ValueKindOption, SelectedOptionID: strPtr("o1")},
			opts: options,
			want: "yes",
		},
		{
			name: "option with unknown id degrades to null",
			raw:  &model.RawResponse{QuestionID: "q1", ValueType: model.ValueKindOption, SelectedOptionID: strPtr("o9")},
			opts: options,
			want: nil,
		},
		{
			name: "option without selection is null",
			raw:  &model.RawResponse{QuestionID: "q1", ValueType: model.ValueKindOption},
			opts: options,
			want: nil,
		},
		{
			name: "multi choice passes through",
			raw:  &model.RawResponse{QuestionID: "q2", ValueType: model.ValueKindMultiChoice, RawPayloadJSON: strPtr(`["a","b"]`)},
			want: []string{"a", "b"},
		},
		{
			name: "empty multi choice is a non-null answer",
			raw:  &model.RawResponse{QuestionID: "q2", ValueType: model.ValueKindMultiChoice, RawPayloadJSON: strPtr(`[]`)},
			want: []string{},
		},
		{
			name: "malformed multi choice payload is null",
			raw:  &model.RawResponse{QuestionID: "q2", ValueType: model.ValueKindMultiChoice, RawPayloadJSON: strPtr(`{"not":"a list"}`)},
			want: nil,
		},
		{
			name: "numeric",
			raw:  &model.RawResponse{QuestionID: "q3", ValueType: model.ValueKindNumeric, ValueNumeric: numPtr(7)},
			want: float64(7),
		},
		{
			name: "numeric without value is null",
			raw:  &model.RawResponse{QuestionID: "q3", ValueType: model.ValueKindNumeric},
			want: nil,
		},
		{
			name: "boolean",
			raw:  &model.RawResponse{QuestionID: "q4", ValueType: model.ValueKindBoolean, ValueBoolean: boolPtr(true)},
			want: true,
		},
		{
			name: "text",
			raw:  &model.RawResponse{QuestionID: "q5", ValueType: model.ValueKindText, ValueText: strPtr("fine")},
			want: "fine",
		},
		{
			name: "unknown kind is null",
			raw:  &model.RawResponse{QuestionID: "q6", ValueType: "matrix"},
			want: nil,
		},
		{
			name: "missing kind is null",
			raw:  &model.RawResponse{QuestionID: "q7"},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeResponse(tt.raw, tt.opts)
			require.NotNil(t, got)
			assert.Equal(t, tt.raw.QuestionID, got.QuestionID)
			assert.Equal(t, tt.want, got.Value())
			if tt.want == nil {
				assert.True(t, got.IsNull())
			}
		})
	}
}

func TestNormalizeResponseNilInput(t *testing.T) {
	got := NormalizeResponse(nil, nil)
	require.NotNil(t, got)
	assert.True(t, got.IsNull())
}

// The wrong typed column for the declared kind must not leak through.
func TestNormalizeResponseIgnoresMismatchedColumns(t *testing.T) {
	raw := &model.RawResponse{
		QuestionID:   "q1",
		ValueType:    model.ValueKindNumeric,
		ValueText:    strPtr("not a number"),
		ValueBoolean: boolPtr(true),
	}
	got := NormalizeResponse(raw, nil)
	assert.True(t, got.IsNull())
}
