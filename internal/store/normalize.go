package store

import (
	"encoding/json"

	"formsight/internal/model"
)

// NormalizeResponse flattens a raw multi-column answer row into its single
// canonical value. It is total: malformed rows degrade to a null value,
// they never abort the surrounding load.
func NormalizeResponse(raw *model.RawResponse, optionValues map[string]string) *model.ProcessedResponse {
	out := &model.ProcessedResponse{}
	if raw == nil {
		return out
	}
	out.QuestionID = raw.QuestionID
	out.Kind = raw.ValueType

	switch raw.ValueType {
	case model.ValueKindOption:
		if raw.SelectedOptionID == nil {
			return out
		}
		value, ok := optionValues[*raw.SelectedOptionID]
		if !ok {
			return out
		}
		out.Text = &value

	case model.ValueKindMultiChoice:
		if raw.RawPayloadJSON == nil {
			return out
		}
		// The payload is expected to already be a string array. An empty
		// array is a valid, non-null answer.
		var list []string
		if err := json.Unmarshal([]byte(*raw.RawPayloadJSON), &list); err != nil || list == nil {
			return out
		}
		out.List = list

	case model.ValueKindNumeric:
		if raw.ValueNumeric != nil {
			v := *raw.ValueNumeric
			out.Number = &v
		}

	case model.ValueKindBoolean:
		if raw.ValueBoolean != nil {
			v := *raw.ValueBoolean
			out.Bool = &v
		}

	case model.ValueKindText:
		if raw.ValueText != nil {
			v := *raw.ValueText
			out.Text = &v
		}
	}

	return out
}
