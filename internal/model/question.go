package model

// QuestionType defines how a question is answered
type QuestionType string

const (
	QuestionTypeSingleChoice QuestionType = "single_choice"
	QuestionTypeMultiChoice  QuestionType = "multi_choice"
	QuestionTypeScalar       QuestionType = "scalar" // Rating/slider
	QuestionTypeBoolean      QuestionType = "boolean"
	QuestionTypeFreeText     QuestionType = "free_text"
)

// Option is one selectable answer of a choice question
type Option struct {
	ID       string `json:"id" bson:"id"`
	Label    string `json:"label" bson:"label"`
	Value    string `json:"value" bson:"value"`
	Position int    `json:"position" bson:"position"`
}

// Question is questionnaire content as loaded into a store. Immutable for
// the store's lifetime; a content load replaces the whole question map.
type Question struct {
	ID              string         `json:"id" bson:"_id"`
	QuestionnaireID string         `json:"questionnaireId,omitempty" bson:"questionnaireId,omitempty"`
	Code            string         `json:"code" bson:"code"` // e.g., "Q1", "Q2"
	Prompt          string         `json:"prompt" bson:"prompt"`
	Type            QuestionType   `json:"type" bson:"type"`
	Config          map[string]any `json:"config,omitempty" bson:"config,omitempty"` // Type-specific settings (scale bounds, max selections, ...)
	Section         string         `json:"section,omitempty" bson:"section,omitempty"`
	Position        int            `json:"position" bson:"position"` // Ordering within and across sections
	Options         []Option       `json:"options,omitempty" bson:"options,omitempty"`
}

// OptionValues returns the option-id to option-value lookup used when
// normalizing single-choice answers.
func (q *Question) OptionValues() map[string]string {
	if q == nil || len(q.Options) == 0 {
		return nil
	}
	out := make(map[string]string, len(q.Options))
	for _, opt := range q.Options {
		out[opt.ID] = opt.Value
	}
	return out
}
