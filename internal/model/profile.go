package model

// ModelProfile identifies one simulated respondent. Profiles are created
// upstream; the cache only indexes them.
type ModelProfile struct {
	ID              string            `json:"id" bson:"_id"`
	QuestionnaireID string            `json:"questionnaireId,omitempty" bson:"questionnaireId,omitempty"`
	DisplayName     string            `json:"displayName" bson:"displayName"`
	SubjectKind     string            `json:"subjectKind" bson:"subjectKind"` // Open tag, "llm" in practice
	Metadata        map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}
