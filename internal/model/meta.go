package model

// QuestionnaireMeta describes the questionnaire content a store holds.
type QuestionnaireMeta struct {
	ID        string `json:"id" bson:"_id"`
	Slug      string `json:"slug" bson:"slug"`
	Title     string `json:"title" bson:"title"`
	Version   int    `json:"version" bson:"version"`
	VersionID string `json:"versionId" bson:"versionId"`
}

// CacheMeta tracks freshness bookkeeping for one questionnaire cache.
// Exactly one instance per store; replaced wholesale on invalidation. A
// zero ModelsFetchedAt means model data was never fetched.
type CacheMeta struct {
	QuestionnaireID           string    `json:"questionnaireId"`
	Version                   int       `json:"version"`
	VersionID                 string    `json:"versionId"`
	LastAccessedAt            FlexTime  `json:"lastAccessedAt"`
	ModelsFetchedAt           FlexTime  `json:"modelsFetchedAt"`
	UserSessionsLastCheckedAt *FlexTime `json:"userSessionsLastCheckedAt"`
}
