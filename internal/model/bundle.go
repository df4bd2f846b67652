package model

// BulkSession links a session to its respondent in a bulk load. User
// bundles carry no subject reference; user sessions stay unresolved until
// the sync path supplies one.
type BulkSession struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subjectId,omitempty"`
	DisplayName string    `json:"displayName,omitempty"`
	CompletedAt *FlexTime `json:"completedAt,omitempty"`
}

// ModelDataBundle is the {models, sessions, responses} shape consumed by a
// model data load.
type ModelDataBundle struct {
	Models    []*ModelProfile `json:"models"`
	Sessions  []*BulkSession  `json:"sessions"`
	Responses []*RawResponse  `json:"responses"`
}

// UserDataBundle is the {sessions, responses} shape consumed by a user
// data load.
type UserDataBundle struct {
	Sessions  []*BulkSession `json:"sessions"`
	Responses []*RawResponse `json:"responses"`
}

// SessionStub is the lightweight record returned by the id-list query,
// used for change detection only.
type SessionStub struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	CompletedAt *FlexTime `json:"completedAt"`
	UpdatedAt   *FlexTime `json:"updatedAt"`
}

// SessionIDList is the id-list query response.
type SessionIDList struct {
	Sessions []SessionStub `json:"sessions"`
}

// SessionInfo is the session header of a detail fetch.
type SessionInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName,omitempty"`
	CompletedAt *FlexTime `json:"completedAt"`
}

// QuestionRef carries just enough of a question to normalize its answer.
type QuestionRef struct {
	ID      string   `json:"id"`
	Options []Option `json:"options,omitempty"`
}

// SessionItem pairs a question with its response; a nil response means the
// question was not answered.
type SessionItem struct {
	Question QuestionRef  `json:"question"`
	Response *RawResponse `json:"response"`
}

// SessionDetail is the full payload of a single-session fetch.
type SessionDetail struct {
	Session SessionInfo   `json:"session"`
	Items   []SessionItem `json:"items"`
}
