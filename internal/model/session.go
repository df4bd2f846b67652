package model

import (
	"time"

	"formsight/internal/collection"
)

// SubjectType discriminates which session collection a record belongs to.
// Model sessions and user sessions are disjoint by construction.
type SubjectType string

const (
	SubjectModel SubjectType = "model"
	SubjectUser  SubjectType = "user"
)

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

// SessionResponses aggregates one respondent's normalized answers. Every
// entry in Responses is keyed by its own QuestionID. A nil SubjectID means
// the session has not been resolved to a respondent yet.
type SessionResponses struct {
	SessionID   string                                     `json:"sessionId"`
	SubjectID   *string                                    `json:"subjectId"`
	SubjectType SubjectType                                `json:"subjectType"`
	DisplayName string                                     `json:"displayName,omitempty"`
	CompletedAt *FlexTime                                  `json:"completedAt"`
	Responses   *collection.OrderedMap[*ProcessedResponse] `json:"responses"`
}

// StoredSession is the canonical session record as persisted upstream. The
// cache consumes it only through bulk bundles and the query collaborator.
type StoredSession struct {
	ID              string        `json:"id" bson:"_id"`
	QuestionnaireID string        `json:"questionnaireId" bson:"questionnaireId"`
	SubjectType     SubjectType   `json:"subjectType" bson:"subjectType"`
	SubjectID       string        `json:"subjectId,omitempty" bson:"subjectId,omitempty"`
	DisplayName     string        `json:"displayName,omitempty" bson:"displayName,omitempty"`
	Status          SessionStatus `json:"status" bson:"status"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt" bson:"updatedAt"`
}
