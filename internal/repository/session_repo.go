package repository

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"formsight/internal/model"
)

// SessionRepo handles MongoDB operations for sessions and their raw
// response rows
type SessionRepo interface {
	ListByType(ctx context.Context, questionnaireID string, subjectType model.SubjectType) ([]*model.StoredSession, error)
	GetByID(ctx context.Context, id string) (*model.StoredSession, error)
	ListResponses(ctx context.Context, sessionIDs []string) ([]*model.RawResponse, error)
}

type sessionRepo struct {
	sessions  *mongo.Collection
	responses *mongo.Collection
}

// NewSessionRepo creates a new session repository with indexes
func NewSessionRepo(db *mongo.Database) SessionRepo {
	repo := &sessionRepo{
		sessions:  db.Collection("sessions"),
		responses: db.Collection("responses"),
	}
	repo.ensureIndexes(context.Background())
	return repo
}

func (r *sessionRepo) ensureIndexes(ctx context.Context) {
	createIndex(ctx, r.sessions, bson.D{
		{Key: "questionnaireId", Value: 1},
		{Key: "subjectType", Value: 1},
		{Key: "completedAt", Value: -1},
	}, false)
	createIndex(ctx, r.responses, bson.D{
		{Key: "sessionId", Value: 1},
		{Key: "questionId", Value: 1},
	}, false)
}

func (r *sessionRepo) ListByType(ctx context.Context, questionnaireID string, subjectType model.SubjectType) ([]*model.StoredSession, error) {
	cursor, err := r.sessions.Find(ctx, bson.M{
		"questionnaireId": questionnaireID,
		"subjectType":     subjectType,
	}, options.Find().SetSort(bson.D{{Key: "completedAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*model.StoredSession
	if err = cursor.All(ctx, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

func (r *sessionRepo) GetByID(ctx context.Context, id string) (*model.StoredSession, error) {
	var session model.StoredSession
	err := r.sessions.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) ListResponses(ctx context.Context, sessionIDs []string) ([]*model.RawResponse, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	cursor, err := r.responses.Find(ctx, bson.M{"sessionId": bson.M{"$in": sessionIDs}})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var responses []*model.RawResponse
	if err = cursor.All(ctx, &responses); err != nil {
		return nil, err
	}
	return responses, nil
}
