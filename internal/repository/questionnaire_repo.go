package repository

import (
	"context"
	"log"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"formsight/internal/model"
)

// QuestionnaireRepo handles MongoDB operations for questionnaire content
type QuestionnaireRepo interface {
	GetBySlug(ctx context.Context, slug string) (*model.QuestionnaireMeta, error)
	GetByID(ctx context.Context, id string) (*model.QuestionnaireMeta, error)
	GetQuestions(ctx context.Context, questionnaireID string) ([]*model.Question, error)
}

type questionnaireRepo struct {
	questionnaires *mongo.Collection
	questions      *mongo.Collection
}

// NewQuestionnaireRepo creates a new questionnaire repository with indexes
func NewQuestionnaireRepo(db *mongo.Database) QuestionnaireRepo {
	repo := &questionnaireRepo{
		questionnaires: db.Collection("questionnaires"),
		questions:      db.Collection("questions"),
	}
	repo.ensureIndexes(context.Background())
	return repo
}

func (r *questionnaireRepo) ensureIndexes(ctx context.Context) {
	createIndex(ctx, r.questionnaires, bson.D{{Key: "slug", Value: 1}}, true)
	createIndex(ctx, r.questions, bson.D{
		{Key: "questionnaireId", Value: 1},
		{Key: "position", Value: 1},
	}, false)
}

func (r *questionnaireRepo) GetBySlug(ctx context.Context, slug string) (*model.QuestionnaireMeta, error) {
	var meta model.QuestionnaireMeta
	err := r.questionnaires.FindOne(ctx, bson.M{"slug": slug}).Decode(&meta)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *questionnaireRepo) GetByID(ctx context.Context, id string) (*model.QuestionnaireMeta, error) {
	var meta model.QuestionnaireMeta
	err := r.questionnaires.FindOne(ctx, bson.M{"_id": id}).Decode(&meta)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func (r *questionnaireRepo) GetQuestions(ctx context.Context, questionnaireID string) ([]*model.Question, error) {
	cursor, err := r.questions.Find(ctx, bson.M{"questionnaireId": questionnaireID},
		options.Find().SetSort(bson.D{{Key: "position", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var questions []*model.Question
	if err = cursor.All(ctx, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// createIndex builds one index, logging instead of failing: a missing
// index degrades performance, not correctness.
func createIndex(ctx context.Context, coll *mongo.Collection, keys bson.D, unique bool) {
	idx := mongo.IndexModel{Keys: keys}
	if unique {
		idx.Options = options.Index().SetUnique(true)
	}
	if _, err := coll.Indexes().CreateOne(ctx, idx); err != nil {
		log.Printf("Warning: failed to create index on %s: %v", coll.Name(), err)
	}
}
