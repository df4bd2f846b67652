package repository

import (
	"context"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"formsight/internal/model"
)

// ProfileRepo handles MongoDB operations for model respondent profiles
type ProfileRepo interface {
	Create(ctx context.Context, profile *model.ModelProfile) error
	GetByID(ctx context.Context, id string) (*model.ModelProfile, error)
	ListByQuestionnaire(ctx context.Context, questionnaireID string) ([]*model.ModelProfile, error)
}

type profileRepo struct {
	collection *mongo.Collection
}

// NewProfileRepo creates a new profile repository with indexes
func NewProfileRepo(db *mongo.Database) ProfileRepo {
	repo := &profileRepo{
		collection: db.Collection("model_profiles"),
	}
	createIndex(context.Background(), repo.collection, bson.D{{Key: "questionnaireId", Value: 1}}, false)
	return repo
}

func (r *profileRepo) Create(ctx context.Context, profile *model.ModelProfile) error {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	_, err := r.collection.InsertOne(ctx, profile)
	return err
}

func (r *profileRepo) GetByID(ctx context.Context, id string) (*model.ModelProfile, error) {
	var profile model.ModelProfile
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&profile)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *profileRepo) ListByQuestionnaire(ctx context.Context, questionnaireID string) ([]*model.ModelProfile, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"questionnaireId": questionnaireID})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var profiles []*model.ModelProfile
	if err = cursor.All(ctx, &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}
