package service

import (
	"context"
	"fmt"
	"log"

	"formsight/internal/model"
	"formsight/internal/repository"
	"formsight/internal/store"
)

// IngestService materializes bulk data bundles from the repositories and
// warms questionnaire stores with them. It is also the writer of model
// respondent profiles; the cache only indexes what ingest creates.
type IngestService struct {
	questionnaires repository.QuestionnaireRepo
	profiles       repository.ProfileRepo
	sessions       repository.SessionRepo
}

// NewIngestService creates a new ingest service
func NewIngestService(questionnaires repository.QuestionnaireRepo, profiles repository.ProfileRepo, sessions repository.SessionRepo) *IngestService {
	return &IngestService{
		questionnaires: questionnaires,
		profiles:       profiles,
		sessions:       sessions,
	}
}

// RegisterModelProfile stores a new simulated respondent.
func (s *IngestService) RegisterModelProfile(ctx context.Context, profile *model.ModelProfile) error {
	if profile.SubjectKind == "" {
		profile.SubjectKind = "llm"
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		return fmt.Errorf("failed to store model profile: %w", err)
	}
	return nil
}

// WarmStore loads questionnaire content and both data bundles into the
// store, then applies the default selections. A failed bundle logs and
// leaves that part of the store as it was; content failure is fatal to
// the warm because nothing downstream can normalize without questions.
func (s *IngestService) WarmStore(ctx context.Context, st *store.Store) error {
	meta, err := s.questionnaires.GetBySlug(ctx, st.Slug())
	if err != nil {
		return fmt.Errorf("failed to load questionnaire %s: %w", st.Slug(), err)
	}
	if meta == nil {
		return fmt.Errorf("questionnaire %q not found", st.Slug())
	}

	questions, err := s.questionnaires.GetQuestions(ctx, meta.ID)
	if err != nil {
		return fmt.Errorf("failed to load questions for %s: %w", st.Slug(), err)
	}

	st.EnsureCacheMeta(meta.ID, meta.Version, meta.VersionID)
	st.LoadQuestionnaireContent(meta, questions)

	if bundle, err := s.buildModelBundle(ctx, meta.ID); err != nil {
		log.Printf("[Ingest] Warning: failed to build model bundle for %s: %v", st.Slug(), err)
	} else {
		st.LoadModelData(bundle)
	}

	if bundle, err := s.buildUserBundle(ctx, meta.ID); err != nil {
		log.Printf("[Ingest] Warning: failed to build user bundle for %s: %v", st.Slug(), err)
	} else {
		st.LoadUserData(bundle)
	}

	st.ApplyDefaultSelections()
	log.Printf("[Ingest] warmed store %s: %d questions, %d model sessions, %d user sessions",
		st.Slug(), len(questions), len(st.ModelSessions()), len(st.UserSessions()))
	return nil
}

func (s *IngestService) buildModelBundle(ctx context.Context, questionnaireID string) (*model.ModelDataBundle, error) {
	profiles, err := s.profiles.ListByQuestionnaire(ctx, questionnaireID)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}

	sessions, responses, err := s.loadSessions(ctx, questionnaireID, model.SubjectModel)
	if err != nil {
		return nil, err
	}
	return &model.ModelDataBundle{
		Models:    profiles,
		Sessions:  sessions,
		Responses: responses,
	}, nil
}

func (s *IngestService) buildUserBundle(ctx context.Context, questionnaireID string) (*model.UserDataBundle, error) {
	sessions, responses, err := s.loadSessions(ctx, questionnaireID, model.SubjectUser)
	if err != nil {
		return nil, err
	}
	return &model.UserDataBundle{
		Sessions:  sessions,
		Responses: responses,
	}, nil
}

func (s *IngestService) loadSessions(ctx context.Context, questionnaireID string, subjectType model.SubjectType) ([]*model.BulkSession, []*model.RawResponse, error) {
	stored, err := s.sessions.ListByType(ctx, questionnaireID, subjectType)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s sessions: %w", subjectType, err)
	}

	bulk := make([]*model.BulkSession, 0, len(stored))
	ids := make([]string, 0, len(stored))
	for _, sess := range stored {
		if sess == nil || sess.ID == "" {
			continue
		}
		b := &model.BulkSession{
			ID:          sess.ID,
			SubjectID:   sess.SubjectID,
			DisplayName: sess.DisplayName,
		}
		if sess.CompletedAt != nil {
			t := model.NewFlexTime(*sess.CompletedAt)
			b.CompletedAt = &t
		}
		bulk = append(bulk, b)
		ids = append(ids, sess.ID)
	}

	responses, err := s.sessions.ListResponses(ctx, ids)
	if err != nil {
		return nil, nil, fmt.Errorf("list responses: %w", err)
	}
	return bulk, responses, nil
}
