package store

import (
	"log"
	"sort"
	"sync"
	"time"

	"formsight/internal/collection"
	"formsight/internal/model"
)

// Persister receives a canonical-content snapshot after every mutation
// that changes persisted state. Persist is called outside the store
// lock; snapshots arrive in capture order, stale captures are dropped.
type Persister interface {
	Persist(snap *Snapshot)
}

// Snapshot is the persistable projection of a store. Selection state,
// filtered views and memoized selector results never leave the store.
type Snapshot struct {
	Meta          *model.QuestionnaireMeta                        `json:"meta"`
	Questions     *collection.OrderedMap[*model.Question]         `json:"questions"`
	ModelProfiles *collection.OrderedMap[*model.ModelProfile]     `json:"modelProfiles"`
	ModelSessions *collection.OrderedMap[*model.SessionResponses] `json:"modelSessions"`
	UserSessions  *collection.OrderedMap[*model.SessionResponses] `json:"userSessions"`
	CacheMeta     *model.CacheMeta                                `json:"cacheMeta"`
}

// Store is the per-questionnaire analysis cache: canonical entity maps,
// selection state and the filtered views derived from them. All methods
// are safe for concurrent use. Session records are treated as immutable
// once inserted; replacements swap the pointer, never mutate in place.
type Store struct {
	slug string

	mu            sync.RWMutex
	meta          *model.QuestionnaireMeta
	questions     *collection.OrderedMap[*model.Question]
	modelProfiles *collection.OrderedMap[*model.ModelProfile]
	modelSessions *collection.OrderedMap[*model.SessionResponses]
	userSessions  *collection.OrderedMap[*model.SessionResponses]
	cacheMeta     *model.CacheMeta

	selectedModelIDs   *collection.Set
	selectedSessionIDs *collection.Set

	filteredModelResponses []*model.SessionResponses
	filteredUserResponses  []*model.SessionResponses

	statsCache map[string]*QuestionStats

	persister Persister
	now       func() time.Time

	// persistMu serializes writes to the persister; persistedSeq drops
	// captures that lost the race to a later mutation.
	persistMu    sync.Mutex
	persistSeq   uint64
	persistedSeq uint64
}

// NewStore returns an empty store for one questionnaire slug. A nil
// persister disables persistence, which is what tests want.
func NewStore(slug string, persister Persister) *Store {
	return &Store{
		slug:               slug,
		questions:          collection.NewOrderedMap[*model.Question](),
		modelProfiles:      collection.NewOrderedMap[*model.ModelProfile](),
		modelSessions:      collection.NewOrderedMap[*model.SessionResponses](),
		userSessions:       collection.NewOrderedMap[*model.SessionResponses](),
		selectedModelIDs:   collection.NewSet(),
		selectedSessionIDs: collection.NewSet(),
		persister:          persister,
		now:                time.Now,
	}
}

func (s *Store) Slug() string { return s.slug }

// LoadQuestionnaireContent replaces the questionnaire meta and the
// question map wholesale. Idempotent overwrite; invalidates every
// memoized selector result.
func (s *Store) LoadQuestionnaireContent(meta *model.QuestionnaireMeta, questions []*model.Question) {
	s.mu.Lock()
	s.meta = meta
	s.questions = collection.NewOrderedMap[*model.Question]()
	for _, q := range questions {
		if q == nil {
			continue
		}
		s.questions.Set(q.ID, q)
	}
	s.statsCache = nil
	snap, seq := s.preparePersistLocked()
	s.mu.Unlock()
	s.persist(snap, seq)
}

// LoadModelData replaces the respondent-profile map and the model-session
// map from a bulk query result. Responses referencing unknown questions
// are dropped; sessions referencing unknown profiles keep the session but
// lose the subject reference. Selection is left untouched.
func (s *Store) LoadModelData(bundle *model.ModelDataBundle) {
	if bundle == nil {
		return
	}
	s.mu.Lock()
	s.modelProfiles = collection.NewOrderedMap[*model.ModelProfile]()
	for _, p := range bundle.Models {
		if p == nil {
			continue
		}
		s.modelProfiles.Set(p.ID, p)
	}
	s.modelSessions = s.assembleSessionsLocked(bundle.Sessions, bundle.Responses, model.SubjectModel)
	if s.cacheMeta != nil {
		s.cacheMeta.ModelsFetchedAt = model.NewFlexTime(s.now())
	}
	s.refreshFilteredLocked()
	snap, seq := s.preparePersistLocked()
	s.mu.Unlock()
	s.persist(snap, seq)
}

// LoadUserData replaces the user-session map from a bulk query result.
// The bulk shape carries no user reference, so SubjectID stays nil until
// AddUserSession supplies a resolved record.
func (s *Store) LoadUserData(bundle *model.UserDataBundle) {
	if bundle == nil {
		return
	}
	s.mu.Lock()
	s.userSessions = s.assembleSessionsLocked(bundle.Sessions, bundle.Responses, model.SubjectUser)
	s.refreshFilteredLocked()
	snap, seq := s.preparePersistLocked()
	s.mu.Unlock()
	s.persist(snap, seq)
}

// AddUserSession inserts or overwrites one user-session record and
// selects exactly that session: a freshly synced session is the user's
// latest activity and becomes the default view.
func (s *Store) AddUserSession(rec *model.SessionResponses) {
	if rec == nil || rec.SessionID == "" {
		return
	}
	rec.SubjectType = model.SubjectUser
	if rec.Responses == nil {
		rec.Responses = collection.NewOrderedMap[*model.ProcessedResponse]()
	}

	s.mu.Lock()
	s.userSessions.Set(rec.SessionID, rec)
	s.selectedSessionIDs = collection.NewSet(rec.SessionID)
	s.refreshFilteredLocked()
	snap, seq := s.preparePersistLocked()
	s.mu.Unlock()
	s.persist(snap, seq)
}

// SetModelSelection selects the given respondent-profile ids. An empty
// list selects every known profile, so the model view never empties by
// accident.
func (s *Store) SetModelSelection(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		ids = s.modelProfiles.Keys()
	}
	s.selectedModelIDs = collection.NewSet(ids...)
	s.refreshFilteredLocked()
}

// SetUserSessionSelection selects the given session ids. An empty list
// falls back to the most recently completed session, then to the first
// session in map order, then to no selection at all.
func (s *Store) SetUserSessionSelection(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(ids) == 0 {
		ids = s.defaultUserSelectionLocked()
	}
	s.selectedSessionIDs = collection.NewSet(ids...)
	s.refreshFilteredLocked()
}

// ApplyDefaultSelections establishes the default view after a hydrate or
// warm: every profile selected, and the fallback user session.
func (s *Store) ApplyDefaultSelections() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selectedModelIDs = collection.NewSet(s.modelProfiles.Keys()...)
	s.selectedSessionIDs = collection.NewSet(s.defaultUserSelectionLocked()...)
	s.refreshFilteredLocked()
}

// InvalidateUserSessions clears the user-session map, the user selection
// and the user filtered view, and forgets when sessions were last
// checked so the next sync re-lists from scratch.
func (s *Store) InvalidateUserSessions() {
	s.mu.Lock()
	s.userSessions = collection.NewOrderedMap[*model.SessionResponses]()
	s.selectedSessionIDs = collection.NewSet()
	if s.cacheMeta != nil {
		s.cacheMeta.UserSessionsLastCheckedAt = nil
	}
	s.refreshFilteredLocked()
	snap, seq := s.preparePersistLocked()
	s.mu.Unlock()
	s.persist(snap, seq)
}

// InvalidateAll clears every entity map, both selections, both filtered
// views and the cache metadata. Used on full cache busting.
func (s *Store) InvalidateAll() {
	s.mu.Lock()
	s.clearAllLocked()
	snap, seq := s.preparePersistLocked()
	s.mu.Unlock()
	s.persist(snap, seq)
}

// EnsureCacheMeta reconciles the cache metadata against the current
// questionnaire version. A missing meta is created fresh; a version or
// version-id mismatch busts the whole cache first; a match just bumps
// the last-accessed timestamp.
func (s *Store) EnsureCacheMeta(questionnaireID string, version int, versionID string) {
	s.mu.Lock()
	if s.cacheMeta != nil && (s.cacheMeta.Version != version || s.cacheMeta.VersionID != versionID) {
		log.Printf("[Store %s] questionnaire version changed (%d/%s -> %d/%s), clearing cache",
			s.slug, s.cacheMeta.Version, s.cacheMeta.VersionID, version, versionID)
		s.clearAllLocked()
	}
	if s.cacheMeta == nil {
		s.cacheMeta = &model.CacheMeta{
			QuestionnaireID: questionnaireID,
			Version:         version,
			VersionID:       versionID,
			LastAccessedAt:  model.NewFlexTime(s.now()),
		}
	}
	snap, seq := s.preparePersistLocked()
	s.mu.Unlock()
	s.persist(snap, seq)
}

// Rehydrate adopts a decoded snapshot wholesale. Selection is never
// trusted from storage: both sets reset to empty and the filtered views
// stay empty until ApplyDefaultSelections runs. Does not persist.
func (s *Store) Rehydrate(snap *Snapshot) {
	if snap == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta = snap.Meta
	s.questions = orDefault(snap.Questions)
	s.modelProfiles = orDefault(snap.ModelProfiles)
	s.modelSessions = orDefault(snap.ModelSessions)
	s.userSessions = orDefault(snap.UserSessions)
	s.cacheMeta = copyCacheMeta(snap.CacheMeta)
	s.selectedModelIDs = collection.NewSet()
	s.selectedSessionIDs = collection.NewSet()
	s.refreshFilteredLocked()
}

// Snapshot returns the persistable projection of the current state.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) Meta() *model.QuestionnaireMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

func (s *Store) CacheMeta() *model.CacheMeta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyCacheMeta(s.cacheMeta)
}

// GetQuestion returns the question with the given id, or false when the
// id is unknown.
func (s *Store) GetQuestion(id string) (*model.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.questions.Get(id)
}

// QuestionsByPosition returns all questions sorted ascending by their
// position field. Ties keep map iteration order.
func (s *Store) QuestionsByPosition() []*model.Question {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.questions.Values()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (s *Store) ModelProfiles() []*model.ModelProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelProfiles.Values()
}

func (s *Store) ModelSessions() []*model.SessionResponses {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.modelSessions.Values()
}

func (s *Store) UserSessions() []*model.SessionResponses {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userSessions.Values()
}

// KnownUserSessionIDs returns the ids of every cached user session, in
// map order. The sync engine diffs server-side ids against this.
func (s *Store) KnownUserSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userSessions.Keys()
}

func (s *Store) SelectedModelIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedModelIDs.Values()
}

func (s *Store) SelectedUserSessionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedSessionIDs.Values()
}

// FilteredModelSessions returns the model sessions whose subject is
// currently selected, in map order.
func (s *Store) FilteredModelSessions() []*model.SessionResponses {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.SessionResponses(nil), s.filteredModelResponses...)
}

// FilteredUserSessions returns the currently selected user sessions, in
// map order.
func (s *Store) FilteredUserSessions() []*model.SessionResponses {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*model.SessionResponses(nil), s.filteredUserResponses...)
}

// markUserSessionsChecked stamps the time the server-side session list
// was last compared against the cache.
func (s *Store) markUserSessionsChecked() {
	s.mu.Lock()
	if s.cacheMeta == nil {
		s.mu.Unlock()
		return
	}
	t := model.NewFlexTime(s.now())
	s.cacheMeta.UserSessionsLastCheckedAt = &t
	snap, seq := s.preparePersistLocked()
	s.mu.Unlock()
	s.persist(snap, seq)
}

// assembleSessionsLocked groups raw response rows by session and
// normalizes each row against the current question map. Responses whose
// question id is unknown are silently dropped; sessions referencing an
// unknown profile keep the record but drop the subject reference.
func (s *Store) assembleSessionsLocked(sessions []*model.BulkSession, responses []*model.RawResponse, subjectType model.SubjectType) *collection.OrderedMap[*model.SessionResponses] {
	bySession := make(map[string][]*model.RawResponse, len(sessions))
	for _, r := range responses {
		if r == nil {
			continue
		}
		bySession[r.SessionID] = append(bySession[r.SessionID], r)
	}

	out := collection.NewOrderedMap[*model.SessionResponses]()
	for _, sess := range sessions {
		if sess == nil || sess.ID == "" {
			continue
		}
		rec := &model.SessionResponses{
			SessionID:   sess.ID,
			SubjectType: subjectType,
			DisplayName: sess.DisplayName,
			CompletedAt: sess.CompletedAt,
			Responses:   collection.NewOrderedMap[*model.ProcessedResponse](),
		}
		if subjectType == model.SubjectModel && sess.SubjectID != "" {
			if profile, ok := s.modelProfiles.Get(sess.SubjectID); ok {
				id := sess.SubjectID
				rec.SubjectID = &id
				if rec.DisplayName == "" {
					rec.DisplayName = profile.DisplayName
				}
			}
		}
		for _, raw := range bySession[sess.ID] {
			q, ok := s.questions.Get(raw.QuestionID)
			if !ok {
				continue
			}
			rec.Responses.Set(raw.QuestionID, NormalizeResponse(raw, q.OptionValues()))
		}
		out.Set(sess.ID, rec)
	}
	return out
}

// defaultUserSelectionLocked picks the most recently completed session,
// falling back to the first session in map order, falling back to none.
func (s *Store) defaultUserSelectionLocked() []string {
	var bestID string
	var bestAt time.Time
	s.userSessions.Range(func(id string, rec *model.SessionResponses) bool {
		if rec.CompletedAt == nil || rec.CompletedAt.IsZero() {
			return true
		}
		if bestID == "" || rec.CompletedAt.Time.After(bestAt) {
			bestID = id
			bestAt = rec.CompletedAt.Time
		}
		return true
	})
	if bestID != "" {
		return []string{bestID}
	}
	if keys := s.userSessions.Keys(); len(keys) > 0 {
		return keys[:1]
	}
	return nil
}

// refreshFilteredLocked rebuilds both filtered views from the current
// selection, in the same critical section as the mutation that changed
// them. Any memoized selector result is stale afterwards.
func (s *Store) refreshFilteredLocked() {
	s.filteredModelResponses = s.filteredModelResponses[:0]
	s.modelSessions.Range(func(_ string, rec *model.SessionResponses) bool {
		if rec.SubjectID != nil && s.selectedModelIDs.Has(*rec.SubjectID) {
			s.filteredModelResponses = append(s.filteredModelResponses, rec)
		}
		return true
	})

	s.filteredUserResponses = s.filteredUserResponses[:0]
	s.userSessions.Range(func(id string, rec *model.SessionResponses) bool {
		if s.selectedSessionIDs.Has(id) {
			s.filteredUserResponses = append(s.filteredUserResponses, rec)
		}
		return true
	})

	s.statsCache = nil
}

func (s *Store) clearAllLocked() {
	s.meta = nil
	s.questions = collection.NewOrderedMap[*model.Question]()
	s.modelProfiles = collection.NewOrderedMap[*model.ModelProfile]()
	s.modelSessions = collection.NewOrderedMap[*model.SessionResponses]()
	s.userSessions = collection.NewOrderedMap[*model.SessionResponses]()
	s.cacheMeta = nil
	s.selectedModelIDs = collection.NewSet()
	s.selectedSessionIDs = collection.NewSet()
	s.refreshFilteredLocked()
}

func (s *Store) snapshotLocked() *Snapshot {
	return &Snapshot{
		Meta:          s.meta,
		Questions:     s.questions.Clone(),
		ModelProfiles: s.modelProfiles.Clone(),
		ModelSessions: s.modelSessions.Clone(),
		UserSessions:  s.userSessions.Clone(),
		CacheMeta:     copyCacheMeta(s.cacheMeta),
	}
}

// preparePersistLocked stamps the access time, captures the snapshot and
// assigns its write order. The write itself runs outside the store lock
// so readers never wait on storage latency.
func (s *Store) preparePersistLocked() (*Snapshot, uint64) {
	if s.cacheMeta != nil {
		s.cacheMeta.LastAccessedAt = model.NewFlexTime(s.now())
	}
	if s.persister == nil {
		return nil, 0
	}
	s.persistSeq++
	return s.snapshotLocked(), s.persistSeq
}

// persist hands a captured snapshot to the persister. Writes happen one
// at a time in capture order; a capture overtaken by a newer write is
// dropped so storage never regresses.
func (s *Store) persist(snap *Snapshot, seq uint64) {
	if snap == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if seq <= s.persistedSeq {
		return
	}
	s.persistedSeq = seq
	s.persister.Persist(snap)
}

func orDefault[V any](m *collection.OrderedMap[V]) *collection.OrderedMap[V] {
	if m == nil {
		return collection.NewOrderedMap[V]()
	}
	return m
}

func copyCacheMeta(cm *model.CacheMeta) *model.CacheMeta {
	if cm == nil {
		return nil
	}
	out := *cm
	if cm.UserSessionsLastCheckedAt != nil {
		t := *cm.UserSessionsLastCheckedAt
		out.UserSessionsLastCheckedAt = &t
	}
	return &out
}
