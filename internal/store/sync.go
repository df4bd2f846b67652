package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"formsight/internal/collection"
	"formsight/internal/model"
)

// ErrSyncRetriesExhausted marks a questionnaire whose id-list check kept
// failing past the retry ceiling. The engine stops rescheduling it until
// the next explicit sync request.
var ErrSyncRetriesExhausted = errors.New("sync retries exhausted")

const (
	maxSyncAttempts = 3
	syncBackoffBase = 2 * time.Second
	syncBackoffCap  = 30 * time.Second
	queueDrainDelay = 250 * time.Millisecond
	metricsWindow   = 100
)

// QuerySource is the remote query collaborator the engine pulls deltas
// from: a lightweight id list for change detection and a full detail
// fetch per missing session.
type QuerySource interface {
	GetUserSessionIDs(ctx context.Context, questionnaireID string) (*model.SessionIDList, error)
	GetSession(ctx context.Context, sessionID string) (*model.SessionDetail, error)
}

type syncFailure struct {
	attempts    int
	lastErrorAt time.Time
}

// SyncMetrics is a rolling view of engine activity, observability only.
type SyncMetrics struct {
	TotalSyncs int
	Durations  []time.Duration
}

// Engine incrementally syncs new user sessions from the query source
// into one store. At most one sync runs at a time; concurrent and
// offline requests queue (deduplicated FIFO) and drain after the current
// sync finishes. Id-list failures retry with exponential backoff up to a
// ceiling.
type Engine struct {
	store  *Store
	source QuerySource

	mu       sync.Mutex
	syncing  bool
	online   bool
	closed   bool
	queue    []string
	failures map[string]*syncFailure
	timers   map[*time.Timer]struct{}

	totalSyncs int
	durations  []time.Duration

	backoffBase time.Duration
	backoffCap  time.Duration
	drainDelay  time.Duration

	wg sync.WaitGroup
}

// NewEngine creates an engine for one store. The engine starts online;
// connectivity changes arrive through SetOnline.
func NewEngine(st *Store, source QuerySource) *Engine {
	return &Engine{
		store:       st,
		source:      source,
		online:      true,
		failures:    make(map[string]*syncFailure),
		timers:      make(map[*time.Timer]struct{}),
		backoffBase: syncBackoffBase,
		backoffCap:  syncBackoffCap,
		drainDelay:  queueDrainDelay,
	}
}

// SyncUserSessions pulls sessions the store does not know yet. If a sync
// is already running, or the engine is offline, the questionnaire id is
// queued instead and the call returns nil immediately.
func (e *Engine) SyncUserSessions(ctx context.Context, questionnaireID string) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if e.syncing {
		e.enqueueLocked(questionnaireID)
		e.mu.Unlock()
		return nil
	}
	if !e.online {
		e.enqueueLocked(questionnaireID)
		e.mu.Unlock()
		log.Printf("[Sync %s] offline, queued %s", e.store.Slug(), questionnaireID)
		return nil
	}
	e.syncing = true
	e.mu.Unlock()

	start := time.Now()
	err := e.runSync(ctx, questionnaireID)
	e.finish(time.Since(start))
	return err
}

// SetOnline tracks connectivity. Coming back online drains whatever
// queued while offline.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	was := e.online
	e.online = online
	var next string
	if online && !was && !e.syncing && len(e.queue) > 0 {
		next = e.queue[0]
		e.queue = e.queue[1:]
	}
	e.mu.Unlock()

	if next != "" {
		e.schedule(e.drainDelay, next)
	}
}

// Metrics returns the sync count and the rolling duration window.
func (e *Engine) Metrics() SyncMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SyncMetrics{
		TotalSyncs: e.totalSyncs,
		Durations:  append([]time.Duration(nil), e.durations...),
	}
}

// Close stops pending timers and waits for scheduled work to drain.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	for t := range e.timers {
		if t.Stop() {
			e.wg.Done()
		}
	}
	e.timers = make(map[*time.Timer]struct{})
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) runSync(ctx context.Context, questionnaireID string) error {
	list, err := e.source.GetUserSessionIDs(ctx, questionnaireID)
	if err != nil {
		e.recordFailure(questionnaireID, err)
		return fmt.Errorf("list session ids for %s: %w", questionnaireID, err)
	}
	e.clearFailure(questionnaireID)

	known := collection.NewSet(e.store.KnownUserSessionIDs()...)
	var missing []string
	for _, stub := range list.Sessions {
		if stub.ID != "" && !known.Has(stub.ID) {
			missing = append(missing, stub.ID)
		}
	}

	if len(missing) > 0 {
		log.Printf("[Sync %s] fetching %d new sessions", e.store.Slug(), len(missing))
		e.fetchAndAddUserSessions(ctx, missing)
	}
	e.store.markUserSessionsChecked()
	return nil
}

// fetchAndAddUserSessions fetches session details concurrently. Each
// failure is isolated: it logs and skips that session, never the batch.
func (e *Engine) fetchAndAddUserSessions(ctx context.Context, ids []string) {
	details := make([]*model.SessionDetail, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			detail, err := e.source.GetSession(ctx, id)
			if err != nil {
				log.Printf("[Sync %s] Warning: failed to fetch session %s: %v", e.store.Slug(), id, err)
				return
			}
			details[i] = detail
		}(i, id)
	}
	wg.Wait()

	for _, detail := range details {
		if detail == nil || detail.Session.ID == "" {
			continue
		}
		e.store.AddUserSession(e.buildSessionRecord(detail))
	}
}

// buildSessionRecord normalizes a fetched detail payload into a session
// record. Option lookups prefer the inline question options and fall
// back to the store's question map; unanswered items produce no entry.
func (e *Engine) buildSessionRecord(detail *model.SessionDetail) *model.SessionResponses {
	rec := &model.SessionResponses{
		SessionID:   detail.Session.ID,
		SubjectType: model.SubjectUser,
		DisplayName: detail.Session.DisplayName,
		CompletedAt: detail.Session.CompletedAt,
		Responses:   collection.NewOrderedMap[*model.ProcessedResponse](),
	}
	if detail.Session.UserID != "" {
		id := detail.Session.UserID
		rec.SubjectID = &id
	}

	for _, item := range detail.Items {
		if item.Response == nil || item.Question.ID == "" {
			continue
		}
		raw := *item.Response
		raw.QuestionID = item.Question.ID

		var optionValues map[string]string
		if len(item.Question.Options) > 0 {
			optionValues = make(map[string]string, len(item.Question.Options))
			for _, opt := range item.Question.Options {
				optionValues[opt.ID] = opt.Value
			}
		} else if q, ok := e.store.GetQuestion(item.Question.ID); ok {
			optionValues = q.OptionValues()
		}

		rec.Responses.Set(item.Question.ID, NormalizeResponse(&raw, optionValues))
	}
	return rec
}

// recordFailure bumps the per-questionnaire failure counter and, below
// the ceiling, reschedules the sync after an exponential backoff.
func (e *Engine) recordFailure(questionnaireID string, cause error) {
	e.mu.Lock()
	f := e.failures[questionnaireID]
	if f == nil {
		f = &syncFailure{}
		e.failures[questionnaireID] = f
	}
	f.attempts++
	f.lastErrorAt = time.Now()
	attempts := f.attempts
	e.mu.Unlock()

	if attempts >= maxSyncAttempts {
		log.Printf("[Sync %s] %v for %s after %d attempts: %v",
			e.store.Slug(), ErrSyncRetriesExhausted, questionnaireID, attempts, cause)
		return
	}

	delay := e.backoffBase << (attempts - 1)
	if delay > e.backoffCap {
		delay = e.backoffCap
	}
	log.Printf("[Sync %s] Warning: sync failed (attempt %d/%d), retrying in %v: %v",
		e.store.Slug(), attempts, maxSyncAttempts, delay, cause)
	e.schedule(delay, questionnaireID)
}

func (e *Engine) clearFailure(questionnaireID string) {
	e.mu.Lock()
	delete(e.failures, questionnaireID)
	e.mu.Unlock()
}

// finish returns the engine to idle, records metrics and kicks the next
// queued sync after a short delay so the backlog drains without
// unbounded recursion.
func (e *Engine) finish(dur time.Duration) {
	e.mu.Lock()
	e.syncing = false
	e.totalSyncs++
	e.durations = append(e.durations, dur)
	if len(e.durations) > metricsWindow {
		e.durations = e.durations[len(e.durations)-metricsWindow:]
	}
	var next string
	if len(e.queue) > 0 {
		next = e.queue[0]
		e.queue = e.queue[1:]
	}
	e.mu.Unlock()

	if next != "" {
		e.schedule(e.drainDelay, next)
	}
}

func (e *Engine) enqueueLocked(questionnaireID string) {
	for _, queued := range e.queue {
		if queued == questionnaireID {
			return
		}
	}
	e.queue = append(e.queue, questionnaireID)
}

// schedule runs a sync for questionnaireID after delay, tracked so Close
// can stop it.
func (e *Engine) schedule(delay time.Duration, questionnaireID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	e.wg.Add(1)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		defer e.wg.Done()

		e.mu.Lock()
		delete(e.timers, timer)
		closed := e.closed
		e.mu.Unlock()
		if closed {
			return
		}
		if err := e.SyncUserSessions(context.Background(), questionnaireID); err != nil {
			log.Printf("[Sync %s] Warning: scheduled sync failed: %v", e.store.Slug(), err)
		}
	})
	e.timers[timer] = struct{}{}
}
