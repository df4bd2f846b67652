package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// advancingClock ticks one millisecond per call so every persisted
// snapshot carries a strictly newer access stamp.
func advancingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	var step time.Duration
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		step += time.Millisecond
		return start.Add(step)
	}
}

// Two stores sharing storage and feed: a write in one rehydrates the
// other, but only when the written snapshot is newer.
func TestReconcilerAdoptsNewerSnapshot(t *testing.T) {
	defer goleak.VerifyNone(t)

	storage := newMemStorage()
	feed := newMemFeed()

	readerAdapter := NewAdapter("demo", storage, feed)
	reader := NewStore("demo", readerAdapter)
	reader.now = advancingClock(time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC))
	reader.EnsureCacheMeta("qn-1", 1, "v1")

	rec := NewReconciler(reader, readerAdapter, feed)
	rec.Start()
	defer rec.Stop()

	writerAdapter := NewAdapter("demo", storage, feed)
	writer := NewStore("demo", writerAdapter)
	writer.now = advancingClock(time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC))
	writer.EnsureCacheMeta("qn-1", 1, "v1")
	writer.LoadQuestionnaireContent(testMeta(), testQuestions())

	require.Eventually(t, func() bool {
		return len(reader.QuestionsByPosition()) == 2
	}, time.Second, time.Millisecond)

	// Defaults were applied after adoption, so the view is usable.
	assert.NotNil(t, reader.Meta())
}

// Every later mutation in the writer keeps propagating: after the first
// adoption the sibling must still pick up incrementally synced sessions.
func TestReconcilerPropagatesSyncedSessions(t *testing.T) {
	defer goleak.VerifyNone(t)

	storage := newMemStorage()
	feed := newMemFeed()

	readerAdapter := NewAdapter("demo", storage, feed)
	reader := NewStore("demo", readerAdapter)
	reader.now = advancingClock(time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC))
	reader.EnsureCacheMeta("qn-1", 1, "v1")

	rec := NewReconciler(reader, readerAdapter, feed)
	rec.Start()
	defer rec.Stop()

	writerAdapter := NewAdapter("demo", storage, feed)
	writer := NewStore("demo", writerAdapter)
	writer.now = advancingClock(time.Date(2026, 8, 27, 11, 0, 0, 0, time.UTC))
	writer.EnsureCacheMeta("qn-1", 1, "v1")
	writer.LoadQuestionnaireContent(testMeta(), testQuestions())

	require.Eventually(t, func() bool {
		return len(reader.QuestionsByPosition()) == 2
	}, time.Second, time.Millisecond)

	writer.AddUserSession(userSession("s-new", nil))

	require.Eventually(t, func() bool {
		ids := reader.KnownUserSessionIDs()
		return len(ids) == 1 && ids[0] == "s-new"
	}, time.Second, time.Millisecond, "synced session never reached the sibling")
}

// An invalidation publishes a cleared snapshot; siblings adopt the bust.
func TestReconcilerAdoptsCacheBust(t *testing.T) {
	storage := newMemStorage()
	feed := newMemFeed()

	readerAdapter := NewAdapter("demo", storage, feed)
	reader := NewStore("demo", readerAdapter)
	reader.now = advancingClock(time.Date(2026, 8, 27, 10, 0, 0, 0, time.UTC))
	reader.EnsureCacheMeta("qn-1", 1, "v1")
	reader.LoadQuestionnaireContent(testMeta(), testQuestions())

	rec := NewReconciler(reader, readerAdapter, feed)
	rec.Start()
	defer rec.Stop()

	writerAdapter := NewAdapter("demo", storage, feed)
	writer := NewStore("demo", writerAdapter)
	writer.InvalidateAll()

	require.Eventually(t, func() bool {
		return reader.Meta() == nil && len(reader.QuestionsByPosition()) == 0
	}, time.Second, time.Millisecond, "cache bust never reached the sibling")
	assert.Nil(t, reader.CacheMeta())
}

func TestReconcilerIgnoresStaleSnapshot(t *testing.T) {
	storage := newMemStorage()
	feed := newMemFeed()

	readerAdapter := NewAdapter("demo", storage, feed)
	reader := NewStore("demo", readerAdapter)
	reader.now = func() time.Time { return time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC) }
	reader.EnsureCacheMeta("qn-1", 1, "v1")
	reader.LoadQuestionnaireContent(testMeta(), testQuestions())

	rec := NewReconciler(reader, readerAdapter, feed)
	rec.Start()
	defer rec.Stop()

	// An older writer publishes a snapshot with no questions.
	writerAdapter := NewAdapter("demo", storage, feed)
	writer := NewStore("demo", writerAdapter)
	writer.now = func() time.Time { return time.Date(2026, 8, 27, 9, 0, 0, 0, time.UTC) }
	writer.EnsureCacheMeta("qn-1", 1, "v1")

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, reader.QuestionsByPosition(), 2, "stale snapshot must not regress the store")
}

// An unstamped snapshot that still carries content cannot be ordered
// against the live store and must be skipped.
func TestReconcilerSkipsUnstampedContent(t *testing.T) {
	storage := newMemStorage()
	feed := newMemFeed()

	adapter := NewAdapter("demo", storage, feed)
	s := NewStore("demo", adapter)
	s.EnsureCacheMeta("qn-1", 1, "v1")
	s.LoadQuestionnaireContent(testMeta(), testQuestions())

	rec := NewReconciler(s, adapter, feed)
	rec.Start()
	defer rec.Stop()

	// Content present, cacheMeta absent: never ensured on the writer.
	writer := NewStore("demo", NewAdapter("demo", storage, feed))
	writer.LoadQuestionnaireContent(testMeta(), nil)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.QuestionsByPosition(), 2)
	assert.NotNil(t, s.CacheMeta())
}

// The publishing tab's own notification comes back on the channel; the
// reconciler must not rehydrate from it.
func TestReconcilerSkipsOwnOrigin(t *testing.T) {
	storage := newMemStorage()
	feed := newMemFeed()

	adapter := NewAdapter("demo", storage, feed)
	s := NewStore("demo", adapter)
	s.now = advancingClock(time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC))

	rec := NewReconciler(s, adapter, feed)
	rec.Start()
	defer rec.Stop()

	s.EnsureCacheMeta("qn-1", 1, "v1")
	s.LoadQuestionnaireContent(testMeta(), testQuestions())
	s.ApplyDefaultSelections()
	s.SetModelSelection([]string{"m1"})

	// A self-originated rehydrate would have reset the selection.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"m1"}, s.SelectedModelIDs())
}

func TestReconcilerSurvivesMalformedEvents(t *testing.T) {
	storage := newMemStorage()
	feed := newMemFeed()

	adapter := NewAdapter("demo", storage, feed)
	s := NewStore("demo", adapter)
	s.LoadQuestionnaireContent(testMeta(), testQuestions())

	rec := NewReconciler(s, adapter, feed)
	rec.Start()
	defer rec.Stop()

	require.NoError(t, feed.Publish(context.Background(), "demo", []byte("not json")))

	garbage, _ := json.Marshal(changeEnvelope{Origin: "other", Payload: []byte(`"nonsense"`)})
	require.NoError(t, feed.Publish(context.Background(), "demo", garbage))

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.QuestionsByPosition(), 2)
}
