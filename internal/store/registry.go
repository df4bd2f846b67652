package store

import (
	"context"
	"log"
	"sync"
)

// Handle bundles one questionnaire's cache: the store plus the adapter,
// sync engine and reconciler wired around it.
type Handle struct {
	Store      *Store
	Adapter    *Adapter
	Engine     *Engine
	Reconciler *Reconciler
}

// Registry produces and caches one handle per questionnaire slug,
// constructed lazily on first access and kept for the process lifetime.
// Evict and Reset exist for tests; production never tears a handle down.
type Registry struct {
	storage SnapshotStorage
	feed    ChangeFeed
	source  QuerySource

	mu      sync.Mutex
	handles map[string]*Handle
}

// NewRegistry creates an empty registry. Storage, feed and source may be
// nil, which disables persistence, reconciliation and sync respectively.
func NewRegistry(storage SnapshotStorage, feed ChangeFeed, source QuerySource) *Registry {
	return &Registry{
		storage: storage,
		feed:    feed,
		source:  source,
		handles: make(map[string]*Handle),
	}
}

// GetOrCreate returns the slug's handle, building and hydrating it on
// first access. At most one handle exists per slug.
func (r *Registry) GetOrCreate(ctx context.Context, slug string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.handles[slug]; ok {
		return h
	}

	adapter := NewAdapter(slug, r.storage, r.feed)
	st := NewStore(slug, adapter)

	if snap, err := adapter.Load(ctx); err != nil {
		log.Printf("[Registry] Warning: failed to hydrate %s: %v", slug, err)
	} else if snap != nil {
		st.Rehydrate(snap)
		st.ApplyDefaultSelections()
		log.Printf("[Registry] hydrated %s from storage", slug)
	}

	h := &Handle{
		Store:   st,
		Adapter: adapter,
		Engine:  NewEngine(st, r.source),
	}
	if r.feed != nil {
		h.Reconciler = NewReconciler(st, adapter, r.feed)
		h.Reconciler.Start()
	}

	r.handles[slug] = h
	return h
}

// Get returns the slug's handle without creating one.
func (r *Registry) Get(slug string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[slug]
	return h, ok
}

// SyncQuestionnaire routes a sync request to the handle whose store
// holds the questionnaire, matching by content id and falling back to
// the slug itself.
func (r *Registry) SyncQuestionnaire(ctx context.Context, questionnaireID string) error {
	r.mu.Lock()
	var target *Handle
	for slug, h := range r.handles {
		if slug == questionnaireID {
			target = h
			break
		}
		if meta := h.Store.Meta(); meta != nil && meta.ID == questionnaireID {
			target = h
			break
		}
	}
	r.mu.Unlock()

	if target == nil {
		log.Printf("[Registry] Warning: no store for questionnaire %s, ignoring sync", questionnaireID)
		return nil
	}
	return target.Engine.SyncUserSessions(ctx, questionnaireID)
}

// SetOnline propagates connectivity to every engine.
func (r *Registry) SetOnline(online bool) {
	r.mu.Lock()
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		h.Engine.SetOnline(online)
	}
}

// Evict closes and removes one handle. Test hook.
func (r *Registry) Evict(slug string) {
	r.mu.Lock()
	h, ok := r.handles[slug]
	delete(r.handles, slug)
	r.mu.Unlock()

	if ok {
		closeHandle(h)
	}
}

// Reset closes and removes every handle. Test hook.
func (r *Registry) Reset() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		closeHandle(h)
	}
}

// Close is Reset under a production name, for daemon shutdown.
func (r *Registry) Close() {
	r.Reset()
}

func closeHandle(h *Handle) {
	if h.Reconciler != nil {
		h.Reconciler.Stop()
	}
	h.Engine.Close()
}
