package store

import (
	"encoding/json"
	"log"
	"sync"
)

// Reconciler listens on the slug's change channel for snapshots written
// by other processes and rehydrates the live store when one is newer.
// Malformed notifications log a warning and do nothing; adoption is
// best-effort and always wholesale, never a field merge.
type Reconciler struct {
	store   *Store
	adapter *Adapter
	feed    ChangeFeed

	cancel   func()
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewReconciler wires a reconciler to a store's feed. Call Start to
// begin listening.
func NewReconciler(st *Store, adapter *Adapter, feed ChangeFeed) *Reconciler {
	return &Reconciler{
		store:   st,
		adapter: adapter,
		feed:    feed,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start subscribes to the change channel and launches the event loop.
func (r *Reconciler) Start() {
	events, cancel := r.feed.Subscribe(r.store.Slug())
	r.cancel = cancel
	go r.run(events)
}

// Stop unsubscribes and waits for the event loop to exit.
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if r.cancel != nil {
			r.cancel()
		}
		<-r.done
	})
}

func (r *Reconciler) run(events <-chan []byte) {
	defer close(r.done)
	for {
		select {
		case <-r.stop:
			return
		case message, ok := <-events:
			if !ok {
				return
			}
			r.handle(message)
		}
	}
}

// handle applies one change notification: skip our own writes, decode
// the carried snapshot, and adopt it only if its last-accessed timestamp
// is strictly newer than the live store's.
func (r *Reconciler) handle(message []byte) {
	var event changeEnvelope
	if err := json.Unmarshal(message, &event); err != nil {
		log.Printf("[Reconcile %s] Warning: malformed change event: %v", r.store.Slug(), err)
		return
	}
	if event.Origin == r.adapter.Origin() {
		return
	}

	snap, err := decodeSnapshot(event.Payload)
	if err != nil {
		log.Printf("[Reconcile %s] Warning: malformed change payload: %v", r.store.Slug(), err)
		return
	}
	if snap.CacheMeta == nil {
		// A fully cleared snapshot is cache busting and is adopted as
		// such. Anything else without a stamp cannot be ordered; skip.
		if snap.Meta != nil {
			return
		}
		if r.store.Meta() == nil && r.store.CacheMeta() == nil {
			return
		}
		log.Printf("[Reconcile %s] adopting cache bust from %s", r.store.Slug(), event.Origin)
		r.store.Rehydrate(snap)
		r.store.ApplyDefaultSelections()
		return
	}

	current := r.store.CacheMeta()
	if current != nil && !snap.CacheMeta.LastAccessedAt.Time.After(current.LastAccessedAt.Time) {
		return
	}

	log.Printf("[Reconcile %s] adopting newer snapshot from %s", r.store.Slug(), event.Origin)
	r.store.Rehydrate(snap)
	r.store.ApplyDefaultSelections()
}
