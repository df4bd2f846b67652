package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

const persistTimeout = 5 * time.Second

// SnapshotStorage is the durable entry the adapter writes, one per slug.
type SnapshotStorage interface {
	Load(ctx context.Context, slug string) ([]byte, error)
	Store(ctx context.Context, slug string, payload []byte) error
	Delete(ctx context.Context, slug string) error
}

// ChangeFeed carries change notifications between processes holding the
// same slug. Subscribe's cancel function closes the returned channel.
type ChangeFeed interface {
	Publish(ctx context.Context, slug string, message []byte) error
	Subscribe(slug string) (<-chan []byte, func())
}

// envelope is the persisted payload: the canonical state plus the schema
// version it was written with.
type envelope struct {
	State   json.RawMessage `json:"state"`
	Version int             `json:"version"`
}

// changeEnvelope is the published notification. Origin identifies the
// writing adapter so it can skip its own notifications on the way back.
type changeEnvelope struct {
	Origin  string          `json:"origin"`
	Payload json.RawMessage `json:"payload"`
}

// Adapter bridges a store's in-memory shape and the persisted snapshot.
// Writes are best-effort: a failed write logs and leaves the in-memory
// store authoritative. Reads recover from corruption by clearing the
// stored entry and reporting no persisted state.
type Adapter struct {
	slug    string
	origin  string
	storage SnapshotStorage
	feed    ChangeFeed
}

// NewAdapter creates an adapter for one slug. A nil feed disables change
// notifications; a nil storage disables persistence entirely.
func NewAdapter(slug string, storage SnapshotStorage, feed ChangeFeed) *Adapter {
	return &Adapter{
		slug:    slug,
		origin:  uuid.NewString(),
		storage: storage,
		feed:    feed,
	}
}

// Origin returns the adapter's identity on the change feed.
func (a *Adapter) Origin() string { return a.origin }

// Persist writes the snapshot and publishes a change notification. The
// store calls it outside its own lock, one write at a time.
func (a *Adapter) Persist(snap *Snapshot) {
	if a.storage == nil {
		return
	}

	state, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[Snapshot %s] Warning: failed to encode state: %v", a.slug, err)
		return
	}
	payload, err := json.Marshal(envelope{State: state, Version: schemaVersion})
	if err != nil {
		log.Printf("[Snapshot %s] Warning: failed to encode envelope: %v", a.slug, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := a.storage.Store(ctx, a.slug, payload); err != nil {
		log.Printf("[Snapshot %s] Warning: failed to persist: %v", a.slug, err)
		return
	}

	if a.feed == nil {
		return
	}
	message, err := json.Marshal(changeEnvelope{Origin: a.origin, Payload: payload})
	if err != nil {
		log.Printf("[Snapshot %s] Warning: failed to encode change event: %v", a.slug, err)
		return
	}
	if err := a.feed.Publish(ctx, a.slug, message); err != nil {
		log.Printf("[Snapshot %s] Warning: failed to publish change event: %v", a.slug, err)
	}
}

// Load reads and decodes the persisted snapshot. A missing entry returns
// (nil, nil). A corrupted entry is deleted and also returns (nil, nil):
// the store starts empty rather than failing.
func (a *Adapter) Load(ctx context.Context) (*Snapshot, error) {
	if a.storage == nil {
		return nil, nil
	}
	data, err := a.storage.Load(ctx, a.slug)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", a.slug, err)
	}
	if data == nil {
		return nil, nil
	}

	snap, err := decodeSnapshot(data)
	if err != nil {
		log.Printf("[Snapshot %s] Warning: corrupted snapshot, clearing: %v", a.slug, err)
		if delErr := a.storage.Delete(ctx, a.slug); delErr != nil {
			log.Printf("[Snapshot %s] Warning: failed to clear corrupted snapshot: %v", a.slug, delErr)
		}
		return nil, nil
	}
	return snap, nil
}

// decodeSnapshot parses a persisted envelope, migrating old schema
// versions before decoding into the current snapshot shape.
func decodeSnapshot(data []byte) (*Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Version <= 0 || env.Version > schemaVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", env.Version)
	}

	state := env.State
	if env.Version < schemaVersion {
		migrated, err := migrateState(state, env.Version)
		if err != nil {
			return nil, fmt.Errorf("migrate from version %d: %w", env.Version, err)
		}
		state = migrated
	}

	var snap Snapshot
	if err := json.Unmarshal(state, &snap); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &snap, nil
}
