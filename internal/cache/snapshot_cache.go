package cache

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// SnapshotStore handles Redis operations for persisted questionnaire
// snapshots: one durable entry per slug, plus a pub/sub channel that
// notifies other processes when the entry changes.
type SnapshotStore interface {
	Load(ctx context.Context, slug string) ([]byte, error)
	Store(ctx context.Context, slug string, payload []byte) error
	Delete(ctx context.Context, slug string) error

	Publish(ctx context.Context, slug string, message []byte) error
	Subscribe(slug string) (<-chan []byte, func())
}

type snapshotStore struct {
	client *redis.Client
}

// NewSnapshotStore creates a new snapshot store
func NewSnapshotStore(client *redis.Client) SnapshotStore {
	return &snapshotStore{
		client: client,
	}
}

// Key helpers
func (c *snapshotStore) snapshotKey(slug string) string {
	return "qcache:" + slug + ":snapshot"
}

func (c *snapshotStore) changeChannel(slug string) string {
	return "qcache:" + slug + ":changes"
}

func (c *snapshotStore) Load(ctx context.Context, slug string) ([]byte, error) {
	data, err := c.client.Get(ctx, c.snapshotKey(slug)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Store writes the snapshot with no TTL: the entry is the durable copy
// of the cache, invalidated explicitly rather than by expiry.
func (c *snapshotStore) Store(ctx context.Context, slug string, payload []byte) error {
	return c.client.Set(ctx, c.snapshotKey(slug), payload, 0).Err()
}

func (c *snapshotStore) Delete(ctx context.Context, slug string) error {
	return c.client.Del(ctx, c.snapshotKey(slug)).Err()
}

func (c *snapshotStore) Publish(ctx context.Context, slug string, message []byte) error {
	return c.client.Publish(ctx, c.changeChannel(slug), message).Err()
}

// Subscribe returns a channel of change notifications for the slug and a
// cancel function. The channel closes after cancel is called.
func (c *snapshotStore) Subscribe(slug string) (<-chan []byte, func()) {
	sub := c.client.Subscribe(context.Background(), c.changeChannel(slug))
	out := make(chan []byte, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- []byte(msg.Payload)
		}
	}()

	return out, func() { _ = sub.Close() }
}
