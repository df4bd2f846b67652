package store

import (
	"context"
	"errors"
	"sync"

	"formsight/internal/model"
)

// memStorage is an in-memory SnapshotStorage for tests.
type memStorage struct {
	mu      sync.Mutex
	entries map[string][]byte
	failSet bool
}

func newMemStorage() *memStorage {
	return &memStorage{entries: make(map[string][]byte)}
}

func (m *memStorage) Load(_ context.Context, slug string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[slug]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), data...), nil
}

func (m *memStorage) Store(_ context.Context, slug string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSet {
		return errors.New("quota exceeded")
	}
	m.entries[slug] = append([]byte(nil), payload...)
	return nil
}

func (m *memStorage) Delete(_ context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, slug)
	return nil
}

func (m *memStorage) get(slug string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.entries[slug]
	return data, ok
}

func (m *memStorage) put(slug string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[slug] = payload
}

// memFeed is an in-memory ChangeFeed delivering published messages to
// every subscriber of the slug.
type memFeed struct {
	mu   sync.Mutex
	subs map[string][]chan []byte
}

func newMemFeed() *memFeed {
	return &memFeed{subs: make(map[string][]chan []byte)}
}

func (f *memFeed) Publish(_ context.Context, slug string, message []byte) error {
	f.mu.Lock()
	subs := append([]chan []byte(nil), f.subs[slug]...)
	f.mu.Unlock()

	for _, ch := range subs {
		ch <- append([]byte(nil), message...)
	}
	return nil
}

func (f *memFeed) Subscribe(slug string) (<-chan []byte, func()) {
	ch := make(chan []byte, 16)
	f.mu.Lock()
	f.subs[slug] = append(f.subs[slug], ch)
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for i, sub := range f.subs[slug] {
			if sub == ch {
				f.subs[slug] = append(f.subs[slug][:i], f.subs[slug][i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// reentrantPersister reads store state from inside Persist, which only
// works when the store hands snapshots over without holding its lock.
type reentrantPersister struct {
	store *Store

	mu   sync.Mutex
	seen []int
}

func (p *reentrantPersister) Persist(snap *Snapshot) {
	_ = p.store.CacheMeta()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, snap.UserSessions.Len())
}

// fakeSource is a scriptable QuerySource for engine tests.
type fakeSource struct {
	mu        sync.Mutex
	listCalls int
	listErr   error
	stubs     []model.SessionStub

	sessionCalls map[string]int
	sessions     map[string]*model.SessionDetail
	sessionErrs  map[string]error

	// When non-nil, GetUserSessionIDs blocks until the channel closes.
	block chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		sessionCalls: make(map[string]int),
		sessions:     make(map[string]*model.SessionDetail),
		sessionErrs:  make(map[string]error),
	}
}

func (f *fakeSource) GetUserSessionIDs(_ context.Context, _ string) (*model.SessionIDList, error) {
	f.mu.Lock()
	f.listCalls++
	block := f.block
	err := f.listErr
	stubs := append([]model.SessionStub(nil), f.stubs...)
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &model.SessionIDList{Sessions: stubs}, nil
}

func (f *fakeSource) GetSession(_ context.Context, sessionID string) (*model.SessionDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionCalls[sessionID]++
	if err := f.sessionErrs[sessionID]; err != nil {
		return nil, err
	}
	return f.sessions[sessionID], nil
}

func (f *fakeSource) listCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}
