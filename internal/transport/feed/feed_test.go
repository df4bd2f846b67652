package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

// feedServer is a scriptable WebSocket endpoint: every accepted
// connection's outbound side is handed to the test.
type feedServer struct {
	server *httptest.Server

	mu    sync.Mutex
	conns []*websocket.Conn
	dials int
}

func newFeedServer(t *testing.T) *feedServer {
	t.Helper()
	fs := &feedServer{}
	upgrader := websocket.Upgrader{}

	fs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fs.mu.Lock()
		fs.conns = append(fs.conns, conn)
		fs.dials++
		fs.mu.Unlock()

		// Drain control frames so pings get their pong replies.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return fs
}

// close shuts down every accepted connection and the listener. Tests
// defer it after goleak's verify so it runs first.
func (fs *feedServer) close() {
	fs.mu.Lock()
	for _, conn := range fs.conns {
		conn.Close()
	}
	fs.mu.Unlock()
	fs.server.Close()
}

func (fs *feedServer) url() string {
	return "ws" + strings.TrimPrefix(fs.server.URL, "http")
}

func (fs *feedServer) dialCount() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dials
}

func (fs *feedServer) send(t *testing.T, payload string) {
	t.Helper()
	fs.mu.Lock()
	conn := fs.conns[len(fs.conns)-1]
	fs.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func (fs *feedServer) dropCurrent() {
	fs.mu.Lock()
	conn := fs.conns[len(fs.conns)-1]
	fs.mu.Unlock()
	conn.Close()
}

func TestClientDeliversEvents(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := newFeedServer(t)
	defer fs.close()

	events := make(chan Event, 4)
	online := make(chan bool, 4)
	client := NewClient(fs.url(), func(e Event) { events <- e }, func(up bool) { online <- up })
	client.Start()
	defer client.Stop()

	select {
	case up := <-online:
		assert.True(t, up)
	case <-time.After(5 * time.Second):
		t.Fatal("client never came online")
	}

	fs.send(t, `{"type":"session.completed","questionnaireId":"qn-1","sessionId":"s1"}`)

	select {
	case e := <-events:
		assert.Equal(t, EventSessionCompleted, e.Type)
		assert.Equal(t, "qn-1", e.QuestionnaireID)
		assert.Equal(t, "s1", e.SessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}
}

// A malformed frame is skipped; the stream keeps flowing.
func TestClientSkipsMalformedEvents(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	events := make(chan Event, 4)
	online := make(chan bool, 4)
	client := NewClient(fs.url(), func(e Event) { events <- e }, func(up bool) { online <- up })
	client.Start()
	defer client.Stop()

	require.Eventually(t, func() bool { return fs.dialCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	fs.send(t, `not json`)
	fs.send(t, `{"type":"session.updated","questionnaireId":"qn-1"}`)

	select {
	case e := <-events:
		assert.Equal(t, EventSessionUpdated, e.Type)
	case <-time.After(5 * time.Second):
		t.Fatal("event after malformed frame not delivered")
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	fs := newFeedServer(t)
	defer fs.close()

	var mu sync.Mutex
	var transitions []bool
	client := NewClient(fs.url(), nil, func(up bool) {
		mu.Lock()
		transitions = append(transitions, up)
		mu.Unlock()
	})
	client.Start()
	defer client.Stop()

	require.Eventually(t, func() bool { return fs.dialCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	fs.dropCurrent()

	require.Eventually(t, func() bool { return fs.dialCount() == 2 },
		5*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) >= 3
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []bool{true, false, true}, transitions[:3])
	mu.Unlock()
}

func TestClientStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	fs := newFeedServer(t)
	defer fs.close()
	client := NewClient(fs.url(), nil, nil)
	client.Start()

	require.Eventually(t, func() bool { return fs.dialCount() == 1 },
		5*time.Second, 10*time.Millisecond)

	client.Stop()
	client.Stop()
}
