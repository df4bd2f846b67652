package feed

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	reconnectBase = time.Second
	reconnectCap  = 30 * time.Second
)

// Event types pushed by the collaborator's session stream
const (
	EventSessionCompleted = "session.completed"
	EventSessionUpdated   = "session.updated"
)

// Event is one notification from the session event stream.
type Event struct {
	Type            string `json:"type"`
	QuestionnaireID string `json:"questionnaireId"`
	SessionID       string `json:"sessionId,omitempty"`
}

// Client maintains a WebSocket connection to the session event stream,
// reconnecting with capped backoff. onOnline reports connectivity
// transitions; onEvent receives each decoded event. Both callbacks run
// on the client's goroutine and must not block.
type Client struct {
	url      string
	dialer   *websocket.Dialer
	onEvent  func(Event)
	onOnline func(bool)

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewClient creates a feed client. Call Start to connect.
func NewClient(url string, onEvent func(Event), onOnline func(bool)) *Client {
	return &Client{
		url:      url,
		dialer:   websocket.DefaultDialer,
		onEvent:  onEvent,
		onOnline: onOnline,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the connect/read loop.
func (c *Client) Start() {
	go c.run()
}

// Stop disconnects and waits for the loop to exit.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

func (c *Client) run() {
	defer close(c.done)

	backoff := reconnectBase
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			log.Printf("[Feed] Warning: dial %s failed: %v", c.url, err)
			select {
			case <-c.stop:
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectCap {
				backoff = reconnectCap
			}
			continue
		}

		backoff = reconnectBase
		log.Printf("[Feed] connected to %s", c.url)
		c.setOnline(true)
		c.serve(conn)
		c.setOnline(false)

		select {
		case <-c.stop:
			return
		default:
			log.Printf("[Feed] Warning: connection lost, reconnecting")
		}
	}
}

// serve reads events until the connection drops or Stop is called. A
// side goroutine pings on pingPeriod and closes the connection on stop
// so the read unblocks.
func (c *Client) serve(conn *websocket.Conn) {
	readDone := make(chan struct{})
	pingerDone := make(chan struct{})
	defer func() {
		close(readDone)
		<-pingerDone
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer func() {
			ticker.Stop()
			conn.Close()
			close(pingerDone)
		}()
		for {
			select {
			case <-readDone:
				return
			case <-c.stop:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[Feed] Warning: read error: %v", err)
			}
			return
		}

		var event Event
		if err := json.Unmarshal(message, &event); err != nil {
			log.Printf("[Feed] Warning: malformed event: %v", err)
			continue
		}
		if c.onEvent != nil {
			c.onEvent(event)
		}
	}
}

func (c *Client) setOnline(online bool) {
	if c.onOnline != nil {
		c.onOnline(online)
	}
}
