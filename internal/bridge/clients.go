package bridge

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrClientClosed = errors.New("client closed")
var ErrClientBacklogged = errors.New("client backlog full")

// ChanClient is an in-process view. Messages are buffered; a full buffer counts
// as a failed delivery.
type ChanClient struct {
	id       string
	messages chan Message

	mu     sync.Mutex
	closed bool
}

func NewChanClient(buffer int) *ChanClient {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanClient{id: uuid.NewString(), messages: make(chan Message, buffer)}
}

func (c *ChanClient) ID() string { return c.id }

func (c *ChanClient) Messages() <-chan Message { return c.messages }

func (c *ChanClient) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.messages <- msg:
		return nil
	default:
		return ErrClientBacklogged
	}
}

func (c *ChanClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.messages)
	}
	return nil
}

type wsClient struct {
	id   string
	conn *websocket.Conn
}

func (c *wsClient) ID() string { return c.id }

func (c *wsClient) Send(ctx context.Context, msg Message) error {
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *wsClient) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// ServeHTTP upgrades the request to a websocket and keeps the view registered
// until the connection closes. Inbound JSON messages are dispatched.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: b.originPatterns,
	})
	if err != nil {
		b.logf("bridge websocket accept failed: %v", err)
		return
	}
	client := &wsClient{id: uuid.NewString(), conn: conn}
	unregister := b.Register(client)
	defer func() {
		unregister()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				b.logf("bridge client %s read failed: %v", client.id, err)
			}
			return
		}
		b.Dispatch(ctx, client, msg)
	}
}
