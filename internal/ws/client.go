package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/fmoyana/stakeboard/internal/obslog"
	"github.com/fmoyana/stakeboard/pkg/wiredto"
)

// Client is one websocket connection. It doubles as the session registry
// endpoint: Send enqueues onto the per-connection writer, never blocking the
// caller.
type Client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	userID string
	name   string
	code   string
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{id: randID(), conn: conn, send: make(chan []byte, 64)}
}

func (c *Client) ID() string { return c.id }

func (c *Client) Send(event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		obslog.L().Warn("ws_encode_error", zap.String("event", event), zap.Error(err))
		return
	}
	env, err := json.Marshal(wiredto.Envelope{Event: event, Data: raw})
	if err != nil {
		return
	}
	select {
	case c.send <- env:
	default:
		// slow consumer, drop rather than stall the session
		obslog.L().Warn("ws_send_dropped", zap.String("endpoint_id", c.id), zap.String("event", event))
	}
}

func (c *Client) bind(userID, name, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
	if name != "" {
		c.name = name
	}
	c.code = code
}

func (c *Client) identity() (userID, name, code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.name, c.code
}

func randID() string {
	return uuid.NewString()
}

const pingInterval = 15 * time.Second
