package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client wraps a websocket connection as a hub subscriber. Writes are
// serialised because gorilla connections allow one concurrent writer.
type Client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger zerolog.Logger
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger zerolog.Logger) *Client {
	return &Client{conn: conn, logger: logger}
}

// Send writes one text message to the connection.
func (c *Client) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Warn().Err(err).Msg("websocket send failed")
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}

var _ Subscriber = (*Client)(nil)
