package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/scoreflow/internal/command"
)

// ErrCommand wraps an error reported by the server for one command.
var ErrCommand = errors.New("remote: command failed")

// Client sends commands to a [Server]. Calls are serialised; a Client is
// safe for concurrent use.
type Client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID int
}

// Dial connects to the websocket endpoint at url (ws://host/ws).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", url, err)
	}
	return &Client{conn: conn}, nil
}

// Do executes op on the server and returns its result. Server-side
// failures are returned wrapped in [ErrCommand].
func (c *Client) Do(ctx context.Context, op command.Op, args ...int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := Request{ID: c.nextID, Op: Op(op), Args: args}
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		return 0, fmt.Errorf("remote: send %s: %w", op, err)
	}
	var resp Response
	if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
		return 0, fmt.Errorf("remote: receive %s: %w", op, err)
	}
	if resp.ID != req.ID {
		return 0, fmt.Errorf("remote: response id %d for request %d", resp.ID, req.ID)
	}
	if resp.Error != "" {
		return resp.Result, fmt.Errorf("%w: %s", ErrCommand, resp.Error)
	}
	return resp.Result, nil
}

// Close closes the connection normally.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}
