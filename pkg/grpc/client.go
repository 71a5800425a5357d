package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/keyspace/pkg/errors"
)

// Client is a JSON-over-TCP RPC client. Calls are serialised on one
// connection.
type Client struct {
	conn    net.Conn
	encoder *json.Encoder
	decoder *json.Decoder
	mu      sync.Mutex
	nextID  atomic.Int64
}

func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", apperrors.ErrUnavailable, addr, err)
	}
	return &Client{
		conn:    conn,
		encoder: json.NewEncoder(conn),
		decoder: json.NewDecoder(conn),
	}, nil
}

// Call invokes method and decodes the reply into result. Cancelling ctx, or
// hitting its deadline, unblocks a pending read. A remote error is rebuilt with its original sentinel.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshaling params: %w", err)
	}
	req := Request{
		Method: method,
		ID:     strconv.FormatInt(c.nextID.Add(1), 10),
		Params: raw,
	}

	c.conn.SetDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.encoder.Encode(req); err != nil {
		return c.wrapIOError(ctx, "sending request", err)
	}
	var resp Response
	if err := c.decoder.Decode(&resp); err != nil {
		return c.wrapIOError(ctx, "reading response", err)
	}
	if resp.Error != nil {
		return apperrors.FromCode(resp.Error.Code, resp.Error.Message)
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return fmt.Errorf("unmarshaling into result: %w", err)
		}
	}
	return nil
}

func (c *Client) wrapIOError(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %v", apperrors.ErrUnavailable, op, err)
}

func (c *Client) Close() error {
	return c.conn.Close()
}
