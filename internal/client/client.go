// Package client is the WebSocket client used by the CLI: it dials the
// hub, authenticates with the cached token, and reconnects with
// exponential backoff when the connection drops.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/harmonycode/harmonycode/internal/protocol"
)

// newDialBackoff is the reconnect schedule: 1s to 30s, 2x, with jitter.
func newDialBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// Options configures a client connection.
type Options struct {
	URL         string // ws://host:port/ws
	DisplayName string
	Role        string
	Perspective string
	Creds       *CredsStore
}

// Client is one authenticated hub connection.
type Client struct {
	opts Options
	conn *websocket.Conn

	// Auth reply for the current connection.
	Auth protocol.AuthSuccess
}

// AuthError marks a rejected authentication; the CLI maps it to its own
// exit code.
type AuthError struct{ Reason string }

func (e *AuthError) Error() string { return "authentication failed: " + e.Reason }

// ConnectError marks a failed dial, distinct from auth rejection.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect %s: %v", e.URL, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// Dial connects and authenticates once.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c := &Client{opts: opts}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// DialRetry keeps dialing with backoff until ctx is done. Auth rejections
// are permanent and returned immediately.
func DialRetry(ctx context.Context, opts Options) (*Client, error) {
	bo := newDialBackoff()
	for {
		c, err := Dial(ctx, opts)
		if err == nil {
			return c, nil
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		wait := bo.NextBackOff()
		slog.Warn("connect failed, retrying", "err", err, "in", wait)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return &ConnectError{URL: c.opts.URL, Err: err}
	}
	c.conn = conn

	req := protocol.AuthRequest{
		DisplayName: c.opts.DisplayName,
		Role:        c.opts.Role,
		Perspective: c.opts.Perspective,
	}
	if c.opts.Creds != nil {
		if token, ok := c.opts.Creds.Token(c.opts.DisplayName); ok {
			req.AuthToken = token
		}
	}
	if err := c.Send(protocol.TypeAuth, req); err != nil {
		conn.Close()
		return err
	}

	frame, err := c.Read()
	if err != nil {
		conn.Close()
		return err
	}
	switch frame.Type {
	case protocol.TypeAuthSuccess:
		if err := frame.Payload(&c.Auth); err != nil {
			conn.Close()
			return err
		}
	case protocol.TypeAuthFailed:
		var failed struct {
			Reason string `json:"reason"`
		}
		frame.Payload(&failed)
		conn.Close()
		return &AuthError{Reason: failed.Reason}
	default:
		conn.Close()
		return fmt.Errorf("unexpected frame %q during auth", frame.Type)
	}

	if c.Auth.AuthToken != "" && c.opts.Creds != nil {
		if err := c.opts.Creds.Save(c.opts.DisplayName, c.Auth.AgentID, c.Auth.AuthToken); err != nil {
			slog.Warn("persist auth token", "err", err)
		}
	}
	return nil
}

// Send marshals v, forcing the frame type field, and writes it.
func (c *Client) Send(frameType string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return err
	}
	obj["type"] = frameType
	return c.conn.WriteJSON(obj)
}

// Read blocks for the next frame.
func (c *Client) Read() (*protocol.Frame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.DecodeFrame(data)
}

// Expect reads frames until one of the wanted type (or an error frame)
// arrives.
func (c *Client) Expect(frameType string) (*protocol.Frame, error) {
	for {
		frame, err := c.Read()
		if err != nil {
			return nil, err
		}
		if frame.Type == frameType {
			return frame, nil
		}
		if frame.Type == protocol.TypeError {
			var ef protocol.ErrorFrame
			frame.Payload(&ef)
			if ef.Error != nil {
				return nil, ef.Error
			}
			return nil, fmt.Errorf("server error")
		}
	}
}

// Close shuts the connection down.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}
