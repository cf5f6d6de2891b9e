package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// Conn is the text-frame transport the protocol client runs on. Production
// uses a websocket; tests use an in-memory fake.
type Conn interface {
	// ReadText blocks until the next text frame arrives.
	ReadText(ctx context.Context) (string, error)
	// WriteText sends one text frame.
	WriteText(ctx context.Context, msg string) error
	Close() error
}

// Dialer opens the realtime socket for a session.
type Dialer func(ctx context.Context, socketURL, sessionID string) (Conn, error)

// DialSocket connects to the coordination server's websocket endpoint,
// presenting the session id as a cookie.
func DialSocket(ctx context.Context, socketURL, sessionID string) (Conn, error) {
	header := http.Header{}
	header.Set("Cookie", "S="+sessionID)

	c, _, err := websocket.Dial(ctx, socketURL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial socket: %w", err)
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadText(ctx context.Context) (string, error) {
	typ, data, err := c.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	if typ != websocket.MessageText {
		return "", fmt.Errorf("unexpected binary frame (%d bytes)", len(data))
	}
	return string(data), nil
}

func (c *wsConn) WriteText(ctx context.Context, msg string) error {
	return c.conn.Write(ctx, websocket.MessageText, []byte(msg))
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "shutting down")
}
