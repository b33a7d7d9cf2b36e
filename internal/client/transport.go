package client

import (
	"context"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/agentdeck/agentdeck/internal/protocol"
)

// TerminalTransport is one live terminal connection. Implementations must
// tolerate concurrent Send and Receive from different goroutines.
type TerminalTransport interface {
	Send(ctx context.Context, f protocol.Frame) error
	Receive(ctx context.Context) (protocol.Frame, error)
	Close() error
}

// TerminalDialer opens terminal connections. Injectable so controller tests
// can drive the state machine without a server.
type TerminalDialer interface {
	Dial(ctx context.Context, sessionID string) (TerminalTransport, error)
}

// wsTransport carries terminal frames over a coder/websocket connection.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) Send(ctx context.Context, f protocol.Frame) error {
	return wsjson.Write(ctx, t.conn, f)
}

func (t *wsTransport) Receive(ctx context.Context) (protocol.Frame, error) {
	var f protocol.Frame
	err := wsjson.Read(ctx, t.conn, &f)
	return f, err
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}

// WSDialer dials the daemon's terminal WebSocket endpoint.
type WSDialer struct {
	// BaseURL is the daemon's HTTP base, e.g. "http://127.0.0.1:18790".
	BaseURL string
}

func (d *WSDialer) Dial(ctx context.Context, sessionID string) (TerminalTransport, error) {
	wsURL := "ws" + strings.TrimPrefix(d.BaseURL, "http") +
		"/ws/terminal?session=" + url.QueryEscape(sessionID)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	return &wsTransport{conn: conn}, nil
}
