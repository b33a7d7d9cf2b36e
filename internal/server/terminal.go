package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/protocol"
	"github.com/agentdeck/agentdeck/internal/pty"
	"github.com/agentdeck/agentdeck/internal/shared"
	"github.com/agentdeck/agentdeck/internal/store"
)

// termClient is one terminal WebSocket connection. The mutex serializes
// writes: the PTY pump, the read loop's error replies, and the replay frame
// all share the connection.
type termClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *termClient) writeFrame(ctx context.Context, f protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, f)
}

// wsSink bridges PTY output into the write pump. Frames are handed over on
// a channel so the pump controls ordering: the replay frame goes out before
// anything the sink delivers, even when Exit fires during Attach.
type wsSink struct {
	frames  chan protocol.Frame
	evicted chan struct{}
	quit    chan struct{}

	evictOnce sync.Once
}

func newWSSink() *wsSink {
	return &wsSink{
		frames:  make(chan protocol.Frame, 256),
		evicted: make(chan struct{}),
		quit:    make(chan struct{}),
	}
}

func (s *wsSink) send(f protocol.Frame) {
	select {
	case s.frames <- f:
	case <-s.quit:
	}
}

func (s *wsSink) Output(data []byte) {
	s.send(protocol.Frame{Type: protocol.FrameOutput, Data: string(data)})
}

func (s *wsSink) Exit() {
	s.send(protocol.Frame{Type: protocol.FrameExit})
}

func (s *wsSink) Evicted() {
	s.evictOnce.Do(func() { close(s.evicted) })
}

func (s *Server) handleTerminalWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session required", http.StatusBadRequest)
		return
	}
	sess, err := s.cfg.Store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	connID := shared.NewConnID()
	ctx := shared.WithConnID(shared.WithSessionID(r.Context(), sessionID), connID)

	proc, err := s.cfg.PTYs.Acquire(sessionID, sess.Workdir)
	if err != nil {
		slog.Error("ws: pty start failed", "session_id", sessionID, "error", err)
		_ = wsjson.Write(ctx, conn, protocol.Frame{Type: protocol.FrameError, Message: "failed to start terminal"})
		_ = conn.Close(websocket.StatusInternalError, "pty start failed")
		return
	}

	client := &termClient{conn: conn}
	s.addClient(client)
	slog.Info("ws: terminal connected", "session_id", sessionID, "conn_id", connID)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.TerminalConnects.Add(ctx, 1)
		s.cfg.Metrics.ActiveTerminals.Add(ctx, 1)
	}
	s.publish(bus.TopicTerminalAttached, bus.TerminalEvent{SessionID: sessionID, ConnID: connID})
	s.touch(ctx, sessionID)

	sink := newWSSink()
	replay := proc.Attach(sink)
	if len(replay) > 0 {
		if err := client.writeFrame(ctx, protocol.Frame{Type: protocol.FrameOutput, Data: string(replay)}); err != nil {
			slog.Error("ws: replay write failed", "session_id", sessionID, "conn_id", connID, "error", err)
		}
	}

	defer func() {
		close(sink.quit)
		proc.Detach(sink)
		s.removeClient(client)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ActiveTerminals.Add(ctx, -1)
		}
		s.publish(bus.TopicTerminalDetached, bus.TerminalEvent{SessionID: sessionID, ConnID: connID})
		slog.Info("ws: terminal disconnecting", "session_id", sessionID, "conn_id", connID)
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	go s.pumpOutput(ctx, client, sink)
	s.readFrames(ctx, client, proc)
}

// pumpOutput relays PTY frames to the client until the process exits, the
// sink is evicted by a newer attach, or the connection tears down. The
// session and connection ids ride on the context set up at accept time.
func (s *Server) pumpOutput(ctx context.Context, client *termClient, sink *wsSink) {
	sessionID, connID := shared.SessionID(ctx), shared.ConnID(ctx)
	for {
		select {
		case f := <-sink.frames:
			if err := client.writeFrame(ctx, f); err != nil {
				return
			}
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.TerminalFrames.Add(ctx, 1)
				if f.Type == protocol.FrameOutput {
					s.cfg.Metrics.OutputBytes.Add(ctx, int64(len(f.Data)))
				}
			}
			if f.Type == protocol.FrameExit {
				s.publish(bus.TopicTerminalExited, bus.TerminalEvent{SessionID: sessionID, ConnID: connID})
				_ = client.conn.Close(websocket.StatusNormalClosure, "process exited")
				return
			}
		case <-sink.evicted:
			slog.Info("ws: terminal superseded", "session_id", sessionID, "conn_id", connID)
			_ = client.conn.Close(websocket.StatusPolicyViolation, "session attached elsewhere")
			return
		case <-sink.quit:
			return
		}
	}
}

// readFrames handles client → server frames until the connection closes.
// Malformed frames are logged and dropped without closing the channel.
func (s *Server) readFrames(ctx context.Context, client *termClient, proc *pty.Proc) {
	sessionID, connID := shared.SessionID(ctx), shared.ConnID(ctx)
	for {
		var f protocol.Frame
		if err := wsjson.Read(ctx, client.conn, &f); err != nil {
			return
		}
		if err := f.Validate(); err != nil {
			slog.Warn("ws: dropping malformed frame", "session_id", sessionID, "conn_id", connID, "error", err)
			continue
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.TerminalFrames.Add(ctx, 1)
		}
		switch f.Type {
		case protocol.FrameInput:
			if err := proc.Write([]byte(f.Data)); err != nil {
				_ = client.writeFrame(ctx, protocol.Frame{Type: protocol.FrameError, Message: err.Error()})
				continue
			}
			s.touch(ctx, sessionID)
		case protocol.FrameResize:
			if err := proc.Resize(f.Cols, f.Rows); err != nil {
				slog.Warn("ws: resize failed", "session_id", sessionID, "cols", f.Cols, "rows", f.Rows, "error", err)
			}
		default:
			// Server-to-client types arriving from a client are dropped.
			slog.Warn("ws: unexpected frame direction", "session_id", sessionID, "type", f.Type)
		}
	}
}
