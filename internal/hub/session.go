package hub

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harmonycode/harmonycode/internal/id"
	"github.com/harmonycode/harmonycode/internal/metrics"
	"github.com/harmonycode/harmonycode/internal/protocol"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
	maxMsgSize = 512 * 1024
)

// Conn is the subset of *websocket.Conn the session uses; tests substitute
// an in-memory pipe.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(string) error)
	Close() error
}

// Session is one live connection. All writes to the connection happen on
// writePump; all reads on readPump. Inbound frames dispatch in arrival
// order, so per-connection handling is FIFO.
type Session struct {
	ID string

	hub     *Hub
	conn    Conn
	queue   *outQueue
	limiter *tokenBucket

	done chan struct{}
	once sync.Once

	// Set on successful auth, read only by readPump's dispatch path and
	// under hub.mu for broadcast bookkeeping.
	mu          sync.Mutex
	agentID     string
	displayName string
	role        string
	joinedAt    time.Time
	editsCount  int
}

func (h *Hub) newSession(conn Conn) *Session {
	return &Session{
		ID:      id.New("sess"),
		hub:     h,
		conn:    conn,
		queue:   newOutQueue(h.queueSize),
		limiter: newTokenBucket(h.frameRate, h.frameBurst, h.now),
		done:    make(chan struct{}),
	}
}

// AgentID returns the authenticated agent id, empty before auth.
func (s *Session) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentID
}

// DisplayName returns the authenticated display name.
func (s *Session) DisplayName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.displayName
}

func (s *Session) bind(agentID, displayName, role string, at time.Time) {
	s.mu.Lock()
	s.agentID = agentID
	s.displayName = displayName
	s.role = role
	s.joinedAt = at
	s.mu.Unlock()
}

func (s *Session) bumpEdits() {
	s.mu.Lock()
	s.editsCount++
	s.mu.Unlock()
}

// Send queues a frame for delivery. A false return means the session hit
// the slow-consumer limit and is closing.
func (s *Session) Send(frameType string, data []byte) bool {
	ok := s.queue.push(outFrame{kind: frameType, data: data})
	if ok {
		metrics.FramesOut.WithLabelValues(frameType).Inc()
	}
	return ok
}

// SendJSON marshals v and queues it.
func (s *Session) SendJSON(frameType string, v any) bool {
	return s.Send(frameType, protocol.Marshal(v))
}

func (s *Session) sendError(err error) {
	e := protocol.AsError(err)
	s.SendJSON(protocol.TypeError, protocol.ErrorFrame{Type: protocol.TypeError, Error: e})
}

// close tears the session down exactly once.
func (s *Session) close() {
	s.once.Do(func() {
		close(s.done)
		s.queue.close()
		s.conn.Close()
		s.hub.unregister(s)
	})
}

// readPump owns all reads. Frames are decoded and dispatched inline,
// which preserves per-connection FIFO ordering.
func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMsgSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("session read error", "session", s.ID, "err", err)
			}
			return
		}
		if !s.limiter.Allow() {
			metrics.FramesDropped.Inc()
			continue
		}
		frame, err := protocol.DecodeFrame(payload)
		if err != nil {
			s.sendError(protocol.NewError(protocol.CodeInternal, "malformed frame"))
			continue
		}
		metrics.FramesIn.WithLabelValues(frame.Type).Inc()
		s.hub.dispatch(s, frame)
	}
}

// writePump owns all writes: queued frames, pings, and the close
// handshake. A queue closed by overflow gets a final SLOW_CONSUMER error
// frame before the connection drops.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.queue.notify:
			for {
				f, ok := s.queue.pop()
				if !ok {
					break
				}
				s.conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := s.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
					slog.Debug("session write failed", "session", s.ID, "err", err)
					return
				}
			}
			if closed, overflow := s.queue.state(); closed {
				if overflow {
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					s.conn.WriteMessage(websocket.TextMessage, protocol.Marshal(protocol.ErrorFrame{
						Type:  protocol.TypeError,
						Error: protocol.NewError(protocol.CodeSlowConsumer, "outbound queue overflow"),
					}))
				}
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}
