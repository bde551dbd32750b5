package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrBufferFull    = errors.New("session send buffer full")
)

// Session is one live connection of a user. Writes go through a bounded buffer drained by a
// single writer goroutine; a session whose buffer fills up is closed instead of blocking fan-out.
type Session struct {
	ID     string
	UserID int
	Info   ConnInfo

	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	once       sync.Once
	writeWait  time.Duration
	pingPeriod time.Duration
}

func newSession(conn *websocket.Conn, info ConnInfo, opts Options) *Session {
	return &Session{
		ID:         info.ConnID,
		UserID:     info.UserID,
		Info:       info,
		conn:       conn,
		send:       make(chan []byte, opts.SendBuffer),
		done:       make(chan struct{}),
		writeWait:  opts.WriteWait,
		pingPeriod: opts.PongWait * 9 / 10,
	}
}

// Start launches the write loop. Call it once.
func (s *Session) Start() {
	go s.writeLoop()
}

// Enqueue queues payload for delivery without blocking.
func (s *Session) Enqueue(payload []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.Close(websocket.ClosePolicyViolation, "send buffer full")
		return ErrBufferFull
	}
}

// Done is closed once the session is closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Close(code int, reason string) {
	s.once.Do(func() {
		close(s.done)
		if s.conn == nil {
			return
		}
		deadline := time.Now().Add(s.writeWait)
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		_ = s.conn.Close()
	})
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			if err := s.write(websocket.TextMessage, payload); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "write failed")
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				s.Close(websocket.CloseAbnormalClosure, "ping failed")
				return
			}
		}
	}
}

func (s *Session) write(messageType int, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, payload)
}
