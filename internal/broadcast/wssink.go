package broadcast

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSSink adapts a gorilla/websocket connection to the Subscriber
// interface. Writes are serialized through a buffered channel and a
// dedicated writer goroutine — gorilla's Conn is not safe for concurrent
// writes, so every send must go through one owner goroutine.
type WSSink struct {
	id       string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	closeOne sync.Once
}

// NewWSSink wraps an already-upgraded connection and starts its writer
// goroutine. Call Close when the connection's read loop exits.
func NewWSSink(id string, conn *websocket.Conn) *WSSink {
	s := &WSSink{
		id:   id,
		conn: conn,
		send: make(chan []byte, 32),
		done: make(chan struct{}),
	}
	go s.writePump()
	return s
}

func (s *WSSink) ID() string { return s.id }

// Send marshals event to JSON and queues it for the writer goroutine.
// Returns an error immediately if the sink's send buffer is full or the
// sink has already been closed, which the Hub treats as a dead subscriber.
func (s *WSSink) Send(event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broadcast: marshal event: %w", err)
	}
	select {
	case s.send <- payload:
		return nil
	case <-s.done:
		return fmt.Errorf("broadcast: sink %s closed", s.id)
	default:
		return fmt.Errorf("broadcast: sink %s send buffer full", s.id)
	}
}

func (s *WSSink) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the writer goroutine and closes the underlying connection.
// Safe to call more than once.
func (s *WSSink) Close() {
	s.closeOne.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}
