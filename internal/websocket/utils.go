package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	readWait  = 5 * time.Minute
)

// Sender delivers one typed event to the client.
type Sender interface {
	Send(v interface{}) error
}

// Writer serializes writes to a connection. gorilla/websocket allows a
// single concurrent writer, and session events come from several
// goroutines.
type Writer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewWriter(conn *websocket.Conn) *Writer {
	return &Writer{conn: conn}
}

// Send writes v as JSON.
func (w *Writer) Send(v interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriteTyped(w.conn, v)
}

// SendError writes a typed ErrorResponse.
func (w *Writer) SendError(code, message string, fatal bool) error {
	return w.Send(ErrorResponse{
		Event:   EventError,
		Code:    code,
		Message: message,
		Fatal:   fatal,
	})
}

// WriteTyped sends a strongly-typed response payload over the WebSocket.
// Callers sharing a connection must go through a Writer.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// ReadMessage reads one frame with a read deadline.
func ReadMessage(conn *websocket.Conn) (int, []byte, error) {
	conn.SetReadDeadline(time.Now().Add(readWait))
	return conn.ReadMessage()
}
