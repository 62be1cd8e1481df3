// Package wsconn presents a WebSocket carrying binary messages as a byte
// stream, so AMQP framing can run over it unchanged.
package wsconn

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocol is negotiated by AMQP-over-WebSocket endpoints.
const Subprotocol = "amqp"

// Conn adapts a *websocket.Conn to net.Conn. Each Write is sent as one
// binary message; reads span message boundaries.
type Conn struct {
	ws        *websocket.Conn
	readLock  sync.Mutex
	writeLock sync.Mutex
	reader    io.Reader
	closeOnce sync.Once
	closeErr  error
}

var _ net.Conn = (*Conn)(nil)

// New wraps ws.
func New(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

// WebSocket returns the underlying connection.
func (conn *Conn) WebSocket() *websocket.Conn { return conn.ws }

// Read reads the payload of binary messages; other message types are skipped.
func (conn *Conn) Read(p []byte) (int, error) {
	conn.readLock.Lock()
	defer conn.readLock.Unlock()

	for {
		if conn.reader == nil {
			messageType, reader, err := conn.ws.NextReader()
			if err != nil {
				return 0, translate(err)
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			conn.reader = reader
		}

		n, err := conn.reader.Read(p)
		if errors.Is(err, io.EOF) {
			conn.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, translate(err)
	}
}

// Write sends p as one binary message.
func (conn *Conn) Write(p []byte) (int, error) {
	conn.writeLock.Lock()
	defer conn.writeLock.Unlock()

	if err := conn.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, translate(err)
	}
	return len(p), nil
}

// closeGrace bounds the close message; a stalled peer must not delay the
// socket teardown.
const closeGrace = 250 * time.Millisecond

// Close sends a close message when possible and closes the socket. It does
// not wait for a Write in progress: closing the socket fails that Write.
func (conn *Conn) Close() error {
	conn.closeOnce.Do(func() {
		message := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.ws.WriteControl(websocket.CloseMessage, message, time.Now().Add(closeGrace))
		conn.closeErr = conn.ws.Close()
	})
	return conn.closeErr
}

func (conn *Conn) LocalAddr() net.Addr  { return conn.ws.LocalAddr() }
func (conn *Conn) RemoteAddr() net.Addr { return conn.ws.RemoteAddr() }

func (conn *Conn) SetDeadline(deadline time.Time) error {
	if err := conn.ws.SetReadDeadline(deadline); err != nil {
		return err
	}
	return conn.ws.SetWriteDeadline(deadline)
}

func (conn *Conn) SetReadDeadline(deadline time.Time) error {
	return conn.ws.SetReadDeadline(deadline)
}

func (conn *Conn) SetWriteDeadline(deadline time.Time) error {
	return conn.ws.SetWriteDeadline(deadline)
}

// translate maps an orderly WebSocket close to io.EOF.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return err
}
