// Package bridge wires a single websocket connection to the terminal
// console: connection lifecycle events become console prints, console lines
// become outbound text messages. One bridge exists per invocation, either
// listening for exactly one inbound client or dialing out to a server.
package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/wscat/internal/console"
)

// closeGraceTimeout bounds the close frame write during graceful shutdown.
const closeGraceTimeout = time.Second

// Console is the slice of the terminal console a bridge drives.
type Console interface {
	Lines() <-chan console.Line
	Done() <-chan struct{}
	Print(msg string, color console.Color)
	Prompt()
	Clear()
	Pause()
	Resume()
}

// connEvent is one inbound event from a connection's read pump: either a
// received text payload or the error that ended the connection.
type connEvent struct {
	conn    *websocket.Conn
	payload string
	err     error
}

// readPump reads messages from conn into events until the connection dies.
// The done channel releases the pump when the bridge has already exited.
func readPump(conn *websocket.Conn, events chan<- connEvent, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case events <- connEvent{conn: conn, err: err}:
			case <-done:
			}
			return
		}
		select {
		case events <- connEvent{conn: conn, payload: string(data)}:
		case <-done:
			return
		}
	}
}

// isCloseError reports whether err represents the peer ending the websocket
// session (close frame received, or the transport dropping mid-session),
// as opposed to a handshake or I/O failure.
func isCloseError(err error) bool {
	var closeErr *websocket.CloseError
	return errors.As(err, &closeErr)
}

// formatConnError renders a connection error the way the console reports it.
// Close errors carry a numeric status code worth surfacing.
func formatConnError(err error) string {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Text != "" {
			return fmt.Sprintf("error: %d %s", closeErr.Code, closeErr.Text)
		}
		return fmt.Sprintf("error: %d", closeErr.Code)
	}
	return "error: " + err.Error()
}

// closeQuietly performs a best-effort graceful shutdown of conn: send a
// normal-closure close frame, then tear down the transport. Errors are
// ignored; the connection may already be gone.
func closeQuietly(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	deadline := time.Now().Add(closeGraceTimeout)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = conn.Close()
}
