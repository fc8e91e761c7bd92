package bridge

import (
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/wscat/internal/console"
)

// startServer runs a server bridge on a free port and returns its ws URL.
func startServer(t *testing.T, con *stubConsole, opts Options) (*Server, string, chan error) {
	t.Helper()
	srv := NewServer(con, 0, opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	runDone := make(chan error, 1)
	go func() { runDone <- srv.Run(ctx) }()

	con.waitForPrint(t, "listening on port")

	addr, ok := srv.Addr().(*net.TCPAddr)
	if !ok {
		t.Fatalf("unexpected listen address type %T", srv.Addr())
	}
	return srv, fmt.Sprintf("ws://127.0.0.1:%d", addr.Port), runDone
}

// TestServerBridgesSingleClient walks the full server session: listen,
// bridge one client both directions, return to waiting on disconnect, then
// bridge a fresh client.
func TestServerBridgesSingleClient(t *testing.T) {
	con := newStubConsole()
	_, wsURL, runDone := startServer(t, con, Options{})

	// No client yet; console input is paused
	con.waitForPaused(t, true)

	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	con.waitForPrint(t, "client connected")
	con.waitForPaused(t, false)

	// Console line goes out to the bridged client
	con.lines <- console.Line{Text: "hello client", Piped: true}
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if string(data) != "hello client" {
		t.Errorf("client received %q, want %q", data, "hello client")
	}

	// Client message lands on the console with the inbound marker
	if err := client.WriteMessage(websocket.TextMessage, []byte("hello server")); err != nil {
		t.Fatalf("client write failed: %v", err)
	}
	con.waitForPrint(t, "< hello server")

	// Disconnect pauses the console and frees the slot
	client.Close()
	con.waitForPrint(t, "disconnected")
	con.waitForPaused(t, true)

	// A fresh client can now connect
	client2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to reconnect: %v", err)
	}
	con.waitForPrint(t, "client connected")
	client2.Close()

	close(con.done)
	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after console EOF")
	}
}

// TestServerRejectsSecondClient tests the one-client invariant: an extra
// connection is terminated immediately and the bridged session is untouched.
func TestServerRejectsSecondClient(t *testing.T) {
	con := newStubConsole()
	_, wsURL, _ := startServer(t, con, Options{})

	first, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect first client: %v", err)
	}
	defer first.Close()
	con.waitForPrint(t, "client connected")

	// The second handshake completes at the HTTP layer, then the bridge
	// kills the connection without a close frame.
	second, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect second client: %v", err)
	}
	defer second.Close()

	second.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("expected second client to be terminated")
	}

	// The first client is still bridged
	if err := first.WriteMessage(websocket.TextMessage, []byte("still here")); err != nil {
		t.Fatalf("first client write failed: %v", err)
	}
	con.waitForPrint(t, "< still here")

	connected := 0
	for _, msg := range con.allPrints() {
		if msg == "client connected" {
			connected++
		}
	}
	if connected != 1 {
		t.Errorf("got %d connected notices, want 1", connected)
	}
}

// TestServerConsoleEOFClosesClientGracefully tests that ending the console
// sends a close frame to the bridged client and Run reports success.
func TestServerConsoleEOFClosesClientGracefully(t *testing.T) {
	con := newStubConsole()
	_, wsURL, runDone := startServer(t, con, Options{})

	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()
	con.waitForPrint(t, "client connected")

	close(con.done)

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after console EOF")
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = client.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("client saw %v, want normal closure", err)
	}
}

// TestServerDropsLinesWithNoClient tests that input entered while waiting
// for a client is discarded, not queued for the next client.
func TestServerDropsLinesWithNoClient(t *testing.T) {
	con := newStubConsole()
	_, wsURL, _ := startServer(t, con, Options{})

	con.lines <- console.Line{Text: "nobody home", Piped: true}

	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer client.Close()
	con.waitForPrint(t, "client connected")

	con.lines <- console.Line{Text: "delivered", Piped: true}

	// The first message the client sees is the post-connect line
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("client read failed: %v", err)
	}
	if string(data) != "delivered" {
		t.Errorf("client received %q, want %q", data, "delivered")
	}
}

func TestServerListenErrorReturnsError(t *testing.T) {
	// Occupy a port so the bridge cannot bind it
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	defer listener.Close()
	port := listener.Addr().(*net.TCPAddr).Port

	con := newStubConsole()
	srv := NewServer(con, port, Options{}, nil)

	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}

	found := false
	for _, msg := range con.allPrints() {
		if strings.HasPrefix(msg, "error: ") {
			found = true
		}
	}
	if !found {
		t.Errorf("listen error not printed; prints: %v", con.allPrints())
	}
}

func TestServerUnsupportedProtocolVersion(t *testing.T) {
	con := newStubConsole()
	srv := NewServer(con, 0, Options{ProtocolVersion: 8}, nil)

	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("expected error for unsupported protocol version")
	}
	con.waitForPrint(t, "protocol version 8")
}
