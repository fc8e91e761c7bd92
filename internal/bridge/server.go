package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/wscat/internal/console"
	"github.com/lawnchairsociety/wscat/internal/logger"
	"github.com/lawnchairsociety/wscat/internal/transcript"
)

// Server listens for websocket clients and bridges exactly one of them to
// the console at a time. Extra clients are terminated on arrival. When the
// bridged client disconnects the server pauses the console and goes back to
// waiting for the next one.
type Server struct {
	con  Console
	port int
	opts Options
	rec  *transcript.Recorder

	upgrader *websocket.Upgrader

	// active is touched only by the Run loop
	active *websocket.Conn

	incoming chan *websocket.Conn
	events   chan connEvent
	done     chan struct{}

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a server bridge listening on the given TCP port.
// Port 0 picks a free port; Addr reports the bound address once running.
func NewServer(con Console, port int, opts Options, rec *transcript.Recorder) *Server {
	return &Server{
		con:      con,
		port:     port,
		opts:     opts,
		rec:      rec,
		upgrader: opts.upgrader(),
		incoming: make(chan *websocket.Conn, 4),
		events:   make(chan connEvent, 16),
		done:     make(chan struct{}),
	}
}

// Addr returns the bound listen address, or nil before Run has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run binds the listen socket and services the session until the console
// ends it. A nil return means a console EOF; a listen failure or serve
// failure returns the error and callers exit non-zero.
func (s *Server) Run(ctx context.Context) error {
	if err := s.opts.validateProtocol(); err != nil {
		s.con.Print("error: "+err.Error(), console.Yellow)
		return err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		s.con.Print("error: "+err.Error(), console.Yellow)
		logger.Error("listen failed", "port", s.port, "error", err)
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	defer close(s.done)

	httpServer := &http.Server{Handler: http.HandlerFunc(s.handleUpgrade)}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()
	defer httpServer.Close()

	port := s.port
	if tcpAddr, ok := listener.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	s.con.Print(fmt.Sprintf("listening on port %d", port), console.Green)
	s.con.Pause()
	logger.Info("listening", "port", port)

	for {
		select {
		case conn := <-s.incoming:
			s.adoptClient(conn)

		case event := <-s.events:
			s.handleEvent(event)

		case line := <-s.con.Lines():
			s.handleLine(line)

		case <-s.con.Done():
			closeQuietly(s.active)
			return nil

		case err := <-serveErr:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			s.con.Print("error: "+err.Error(), console.Yellow)
			logger.Error("serve failed", "error", err)
			return err

		case <-ctx.Done():
			closeQuietly(s.active)
			return nil
		}
	}
}

// handleUpgrade runs on the HTTP server's goroutines: upgrade, then hand the
// connection to the Run loop, which owns all session state.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Debug("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	select {
	case s.incoming <- conn:
	case <-s.done:
		conn.Close()
	}
}

// adoptClient bridges a new connection, or terminates it when one is
// already bridged.
func (s *Server) adoptClient(conn *websocket.Conn) {
	if s.active != nil {
		logger.Info("rejecting extra client", "remote_addr", conn.RemoteAddr().String())
		conn.Close()
		return
	}
	s.active = conn
	s.con.Resume()
	s.con.Prompt()
	s.con.Print("client connected", console.Green)
	s.rec.Event("client connected")
	logger.Info("client connected", "remote_addr", conn.RemoteAddr().String())
	go readPump(conn, s.events, s.done)
}

// handleEvent processes one read-pump event from the bridged client.
func (s *Server) handleEvent(event connEvent) {
	if event.conn != s.active {
		// Stale pump from a connection that was already replaced or
		// terminated.
		return
	}
	if event.err != nil {
		if !isCloseError(event.err) {
			s.con.Print(formatConnError(event.err), console.Yellow)
			s.rec.Event(formatConnError(event.err))
			logger.Error("connection error", "error", event.err)
		}
		s.con.Print("disconnected", console.Green)
		s.con.Clear()
		s.con.Pause()
		s.rec.Event("disconnected")
		logger.Info("client disconnected")
		_ = event.conn.Close()
		s.active = nil
		return
	}
	s.con.Print("< "+event.payload, console.Blue)
	s.rec.Received(event.payload)
}

// handleLine sends one console line to the bridged client. Lines entered
// while no client is connected are dropped.
func (s *Server) handleLine(line console.Line) {
	if s.active == nil {
		return
	}
	if err := s.active.WriteMessage(websocket.TextMessage, []byte(line.Text)); err != nil {
		s.con.Print(formatConnError(err), console.Yellow)
		logger.Error("send failed", "error", err)
		return
	}
	s.rec.Sent(line.Text)
	s.con.Prompt()
}
