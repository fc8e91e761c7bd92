package bridge

import (
	"context"
	"net/http"
	"sort"

	"github.com/gorilla/websocket"

	"github.com/lawnchairsociety/wscat/internal/console"
	"github.com/lawnchairsociety/wscat/internal/logger"
	"github.com/lawnchairsociety/wscat/internal/transcript"
)

// Client dials a websocket server and bridges the connection to the console.
//
// Lines that arrive from piped stdin before the connection opens are queued
// and drained in order on open, followed by any --message values. Interactive
// lines typed before open are discarded, matching the prompt only becoming
// live once the connection exists.
type Client struct {
	con  Console
	url  string
	opts Options
	rec  *transcript.Recorder

	// dial is swappable so tests can gate or fake the connection attempt
	dial func(ctx context.Context) (*websocket.Conn, *http.Response, error)

	conn      *websocket.Conn
	pending   []string
	buffering bool

	events chan connEvent
	done   chan struct{}
}

// NewClient creates a client bridge for the given ws:// or wss:// URL.
func NewClient(con Console, url string, opts Options, rec *transcript.Recorder) *Client {
	c := &Client{
		con:       con,
		url:       url,
		opts:      opts,
		rec:       rec,
		buffering: true,
		events:    make(chan connEvent, 16),
		done:      make(chan struct{}),
	}
	c.dial = func(ctx context.Context) (*websocket.Conn, *http.Response, error) {
		return opts.dialer().DialContext(ctx, url, opts.handshakeHeader())
	}
	return c
}

// Run dials the server and services the session until the connection or the
// console ends it. A nil return means a normal disconnect or EOF; callers
// exit non-zero on any error.
func (c *Client) Run(ctx context.Context) error {
	if err := c.opts.validateProtocol(); err != nil {
		c.con.Print("error: "+err.Error(), console.Yellow)
		return err
	}

	defer close(c.done)

	logger.Debug("dialing", "url", c.url)

	type dialResult struct {
		conn *websocket.Conn
		resp *http.Response
		err  error
	}
	dialed := make(chan dialResult, 1)
	go func() {
		conn, resp, err := c.dial(ctx)
		dialed <- dialResult{conn: conn, resp: resp, err: err}
	}()

	for {
		select {
		case line := <-c.con.Lines():
			c.handleLine(line)

		case result := <-dialed:
			if result.err != nil {
				c.con.Print("error: "+result.err.Error(), console.Yellow)
				logger.Error("connect failed", "url", c.url, "error", result.err)
				return result.err
			}
			c.conn = result.conn
			c.onOpen(result.resp)
			go readPump(c.conn, c.events, c.done)

		case event := <-c.events:
			if event.conn != c.conn {
				continue
			}
			if event.err != nil {
				if isCloseError(event.err) {
					c.con.Print("disconnected", console.Green)
					c.con.Clear()
					c.rec.Event("disconnected")
					logger.Info("disconnected", "url", c.url)
					return nil
				}
				c.con.Print(formatConnError(event.err), console.Yellow)
				c.rec.Event(formatConnError(event.err))
				logger.Error("connection error", "url", c.url, "error", event.err)
				return event.err
			}
			c.con.Print("< "+event.payload, console.Default)
			c.rec.Received(event.payload)

		case <-c.con.Done():
			// Piped input can hit EOF before the dial resolves while
			// lines are still owed to the server. Settle the dial and
			// drain before closing.
			if c.conn == nil && (len(c.pending) > 0 || len(c.opts.Messages) > 0) {
				result := <-dialed
				if result.err != nil {
					c.con.Print("error: "+result.err.Error(), console.Yellow)
					logger.Error("connect failed", "url", c.url, "error", result.err)
					return result.err
				}
				c.conn = result.conn
				c.onOpen(result.resp)
			}
			closeQuietly(c.conn)
			return nil

		case <-ctx.Done():
			closeQuietly(c.conn)
			return nil
		}
	}
}

// onOpen runs once the handshake completes: optional header dump, a blank
// line for a clean prompt, then the queued and flagged messages in order.
func (c *Client) onOpen(resp *http.Response) {
	logger.Info("connected", "url", c.url)
	c.rec.Event("connected")

	if c.opts.DumpHeaders && resp != nil {
		c.con.Print(resp.Proto+" "+resp.Status, console.Default)
		names := make([]string, 0, len(resp.Header))
		for name := range resp.Header {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, value := range resp.Header[name] {
				c.con.Print(name+": "+value, console.Default)
			}
		}
	}

	c.con.Print("", console.Default)

	c.buffering = false
	for _, text := range c.pending {
		c.sendEcho(text)
	}
	c.pending = nil

	for _, text := range c.opts.Messages {
		c.sendEcho(text)
	}
}

// handleLine routes one console line: queued while the connection is still
// being dialed, sent directly once it is open.
func (c *Client) handleLine(line console.Line) {
	if c.buffering && line.Piped {
		c.pending = append(c.pending, line.Text)
		return
	}
	if c.conn == nil {
		// Interactive input before the connection opened; nothing is
		// listening for it yet.
		return
	}
	c.send(line.Text)
	c.con.Prompt()
}

// send writes one text message. Send failures are reported but do not end
// the session; the read pump surfaces the terminal error.
func (c *Client) send(text string) {
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		c.con.Print(formatConnError(err), console.Yellow)
		logger.Error("send failed", "error", err)
		return
	}
	c.rec.Sent(text)
}

// sendEcho sends one queued message and echoes it with the outbound marker.
func (c *Client) sendEcho(text string) {
	c.send(text)
	c.con.Print("> "+text, console.Default)
}
