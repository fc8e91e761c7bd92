package bridge

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// supportedProtocolVersion is the only websocket protocol version the
// underlying library speaks (RFC 6455).
const supportedProtocolVersion = 13

// Options carries the connection surface of the command line into a bridge:
// everything the dialer or upgrader needs to shape the handshake, plus the
// client-mode send-on-open message list.
type Options struct {
	// ProtocolVersion requests a specific websocket protocol version.
	// 0 means the default; anything other than 13 is rejected up front.
	ProtocolVersion int

	// Origin is sent as the Origin header on outbound handshakes.
	Origin string

	// Host overrides the Host header on outbound handshakes.
	Host string

	// Subprotocol is offered during handshake negotiation.
	Subprotocol string

	// Headers are extra handshake request headers (client mode).
	Headers http.Header

	// NoCertCheck disables TLS certificate verification for wss:// targets.
	NoCertCheck bool

	// DumpHeaders prints the raw handshake response headers on connect.
	DumpHeaders bool

	// Messages are sent immediately after the connection opens, in order.
	Messages []string

	// HandshakeTimeout bounds the opening handshake. 0 uses a default.
	HandshakeTimeout time.Duration
}

// validateProtocol rejects protocol versions the connection library cannot
// negotiate, before any network activity happens.
func (o Options) validateProtocol() error {
	if o.ProtocolVersion != 0 && o.ProtocolVersion != supportedProtocolVersion {
		return fmt.Errorf("protocol version %d is not supported (RFC 6455 version %d only)",
			o.ProtocolVersion, supportedProtocolVersion)
	}
	return nil
}

// handshakeHeader assembles the outbound handshake request headers. The
// Host entry is recognized by the dialer and promoted to the request's Host
// field rather than sent as a literal header.
func (o Options) handshakeHeader() http.Header {
	header := http.Header{}
	for name, values := range o.Headers {
		for _, value := range values {
			header.Add(name, value)
		}
	}
	if o.Origin != "" {
		header.Set("Origin", o.Origin)
	}
	if o.Host != "" {
		header.Set("Host", o.Host)
	}
	return header
}

// dialer builds the websocket dialer for client mode.
func (o Options) dialer() *websocket.Dialer {
	timeout := o.HandshakeTimeout
	if timeout == 0 {
		timeout = 45 * time.Second
	}
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	if o.Subprotocol != "" {
		dialer.Subprotocols = []string{o.Subprotocol}
	}
	if o.NoCertCheck {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return dialer
}

// upgrader builds the websocket upgrader for server mode. Origin checking is
// disabled: the tool exists to accept arbitrary test connections.
func (o Options) upgrader() *websocket.Upgrader {
	upgrader := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	if o.Subprotocol != "" {
		upgrader.Subprotocols = []string{o.Subprotocol}
	}
	return upgrader
}
