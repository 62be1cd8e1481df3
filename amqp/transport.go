package amqp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/url"
	"os"

	"github.com/Thejuampi/amqp-client-go/amqp/internal/sockopt"
	"github.com/Thejuampi/amqp-client-go/internal/wsconn"
	"github.com/gorilla/websocket"
)

// dialTransport is the default DialFunc. It opens TCP, TLS or WebSocket
// transports depending on the host scheme.
func dialTransport(ctx context.Context, host Host, config *Config) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, config.Socket.Timeout)
	defer cancel()

	dialer := &net.Dialer{
		KeepAlive: config.Socket.KeepAlivePeriod,
		Control: sockopt.Control(sockopt.Options{
			UserTimeout: config.Socket.UserTimeout,
			QuickAck:    config.Socket.QuickAck,
		}),
	}
	if !config.Socket.KeepAlive {
		dialer.KeepAlive = -1
	}

	var (
		conn net.Conn
		err  error
	)
	switch {
	case host.websocket():
		conn, err = dialWebSocket(ctx, dialer, host, config)
	case host.secure():
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: config.tlsConfigFor(host)}
		conn, err = tlsDialer.DialContext(ctx, "tcp", host.Key())
	default:
		conn, err = dialer.DialContext(ctx, "tcp", host.Key())
	}
	if err != nil {
		return nil, classifyDialError(err)
	}
	tuneSocket(conn, config.Socket)
	return conn, nil
}

func dialWebSocket(ctx context.Context, dialer *net.Dialer, host Host, config *Config) (net.Conn, error) {
	wsDialer := websocket.Dialer{
		NetDialContext:   dialer.DialContext,
		Subprotocols:     []string{wsconn.Subprotocol},
		HandshakeTimeout: config.Socket.Timeout,
	}
	if host.secure() {
		wsDialer.TLSClientConfig = config.tlsConfigFor(host)
	}

	target := url.URL{Scheme: host.Scheme, Host: host.Key(), Path: host.Path}
	ws, response, err := wsDialer.DialContext(ctx, target.String(), config.WebSocketHeader)
	if response != nil && response.Body != nil {
		_ = response.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return wsconn.New(ws), nil
}

// tuneSocket applies options that only exist on an established TCP socket.
func tuneSocket(conn net.Conn, options SocketOptions) {
	var tcp *net.TCPConn
	switch c := conn.(type) {
	case *net.TCPConn:
		tcp = c
	case *tls.Conn:
		tcp, _ = c.NetConn().(*net.TCPConn)
	case *wsconn.Conn:
		tcp, _ = c.WebSocket().NetConn().(*net.TCPConn)
	}
	if tcp == nil {
		return
	}
	_ = tcp.SetNoDelay(options.NoDelay)
	if options.ReadBuffer > 0 {
		_ = tcp.SetReadBuffer(options.ReadBuffer)
	}
	if options.WriteBuffer > 0 {
		_ = tcp.SetWriteBuffer(options.WriteBuffer)
	}
}

func classifyDialError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return NewError(TimedOutError, "connect", err)
	}
	return NewError(TransportError, err)
}
