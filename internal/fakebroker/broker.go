// Package fakebroker is a scripted AMQP 0-9-1 responder for tests and
// local tooling. It answers the connection handshake, records every frame
// it receives and can be told to misbehave: wrong protocol version, silent
// after open, server-initiated close, ignored close requests.
package fakebroker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thejuampi/amqp-client-go/amqp/codec"
	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
	"github.com/Thejuampi/amqp-client-go/internal/wsconn"
	"github.com/gorilla/websocket"
)

// Version is advertised in server properties.
const Version = "0.1.0"

var (
	channelOpen, _   = protocol.Default().MethodByName("channelOpen")
	channelOpenOk, _ = protocol.Default().MethodByName("channelOpenOk")
)

// CloseRequest makes the broker send connection.close right after open-ok.
type CloseRequest struct {
	ReplyCode uint16
	ReplyText string
}

// Options script the broker. Zero values give a well-behaved broker.
type Options struct {
	// Addr is the listen address. Empty picks a free loopback port.
	Addr string

	// VersionMajor and VersionMinor are sent in connection.start. Both
	// zero selects 0-9.
	VersionMajor uint8
	VersionMinor uint8

	ChannelMax uint16
	FrameMax   uint32
	// Heartbeat is the interval proposed in connection.tune, in seconds.
	Heartbeat uint16

	// HeartbeatInterval makes the broker send heartbeat frames after open.
	HeartbeatInterval time.Duration

	// Silent stops all output after open-ok, heartbeats included.
	Silent bool
	// SkipOpenOk never answers connection.open.
	SkipOpenOk bool
	// IgnoreClose never answers connection.close.
	IgnoreClose bool
	// Close is sent after open-ok when set.
	Close *CloseRequest
	// Blocked sends connection.blocked with this reason after open-ok.
	Blocked string
	// OpenChannels answers channel.open with channel.open-ok.
	OpenChannels bool

	// Logf receives connection level events. Nil discards them.
	Logf func(format string, args ...any)
}

// Received is a frame recorded by the broker.
type Received struct {
	Channel uint16
	Frame   codec.Frame
}

// Method returns the method of a method frame, or nil.
func (received Received) Method() *protocol.Method {
	if frame, ok := received.Frame.(*codec.MethodFrame); ok {
		return frame.Method
	}
	return nil
}

// Broker accepts client connections on TCP or WebSocket.
type Broker struct {
	options    Options
	serializer *codec.Serializer
	listener   net.Listener
	server     *http.Server

	accepted atomic.Int64

	lock     sync.Mutex
	conns    map[net.Conn]struct{}
	received []Received
	closed   bool
	handlers sync.WaitGroup
}

func newBroker(options Options) (*Broker, error) {
	if options.VersionMajor == 0 && options.VersionMinor == 0 {
		options.VersionMinor = protocol.VersionMinor
	}
	if options.ChannelMax == 0 {
		options.ChannelMax = 2047
	}
	if options.FrameMax == 0 {
		options.FrameMax = protocol.DefaultFrameMax
	}
	if options.Addr == "" {
		options.Addr = "127.0.0.1:0"
	}
	if options.Logf == nil {
		options.Logf = func(string, ...any) {}
	}

	listener, err := net.Listen("tcp", options.Addr)
	if err != nil {
		return nil, err
	}
	return &Broker{
		options:    options,
		serializer: codec.NewSerializer(int(options.FrameMax)),
		listener:   listener,
		conns:      make(map[net.Conn]struct{}),
	}, nil
}

// Start listens for raw TCP clients.
func Start(options Options) (*Broker, error) {
	broker, err := newBroker(options)
	if err != nil {
		return nil, err
	}
	broker.handlers.Add(1)
	go broker.acceptLoop()
	return broker, nil
}

// StartWebSocket listens for AMQP-over-WebSocket clients on any path.
func StartWebSocket(options Options) (*Broker, error) {
	broker, err := newBroker(options)
	if err != nil {
		return nil, err
	}

	upgrader := websocket.Upgrader{
		Subprotocols: []string{wsconn.Subprotocol},
		CheckOrigin:  func(*http.Request) bool { return true },
	}
	broker.server = &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler: http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			broker.handlers.Add(1)
			defer broker.handlers.Done()
			ws, err := upgrader.Upgrade(writer, request, nil)
			if err != nil {
				broker.options.Logf("fakebroker: websocket upgrade: %v", err)
				return
			}
			broker.serve(wsconn.New(ws))
		}),
	}

	broker.handlers.Add(1)
	go func() {
		defer broker.handlers.Done()
		_ = broker.server.Serve(broker.listener)
	}()
	return broker, nil
}

// Addr returns the listen address.
func (broker *Broker) Addr() string { return broker.listener.Addr().String() }

// HostPort splits Addr.
func (broker *Broker) HostPort() (string, int) {
	host, port, _ := net.SplitHostPort(broker.Addr())
	number, _ := strconv.Atoi(port)
	return host, number
}

// Accepted counts client connections so far.
func (broker *Broker) Accepted() int { return int(broker.accepted.Load()) }

// Received returns a copy of the frames recorded so far.
func (broker *Broker) Received() []Received {
	broker.lock.Lock()
	defer broker.lock.Unlock()
	return append([]Received(nil), broker.received...)
}

// WaitForMethod polls until a frame with method has been received.
func (broker *Broker) WaitForMethod(ctx context.Context, method *protocol.Method) (Received, error) {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, received := range broker.Received() {
			if received.Method() == method {
				return received, nil
			}
		}
		select {
		case <-ctx.Done():
			return Received{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DropConnections closes every client socket without a close handshake.
func (broker *Broker) DropConnections() {
	broker.lock.Lock()
	defer broker.lock.Unlock()
	for conn := range broker.conns {
		_ = conn.Close()
	}
}

// Close stops listening, drops clients and waits for handlers to return.
func (broker *Broker) Close() error {
	broker.lock.Lock()
	if broker.closed {
		broker.lock.Unlock()
		return nil
	}
	broker.closed = true
	broker.lock.Unlock()

	var err error
	if broker.server != nil {
		err = broker.server.Close()
	} else {
		err = broker.listener.Close()
	}
	broker.DropConnections()
	broker.handlers.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (broker *Broker) acceptLoop() {
	defer broker.handlers.Done()
	for {
		conn, err := broker.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				broker.options.Logf("fakebroker: accept: %v", err)
			}
			return
		}
		broker.handlers.Add(1)
		go func() {
			defer broker.handlers.Done()
			broker.serve(conn)
		}()
	}
}

func (broker *Broker) track(conn net.Conn) bool {
	broker.lock.Lock()
	defer broker.lock.Unlock()
	if broker.closed {
		return false
	}
	broker.conns[conn] = struct{}{}
	return true
}

func (broker *Broker) untrack(conn net.Conn) {
	broker.lock.Lock()
	delete(broker.conns, conn)
	broker.lock.Unlock()
}

func (broker *Broker) record(channel uint16, frame codec.Frame) {
	broker.lock.Lock()
	broker.received = append(broker.received, Received{Channel: channel, Frame: frame})
	broker.lock.Unlock()
}

// serve runs one client connection until either side closes it.
func (broker *Broker) serve(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	if !broker.track(conn) {
		return
	}
	defer broker.untrack(conn)
	broker.accepted.Add(1)
	broker.options.Logf("fakebroker: client connected from %s", conn.RemoteAddr())

	header := make([]byte, len(protocol.ProtocolHeader))
	if _, err := io.ReadFull(conn, header); err != nil {
		return
	}
	if !bytes.Equal(header, protocol.ProtocolHeader) {
		_, _ = conn.Write(protocol.ProtocolHeader)
		return
	}

	session := &clientSession{broker: broker, conn: conn, done: make(chan struct{})}
	defer session.stop()

	err := session.send(protocol.ServiceChannel, protocol.ConnectionStart, codec.Table{
		"versionMajor":     broker.options.VersionMajor,
		"versionMinor":     broker.options.VersionMinor,
		"serverProperties": codec.Table{"product": "fakebroker", "version": Version},
		"mechanisms":       "AMQPLAIN PLAIN",
		"locales":          "en_US",
	})
	if err != nil {
		return
	}

	parser := codec.NewParser(nil, session.handle)
	buffer := make([]byte, 32*1024)
	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			parser.Execute(buffer[:n])
		}
		if err != nil || session.finished.Load() {
			broker.options.Logf("fakebroker: client %s gone", conn.RemoteAddr())
			return
		}
	}
}

type clientSession struct {
	broker    *Broker
	conn      net.Conn
	writeLock sync.Mutex
	silent    atomic.Bool
	finished  atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
	tickers   sync.WaitGroup
}

func (session *clientSession) stop() {
	session.stopOnce.Do(func() { close(session.done) })
	session.tickers.Wait()
}

func (session *clientSession) write(data []byte) error {
	session.writeLock.Lock()
	defer session.writeLock.Unlock()
	_, err := session.conn.Write(data)
	return err
}

func (session *clientSession) send(channel uint16, method *protocol.Method, args codec.Table) error {
	if session.silent.Load() {
		return nil
	}
	data, err := session.broker.serializer.EncodeMethod(channel, &codec.MethodFrame{Method: method, Args: args})
	if err != nil {
		return err
	}
	return session.write(data)
}

func (session *clientSession) handle(channel uint16, frame codec.Frame, err error) {
	if err != nil {
		session.broker.options.Logf("fakebroker: decode error on channel %d: %v", channel, err)
		return
	}
	session.broker.record(channel, frame)

	method, ok := frame.(*codec.MethodFrame)
	if !ok {
		return
	}
	options := session.broker.options

	switch method.Method {
	case protocol.ConnectionStartOk:
		_ = session.send(channel, protocol.ConnectionTune, codec.Table{
			"channelMax": options.ChannelMax,
			"frameMax":   options.FrameMax,
			"heartbeat":  options.Heartbeat,
		})
	case protocol.ConnectionOpen:
		if options.SkipOpenOk {
			return
		}
		_ = session.send(channel, protocol.ConnectionOpenOk, codec.Table{})
		session.afterOpen()
	case protocol.ConnectionClose:
		if options.IgnoreClose {
			return
		}
		_ = session.send(channel, protocol.ConnectionCloseOk, codec.Table{})
		session.finished.Store(true)
		_ = session.conn.Close()
	case protocol.ConnectionCloseOk:
		session.finished.Store(true)
		_ = session.conn.Close()
	case channelOpen:
		if options.OpenChannels {
			_ = session.send(channel, channelOpenOk, codec.Table{})
		}
	}
}

func (session *clientSession) afterOpen() {
	options := session.broker.options
	if options.Blocked != "" {
		_ = session.send(protocol.ServiceChannel, protocol.ConnectionBlocked, codec.Table{"reason": options.Blocked})
	}
	if options.Close != nil {
		_ = session.send(protocol.ServiceChannel, protocol.ConnectionClose, codec.Table{
			"replyCode": options.Close.ReplyCode,
			"replyText": options.Close.ReplyText,
			"classId":   uint16(0),
			"methodId":  uint16(0),
		})
	}
	if options.Silent {
		session.silent.Store(true)
		return
	}
	if options.HeartbeatInterval > 0 {
		session.tickers.Add(1)
		go session.heartbeats(options.HeartbeatInterval)
	}
}

func (session *clientSession) heartbeats(interval time.Duration) {
	defer session.tickers.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-session.done:
			return
		case <-ticker.C:
			if session.silent.Load() {
				continue
			}
			if err := session.write(session.broker.serializer.EncodeHeartbeat()); err != nil {
				return
			}
		}
	}
}
