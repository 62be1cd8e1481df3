package amqp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Thejuampi/amqp-client-go/amqp/codec"
	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
	"github.com/Thejuampi/amqp-client-go/internal/fakebroker"
)

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateWait:           "WAIT",
		StateAwaitReconnect: "AWAIT_RECONNECT",
		StateConnecting:     "CONNECTING",
		StateTuning:         "TUNING",
		StateReady:          "READY",
		StateClosing:        "CLOSING",
		State(42):           "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("State(%d).String() = %q, want %q", int32(state), got, want)
		}
	}
}

func TestConnectionHandshakeReachesReady(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{ChannelMax: 100, FrameMax: 4096})
	host := brokerHost(broker, "amqp")
	config := testConfig(host)
	config.ConnectionName = "handshake-test"

	connection := NewConnection(host, config, nil)
	events := record(t, connection.Subscribe)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if connection.State() != StateReady {
		t.Fatalf("expected READY, got %s", connection.State())
	}
	if ready := events.count(EventReady); ready != 1 {
		t.Fatalf("expected exactly one ready event, got %d", ready)
	}

	startOk := waitForMethod(t, broker, protocol.ConnectionStartOk)
	if startOk["mechanism"] != "AMQPLAIN" || startOk["locale"] != "en_US" {
		t.Fatalf("unexpected start-ok: %v", startOk)
	}
	properties, ok := startOk["clientProperties"].(codec.Table)
	if !ok || properties["connection_name"] != "handshake-test" {
		t.Fatalf("unexpected client properties: %v", startOk["clientProperties"])
	}

	tuneOk := waitForMethod(t, broker, protocol.ConnectionTuneOk)
	if tuneOk["channelMax"] != uint16(100) || tuneOk["frameMax"] != uint32(4096) || tuneOk["heartbeat"] != uint16(10) {
		t.Fatalf("unexpected tune-ok: %v", tuneOk)
	}
	open := waitForMethod(t, broker, protocol.ConnectionOpen)
	if open["virtualHost"] != "/" {
		t.Fatalf("unexpected open: %v", open)
	}

	if connection.ChannelMax() != 100 {
		t.Fatalf("expected channel max 100, got %d", connection.ChannelMax())
	}
	if connection.ServerProperties()["product"] != "fakebroker" {
		t.Fatalf("unexpected server properties: %v", connection.ServerProperties())
	}

	// A second Connect on a ready connection returns at once.
	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if err := connection.Disconnect(testContext(t)); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	closed := events.waitFor(t, EventClosed)
	if closed.Err != nil {
		t.Fatalf("manual disconnect should close cleanly, got %v", closed.Err)
	}
	if connection.State() != StateWait {
		t.Fatalf("expected WAIT, got %s", connection.State())
	}

	closeArgs := waitForMethod(t, broker, protocol.ConnectionClose)
	if closeArgs["replyCode"] != uint16(200) || closeArgs["replyText"] != "closed" {
		t.Fatalf("unexpected close: %v", closeArgs)
	}
}

func TestConnectionVersionMismatchSendsNoStartOk(t *testing.T) {
	conn := newTestConn()
	conn.enqueueRead(encodeServerMethod(t, protocol.ConnectionStart, codec.Table{
		"versionMajor":     uint8(0),
		"versionMinor":     uint8(8),
		"serverProperties": codec.Table{},
		"mechanisms":       "AMQPLAIN",
		"locales":          "en_US",
	}))

	var dials atomic.Int32
	config := testConfig(Host{Host: "scripted"})
	config.Reconnect = true
	config.Dial = func(context.Context, Host, *Config) (net.Conn, error) {
		dials.Add(1)
		return conn, nil
	}

	connection := NewConnection(config.Hosts[0], config, nil)
	disconnectOnCleanup(t, connection.Disconnect)

	err := connection.Connect(testContext(t))
	var mismatch *VersionMismatchError
	if !errors.As(err, &mismatch) || mismatch.Major != 0 || mismatch.Minor != 8 {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol violation, got %v", err)
	}
	if !bytes.Equal(conn.WrittenBytes(), protocol.ProtocolHeader) {
		t.Fatalf("expected only the protocol header to be written, got %x", conn.WrittenBytes())
	}
	if !conn.isClosed() {
		t.Fatalf("expected transport to be closed")
	}
	if dials.Load() != 1 {
		t.Fatalf("version mismatch must not reconnect, dialed %d times", dials.Load())
	}
}

func TestConnectionHeartbeatFailure(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{Silent: true})
	host := brokerHost(broker, "amqp")
	config := testConfig(host)
	config.Heartbeat = 40 * time.Millisecond

	connection := NewConnection(host, config, nil)
	events := record(t, connection.Subscribe)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	closed := events.waitFor(t, EventClosed)
	if !errors.Is(closed.Err, ErrHeartbeat) {
		t.Fatalf("expected heartbeat failure, got %v", closed.Err)
	}
	if connection.State() != StateWait {
		t.Fatalf("expected WAIT, got %s", connection.State())
	}
}

func TestConnectionExchangesHeartbeats(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{HeartbeatInterval: 10 * time.Millisecond})
	host := brokerHost(broker, "amqp")
	config := testConfig(host)
	config.Heartbeat = 30 * time.Millisecond

	connection := NewConnection(host, config, nil)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitUntil(t, "client heartbeat", func() bool {
		for _, received := range broker.Received() {
			if _, ok := received.Frame.(*codec.Heartbeat); ok {
				return true
			}
		}
		return false
	})

	time.Sleep(150 * time.Millisecond)
	if connection.State() != StateReady {
		t.Fatalf("connection with live heartbeats should stay READY, got %s", connection.State())
	}
}

func TestConnectionServerClose(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{Close: &fakebroker.CloseRequest{ReplyCode: 320, ReplyText: "CONNECTION_FORCED"}})
	host := brokerHost(broker, "amqp")

	connection := NewConnection(host, testConfig(host), nil)
	events := record(t, connection.Subscribe)
	disconnectOnCleanup(t, connection.Disconnect)

	_ = connection.Connect(testContext(t))

	failure := events.waitFor(t, EventError)
	var closeErr *CloseError
	if !errors.As(failure.Err, &closeErr) || closeErr.ReplyCode != 320 || closeErr.ReplyText != "CONNECTION_FORCED" {
		t.Fatalf("expected server close error, got %v", failure.Err)
	}
	closed := events.waitFor(t, EventClosed)
	if !errors.Is(closed.Err, ErrServerClose) {
		t.Fatalf("expected closed with server close, got %v", closed.Err)
	}
	waitForMethod(t, broker, protocol.ConnectionCloseOk)
}

func TestConnectionDisconnectTimeout(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{IgnoreClose: true})
	host := brokerHost(broker, "amqp")
	config := testConfig(host)
	config.DisconnectTimeout = 50 * time.Millisecond

	connection := NewConnection(host, config, nil)
	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	started := time.Now()
	if err := connection.Disconnect(testContext(t)); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if elapsed := time.Since(started); elapsed < 50*time.Millisecond {
		t.Fatalf("disconnect returned before the timeout: %s", elapsed)
	}
	if connection.State() != StateWait {
		t.Fatalf("expected WAIT, got %s", connection.State())
	}
}

func TestConnectionDisconnectContextForcesTeardown(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{IgnoreClose: true})
	host := brokerHost(broker, "amqp")
	config := testConfig(host)
	config.DisconnectTimeout = time.Minute

	connection := NewConnection(host, config, nil)
	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := connection.Disconnect(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if connection.State() != StateWait {
		t.Fatalf("expected WAIT, got %s", connection.State())
	}
}

func TestConnectionReconnectsAfterDrop(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{})
	host := brokerHost(broker, "amqp")
	config := testConfig(host)
	config.Reconnect = true

	connection := NewConnection(host, config, nil)
	events := record(t, connection.Subscribe)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	events.waitFor(t, EventReady)

	broker.DropConnections()

	reconnecting := events.waitFor(t, EventReconnecting)
	if !errors.Is(reconnecting.Err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", reconnecting.Err)
	}
	events.waitFor(t, EventReady)
	if broker.Accepted() != 2 {
		t.Fatalf("expected two accepted connections, got %d", broker.Accepted())
	}
}

func TestConnectionBlockedNotification(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{Blocked: "low on memory"})
	host := brokerHost(broker, "amqp")

	connection := NewConnection(host, testConfig(host), nil)
	events := record(t, connection.Subscribe)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}
	blocked := events.waitFor(t, EventBlocked)
	if blocked.Reason != "low on memory" || blocked.Node != host.Key() {
		t.Fatalf("unexpected blocked notification: %+v", blocked)
	}
}

func TestConnectionForwardsChannelFrames(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{OpenChannels: true})
	host := brokerHost(broker, "amqp")

	connection := NewConnection(host, testConfig(host), nil)
	events := record(t, connection.Subscribe)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	channelOpen, err := protocol.Default().MethodByName("channelOpen")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := connection.SendMethod(1, &codec.MethodFrame{Method: channelOpen, Args: codec.Table{}}); err != nil {
		t.Fatalf("send: %v", err)
	}

	command := events.waitFor(t, EventCommand)
	frame, ok := command.Frame.(*codec.MethodFrame)
	if command.Channel != 1 || !ok || frame.Method.Name != "channelOpenOk" {
		t.Fatalf("unexpected command: %+v", command)
	}
}

func TestConnectionSendDataSplitsBody(t *testing.T) {
	broker := startBroker(t, fakebroker.Options{FrameMax: 4096})
	host := brokerHost(broker, "amqp")

	connection := NewConnection(host, testConfig(host), nil)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	body := bytes.Repeat([]byte("x"), 10000)
	header := &codec.ContentHeader{Properties: codec.Table{"contentType": "text/plain"}}
	if err := connection.SendData(2, &codec.ContentBody{Data: body}, header); err != nil {
		t.Fatalf("send data: %v", err)
	}

	var (
		received *codec.ContentHeader
		sizes    []int
	)
	waitUntil(t, "content frames", func() bool {
		received, sizes = nil, nil
		total := 0
		for _, frame := range broker.Received() {
			switch typed := frame.Frame.(type) {
			case *codec.ContentHeader:
				received = typed
			case *codec.ContentBody:
				sizes = append(sizes, len(typed.Data))
				total += len(typed.Data)
			}
		}
		return received != nil && total == len(body)
	})

	if received.BodySize != 10000 || received.Properties["contentType"] != "text/plain" {
		t.Fatalf("unexpected header: %+v", received)
	}
	if len(sizes) != 3 || sizes[0] != 4088 || sizes[1] != 4088 || sizes[2] != 1824 {
		t.Fatalf("unexpected body split: %v", sizes)
	}
}

func TestConnectionDecodeErrors(t *testing.T) {
	conn := newScriptedConn(t)

	config := testConfig(Host{Host: "scripted"})
	config.Dial = func(context.Context, Host, *Config) (net.Conn, error) { return conn, nil }
	connection := NewConnection(config.Hosts[0], config, nil)
	events := record(t, connection.Subscribe)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Unknown method on channel 3 is handed to the channel layer.
	conn.enqueueRead([]byte{1, 0, 3, 0, 0, 0, 4, 0, 10, 0x7F, 0x7F, protocol.FrameEnd})
	command := events.waitFor(t, EventCommand)
	if command.Channel != 3 || command.Frame != nil || !errors.Is(command.Err, ErrDecode) {
		t.Fatalf("unexpected command: %+v", command)
	}
	if connection.State() != StateReady {
		t.Fatalf("channel decode errors must not close the connection, got %s", connection.State())
	}

	// The same failure on channel 0 is fatal.
	conn.enqueueRead([]byte{1, 0, 0, 0, 0, 0, 4, 0, 10, 0x7F, 0x7F, protocol.FrameEnd})
	closed := events.waitFor(t, EventClosed)
	if !errors.Is(closed.Err, ErrDecode) {
		t.Fatalf("expected decode error, got %v", closed.Err)
	}
}

func TestConnectionChannelDecodeErrorsFeedWatchdog(t *testing.T) {
	conn := newScriptedConn(t)

	config := testConfig(Host{Host: "scripted"})
	config.Heartbeat = 60 * time.Millisecond
	config.Dial = func(context.Context, Host, *Config) (net.Conn, error) { return conn, nil }
	connection := NewConnection(config.Hosts[0], config, nil)
	events := record(t, connection.Subscribe)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Only undecodable channel frames arrive, for well past twice the
	// heartbeat interval.
	for range 10 {
		conn.enqueueRead([]byte{1, 0, 3, 0, 0, 0, 4, 0, 10, 0x7F, 0x7F, protocol.FrameEnd})
		time.Sleep(30 * time.Millisecond)
	}
	if events.count(EventClosed) != 0 || connection.State() != StateReady {
		t.Fatalf("received frames must keep the watchdog quiet, state %s", connection.State())
	}
}

// stallAfterHandshake answers the handshake on peer and then stops reading,
// so every later client write blocks.
func stallAfterHandshake(t *testing.T, peer net.Conn) {
	t.Helper()
	done := make(chan struct{})
	t.Cleanup(func() {
		_ = peer.Close()
		<-done
	})

	go func() {
		defer close(done)
		serializer := codec.NewSerializer(0)
		reply := func(method *protocol.Method, args codec.Table) {
			data, err := serializer.EncodeMethod(protocol.ServiceChannel, &codec.MethodFrame{Method: method, Args: args})
			if err == nil {
				_, _ = peer.Write(data)
			}
		}

		header := make([]byte, len(protocol.ProtocolHeader))
		if _, err := io.ReadFull(peer, header); err != nil {
			return
		}
		opened := false
		parser := codec.NewParser(nil, func(_ uint16, frame codec.Frame, _ error) {
			method, ok := frame.(*codec.MethodFrame)
			if !ok {
				return
			}
			switch method.Method {
			case protocol.ConnectionStartOk:
				reply(protocol.ConnectionTune, codec.Table{
					"channelMax": uint16(0),
					"frameMax":   uint32(0),
					"heartbeat":  uint16(0),
				})
			case protocol.ConnectionOpen:
				opened = true
			}
		})
		reply(protocol.ConnectionStart, codec.Table{
			"versionMajor":     uint8(0),
			"versionMinor":     uint8(9),
			"serverProperties": codec.Table{},
			"mechanisms":       "AMQPLAIN",
			"locales":          "en_US",
		})
		buffer := make([]byte, 4096)
		for !opened {
			n, err := peer.Read(buffer)
			parser.Execute(buffer[:n])
			if err != nil {
				return
			}
		}
		reply(protocol.ConnectionOpenOk, codec.Table{})
	}()
}

func stalledConnection(t *testing.T, heartbeat, disconnectTimeout time.Duration) *Connection {
	t.Helper()
	client, peer := net.Pipe()
	stallAfterHandshake(t, peer)

	config := testConfig(Host{Host: "stalled"})
	config.Heartbeat = heartbeat
	config.DisconnectTimeout = disconnectTimeout
	config.Dial = func(context.Context, Host, *Config) (net.Conn, error) { return client, nil }
	return NewConnection(config.Hosts[0], config, nil)
}

func TestConnectionWatchdogFiresWhilePeerStopsReading(t *testing.T) {
	connection := stalledConnection(t, 100*time.Millisecond, 200*time.Millisecond)
	events := record(t, connection.Subscribe)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sent := make(chan error, 1)
	go func() {
		sent <- connection.SendData(1, &codec.ContentBody{Data: make([]byte, 1<<20)}, nil)
	}()

	closed := events.waitFor(t, EventClosed)
	if !errors.Is(closed.Err, ErrHeartbeat) {
		t.Fatalf("expected heartbeat failure, got %v", closed.Err)
	}
	select {
	case err := <-sent:
		if !errors.Is(err, ErrTransport) {
			t.Fatalf("expected the stalled write to fail, got %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("stalled write never returned")
	}
}

func TestConnectionDisconnectWhilePeerStopsReading(t *testing.T) {
	connection := stalledConnection(t, time.Minute, 200*time.Millisecond)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect: %v", err)
	}

	sent := make(chan error, 1)
	go func() {
		sent <- connection.SendData(1, &codec.ContentBody{Data: make([]byte, 1<<20)}, nil)
	}()
	time.Sleep(50 * time.Millisecond)

	started := time.Now()
	disconnected := make(chan error, 1)
	go func() { disconnected <- connection.Disconnect(context.Background()) }()
	select {
	case err := <-disconnected:
		if err != nil {
			t.Fatalf("disconnect: %v", err)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("disconnect never returned")
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("disconnect took %s with a 200ms timeout", elapsed)
	}
	if connection.State() != StateWait {
		t.Fatalf("expected WAIT, got %s", connection.State())
	}
	if err := <-sent; err == nil {
		t.Fatalf("expected the stalled write to fail")
	}
}

func TestConnectionDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	address := listener.Addr().(*net.TCPAddr)
	_ = listener.Close()

	host := Host{Scheme: "amqp", Host: "127.0.0.1", Port: address.Port}
	connection := NewConnection(host, testConfig(host), nil)

	err = connection.Connect(testContext(t))
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if connection.Err() == nil {
		t.Fatalf("expected last error to be kept")
	}
}

func TestConnectionNotConnected(t *testing.T) {
	connection := NewConnection(Host{Host: "localhost"}, testConfig(), nil)
	err := connection.SendMethod(0, &codec.MethodFrame{Method: protocol.ConnectionCloseOk})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if err := connection.Disconnect(context.Background()); err != nil {
		t.Fatalf("disconnect of idle connection: %v", err)
	}
}

func TestConnectionWebSocket(t *testing.T) {
	broker, err := fakebroker.StartWebSocket(fakebroker.Options{})
	if err != nil {
		t.Fatalf("start websocket broker: %v", err)
	}
	t.Cleanup(func() { _ = broker.Close() })

	host := brokerHost(broker, "ws")
	host.Path = "/amqp"
	connection := NewConnection(host, testConfig(host), nil)
	disconnectOnCleanup(t, connection.Disconnect)

	if err := connection.Connect(testContext(t)); err != nil {
		t.Fatalf("connect over websocket: %v", err)
	}
	if err := connection.Disconnect(testContext(t)); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	waitForMethod(t, broker, protocol.ConnectionClose)
}

func TestClampChannelMax(t *testing.T) {
	connection := NewConnection(Host{Host: "localhost"}, testConfig(), nil)
	connection.clampChannelMax(100)
	connection.clampChannelMax(200)
	if connection.ChannelMax() != 100 {
		t.Fatalf("a larger server value must not raise the limit, got %d", connection.ChannelMax())
	}
	connection.clampChannelMax(50)
	if connection.ChannelMax() != 50 {
		t.Fatalf("expected 50, got %d", connection.ChannelMax())
	}
	connection.clampChannelMax(0)
	if connection.ChannelMax() != 50 {
		t.Fatalf("an unlimited proposal must not lift the limit, got %d", connection.ChannelMax())
	}
}

func TestClampChannelMaxFromUnlimited(t *testing.T) {
	connection := NewConnection(Host{Host: "localhost"}, testConfig(), nil)
	connection.clampChannelMax(0)
	if connection.ChannelMax() != 0 {
		t.Fatalf("expected unlimited, got %d", connection.ChannelMax())
	}
	connection.clampChannelMax(2047)
	if connection.ChannelMax() != 2047 {
		t.Fatalf("expected 2047, got %d", connection.ChannelMax())
	}
}
