package amqp

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/Thejuampi/amqp-client-go/amqp/codec"
	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
	"github.com/Thejuampi/amqp-client-go/internal/fakebroker"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const waitTimeout = 3 * time.Second

type dummyAddr struct {
	value string
}

func (addr dummyAddr) Network() string { return "tcp" }
func (addr dummyAddr) String() string  { return addr.value }

// testConn serves scripted bytes and records writes. Reads block until
// more data is queued or the conn is closed.
type testConn struct {
	lock      sync.Mutex
	cond      *sync.Cond
	readQueue [][]byte
	writeBuf  bytes.Buffer
	closed    bool
}

func newTestConn() *testConn {
	connection := &testConn{}
	connection.cond = sync.NewCond(&connection.lock)
	return connection
}

func (connection *testConn) enqueueRead(frame []byte) {
	connection.lock.Lock()
	connection.readQueue = append(connection.readQueue, append([]byte(nil), frame...))
	connection.lock.Unlock()
	connection.cond.Broadcast()
}

func (connection *testConn) Read(buffer []byte) (int, error) {
	connection.lock.Lock()
	defer connection.lock.Unlock()

	for len(connection.readQueue) == 0 && !connection.closed {
		connection.cond.Wait()
	}
	if connection.closed {
		return 0, io.EOF
	}
	frame := connection.readQueue[0]
	n := copy(buffer, frame)
	if n == len(frame) {
		connection.readQueue = connection.readQueue[1:]
	} else {
		connection.readQueue[0] = frame[n:]
	}
	return n, nil
}

func (connection *testConn) Write(buffer []byte) (int, error) {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.closed {
		return 0, io.EOF
	}
	return connection.writeBuf.Write(buffer)
}

func (connection *testConn) Close() error {
	connection.lock.Lock()
	connection.closed = true
	connection.lock.Unlock()
	connection.cond.Broadcast()
	return nil
}

func (connection *testConn) isClosed() bool {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.closed
}

func (connection *testConn) LocalAddr() net.Addr  { return dummyAddr{value: "127.0.0.1:9000"} }
func (connection *testConn) RemoteAddr() net.Addr { return dummyAddr{value: "127.0.0.1:5672"} }
func (connection *testConn) SetDeadline(time.Time) error      { return nil }
func (connection *testConn) SetReadDeadline(time.Time) error  { return nil }
func (connection *testConn) SetWriteDeadline(time.Time) error { return nil }

func (connection *testConn) WrittenBytes() []byte {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return append([]byte(nil), connection.writeBuf.Bytes()...)
}

// recorder buffers notifications for assertions.
type recorder struct {
	events chan Notification
}

func record(t *testing.T, subscribe func(Listener) func()) *recorder {
	t.Helper()
	result := &recorder{events: make(chan Notification, 256)}
	unsubscribe := subscribe(ListenerFunc(func(notification Notification) {
		select {
		case result.events <- notification:
		default:
		}
	}))
	t.Cleanup(unsubscribe)
	return result
}

func (result *recorder) waitFor(t *testing.T, event Event) Notification {
	t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case notification := <-result.events:
			if notification.Event == event {
				return notification
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for %s", event)
			return Notification{}
		}
	}
}

// count drains buffered notifications and counts those matching event.
func (result *recorder) count(event Event) int {
	total := 0
	for {
		select {
		case notification := <-result.events:
			if notification.Event == event {
				total++
			}
		default:
			return total
		}
	}
}

func startBroker(t *testing.T, options fakebroker.Options) *fakebroker.Broker {
	t.Helper()
	broker, err := fakebroker.Start(options)
	if err != nil {
		t.Fatalf("start broker: %v", err)
	}
	t.Cleanup(func() { _ = broker.Close() })
	return broker
}

func brokerHost(broker *fakebroker.Broker, scheme string) Host {
	host, port := broker.HostPort()
	return Host{Scheme: scheme, Host: host, Port: port}
}

func testConfig(hosts ...Host) *Config {
	config := DefaultConfig()
	config.Hosts = hosts
	config.Reconnect = false
	config.ReconnectPolicy = ReconnectPolicy{Strategy: NewFixedDelayStrategy(10 * time.Millisecond)}
	return config
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func disconnectOnCleanup(t *testing.T, disconnect func(context.Context) error) {
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		_ = disconnect(ctx)
	})
}

func waitUntil(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForMethod(t *testing.T, broker *fakebroker.Broker, method *protocol.Method) codec.Table {
	t.Helper()
	received, err := broker.WaitForMethod(testContext(t), method)
	if err != nil {
		t.Fatalf("broker never received %s: %v", method.Name, err)
	}
	return received.Frame.(*codec.MethodFrame).Args
}

// newScriptedConn queues a complete server handshake with heartbeats
// disabled on the server side.
func newScriptedConn(t *testing.T) *testConn {
	t.Helper()
	conn := newTestConn()
	conn.enqueueRead(encodeServerMethod(t, protocol.ConnectionStart, codec.Table{
		"versionMajor":     uint8(0),
		"versionMinor":     uint8(9),
		"serverProperties": codec.Table{},
		"mechanisms":       "AMQPLAIN",
		"locales":          "en_US",
	}))
	conn.enqueueRead(encodeServerMethod(t, protocol.ConnectionTune, codec.Table{
		"channelMax": uint16(10),
		"frameMax":   uint32(4096),
		"heartbeat":  uint16(0),
	}))
	conn.enqueueRead(encodeServerMethod(t, protocol.ConnectionOpenOk, codec.Table{}))
	return conn
}

func encodeServerMethod(t *testing.T, method *protocol.Method, args codec.Table) []byte {
	t.Helper()
	data, err := codec.NewSerializer(0).EncodeMethod(protocol.ServiceChannel, &codec.MethodFrame{Method: method, Args: args})
	if err != nil {
		t.Fatalf("encode %s: %v", method.Name, err)
	}
	return data
}
