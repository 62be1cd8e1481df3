package amqp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thejuampi/amqp-client-go/amqp/codec"
	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
	"github.com/google/uuid"
)

// State is the lifecycle position of a Connection.
type State int32

const (
	StateWait State = iota
	StateAwaitReconnect
	StateConnecting
	StateTuning
	StateReady
	StateClosing
)

var stateNames = [...]string{
	StateWait:           "WAIT",
	StateAwaitReconnect: "AWAIT_RECONNECT",
	StateConnecting:     "CONNECTING",
	StateTuning:         "TUNING",
	StateReady:          "READY",
	StateClosing:        "CLOSING",
}

func (state State) String() string {
	if state >= 0 && int(state) < len(stateNames) {
		return stateNames[state]
	}
	return "UNKNOWN"
}

const readBufferSize = 64 * 1024

// Connection is one AMQP connection to one host. It dials, performs the
// handshake, keeps heartbeats flowing and reconnects per policy. Frames on
// channels above zero are handed to listeners as EventCommand.
type Connection struct {
	id         string
	host       Host
	config     *Config
	serializer *codec.Serializer
	logger     *slog.Logger
	metrics    *Metrics
	strategy   ReconnectDelayStrategy
	observers  observers

	state atomic.Int32

	lock             sync.Mutex
	running          bool
	manual           bool
	stopping         bool
	reconnect        bool
	stop             chan struct{}
	done             chan struct{}
	current          *session
	serverProperties codec.Table
	channelMax       uint16
	lastErr          error
}

// session is one established transport.
type session struct {
	id           string
	conn         net.Conn
	metrics      *Metrics
	writeTimeout time.Duration
	writeLock    sync.Mutex
	lastWrite    atomic.Int64
}

// NewConnection creates a connection to host. A nil serializer gets a
// private one; pools pass a shared serializer so frame-max tuning applies
// to every member.
func NewConnection(host Host, config *Config, serializer *codec.Serializer) *Connection {
	config = config.withDefaults()
	host = normalizeHost(host)
	if serializer == nil {
		serializer = codec.NewSerializer(0)
	}
	connection := &Connection{
		id:         host.Key(),
		host:       host,
		config:     config,
		serializer: serializer,
		metrics:    config.Metrics,
		strategy:   config.ReconnectPolicy.Strategy,
		channelMax: config.ChannelMax,
	}
	connection.logger = config.Logger.With("node", connection.id)
	return connection
}

// ID returns the host key.
func (connection *Connection) ID() string { return connection.id }

// Host returns the host this connection dials.
func (connection *Connection) Host() Host { return connection.host }

// State returns the current connection state.
func (connection *Connection) State() State { return State(connection.state.Load()) }

// ServerProperties returns the properties announced in connection.start.
func (connection *Connection) ServerProperties() codec.Table {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	properties := make(codec.Table, len(connection.serverProperties))
	for key, value := range connection.serverProperties {
		properties[key] = value
	}
	return properties
}

// ChannelMax returns the negotiated channel limit. Zero means unlimited.
func (connection *Connection) ChannelMax() uint16 {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.channelMax
}

// Err returns the error that ended the last run, if any.
func (connection *Connection) Err() error {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.lastErr
}

// Subscribe registers a listener and returns a function removing it.
// Listeners run on the connection goroutine and must not call Disconnect.
func (connection *Connection) Subscribe(listener Listener) func() {
	return connection.observers.subscribe(listener)
}

func (connection *Connection) emit(notification Notification) {
	notification.Node = connection.id
	connection.observers.broadcast(notification)
}

func (connection *Connection) setState(state State, err error) {
	previous := State(connection.state.Swap(int32(state)))
	if previous == state {
		return
	}
	connection.logger.Debug("state changed", "from", previous.String(), "to", state.String())
	connection.metrics.stateChanged(connection.id, state)

	switch state {
	case StateReady:
		connection.emit(Notification{Event: EventReady})
	case StateAwaitReconnect:
		connection.emit(Notification{Event: EventReconnecting, Err: err})
	case StateWait:
		connection.emit(Notification{Event: EventClosed, Err: err})
	}
}

// Start begins connecting in the background. It is a no-op while the
// connection is already running.
func (connection *Connection) Start() {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.running {
		return
	}
	connection.running = true
	connection.manual = false
	connection.stopping = false
	connection.lastErr = nil
	connection.stop = make(chan struct{})
	connection.done = make(chan struct{})
	go connection.run(connection.stop, connection.done)
}

// Connect starts the connection and waits for it to become ready. With
// reconnect disabled a failed attempt is returned; otherwise Connect waits
// until the connection succeeds, is disconnected, or ctx ends.
func (connection *Connection) Connect(ctx context.Context) error {
	if connection.State() == StateReady {
		return nil
	}

	result := make(chan error, 1)
	unsubscribe := connection.Subscribe(ListenerFunc(func(notification Notification) {
		var err error
		switch notification.Event {
		case EventReady:
		case EventClosed:
			err = notification.Err
			if err == nil {
				err = NewError(DisconnectedError, "connection closed")
			}
		default:
			return
		}
		select {
		case result <- err:
		default:
		}
	}))
	defer unsubscribe()

	connection.Start()
	if connection.State() == StateReady {
		return nil
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection and suppresses reconnects. A ready
// connection is closed gracefully and its socket is destroyed once the
// disconnect timeout passes without close-ok, even when a write to the
// peer is stalled. When ctx ends first the socket is destroyed at once.
func (connection *Connection) Disconnect(ctx context.Context) error {
	connection.lock.Lock()
	if !connection.running {
		connection.lock.Unlock()
		return nil
	}
	connection.manual = true
	if !connection.stopping {
		connection.stopping = true
		close(connection.stop)
	}
	done := connection.done
	connection.lock.Unlock()

	// The deadline runs outside the session loop: closing the socket also
	// releases a loop or writer blocked on it.
	deadline := time.AfterFunc(connection.config.DisconnectTimeout, func() {
		if current := connection.currentSession(); current != nil {
			connection.logger.Warn("graceful close timed out, destroying socket")
			_ = current.conn.Close()
		}
	})
	defer deadline.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if current := connection.currentSession(); current != nil {
			_ = current.conn.Close()
		}
		<-done
		return ctx.Err()
	}
}

func (connection *Connection) currentSession() *session {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	return connection.current
}

// SendMethod encodes and writes a method frame.
func (connection *Connection) SendMethod(channel uint16, frame *codec.MethodFrame) error {
	current := connection.currentSession()
	if current == nil {
		return NewError(NotConnectedError, "stream closed")
	}
	return connection.sendMethod(current, channel, frame)
}

func (connection *Connection) sendMethod(current *session, channel uint16, frame *codec.MethodFrame) error {
	data, err := connection.serializer.EncodeMethod(channel, frame)
	if err != nil {
		return NewError(EncodeError, err)
	}
	return current.write(true, outbound{protocol.FrameMethod, data})
}

// SendData writes a content header followed by the body frames. The body
// size in header is replaced by the length of body.
func (connection *Connection) SendData(channel uint16, body *codec.ContentBody, header *codec.ContentHeader) error {
	current := connection.currentSession()
	if current == nil {
		return NewError(NotConnectedError, "stream closed")
	}
	if body == nil {
		body = &codec.ContentBody{}
	}

	var sized codec.ContentHeader
	if header != nil {
		sized = *header
	}
	if sized.Class == nil {
		sized.Class = protocol.BasicClass
	}
	sized.BodySize = uint64(len(body.Data))

	headerFrame, err := connection.serializer.EncodeHeader(channel, &sized)
	if err != nil {
		return NewError(EncodeError, err)
	}
	bodyFrames, err := connection.serializer.EncodeBody(channel, body)
	if err != nil {
		return NewError(EncodeError, err)
	}

	frames := make([]outbound, 0, 1+len(bodyFrames))
	frames = append(frames, outbound{protocol.FrameHeader, headerFrame})
	for _, frame := range bodyFrames {
		frames = append(frames, outbound{protocol.FrameBody, frame})
	}
	return current.write(true, frames...)
}

type outbound struct {
	frameType protocol.FrameType
	data      []byte
}

// write sends frames back to back, each bounded by the write timeout.
// Every write except heartbeats pushes the outgoing heartbeat deadline
// forward. A failed write closes the transport so the session loop tears
// down.
func (current *session) write(refresh bool, frames ...outbound) error {
	current.writeLock.Lock()
	defer current.writeLock.Unlock()

	for _, frame := range frames {
		current.armWriteDeadline()
		if _, err := current.conn.Write(frame.data); err != nil {
			_ = current.conn.Close()
			return NewError(TransportError, fmt.Sprintf("socket error while sending %s frame", frame.frameType), err)
		}
		current.metrics.frameSent(frame.frameType, len(frame.data))
	}
	if refresh {
		current.lastWrite.Store(time.Now().UnixNano())
	}
	return nil
}

func (current *session) writeHeader() error {
	current.writeLock.Lock()
	defer current.writeLock.Unlock()
	current.armWriteDeadline()
	if _, err := current.conn.Write(protocol.ProtocolHeader); err != nil {
		_ = current.conn.Close()
		return NewError(TransportError, "socket error while sending protocol header", err)
	}
	return nil
}

func (current *session) armWriteDeadline() {
	if current.writeTimeout > 0 {
		_ = current.conn.SetWriteDeadline(time.Now().Add(current.writeTimeout))
	}
}

// writeLoop sends the frames queued by the session loop: heartbeats and
// connection.close. The loop never waits on the socket itself.
func (current *session) writeLoop(outbox <-chan outbound, finished <-chan struct{}) {
	for {
		select {
		case <-finished:
			return
		case frame := <-outbox:
			if err := current.write(frame.frameType != protocol.FrameHeartbeat, frame); err != nil {
				return
			}
		}
	}
}

// run dials and serves sessions until the connection is disconnected or a
// failure is not retried.
func (connection *Connection) run(stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	var err error
	for {
		connection.setState(StateConnecting, nil)
		err = connection.runSession(stop)

		connection.lock.Lock()
		manual := connection.manual
		reconnect := connection.reconnect
		connection.lock.Unlock()

		if err != nil && !manual {
			connection.logger.Warn("connection failed", "error", err)
			connection.emit(Notification{Event: EventError, Err: err})
		}
		if manual {
			err = nil
			break
		}
		if !reconnect {
			break
		}

		wait, waitErr := connection.strategy.GetConnectWaitDuration(connection.id)
		if waitErr != nil {
			err = errors.Join(err, waitErr)
			break
		}
		connection.setState(StateAwaitReconnect, err)
		connection.metrics.reconnectAttempt(connection.id)

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
		case <-timer.C:
		}

		connection.lock.Lock()
		manual = connection.manual
		connection.lock.Unlock()
		if manual {
			err = nil
			break
		}
	}

	connection.lock.Lock()
	connection.running = false
	connection.lastErr = err
	connection.lock.Unlock()
	connection.setState(StateWait, err)
}

func (connection *Connection) runSession(stop <-chan struct{}) error {
	connection.lock.Lock()
	connection.reconnect = connection.config.Reconnect
	connection.lock.Unlock()

	// The dial is bounded by the socket timeout and is allowed to finish
	// even when a disconnect arrives meanwhile.
	conn, err := connection.config.Dial(context.Background(), connection.host, connection.config)
	if err != nil {
		return err
	}
	select {
	case <-stop:
		_ = conn.Close()
		return nil
	default:
	}
	return connection.serve(conn, stop)
}

// serve owns one transport until it ends. It is the only goroutine that
// touches the parser, the heartbeat timers and the connection state.
func (connection *Connection) serve(conn net.Conn, stop <-chan struct{}) (result error) {
	current := &session{
		id:           uuid.NewString(),
		conn:         conn,
		metrics:      connection.metrics,
		writeTimeout: connection.config.Socket.WriteTimeout,
	}
	logger := connection.logger.With("session", current.id)

	connection.lock.Lock()
	connection.current = current
	connection.lock.Unlock()

	reads := make(chan []byte)
	readErrs := make(chan error, 1)
	outbox := make(chan outbound, 2)
	finished := make(chan struct{})
	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		connection.readLoop(conn, reads, readErrs, finished)
	}()
	go func() {
		defer workers.Done()
		current.writeLoop(outbox, finished)
	}()

	handler := &frameHandler{connection: connection, session: current, logger: logger}
	parser := codec.NewParser(nil, handler.handle)
	handler.parser = parser

	defer func() {
		connection.lock.Lock()
		connection.current = nil
		connection.lock.Unlock()
		_ = conn.Close()
		close(finished)
		workers.Wait()
		parser.Reset()
	}()

	if err := current.writeHeader(); err != nil {
		return err
	}

	// Both timers start with the transport, before the server has agreed
	// to any interval.
	heartbeat := connection.config.Heartbeat
	var outgoingC, incomingC <-chan time.Time
	if heartbeat > 0 {
		current.lastWrite.Store(time.Now().UnixNano())
		outgoing := time.NewTimer(heartbeat)
		incoming := time.NewTimer(2 * heartbeat)
		defer outgoing.Stop()
		defer incoming.Stop()
		outgoingC, incomingC = outgoing.C, incoming.C
		handler.incoming = incoming
		handler.outgoing = outgoing
		handler.interval = heartbeat
	}

	stopC := stop
	closeRequested := false

	for {
		select {
		case chunk := <-reads:
			connection.metrics.bytesReceived(len(chunk))
			parser.Execute(chunk)
			if handler.fatal != nil {
				return handler.fatal
			}
			if handler.finished {
				return nil
			}

		case err := <-readErrs:
			// After connection.close the socket ends either with the peer's
			// EOF or with the disconnect deadline closing it locally.
			if closeRequested {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return NewError(TransportError, "connection closed by peer")
			}
			return NewError(TransportError, err)

		case <-outgoingC:
			since := time.Since(time.Unix(0, current.lastWrite.Load()))
			if since < heartbeat {
				handler.outgoing.Reset(heartbeat - since)
				continue
			}
			// A queued heartbeat means the writer is still blocked; the
			// incoming watchdog decides whether the peer is gone.
			if len(outbox) == 0 {
				logger.Debug("send heartbeat")
				outbox <- outbound{protocol.FrameHeartbeat, connection.serializer.EncodeHeartbeat()}
			}
			handler.outgoing.Reset(heartbeat)

		case <-incomingC:
			logger.Warn("heartbeat failed", "interval", heartbeat)
			connection.metrics.heartbeatFailed()
			return NewError(LivenessError, "heartbeat failed")

		case <-stopC:
			stopC = nil
			if connection.State() != StateReady {
				return nil
			}
			closeRequested = true
			connection.setState(StateClosing, nil)
			data, err := connection.serializer.EncodeMethod(protocol.ServiceChannel, &codec.MethodFrame{
				Method: protocol.ConnectionClose,
				Args: codec.Table{
					"replyCode": uint16(protocol.ReplySuccess),
					"replyText": "closed",
					"classId":   uint16(0),
					"methodId":  uint16(0),
				},
			})
			if err != nil {
				return nil
			}
			select {
			case outbox <- outbound{protocol.FrameMethod, data}:
			default:
				return nil
			}
		}
	}
}

func (connection *Connection) readLoop(conn net.Conn, reads chan<- []byte, readErrs chan<- error, finished <-chan struct{}) {
	buffer := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buffer)
		if n > 0 {
			chunk := append([]byte(nil), buffer[:n]...)
			select {
			case reads <- chunk:
			case <-finished:
				return
			}
		}
		if err != nil {
			readErrs <- err
			return
		}
	}
}

// frameHandler receives parsed frames on the session goroutine.
type frameHandler struct {
	connection *Connection
	session    *session
	parser     *codec.Parser
	logger     *slog.Logger

	incoming *time.Timer
	outgoing *time.Timer
	interval time.Duration

	fatal    error
	finished bool
}

func (handler *frameHandler) fail(err error) {
	handler.fatal = err
	handler.parser.Reset()
}

func (handler *frameHandler) handle(channel uint16, frame codec.Frame, err error) {
	connection := handler.connection
	if handler.fatal != nil || handler.finished {
		return
	}

	// Any frame from the peer, even one that fails to decode, proves it
	// is alive.
	if handler.incoming != nil {
		handler.incoming.Reset(2 * handler.interval)
	}

	if err != nil {
		connection.metrics.decodeFailed(channel)
		if channel == protocol.ServiceChannel {
			handler.fail(NewError(WireDecodeError, err))
			return
		}
		connection.emit(Notification{Event: EventCommand, Channel: channel, Err: NewError(WireDecodeError, err)})
		return
	}

	connection.metrics.frameReceived(frame.Type())

	if _, ok := frame.(*codec.Heartbeat); ok {
		return
	}

	if channel > protocol.ServiceChannel {
		connection.emit(Notification{Event: EventCommand, Channel: channel, Frame: frame})
		return
	}

	method, ok := frame.(*codec.MethodFrame)
	if !ok {
		handler.fail(NewError(ProtocolViolation, fmt.Sprintf("invalid frame type for channel 0: %s", frame.Type())))
		return
	}
	if err := handler.handleMethod(method); err != nil {
		handler.fail(err)
	}
}

func (handler *frameHandler) handleMethod(frame *codec.MethodFrame) error {
	connection := handler.connection
	args := frame.Args

	switch frame.Method {
	case protocol.ConnectionStart:
		major, _ := args["versionMajor"].(uint8)
		minor, _ := args["versionMinor"].(uint8)
		if major != protocol.VersionMajor || minor != protocol.VersionMinor {
			connection.lock.Lock()
			connection.reconnect = false
			connection.lock.Unlock()
			return NewError(ProtocolViolation, &VersionMismatchError{Major: major, Minor: minor})
		}

		properties, _ := args["serverProperties"].(codec.Table)
		connection.lock.Lock()
		connection.serverProperties = properties
		connection.lock.Unlock()

		connection.setState(StateTuning, nil)
		return connection.sendMethod(handler.session, protocol.ServiceChannel, &codec.MethodFrame{
			Method: protocol.ConnectionStartOk,
			Args: codec.Table{
				"clientProperties": connection.config.clientProperties(),
				"mechanism":        DefaultMechanism,
				"response":         codec.Table{"LOGIN": connection.config.Login, "PASSWORD": connection.config.Password},
				"locale":           connection.config.Locale,
			},
		})

	case protocol.ConnectionSecure:
		if connection.config.SecureHandler == nil {
			return NewError(ProtocolViolation, "connection.secure received without a secure handler")
		}
		challenge, _ := args["challenge"].(string)
		response, err := connection.config.SecureHandler(challenge)
		if err != nil {
			return NewError(ProtocolViolation, "secure handler failed", err)
		}
		return connection.sendMethod(handler.session, protocol.ServiceChannel, &codec.MethodFrame{
			Method: protocol.ConnectionSecureOk,
			Args:   codec.Table{"response": response},
		})

	case protocol.ConnectionTune:
		channelMax, _ := args["channelMax"].(uint16)
		frameMax, _ := args["frameMax"].(uint32)
		connection.clampChannelMax(channelMax)

		if limit := connection.config.FrameMax; limit > 0 && (frameMax == 0 || limit < frameMax) {
			frameMax = limit
		}
		if frameMax > 0 {
			connection.serializer.SetMaxFrameSize(int(frameMax))
			handler.parser.SetMaxFrameSize(int(frameMax))
		}

		err := connection.sendMethod(handler.session, protocol.ServiceChannel, &codec.MethodFrame{
			Method: protocol.ConnectionTuneOk,
			Args: codec.Table{
				"channelMax": connection.ChannelMax(),
				"frameMax":   uint32(connection.serializer.MaxFrameSize()),
				"heartbeat":  connection.config.heartbeatSeconds(),
			},
		})
		if err != nil {
			return err
		}
		return connection.sendMethod(handler.session, protocol.ServiceChannel, &codec.MethodFrame{
			Method: protocol.ConnectionOpen,
			Args:   codec.Table{"virtualHost": connection.config.Vhost},
		})

	case protocol.ConnectionOpenOk:
		connection.strategy.Reset()
		connection.setState(StateReady, nil)
		return nil

	case protocol.ConnectionClose:
		connection.setState(StateClosing, nil)
		_ = connection.sendMethod(handler.session, protocol.ServiceChannel, &codec.MethodFrame{
			Method: protocol.ConnectionCloseOk,
			Args:   codec.Table{},
		})
		closeErr := &CloseError{}
		closeErr.ReplyCode, _ = args["replyCode"].(uint16)
		closeErr.ReplyText, _ = args["replyText"].(string)
		closeErr.ClassID, _ = args["classId"].(uint16)
		closeErr.MethodID, _ = args["methodId"].(uint16)
		return closeErr

	case protocol.ConnectionCloseOk:
		handler.finished = true
		return nil

	case protocol.ConnectionBlocked:
		reason, _ := args["reason"].(string)
		handler.logger.Warn("connection blocked", "reason", reason)
		connection.emit(Notification{Event: EventBlocked, Reason: reason})
		return nil

	case protocol.ConnectionUnblocked:
		connection.emit(Notification{Event: EventUnblocked})
		return nil

	default:
		return NewError(ProtocolViolation, "no matched method on connection for "+frame.Method.Name)
	}
}

// clampChannelMax never raises an already negotiated nonzero limit. A
// server proposal of zero means no limit and counts as raising it.
func (connection *Connection) clampChannelMax(channelMax uint16) {
	connection.lock.Lock()
	defer connection.lock.Unlock()
	if connection.channelMax != 0 && (channelMax == 0 || channelMax > connection.channelMax) {
		return
	}
	connection.channelMax = channelMax
}
