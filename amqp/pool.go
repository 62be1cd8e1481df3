package amqp

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Thejuampi/amqp-client-go/amqp/codec"
	"github.com/eapache/queue"
)

// ClusterState is the lifecycle position of a Pool.
type ClusterState int32

const (
	ClusterWait ClusterState = iota
	ClusterConnecting
	ClusterReady
	ClusterReconnecting
	ClusterDisconnecting
	ClusterClose
)

var clusterStateNames = [...]string{
	ClusterWait:          "WAIT",
	ClusterConnecting:    "CONNECTING",
	ClusterReady:         "READY",
	ClusterReconnecting:  "RECONNECTING",
	ClusterDisconnecting: "DISCONNECTING",
	ClusterClose:         "CLOSE",
}

func (state ClusterState) String() string {
	if state >= 0 && int(state) < len(clusterStateNames) {
		return clusterStateNames[state]
	}
	return "UNKNOWN"
}

const poolStrategyKey = "pool"

type messageKind int

const (
	messageConnect messageKind = iota
	messageDisconnect
	messageReset
	messageRetry
	messageNode
)

type poolMessage struct {
	kind         messageKind
	node         *Connection
	notification Notification
	hosts        []Host
	generation   uint64
	reply        chan error
}

type poolNode struct {
	conn        *Connection
	unsubscribe func()
}

// round is one connection attempt across the shuffled host list.
type round struct {
	hosts  []Host
	errors map[string]error
}

// Pool owns one Connection per configured host and exposes the active one.
// The first node to become ready wins; nodes that become ready later are
// kept as pending and promoted when the active node fails. Member
// notifications are queued in a mailbox and handled by one supervisor
// goroutine, which is the only writer of pool state.
type Pool struct {
	config     *Config
	serializer *codec.Serializer
	chooser    HostChooser
	strategy   ReconnectDelayStrategy
	logger     *slog.Logger
	observers  observers

	state atomic.Int32

	lock        sync.Mutex
	mailbox     *queue.Queue
	signal      chan struct{}
	supervising bool

	hosts       []Host
	nodes       map[string]*poolNode
	active      *Connection
	pending     []*Connection
	round       *round
	generation  uint64
	retry       *time.Timer
	manual      bool
	waiters     []chan error
	drainers    []chan error
	disconnects sync.WaitGroup
}

// NewPool returns an idle pool over config.Hosts. All members share one
// serializer, so frame-max tuning is pool wide.
func NewPool(config *Config) *Pool {
	config = config.withDefaults()
	return &Pool{
		config:     config,
		serializer: codec.NewSerializer(0),
		chooser:    config.HostChooser,
		strategy:   config.ReconnectPolicy.Strategy,
		logger:     config.Logger.With("component", "pool"),
		mailbox:    queue.New(),
		signal:     make(chan struct{}, 1),
		hosts:      config.Hosts,
		nodes:      make(map[string]*poolNode),
	}
}

// State returns the current cluster state.
func (pool *Pool) State() ClusterState { return ClusterState(pool.state.Load()) }

// Active returns the connection currently serving traffic, or nil.
func (pool *Pool) Active() *Connection {
	pool.lock.Lock()
	defer pool.lock.Unlock()
	return pool.active
}

// Nodes returns a snapshot of the members ordered by key.
func (pool *Pool) Nodes() []*Connection {
	pool.lock.Lock()
	defer pool.lock.Unlock()
	keys := make([]string, 0, len(pool.nodes))
	for key := range pool.nodes {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	nodes := make([]*Connection, 0, len(keys))
	for _, key := range keys {
		nodes = append(nodes, pool.nodes[key].conn)
	}
	return nodes
}

// Node returns the member for a host key, or nil.
func (pool *Pool) Node(key string) *Connection {
	pool.lock.Lock()
	defer pool.lock.Unlock()
	if node, ok := pool.nodes[key]; ok {
		return node.conn
	}
	return nil
}

// Subscribe registers listener for pool notifications and returns the
// function that removes it.
func (pool *Pool) Subscribe(listener Listener) func() {
	return pool.observers.subscribe(listener)
}

// Connect starts a round if the pool is idle and waits until a node is
// active. With reconnect disabled and every host failing, the returned
// error is an *AggregateError holding one *HostError per host.
func (pool *Pool) Connect(ctx context.Context) error {
	reply := make(chan error, 1)
	pool.enqueue(poolMessage{kind: messageConnect, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes every member without reconnecting and waits until the
// pool has drained.
func (pool *Pool) Disconnect(ctx context.Context) error {
	reply := make(chan error, 1)
	pool.enqueue(poolMessage{kind: messageDisconnect, reply: reply})
	select {
	case err := <-reply:
		pool.disconnects.Wait()
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset replaces the host list. Members whose host is gone are
// disconnected; new hosts join the next round.
func (pool *Pool) Reset(hosts []Host) {
	normalized := make([]Host, len(hosts))
	for i, host := range hosts {
		normalized[i] = normalizeHost(host)
	}
	pool.enqueue(poolMessage{kind: messageReset, hosts: normalized})
}

// SendMethod writes through the active connection.
func (pool *Pool) SendMethod(channel uint16, frame *codec.MethodFrame) error {
	active := pool.Active()
	if active == nil {
		return NewError(NotConnectedError, "no active connection")
	}
	return active.SendMethod(channel, frame)
}

// SendData writes content through the active connection.
func (pool *Pool) SendData(channel uint16, body *codec.ContentBody, header *codec.ContentHeader) error {
	active := pool.Active()
	if active == nil {
		return NewError(NotConnectedError, "no active connection")
	}
	return active.SendData(channel, body, header)
}

func (pool *Pool) enqueue(message poolMessage) {
	pool.lock.Lock()
	pool.mailbox.Add(message)
	if !pool.supervising {
		pool.supervising = true
		go pool.supervise()
	}
	pool.lock.Unlock()

	select {
	case pool.signal <- struct{}{}:
	default:
	}
}

// supervise drains the mailbox. It exits once the pool holds no members
// and no retry is scheduled; the next message starts a new supervisor.
func (pool *Pool) supervise() {
	for {
		pool.lock.Lock()
		if pool.mailbox.Length() == 0 {
			if len(pool.nodes) == 0 && pool.retry == nil {
				pool.supervising = false
				pool.lock.Unlock()
				return
			}
			pool.lock.Unlock()
			<-pool.signal
			continue
		}
		message := pool.mailbox.Remove().(poolMessage)
		effects := &effects{}
		pool.handle(message, effects)
		pool.lock.Unlock()

		pool.apply(effects)
	}
}

// effects are side effects collected under the pool lock and run after it
// is released, so listeners may call back into the pool.
type effects struct {
	starts        []*Connection
	stops         []*Connection
	notifications []Notification
	replies       []reply
}

type reply struct {
	to  chan error
	err error
}

func (effects *effects) notify(notification Notification) {
	effects.notifications = append(effects.notifications, notification)
}

func (effects *effects) resolve(waiters []chan error, err error) {
	for _, waiter := range waiters {
		effects.replies = append(effects.replies, reply{waiter, err})
	}
}

func (pool *Pool) apply(effects *effects) {
	for _, node := range effects.stops {
		pool.disconnects.Add(1)
		go func(node *Connection) {
			defer pool.disconnects.Done()
			ctx, cancel := context.WithTimeout(context.Background(), pool.config.DisconnectTimeout)
			defer cancel()
			_ = node.Disconnect(ctx)
		}(node)
	}
	for _, node := range effects.starts {
		node.Start()
	}
	for _, notification := range effects.notifications {
		pool.observers.broadcast(notification)
	}
	for _, reply := range effects.replies {
		reply.to <- reply.err
	}
}

func (pool *Pool) setState(state ClusterState) {
	previous := ClusterState(pool.state.Swap(int32(state)))
	if previous != state {
		pool.logger.Debug("cluster state changed", "from", previous.String(), "to", state.String())
	}
}

func (pool *Pool) handle(message poolMessage, effects *effects) {
	switch message.kind {
	case messageConnect:
		pool.handleConnect(message.reply, effects)
	case messageDisconnect:
		pool.handleDisconnect(message.reply, effects)
	case messageReset:
		pool.handleReset(message.hosts, effects)
	case messageRetry:
		if message.generation != pool.generation || pool.manual {
			return
		}
		pool.retry = nil
		pool.startRound(effects)
	case messageNode:
		pool.handleNode(message.node, message.notification, effects)
	}
}

func (pool *Pool) handleConnect(waiter chan error, effects *effects) {
	switch pool.State() {
	case ClusterReady:
		effects.resolve([]chan error{waiter}, nil)
		return
	case ClusterDisconnecting:
		effects.resolve([]chan error{waiter}, NewError(DisconnectedError, "pool is disconnecting"))
		return
	}
	if len(pool.hosts) == 0 {
		effects.resolve([]chan error{waiter}, NewError(InvalidURIError, ErrNoHosts))
		return
	}

	pool.waiters = append(pool.waiters, waiter)
	switch pool.State() {
	case ClusterWait, ClusterClose:
		pool.manual = false
		pool.setState(ClusterConnecting)
		pool.startRound(effects)
	}
}

func (pool *Pool) handleDisconnect(waiter chan error, effects *effects) {
	pool.manual = true
	pool.generation++
	if pool.retry != nil {
		pool.retry.Stop()
		pool.retry = nil
	}
	pool.round = nil
	effects.resolve(pool.waiters, NewError(DisconnectedError, "pool disconnected"))
	pool.waiters = nil

	if len(pool.nodes) == 0 {
		pool.active = nil
		pool.pending = nil
		pool.setState(ClusterClose)
		effects.resolve([]chan error{waiter}, nil)
		return
	}

	pool.setState(ClusterDisconnecting)
	pool.drainers = append(pool.drainers, waiter)
	for _, node := range pool.nodes {
		effects.stops = append(effects.stops, node.conn)
	}
}

func (pool *Pool) handleReset(hosts []Host, effects *effects) {
	keep := make(map[string]bool, len(hosts))
	for _, host := range hosts {
		keep[host.Key()] = true
	}
	pool.hosts = hosts
	for key, node := range pool.nodes {
		if !keep[key] {
			pool.logger.Info("removing node", "node", key)
			effects.stops = append(effects.stops, node.conn)
		}
	}
}

// startRound orders the hosts and starts a member for each of them. The
// attempts race; the first ready member becomes active.
func (pool *Pool) startRound(effects *effects) {
	hosts := pool.chooser.Order(pool.hosts)
	pool.round = &round{hosts: hosts, errors: make(map[string]error, len(hosts))}
	pool.logger.Debug("starting connection round", "hosts", len(hosts))

	for _, host := range hosts {
		effects.starts = append(effects.starts, pool.findOrCreate(host))
	}
}

func (pool *Pool) findOrCreate(host Host) *Connection {
	key := host.Key()
	if node, ok := pool.nodes[key]; ok {
		return node.conn
	}

	config := *pool.config
	config.Reconnect = false
	conn := NewConnection(host, &config, pool.serializer)
	node := &poolNode{conn: conn}
	node.unsubscribe = conn.Subscribe(ListenerFunc(func(notification Notification) {
		switch notification.Event {
		case EventCommand, EventBlocked, EventUnblocked:
			pool.observers.broadcast(notification)
		default:
			pool.enqueue(poolMessage{kind: messageNode, node: conn, notification: notification})
		}
	}))
	pool.nodes[key] = node
	pool.logger.Debug("added node", "node", key)
	return conn
}

func (pool *Pool) handleNode(conn *Connection, notification Notification, effects *effects) {
	node, ok := pool.nodes[conn.ID()]
	if !ok || node.conn != conn {
		return
	}

	switch notification.Event {
	case EventReady:
		pool.nodeReady(conn, effects)
	case EventClosed:
		pool.nodeClosed(node, notification.Err, effects)
	case EventReconnecting:
		// EventError is not forwarded: the same failure reaches the pool
		// again through EventClosed or EventReconnecting.
		if notification.Err != nil {
			effects.notify(Notification{Event: EventNodeError, Node: conn.ID(), Err: notification.Err})
		}
	}
}

func (pool *Pool) nodeReady(conn *Connection, effects *effects) {
	pool.chooser.ReportSuccess(conn.Host())
	if pool.manual {
		effects.stops = append(effects.stops, conn)
		return
	}
	if pool.active != nil {
		pool.pending = append(pool.pending, conn)
		pool.logger.Debug("node pending", "node", conn.ID())
		return
	}
	pool.activate(conn, effects)
}

func (pool *Pool) activate(conn *Connection, effects *effects) {
	pool.active = conn
	pool.round = nil
	pool.strategy.Reset()
	pool.setState(ClusterReady)
	pool.logger.Info("node active", "node", conn.ID())
	effects.notify(Notification{Event: EventReady, Node: conn.ID()})
	effects.resolve(pool.waiters, nil)
	pool.waiters = nil
}

func (pool *Pool) nodeClosed(node *poolNode, err error, effects *effects) {
	conn := node.conn
	key := conn.ID()
	node.unsubscribe()
	delete(pool.nodes, key)
	pool.pending = slices.DeleteFunc(pool.pending, func(candidate *Connection) bool { return candidate == conn })
	if err != nil {
		pool.chooser.ReportFailure(conn.Host(), err)
		effects.notify(Notification{Event: EventNodeError, Node: key, Err: err})
	}

	switch {
	case pool.manual:
		if pool.active == conn {
			pool.active = nil
		}
	case pool.active == conn:
		pool.active = nil
		pool.activeLost(err, effects)
	case pool.active == nil && pool.round != nil:
		pool.roundFailure(key, err, effects)
	}

	if len(pool.nodes) == 0 {
		effects.notify(Notification{Event: EventDrain})
		if pool.manual {
			pool.pending = nil
			pool.setState(ClusterClose)
			effects.notify(Notification{Event: EventClosed})
			effects.resolve(pool.drainers, nil)
			pool.drainers = nil
		}
	}
}

func (pool *Pool) activeLost(err error, effects *effects) {
	if len(pool.pending) > 0 {
		next := pool.pending[0]
		pool.pending = pool.pending[1:]
		pool.logger.Info("promoting pending node", "node", next.ID())
		pool.activate(next, effects)
		return
	}

	if !pool.config.Reconnect {
		pool.setState(ClusterWait)
		effects.notify(Notification{Event: EventClosed, Err: err})
		return
	}
	pool.setState(ClusterReconnecting)
	effects.notify(Notification{Event: EventReconnecting, Err: err})
	pool.startRound(effects)
}

// roundFailure records a failed host of the current round and reacts once
// every host of the round has failed.
func (pool *Pool) roundFailure(key string, err error, effects *effects) {
	if err == nil {
		err = NewError(DisconnectedError, "connection closed")
	}
	pool.round.errors[key] = err
	for _, host := range pool.round.hosts {
		if _, failed := pool.round.errors[host.Key()]; !failed {
			return
		}
	}

	aggregate := &AggregateError{}
	for _, host := range pool.round.hosts {
		aggregate.Errors = append(aggregate.Errors, &HostError{Host: host.Key(), Err: pool.round.errors[host.Key()]})
	}
	pool.round = nil

	if pool.config.Reconnect {
		wait, waitErr := pool.strategy.GetConnectWaitDuration(poolStrategyKey)
		if waitErr == nil {
			pool.setState(ClusterReconnecting)
			effects.notify(Notification{Event: EventReconnecting, Err: aggregate})
			pool.generation++
			generation := pool.generation
			pool.logger.Warn("all hosts failed, retrying", "wait", wait, "error", aggregate)
			pool.retry = time.AfterFunc(wait, func() {
				pool.enqueue(poolMessage{kind: messageRetry, generation: generation})
			})
			return
		}
		aggregate.Errors = append(aggregate.Errors, waitErr)
	}

	pool.logger.Warn("all hosts failed", "error", aggregate)
	pool.setState(ClusterWait)
	effects.notify(Notification{Event: EventError, Err: aggregate})
	effects.notify(Notification{Event: EventClosed, Err: aggregate})
	effects.resolve(pool.waiters, aggregate)
	pool.waiters = nil
}
