// Package amqp implements the connection layer of an AMQP 0-9-1 client:
// frame encoding and decoding, the connection handshake, heartbeats,
// graceful close and a pool that fails over between broker hosts.
//
// The primary lifecycle is:
//   - build a Config with DefaultConfig or ParseURL
//   - construct a Connection with NewConnection, or a Pool with NewPool
//   - Connect and wait for the ready state
//   - send methods and content with SendMethod and SendData
//   - Disconnect when finished
//
// Frames that arrive on channels other than 0 are delivered to listeners
// as EventCommand notifications. Channel and consumer bookkeeping is left
// to the layer above.
//
// Connections and pools are safe for concurrent use. Listeners run on the
// goroutine that raised the event and must not block.
//
// Errors are *Error values classified by ErrorCode and match the exported
// sentinels under errors.Is. A pool that exhausts a connect round without
// reconnect reports an *AggregateError holding one *HostError per host.
package amqp
