package protocol

import amqp091 "github.com/rabbitmq/amqp091-go"

// FrameType identifies the payload carried by a frame.
type FrameType uint8

// Frame types defined by AMQP 0-9-1.
const (
	FrameMethod    FrameType = 1
	FrameHeader    FrameType = 2
	FrameBody      FrameType = 3
	FrameHeartbeat FrameType = 8
)

func (frameType FrameType) String() string {
	switch frameType {
	case FrameMethod:
		return "method"
	case FrameHeader:
		return "header"
	case FrameBody:
		return "body"
	case FrameHeartbeat:
		return "heartbeat"
	default:
		return "unknown"
	}
}

// Wire-level sizes and markers.
const (
	// FrameEnd terminates every frame.
	FrameEnd byte = 0xCE

	// FrameHeaderSize is type(1) + channel(2) + length(4).
	FrameHeaderSize = 7

	// FrameOverhead is the header plus the END marker.
	FrameOverhead = FrameHeaderSize + 1

	// HeartbeatFrameSize is the smallest valid frame.
	HeartbeatFrameSize = FrameOverhead

	// FrameMinSize is the smallest frame-max a peer may negotiate.
	FrameMinSize = 4096

	// DefaultFrameMax is used until tuning negotiates another value.
	DefaultFrameMax = 131072

	// ServiceChannel carries connection control methods.
	ServiceChannel uint16 = 0

	// VersionMajor and VersionMinor are the only accepted server versions.
	VersionMajor = 0
	VersionMinor = 9
)

// ProtocolHeader is sent by the client right after the transport connects.
var ProtocolHeader = []byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

// Reply codes carried by connection.close and channel.close.
const (
	ReplySuccess       = 200
	ContentTooLarge    = amqp091.ContentTooLarge
	NoRoute            = amqp091.NoRoute
	NoConsumers        = amqp091.NoConsumers
	ConnectionForced   = amqp091.ConnectionForced
	InvalidPath        = amqp091.InvalidPath
	AccessRefused      = amqp091.AccessRefused
	NotFound           = amqp091.NotFound
	ResourceLocked     = amqp091.ResourceLocked
	PreconditionFailed = amqp091.PreconditionFailed
	FrameError         = amqp091.FrameError
	SyntaxError        = amqp091.SyntaxError
	CommandInvalid     = amqp091.CommandInvalid
	ChannelError       = amqp091.ChannelError
	UnexpectedFrame    = amqp091.UnexpectedFrame
	ResourceError      = amqp091.ResourceError
	NotAllowed         = amqp091.NotAllowed
	NotImplemented     = amqp091.NotImplemented
	InternalError      = amqp091.InternalError
)

// IsHardError reports whether a reply code closes the whole connection rather
// than a single channel.
func IsHardError(code uint16) bool {
	switch code {
	case ContentTooLarge, NoRoute, NoConsumers, AccessRefused, NotFound, ResourceLocked, PreconditionFailed:
		return false
	case ReplySuccess:
		return false
	}
	return code >= 300
}
