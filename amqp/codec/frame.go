package codec

import (
	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
)

// Frame is one of *MethodFrame, *ContentHeader, *ContentBody or *Heartbeat.
// The channel number travels next to the frame.
type Frame interface {
	Type() protocol.FrameType
}

// Table is a field table. Keys are field or property names for method
// arguments and header properties, and arbitrary strings for wire tables.
//
// Decoded wire-table values use these types: string (S), int32 (I),
// int64 (l), bool (t), float32 (f), float64 (d), Decimal (D),
// time.Time (T), []byte (x), []any (A), Table (F), int8 (b), uint8 (B),
// int16 (s), uint16 (u), uint32 (i) and nil (V).
type Table map[string]any

// MethodFrame carries a method call and its arguments.
type MethodFrame struct {
	Method *protocol.Method
	Args   Table
}

func (*MethodFrame) Type() protocol.FrameType { return protocol.FrameMethod }

// ContentHeader announces a content body. Only the properties present on
// the wire are set in Properties.
type ContentHeader struct {
	Class      *protocol.Class
	Weight     uint16
	BodySize   uint64
	Properties Table
}

func (*ContentHeader) Type() protocol.FrameType { return protocol.FrameHeader }

// ContentBody is one fragment of a content payload.
type ContentBody struct {
	Data []byte
}

func (*ContentBody) Type() protocol.FrameType { return protocol.FrameBody }

// Heartbeat has no payload.
type Heartbeat struct{}

func (*Heartbeat) Type() protocol.FrameType { return protocol.FrameHeartbeat }

// Decimal is the AMQP decimal value: Value scaled down by Scale digits.
type Decimal struct {
	Scale uint8
	Value int32
}

// Float64 returns Value / 10^Scale.
func (decimal Decimal) Float64() float64 {
	result := float64(decimal.Value)
	for i := uint8(0); i < decimal.Scale; i++ {
		result /= 10
	}
	return result
}

// heartbeatFrame is the only encoding a heartbeat can have.
var heartbeatFrame = []byte{byte(protocol.FrameHeartbeat), 0, 0, 0, 0, 0, 0, protocol.FrameEnd}
