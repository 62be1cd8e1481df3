package codec

import (
	"errors"
	"fmt"

	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
)

// Decode errors.
var (
	ErrMissingFrameEnd  = errors.New("missing end frame")
	ErrUnknownFrameType = errors.New("unknown frame type")
	ErrUnknownMethod    = errors.New("unknown method")
	ErrUnknownClass     = errors.New("unknown class")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrFrameTooLarge    = errors.New("frame exceeds frame max")
	ErrUnknownValueType = errors.New("unknown field value type")
)

// Encode errors.
var (
	ErrMissingField    = errors.New("missing required field")
	ErrTypeMismatch    = errors.New("value does not match field domain")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrBufferOverflow  = errors.New("write out of bounds")
	ErrUnsupportedType = errors.New("unsupported type in amqp table")
)

// DecodeError reports a frame that could not be decoded. Channel is the
// channel number read from the frame header.
type DecodeError struct {
	Channel   uint16
	FrameType protocol.FrameType
	ClassID   uint16
	MethodID  uint16
	Err       error
}

func (err *DecodeError) Error() string {
	switch {
	case errors.Is(err.Err, ErrUnknownMethod):
		return fmt.Sprintf("channel %d: %v: bad classId, methodId pair: %d, %d", err.Channel, err.Err, err.ClassID, err.MethodID)
	case errors.Is(err.Err, ErrUnknownClass):
		return fmt.Sprintf("channel %d: %v: %d", err.Channel, err.Err, err.ClassID)
	default:
		return fmt.Sprintf("channel %d: %s frame: %v", err.Channel, err.FrameType, err.Err)
	}
}

func (err *DecodeError) Unwrap() error { return err.Err }

// EncodeError reports a frame that could not be encoded. Nothing is written
// past the scratch buffer when it is returned.
type EncodeError struct {
	Method string
	Field  string
	Err    error
}

func (err *EncodeError) Error() string {
	switch {
	case err.Method != "" && err.Field != "":
		return fmt.Sprintf("encode %s.%s: %v", err.Method, err.Field, err.Err)
	case err.Method != "":
		return fmt.Sprintf("encode %s: %v", err.Method, err.Err)
	case err.Field != "":
		return fmt.Sprintf("encode %s: %v", err.Field, err.Err)
	default:
		return "encode: " + err.Err.Error()
	}
}

func (err *EncodeError) Unwrap() error { return err.Err }
