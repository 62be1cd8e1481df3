package codec

import (
	"encoding/binary"

	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
)

// Handler receives every decoded frame, or the error that replaced it,
// together with the channel the frame arrived on.
type Handler func(channel uint16, frame Frame, err error)

// Parser decodes a byte stream into frames. Input may be split at any
// boundary; incomplete frames are kept until the rest arrives. A Parser is
// owned by one goroutine.
type Parser struct {
	table        *protocol.Table
	handle       Handler
	buf          []byte
	maxFrameSize int
	generation   uint64
}

// NewParser returns a parser that looks methods up in table and reports to
// handle. A nil table selects protocol.Default.
func NewParser(table *protocol.Table, handle Handler) *Parser {
	if table == nil {
		table = protocol.Default()
	}
	if handle == nil {
		handle = func(uint16, Frame, error) {}
	}
	return &Parser{table: table, handle: handle}
}

// SetMaxFrameSize bounds the accepted frame size, END marker included.
// Larger frames are reported as ErrFrameTooLarge and drop the buffered
// input. Zero disables the check.
func (parser *Parser) SetMaxFrameSize(size int) {
	parser.maxFrameSize = size
}

// Reset drops any buffered partial frame.
func (parser *Parser) Reset() {
	parser.buf = parser.buf[:0]
	parser.generation++
}

// Buffered returns the number of bytes waiting for the rest of a frame.
func (parser *Parser) Buffered() int {
	return len(parser.buf)
}

// Write feeds p to Execute; it never fails.
func (parser *Parser) Write(p []byte) (int, error) {
	parser.Execute(p)
	return len(p), nil
}

// Execute appends chunk to the unconsumed input and reports every complete
// frame in arrival order. The chunk is copied and may be reused by the
// caller.
func (parser *Parser) Execute(chunk []byte) {
	parser.buf = append(parser.buf, chunk...)
	generation := parser.generation

	offset := 0
	for len(parser.buf)-offset >= protocol.FrameHeaderSize {
		frameType := protocol.FrameType(parser.buf[offset])
		channel := binary.BigEndian.Uint16(parser.buf[offset+1:])
		length := uint64(binary.BigEndian.Uint32(parser.buf[offset+3:]))

		if parser.maxFrameSize > 0 && length+protocol.FrameOverhead > uint64(parser.maxFrameSize) {
			parser.Reset()
			parser.handle(channel, nil, &DecodeError{Channel: channel, FrameType: frameType, Err: ErrFrameTooLarge})
			return
		}

		// The payload and the END marker must both be buffered.
		if uint64(len(parser.buf)-offset-protocol.FrameHeaderSize) < length+1 {
			break
		}

		payloadStart := offset + protocol.FrameHeaderSize
		payloadEnd := payloadStart + int(length)
		payload := parser.buf[payloadStart:payloadEnd]
		end := parser.buf[payloadEnd]
		offset = payloadEnd + 1

		if end != protocol.FrameEnd {
			// The length prefix cannot be trusted any more; drop what is
			// buffered rather than decode from an arbitrary position.
			parser.Reset()
			parser.handle(channel, nil, &DecodeError{Channel: channel, FrameType: frameType, Err: ErrMissingFrameEnd})
			return
		}

		frame, err := parser.decode(channel, frameType, payload)
		parser.handle(channel, frame, err)
		if parser.generation != generation {
			// The handler reset the parser.
			return
		}
	}

	remaining := copy(parser.buf, parser.buf[offset:])
	parser.buf = parser.buf[:remaining]
}

func (parser *Parser) decode(channel uint16, frameType protocol.FrameType, payload []byte) (Frame, error) {
	switch frameType {
	case protocol.FrameMethod:
		return parser.decodeMethod(channel, payload)
	case protocol.FrameHeader:
		return parser.decodeHeader(channel, payload)
	case protocol.FrameBody:
		return &ContentBody{Data: append([]byte(nil), payload...)}, nil
	case protocol.FrameHeartbeat:
		return &Heartbeat{}, nil
	default:
		return nil, &DecodeError{Channel: channel, FrameType: frameType, Err: ErrUnknownFrameType}
	}
}

func (parser *Parser) decodeMethod(channel uint16, payload []byte) (Frame, error) {
	r := &reader{buf: payload}
	classID, err := r.uint16()
	if err != nil {
		return nil, &DecodeError{Channel: channel, FrameType: protocol.FrameMethod, Err: err}
	}
	methodID, err := r.uint16()
	if err != nil {
		return nil, &DecodeError{Channel: channel, FrameType: protocol.FrameMethod, ClassID: classID, Err: err}
	}

	method, err := parser.table.MethodOf(classID, methodID)
	if err != nil {
		return nil, &DecodeError{Channel: channel, FrameType: protocol.FrameMethod, ClassID: classID, MethodID: methodID, Err: ErrUnknownMethod}
	}

	args, err := r.fields(method.Fields)
	if err != nil {
		return nil, &DecodeError{Channel: channel, FrameType: protocol.FrameMethod, ClassID: classID, MethodID: methodID, Err: err}
	}
	return &MethodFrame{Method: method, Args: args}, nil
}

func (parser *Parser) decodeHeader(channel uint16, payload []byte) (Frame, error) {
	r := &reader{buf: payload}
	fail := func(classID uint16, err error) (Frame, error) {
		return nil, &DecodeError{Channel: channel, FrameType: protocol.FrameHeader, ClassID: classID, Err: err}
	}

	classID, err := r.uint16()
	if err != nil {
		return fail(0, err)
	}
	weight, err := r.uint16()
	if err != nil {
		return fail(classID, err)
	}
	bodySize, err := r.uint64()
	if err != nil {
		return fail(classID, err)
	}
	class, err := parser.table.ClassOf(classID)
	if err != nil {
		return fail(classID, ErrUnknownClass)
	}

	// Bit 0 of a flag word announces another word.
	var flags []uint16
	for {
		word, err := r.uint16()
		if err != nil {
			return fail(classID, err)
		}
		flags = append(flags, word)
		if word&1 == 0 {
			break
		}
	}

	present := make([]protocol.Field, 0, len(class.Properties))
	for i, field := range class.Properties {
		word := i / 15
		if word < len(flags) && flags[word]&(1<<(15-i%15)) != 0 {
			present = append(present, field)
		}
	}

	properties, err := r.fields(present)
	if err != nil {
		return fail(classID, err)
	}
	return &ContentHeader{Class: class, Weight: weight, BodySize: bodySize, Properties: properties}, nil
}
