package codec

import (
	"fmt"
	"sync"

	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
)

// Serializer encodes frames through one reusable scratch buffer whose
// capacity equals the frame max. It is safe for concurrent use; every call
// returns freshly allocated frames that never alias the scratch buffer.
type Serializer struct {
	lock         sync.Mutex
	scratch      []byte
	maxFrameSize int
	out          writer
}

// NewSerializer returns a serializer for frames of at most maxFrameSize
// bytes. Zero selects protocol.DefaultFrameMax.
func NewSerializer(maxFrameSize int) *Serializer {
	maxFrameSize = normalizeFrameSize(maxFrameSize)
	return &Serializer{
		scratch:      make([]byte, maxFrameSize),
		maxFrameSize: maxFrameSize,
	}
}

func normalizeFrameSize(size int) int {
	if size <= 0 {
		return protocol.DefaultFrameMax
	}
	if size <= protocol.FrameOverhead {
		return protocol.FrameOverhead + 1
	}
	return size
}

// MaxFrameSize returns the current frame max.
func (serializer *Serializer) MaxFrameSize() int {
	serializer.lock.Lock()
	defer serializer.lock.Unlock()
	return serializer.maxFrameSize
}

// SetMaxFrameSize resizes the scratch buffer after tuning. Zero selects
// protocol.DefaultFrameMax.
func (serializer *Serializer) SetMaxFrameSize(size int) {
	size = normalizeFrameSize(size)

	serializer.lock.Lock()
	defer serializer.lock.Unlock()

	if size == serializer.maxFrameSize {
		return
	}
	if size < cap(serializer.scratch) {
		serializer.scratch = serializer.scratch[:size]
	} else {
		serializer.scratch = make([]byte, size)
	}
	serializer.maxFrameSize = size
}

// finish copies the used prefix of the scratch buffer.
func (serializer *Serializer) finish() []byte {
	frame := make([]byte, serializer.out.off)
	copy(frame, serializer.scratch[:serializer.out.off])
	return frame
}

// EncodeMethod encodes a method frame. Every declared field must be present
// in frame.Args except reserved fields and noWait, which have defaults.
func (serializer *Serializer) EncodeMethod(channel uint16, frame *MethodFrame) ([]byte, error) {
	if frame == nil || frame.Method == nil {
		return nil, &EncodeError{Err: fmt.Errorf("%w: method frame without method", ErrMissingField)}
	}
	method := frame.Method

	serializer.lock.Lock()
	defer serializer.lock.Unlock()

	w := &serializer.out
	w.reset(serializer.scratch)
	w.uint8(uint8(protocol.FrameMethod))
	w.uint16(channel)
	lengthAt := w.reserve(4)
	start := w.off
	w.uint16(method.ClassID)
	w.uint16(method.MethodID)
	failed := w.strictFields(method.Fields, frame.Args)
	w.patchLength(lengthAt, start)
	w.uint8(protocol.FrameEnd)

	if w.err != nil {
		return nil, &EncodeError{Method: method.Name, Field: failed, Err: w.err}
	}
	return serializer.finish(), nil
}

// EncodeHeader encodes a content header. Only the properties present in
// header.Properties are written and flagged.
func (serializer *Serializer) EncodeHeader(channel uint16, header *ContentHeader) ([]byte, error) {
	if header == nil || header.Class == nil {
		return nil, &EncodeError{Err: fmt.Errorf("%w: content header without class", ErrMissingField)}
	}
	class := header.Class

	present := make([]protocol.Field, 0, len(header.Properties))
	var flags []uint16
	for i, field := range class.Properties {
		if _, ok := header.Properties[field.Name]; !ok {
			continue
		}
		word := i / 15
		for len(flags) <= word {
			flags = append(flags, 0)
		}
		flags[word] |= 1 << (15 - i%15)
		present = append(present, field)
	}
	if len(flags) == 0 {
		flags = append(flags, 0)
	}
	for i := 0; i < len(flags)-1; i++ {
		flags[i] |= 1
	}

	serializer.lock.Lock()
	defer serializer.lock.Unlock()

	w := &serializer.out
	w.reset(serializer.scratch)
	w.uint8(uint8(protocol.FrameHeader))
	w.uint16(channel)
	lengthAt := w.reserve(4)
	start := w.off
	w.uint16(class.ID)
	w.uint16(0)
	w.uint64(header.BodySize)
	for _, flag := range flags {
		w.uint16(flag)
	}
	failed := w.strictFields(present, header.Properties)
	w.patchLength(lengthAt, start)
	w.uint8(protocol.FrameEnd)

	if w.err != nil {
		return nil, &EncodeError{Method: class.Name, Field: failed, Err: w.err}
	}
	return serializer.finish(), nil
}

// EncodeBody splits a payload into body frames of at most the frame max
// each. An empty payload yields no frames.
func (serializer *Serializer) EncodeBody(channel uint16, body *ContentBody) ([][]byte, error) {
	if body == nil {
		return nil, nil
	}

	serializer.lock.Lock()
	chunk := serializer.maxFrameSize - protocol.FrameOverhead
	serializer.lock.Unlock()

	data := body.Data
	frames := make([][]byte, 0, (len(data)+chunk-1)/chunk)
	for offset := 0; offset < len(data); offset += chunk {
		length := min(chunk, len(data)-offset)
		frame := make([]byte, length+protocol.FrameOverhead)
		w := writer{buf: frame}
		w.uint8(uint8(protocol.FrameBody))
		w.uint16(channel)
		w.uint32(uint32(length))
		w.raw(data[offset : offset+length])
		w.uint8(protocol.FrameEnd)
		if w.err != nil {
			return nil, &EncodeError{Err: w.err}
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// EncodeHeartbeat returns a heartbeat frame.
func (serializer *Serializer) EncodeHeartbeat() []byte {
	return append([]byte(nil), heartbeatFrame...)
}

// Encode encodes any frame. Only body frames can produce more than one
// buffer.
func (serializer *Serializer) Encode(channel uint16, frame Frame) ([][]byte, error) {
	switch f := frame.(type) {
	case *MethodFrame:
		encoded, err := serializer.EncodeMethod(channel, f)
		if err != nil {
			return nil, err
		}
		return [][]byte{encoded}, nil
	case *ContentHeader:
		encoded, err := serializer.EncodeHeader(channel, f)
		if err != nil {
			return nil, err
		}
		return [][]byte{encoded}, nil
	case *ContentBody:
		return serializer.EncodeBody(channel, f)
	case *Heartbeat:
		return [][]byte{serializer.EncodeHeartbeat()}, nil
	default:
		return nil, &EncodeError{Err: fmt.Errorf("%w: frame %T", ErrUnsupportedType, frame)}
	}
}
