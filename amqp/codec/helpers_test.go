package codec

import (
	"time"

	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
)

type parsedFrame struct {
	channel uint16
	frame   Frame
	err     error
}

type frameRecorder struct {
	frames []parsedFrame
}

func (recorder *frameRecorder) handle(channel uint16, frame Frame, err error) {
	recorder.frames = append(recorder.frames, parsedFrame{channel: channel, frame: frame, err: err})
}

func newRecordingParser(table *protocol.Table) (*Parser, *frameRecorder) {
	recorder := &frameRecorder{}
	return NewParser(table, recorder.handle), recorder
}

var sampleTime = time.Unix(1700000000, 0).UTC()

// sampleArgs fills every field of a method with a valid value. Bits
// alternate so neighbouring flags are distinguishable.
func sampleArgs(fields []protocol.Field) Table {
	args := make(Table, len(fields))
	for i, field := range fields {
		switch field.Domain {
		case protocol.DomainBit:
			args[field.Name] = i%2 == 0
		case protocol.DomainOctet:
			args[field.Name] = uint8(7)
		case protocol.DomainShort:
			args[field.Name] = uint16(513)
		case protocol.DomainLong:
			args[field.Name] = uint32(70000)
		case protocol.DomainLongLong:
			args[field.Name] = uint64(1) << 40
		case protocol.DomainTimestamp:
			args[field.Name] = sampleTime
		case protocol.DomainShortStr:
			args[field.Name] = "name-" + field.Name
		case protocol.DomainLongStr:
			args[field.Name] = "long string for " + field.Name
		case protocol.DomainTable:
			args[field.Name] = Table{"k": "v", "n": int32(5), "nested": Table{"ok": true}}
		}
	}
	return args
}

func mustEncodeMethod(serializer *Serializer, channel uint16, method *protocol.Method, args Table) []byte {
	frame, err := serializer.EncodeMethod(channel, &MethodFrame{Method: method, Args: args})
	if err != nil {
		panic(err)
	}
	return frame
}
