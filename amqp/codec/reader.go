package codec

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
)

// Field-table value type tags.
const (
	tagString    = 'S'
	tagInt32     = 'I'
	tagTime      = 'T'
	tagTable     = 'F'
	tagInt64     = 'l'
	tagBool      = 't'
	tagDecimal   = 'D'
	tagFloat64   = 'd'
	tagFloat32   = 'f'
	tagByteArray = 'x'
	tagArray     = 'A'
	tagInt8      = 'b'
	tagUint8     = 'B'
	tagInt16     = 's'
	tagUint16    = 'u'
	tagUint32    = 'i'
	tagVoid      = 'V'
)

// reader walks one frame payload. Every read is bounds-checked against the
// payload, so a lying length prefix yields ErrMalformedFrame instead of a
// panic.
type reader struct {
	buf      []byte
	off      int
	bitIndex uint
}

func (r *reader) need(n int) error {
	if n < 0 || len(r.buf)-r.off < n {
		return ErrMalformedFrame
	}
	return nil
}

func (r *reader) uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	value := r.buf[r.off]
	r.off++
	return value, nil
}

func (r *reader) uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	value := binary.BigEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return value, nil
}

func (r *reader) uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	value := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return value, nil
}

func (r *reader) uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	value := binary.BigEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return value, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	value := r.buf[r.off : r.off+n]
	r.off += n
	return value, nil
}

func (r *reader) shortString() (string, error) {
	length, err := r.uint8()
	if err != nil {
		return "", err
	}
	raw, err := r.bytes(int(length))
	return string(raw), err
}

func (r *reader) longString() (string, error) {
	length, err := r.uint32()
	if err != nil {
		return "", err
	}
	if uint64(length) > uint64(len(r.buf)-r.off) {
		return "", ErrMalformedFrame
	}
	raw, err := r.bytes(int(length))
	return string(raw), err
}

func (r *reader) timestamp() (time.Time, error) {
	seconds, err := r.uint64()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(seconds), 0).UTC(), nil
}

// sub returns a reader bounded to the next n bytes and skips them.
func (r *reader) sub(n uint32) (*reader, error) {
	if uint64(n) > uint64(len(r.buf)-r.off) {
		return nil, ErrMalformedFrame
	}
	bounded := &reader{buf: r.buf[r.off : r.off+int(n)]}
	r.off += int(n)
	return bounded, nil
}

func (r *reader) table() (Table, error) {
	length, err := r.uint32()
	if err != nil {
		return nil, err
	}
	entries, err := r.sub(length)
	if err != nil {
		return nil, err
	}

	table := make(Table)
	for entries.off < len(entries.buf) {
		key, err := entries.shortString()
		if err != nil {
			return nil, err
		}
		value, err := entries.value()
		if err != nil {
			return nil, err
		}
		table[key] = value
	}
	return table, nil
}

func (r *reader) array() ([]any, error) {
	length, err := r.uint32()
	if err != nil {
		return nil, err
	}
	items, err := r.sub(length)
	if err != nil {
		return nil, err
	}

	array := make([]any, 0)
	for items.off < len(items.buf) {
		value, err := items.value()
		if err != nil {
			return nil, err
		}
		array = append(array, value)
	}
	return array, nil
}

func (r *reader) value() (any, error) {
	tag, err := r.uint8()
	if err != nil {
		return nil, err
	}

	switch tag {
	case tagString:
		return r.longString()
	case tagInt32:
		value, err := r.uint32()
		return int32(value), err
	case tagTime:
		return r.timestamp()
	case tagTable:
		return r.table()
	case tagInt64:
		value, err := r.uint64()
		return int64(value), err
	case tagBool:
		value, err := r.uint8()
		return value != 0, err
	case tagDecimal:
		scale, err := r.uint8()
		if err != nil {
			return nil, err
		}
		value, err := r.uint32()
		return Decimal{Scale: scale, Value: int32(value)}, err
	case tagFloat64:
		value, err := r.uint64()
		return math.Float64frombits(value), err
	case tagFloat32:
		value, err := r.uint32()
		return math.Float32frombits(value), err
	case tagByteArray:
		length, err := r.uint32()
		if err != nil {
			return nil, err
		}
		if uint64(length) > uint64(len(r.buf)-r.off) {
			return nil, ErrMalformedFrame
		}
		raw, err := r.bytes(int(length))
		return append([]byte{}, raw...), err
	case tagArray:
		return r.array()
	case tagInt8:
		value, err := r.uint8()
		return int8(value), err
	case tagUint8:
		return r.uint8()
	case tagInt16:
		value, err := r.uint16()
		return int16(value), err
	case tagUint16:
		return r.uint16()
	case tagUint32:
		return r.uint32()
	case tagVoid:
		return nil, nil
	default:
		return nil, ErrUnknownValueType
	}
}

// fields decodes args in declaration order. Consecutive bit fields share
// octets, low-order bit first.
func (r *reader) fields(fields []protocol.Field) (Table, error) {
	args := make(Table, len(fields))
	r.bitIndex = 0

	for i, field := range fields {
		var (
			value any
			err   error
		)

		switch field.Domain {
		case protocol.DomainBit:
			if err = r.need(1); err != nil {
				return nil, err
			}
			value = r.buf[r.off]&(1<<r.bitIndex) != 0
			if i+1 < len(fields) && fields[i+1].Domain == protocol.DomainBit && r.bitIndex < 7 {
				r.bitIndex++
			} else {
				r.bitIndex = 0
				r.off++
			}
		case protocol.DomainOctet:
			value, err = r.uint8()
		case protocol.DomainShort:
			value, err = r.uint16()
		case protocol.DomainLong:
			value, err = r.uint32()
		case protocol.DomainLongLong:
			value, err = r.uint64()
		case protocol.DomainTimestamp:
			value, err = r.timestamp()
		case protocol.DomainShortStr:
			value, err = r.shortString()
		case protocol.DomainLongStr:
			value, err = r.longString()
		case protocol.DomainTable:
			value, err = r.table()
		default:
			err = ErrUnknownValueType
		}
		if err != nil {
			return nil, err
		}
		args[field.Name] = value
	}

	return args, nil
}
