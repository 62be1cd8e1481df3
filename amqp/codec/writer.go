package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/Thejuampi/amqp-client-go/amqp/protocol"
	amqp091 "github.com/rabbitmq/amqp091-go"
)

// writer fills a fixed-capacity buffer. The first failing write records an
// error; later writes are no-ops, so the buffer is never written past its
// end.
type writer struct {
	buf      []byte
	off      int
	bitField byte
	bitIndex uint
	err      error
}

func (w *writer) reset(buf []byte) {
	w.buf = buf
	w.off = 0
	w.bitField = 0
	w.bitIndex = 0
	w.err = nil
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) room(n int) bool {
	if w.err != nil {
		return false
	}
	if len(w.buf)-w.off < n {
		w.fail(ErrBufferOverflow)
		return false
	}
	return true
}

func (w *writer) uint8(value uint8) {
	if w.room(1) {
		w.buf[w.off] = value
		w.off++
	}
}

func (w *writer) uint16(value uint16) {
	if w.room(2) {
		binary.BigEndian.PutUint16(w.buf[w.off:], value)
		w.off += 2
	}
}

func (w *writer) uint32(value uint32) {
	if w.room(4) {
		binary.BigEndian.PutUint32(w.buf[w.off:], value)
		w.off += 4
	}
}

func (w *writer) uint64(value uint64) {
	if w.room(8) {
		binary.BigEndian.PutUint64(w.buf[w.off:], value)
		w.off += 8
	}
}

func (w *writer) raw(value []byte) {
	if w.room(len(value)) {
		w.off += copy(w.buf[w.off:], value)
	}
}

// reserve skips n bytes to be patched later and returns their offset.
func (w *writer) reserve(n int) int {
	at := w.off
	if w.room(n) {
		w.off += n
	}
	return at
}

// patchLength writes the byte count since start at the reserved offset.
func (w *writer) patchLength(at int, start int) {
	if w.err != nil {
		return
	}
	length := w.off - start
	if uint64(length) > math.MaxUint32 {
		w.fail(ErrValueOutOfRange)
		return
	}
	binary.BigEndian.PutUint32(w.buf[at:], uint32(length))
}

func (w *writer) shortString(value string) {
	if len(value) > math.MaxUint8 {
		w.fail(fmt.Errorf("%w: string of %d bytes too long for shortstr", ErrValueOutOfRange, len(value)))
		return
	}
	if w.room(1 + len(value)) {
		w.buf[w.off] = uint8(len(value))
		w.off++
		w.off += copy(w.buf[w.off:], value)
	}
}

func (w *writer) longString(value string) {
	if uint64(len(value)) > math.MaxUint32 {
		w.fail(ErrValueOutOfRange)
		return
	}
	if w.room(4 + len(value)) {
		binary.BigEndian.PutUint32(w.buf[w.off:], uint32(len(value)))
		w.off += 4
		w.off += copy(w.buf[w.off:], value)
	}
}

func (w *writer) byteArray(value []byte) {
	if uint64(len(value)) > math.MaxUint32 {
		w.fail(ErrValueOutOfRange)
		return
	}
	if w.room(4 + len(value)) {
		binary.BigEndian.PutUint32(w.buf[w.off:], uint32(len(value)))
		w.off += 4
		w.off += copy(w.buf[w.off:], value)
	}
}

// table writes a length-prefixed field table. Keys are sorted so equal
// tables always encode to equal bytes.
func (w *writer) table(value any) {
	if value == nil {
		w.uint32(0)
		return
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		w.fail(fmt.Errorf("%w: %T is not a table", ErrTypeMismatch, value))
		return
	}

	keys := make([]string, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		keys = append(keys, iter.Key().String())
	}
	slices.Sort(keys)

	at := w.reserve(4)
	start := w.off
	for _, key := range keys {
		w.shortString(key)
		w.value(rv.MapIndex(reflect.ValueOf(key).Convert(rv.Type().Key())).Interface())
		if w.err != nil {
			return
		}
	}
	w.patchLength(at, start)
}

func (w *writer) array(rv reflect.Value) {
	at := w.reserve(4)
	start := w.off
	for i := 0; i < rv.Len(); i++ {
		w.value(rv.Index(i).Interface())
		if w.err != nil {
			return
		}
	}
	w.patchLength(at, start)
}

// value writes a type tag and the value, choosing the tag from the Go type.
func (w *writer) value(value any) {
	switch v := value.(type) {
	case nil:
		w.uint8(tagVoid)
	case string:
		w.uint8(tagString)
		w.longString(v)
	case []byte:
		w.uint8(tagByteArray)
		w.byteArray(v)
	case bool:
		w.uint8(tagBool)
		if v {
			w.uint8(1)
		} else {
			w.uint8(0)
		}
	case int8:
		w.uint8(tagInt8)
		w.uint8(uint8(v))
	case uint8:
		w.uint8(tagUint8)
		w.uint8(v)
	case int16:
		w.uint8(tagInt16)
		w.uint16(uint16(v))
	case uint16:
		w.uint8(tagUint16)
		w.uint16(v)
	case uint32:
		w.uint8(tagUint32)
		w.uint32(v)
	case int:
		w.integer(int64(v))
	case int32:
		w.integer(int64(v))
	case int64:
		w.integer(v)
	case uint:
		w.unsignedInteger(uint64(v))
	case uint64:
		w.unsignedInteger(v)
	case float32:
		w.uint8(tagFloat32)
		w.uint32(math.Float32bits(v))
	case float64:
		w.uint8(tagFloat64)
		w.uint64(math.Float64bits(v))
	case Decimal:
		w.uint8(tagDecimal)
		w.uint8(v.Scale)
		w.uint32(uint32(v.Value))
	case amqp091.Decimal:
		w.uint8(tagDecimal)
		w.uint8(v.Scale)
		w.uint32(uint32(v.Value))
	case time.Time:
		w.uint8(tagTime)
		w.uint64(uint64(v.Unix()))
	case Table:
		w.uint8(tagTable)
		w.table(v)
	case amqp091.Table:
		w.uint8(tagTable)
		w.table(v)
	case []any:
		w.uint8(tagArray)
		w.array(reflect.ValueOf(v))
	default:
		rv := reflect.ValueOf(value)
		switch {
		case rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array:
			w.uint8(tagArray)
			w.array(rv)
		case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
			w.uint8(tagTable)
			w.table(value)
		default:
			w.fail(fmt.Errorf("%w: %T", ErrUnsupportedType, value))
		}
	}
}

// integer picks a 32-bit tag when the value fits, 64-bit otherwise.
func (w *writer) integer(value int64) {
	if value >= math.MinInt32 && value <= math.MaxInt32 {
		w.uint8(tagInt32)
		w.uint32(uint32(int32(value)))
		return
	}
	w.uint8(tagInt64)
	w.uint64(uint64(value))
}

func (w *writer) unsignedInteger(value uint64) {
	if value > math.MaxInt64 {
		w.fail(fmt.Errorf("%w: %d does not fit a signed 64-bit integer", ErrValueOutOfRange, value))
		return
	}
	w.integer(int64(value))
}

// unsigned converts any Go integer to uint64, rejecting negative values.
func unsigned(value any) (uint64, bool) {
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return 0, false
		}
		return uint64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return rv.Uint(), true
	default:
		return 0, false
	}
}

func (w *writer) unsignedField(field protocol.Field, value any, limit uint64) (uint64, bool) {
	number, ok := unsigned(value)
	if !ok {
		w.fail(fmt.Errorf("%w: %s expects an unsigned integer, got %T", ErrTypeMismatch, field.Domain, value))
		return 0, false
	}
	if number > limit {
		w.fail(fmt.Errorf("%w: %d does not fit %s", ErrValueOutOfRange, number, field.Domain))
		return 0, false
	}
	return number, true
}

// field writes one argument. next is the following field, if any, and
// decides whether a bit field closes the shared octet.
func (w *writer) field(field protocol.Field, value any, next *protocol.Field) {
	switch field.Domain {
	case protocol.DomainBit:
		flag, ok := value.(bool)
		if !ok {
			w.fail(fmt.Errorf("%w: bit expects bool, got %T", ErrTypeMismatch, value))
			return
		}
		if flag {
			w.bitField |= 1 << w.bitIndex
		}
		w.bitIndex++
		if next == nil || next.Domain != protocol.DomainBit || w.bitIndex == 8 {
			w.uint8(w.bitField)
			w.bitField = 0
			w.bitIndex = 0
		}
	case protocol.DomainOctet:
		if number, ok := w.unsignedField(field, value, math.MaxUint8); ok {
			w.uint8(uint8(number))
		}
	case protocol.DomainShort:
		if number, ok := w.unsignedField(field, value, math.MaxUint16); ok {
			w.uint16(uint16(number))
		}
	case protocol.DomainLong:
		if number, ok := w.unsignedField(field, value, math.MaxUint32); ok {
			w.uint32(uint32(number))
		}
	case protocol.DomainLongLong:
		if number, ok := w.unsignedField(field, value, math.MaxUint64); ok {
			w.uint64(number)
		}
	case protocol.DomainTimestamp:
		if stamp, ok := value.(time.Time); ok {
			w.uint64(uint64(stamp.Unix()))
			return
		}
		if number, ok := w.unsignedField(field, value, math.MaxUint64); ok {
			w.uint64(number)
		}
	case protocol.DomainShortStr:
		text, ok := value.(string)
		if !ok {
			w.fail(fmt.Errorf("%w: shortstr expects string, got %T", ErrTypeMismatch, value))
			return
		}
		w.shortString(text)
	case protocol.DomainLongStr:
		switch v := value.(type) {
		case string:
			w.longString(v)
		case []byte:
			w.byteArray(v)
		default:
			// Structured payloads such as AMQPLAIN credentials.
			w.table(value)
		}
	case protocol.DomainTable:
		w.table(value)
	default:
		w.fail(fmt.Errorf("%w: unknown domain %s", ErrTypeMismatch, field.Domain))
	}
}

// reservedDefault is the value written for an omitted reserved field.
func reservedDefault(domain protocol.Domain) any {
	switch domain {
	case protocol.DomainBit:
		return false
	case protocol.DomainShortStr, protocol.DomainLongStr:
		return ""
	case protocol.DomainTable:
		return nil
	default:
		return uint8(0)
	}
}

// strictFields writes every declared field. Omitted reserved fields and
// noWait get defaults; any other omission fails with ErrMissingField. The
// name of the field that failed is returned with w.err set.
func (w *writer) strictFields(fields []protocol.Field, args Table) (failed string) {
	w.bitField = 0
	w.bitIndex = 0

	for i, field := range fields {
		value, ok := args[field.Name]
		if !ok {
			switch {
			case strings.HasPrefix(field.Name, "reserved"):
				value = reservedDefault(field.Domain)
			case field.Name == "noWait":
				value = false
			default:
				w.fail(ErrMissingField)
				return field.Name
			}
		}

		var next *protocol.Field
		if i+1 < len(fields) {
			next = &fields[i+1]
		}
		w.field(field, value, next)
		if w.err != nil {
			return field.Name
		}
	}
	return ""
}
