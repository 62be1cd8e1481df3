// Package codec turns AMQP 0-9-1 frames into bytes and back.
//
// A Parser consumes a byte stream in arbitrary chunks and reports every
// complete frame to a handler. A Serializer writes frames into a reusable
// scratch buffer sized to the negotiated frame max and returns freshly
// allocated copies, so callers may hold on to the output after the next
// encode call.
//
// Field values use plain Go types: bool for bit, uint8/uint16/uint32/uint64
// for octet/short/long/longlong, time.Time for timestamp, string for
// shortstr and longstr, and Table for table. Field-table values are decoded
// to the Go type matching their type tag (see Table).
package codec
