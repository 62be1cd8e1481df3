// Package protocol holds the AMQP 0-9-1 class and method registry shared by
// the frame parser and serializer.
//
// The registry is built once from static definitions and is read-only after
// construction, so a single Table can be used from any number of goroutines
// without synchronization. Default returns the process-wide instance.
package protocol
