package amqp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode classifies failures surfaced by connections and pools.
type ErrorCode int

const (
	UnknownError ErrorCode = iota

	// WireDecodeError covers malformed frames, unknown methods and bad frame
	// ends. Fatal on channel 0, forwarded to the channel layer otherwise.
	WireDecodeError

	EncodeError

	// ProtocolViolation covers version mismatches and unexpected methods on
	// channel 0.
	ProtocolViolation

	TransportError

	LivenessError

	ServerCloseError

	TimedOutError

	DisconnectedError

	NotConnectedError

	AlreadyConnectedError

	InvalidURIError
)

var errorCodeNames = map[ErrorCode]string{
	UnknownError:          "UnknownError",
	WireDecodeError:       "WireDecodeError",
	EncodeError:           "EncodeError",
	ProtocolViolation:     "ProtocolViolation",
	TransportError:        "TransportError",
	LivenessError:         "LivenessError",
	ServerCloseError:      "ServerCloseError",
	TimedOutError:         "TimedOutError",
	DisconnectedError:     "DisconnectedError",
	NotConnectedError:     "NotConnectedError",
	AlreadyConnectedError: "AlreadyConnectedError",
	InvalidURIError:       "InvalidURIError",
}

func (code ErrorCode) String() string {
	if name, ok := errorCodeNames[code]; ok {
		return name
	}
	return errorCodeNames[UnknownError]
}

// Error is a classified failure. Two errors match under errors.Is when their
// codes are equal.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (err *Error) Error() string {
	var builder strings.Builder
	builder.WriteString(err.Code.String())
	if err.Message != "" {
		builder.WriteString(": ")
		builder.WriteString(err.Message)
	}
	if err.Err != nil {
		builder.WriteString(": ")
		builder.WriteString(err.Err.Error())
	}
	return builder.String()
}

func (err *Error) Unwrap() error { return err.Err }

func (err *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == err.Code
}

// NewError builds an *Error. An error argument becomes the wrapped cause,
// anything else is formatted into the message.
func NewError(code ErrorCode, message ...interface{}) error {
	result := &Error{Code: code}
	parts := make([]string, 0, len(message))
	for _, part := range message {
		if cause, ok := part.(error); ok && result.Err == nil {
			result.Err = cause
			continue
		}
		parts = append(parts, fmt.Sprint(part))
	}
	result.Message = strings.Join(parts, " ")
	return result
}

// Sentinels usable as errors.Is targets.
var (
	ErrHeartbeat     = &Error{Code: LivenessError}
	ErrServerClose   = &Error{Code: ServerCloseError}
	ErrTimedOut      = &Error{Code: TimedOutError}
	ErrDisconnected  = &Error{Code: DisconnectedError}
	ErrNotConnected  = &Error{Code: NotConnectedError}
	ErrProtocol      = &Error{Code: ProtocolViolation}
	ErrTransport     = &Error{Code: TransportError}
	ErrDecode        = &Error{Code: WireDecodeError}
	ErrEncode        = &Error{Code: EncodeError}
	ErrNoHosts       = errors.New("no hosts configured")
	ErrAlreadyActive = &Error{Code: AlreadyConnectedError}
)

// CloseError carries the arguments of a connection.close sent by the
// server.
type CloseError struct {
	ReplyCode uint16
	ReplyText string
	ClassID   uint16
	MethodID  uint16
}

func (err *CloseError) Error() string {
	if err.ClassID != 0 || err.MethodID != 0 {
		return fmt.Sprintf("server closed connection: %d %s (class %d, method %d)", err.ReplyCode, err.ReplyText, err.ClassID, err.MethodID)
	}
	return fmt.Sprintf("server closed connection: %d %s", err.ReplyCode, err.ReplyText)
}

// Is lets a CloseError match ErrServerClose.
func (err *CloseError) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == ServerCloseError
}

// VersionMismatchError reports a server that does not speak 0-9.
type VersionMismatchError struct {
	Major uint8
	Minor uint8
}

func (err *VersionMismatchError) Error() string {
	return fmt.Sprintf("server version: %d.%d", err.Major, err.Minor)
}

func (err *VersionMismatchError) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == ProtocolViolation
}

// HostError ties a failure to the host it came from.
type HostError struct {
	Host string
	Err  error
}

func (err *HostError) Error() string { return err.Host + ": " + err.Err.Error() }

func (err *HostError) Unwrap() error { return err.Err }

// AggregateError holds one error per host after a full connect round failed
// with reconnect disabled.
type AggregateError struct {
	Errors []error
}

func (err *AggregateError) Error() string {
	messages := make([]string, 0, len(err.Errors))
	for _, cause := range err.Errors {
		messages = append(messages, cause.Error())
	}
	return fmt.Sprintf("all %d hosts failed: %s", len(err.Errors), strings.Join(messages, "; "))
}

func (err *AggregateError) Unwrap() []error { return err.Errors }
