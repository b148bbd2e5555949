package errcode

import "errors"

// Code is a stable error identifier shared between the register map, the
// wire codec, and the transport adapter. It is a string newtype, comparable,
// allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Register map and codec layer. All recoverable: the operation is
	// rejected and reported to the peer, the scheduler keeps running.
	UnknownRegister  Code = "unknown_register"
	ReadOnlyRegister Code = "read_only_register"
	TypeMismatch     Code = "type_mismatch"
	MalformedValue   Code = "malformed_value"
	OutOfRange       Code = "out_of_range"

	// Peripheral layer. Recoverable per cycle: the task skips the cycle's
	// register update and retries next period.
	SensorRead   Code = "sensor_read"
	Timeout      Code = "timeout"
	NotConnected Code = "not_connected"
	PeerError    Code = "peer_error"

	Error Code = "error" // generic fallback
)

// E keeps context and a cause alongside a Code.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, unwrapping as needed, defaulting to
// Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	var e *E
	if errors.As(err, &e) {
		return e.C
	}
	return Error
}

// Is reports whether err carries the given code, directly or wrapped.
func Is(err error, c Code) bool { return Of(err) == c }
