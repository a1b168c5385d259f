package transport

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transport-level failure so callers can filter
// on the variant instead of matching error message text.
type ErrorKind int

// Transport error kinds. Disconnected, DeviceUnavailable, and
// ResetUnsupported are the "device already gone" family the engine
// suppresses during manifestation and reset (see spec-ambient
// propagation policy, §7); any other kind propagates.
const (
	ErrorKindIO ErrorKind = iota
	ErrorKindDisconnected
	ErrorKindDeviceUnavailable
	ErrorKindResetUnsupported
	ErrorKindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorKindIO:
		return "io"
	case ErrorKindDisconnected:
		return "disconnected"
	case ErrorKindDeviceUnavailable:
		return "device unavailable"
	case ErrorKindResetUnsupported:
		return "reset unsupported"
	case ErrorKindTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("unknown transport error kind (%d)", int(k))
	}
}

// Error is the error type every ControlTransport implementation
// returns, classified by ErrorKind so the engine can filter on the
// kind rather than comparing message strings against known substrings.
type Error struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports equivalence by Kind, matching the pkg.Error convention
// used by the rest of this driver.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// IsDeviceGone reports whether err represents one of the "device
// already gone" kinds the engine suppresses while manifesting or
// resetting a device that will not return status.
func IsDeviceGone(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Kind {
	case ErrorKindDisconnected, ErrorKindDeviceUnavailable, ErrorKindResetUnsupported:
		return true
	default:
		return false
	}
}
