package pkg

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the errors a DFU operation can report. Parser and
// arithmetic errors surface immediately; "device already gone" transport
// errors are suppressed during manifestation and reset; everything else
// propagates to the caller with no silent retries at this layer.
type ErrorKind int

// Error kinds.
const (
	// KindTransportFailed indicates the underlying control transfer
	// returned a non-ok result or failed outright.
	KindTransportFailed ErrorKind = iota

	// KindNotConnected indicates an operation was issued before connect
	// or after close/disconnect.
	KindNotConnected

	// KindInterfaceNotFound indicates the requested candidate interface
	// index does not exist.
	KindInterfaceNotFound

	// KindMalformedDescriptor indicates the descriptor parser rejected
	// its input, or a caller supplied an invalid parameter.
	KindMalformedDescriptor

	// KindMalformedMemoryMap indicates the DfuSe memory-map string
	// parser rejected its input.
	KindMalformedMemoryMap

	// KindProtocol indicates the device reported a non-OK status at a
	// named phase of the protocol.
	KindProtocol

	// KindAddressOutOfMap indicates a DfuSe operation targets an address
	// outside the parsed memory map with non-empty data.
	KindAddressOutOfMap

	// KindNoMemoryMap indicates a DfuSe operation was attempted without
	// a parsed memory map.
	KindNoMemoryMap

	// KindTimeout indicates a disconnect or manifestation wait expired.
	KindTimeout

	// KindCancelled indicates the caller cancelled an in-flight operation.
	KindCancelled
)

// String returns a human-readable name for the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransportFailed:
		return "transport failed"
	case KindNotConnected:
		return "not connected"
	case KindInterfaceNotFound:
		return "interface not found"
	case KindMalformedDescriptor:
		return "malformed descriptor"
	case KindMalformedMemoryMap:
		return "malformed memory map"
	case KindProtocol:
		return "protocol error"
	case KindAddressOutOfMap:
		return "address out of map"
	case KindNoMemoryMap:
		return "no memory map"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown error kind (%d)", int(k))
	}
}

// Error is the structured error type returned by every exported operation
// in this driver. It follows the {Op, Err} wrapping idiom used throughout
// the standard library (os.PathError, net.OpError): Op names the failing
// operation, Kind classifies the failure for programmatic handling, and
// the optional fields carry phase-specific detail.
type Error struct {
	Op     string // operation that failed, e.g. "engine.Write"
	Kind   ErrorKind
	Detail string // field name, phase name, or other kind-specific context
	State  uint8  // DfuState at failure, valid when Kind == KindProtocol
	Status uint8  // bStatus at failure, valid when Kind == KindProtocol
	Addr   uint32 // address at failure, valid when Kind == KindAddressOutOfMap
	Index  int    // interface index, valid when Kind == KindInterfaceNotFound
	Err    error  // wrapped underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	switch e.Kind {
	case KindProtocol:
		msg += fmt.Sprintf(" (state=%d status=%d phase=%s)", e.State, e.Status, e.Detail)
	case KindAddressOutOfMap:
		msg += fmt.Sprintf(" (addr=0x%08X)", e.Addr)
	case KindInterfaceNotFound:
		msg += fmt.Sprintf(" (index=%d)", e.Index)
	case KindMalformedDescriptor, KindMalformedMemoryMap, KindTimeout:
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, pkg.ErrNotConnected) without caring about Op
// or the kind-specific detail fields.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel errors for use with errors.Is. Each carries only its Kind; any
// *Error sharing that Kind compares equal regardless of Op or detail.
var (
	ErrNotConnected = &Error{Kind: KindNotConnected}
	ErrNoMemoryMap  = &Error{Kind: KindNoMemoryMap}
	ErrCancelled    = &Error{Kind: KindCancelled}
)

// ErrInvalidState indicates an operation was attempted from a lifecycle
// state that does not permit it (e.g. Connect called twice, or before
// Init). It is an ambient condition, not one of the DFU ErrorKind
// variants in §7, so it is a plain sentinel rather than an *Error.
var ErrInvalidState = errors.New("invalid session state for this operation")

// NewTransportFailed wraps a transport-layer failure.
func NewTransportFailed(op string, err error) *Error {
	return &Error{Op: op, Kind: KindTransportFailed, Err: err}
}

// NewNotConnected reports an operation issued outside the Connected state.
func NewNotConnected(op string) *Error {
	return &Error{Op: op, Kind: KindNotConnected}
}

// NewInterfaceNotFound reports a request for a candidate interface index
// that does not exist.
func NewInterfaceNotFound(op string, index int) *Error {
	return &Error{Op: op, Kind: KindInterfaceNotFound, Index: index}
}

// NewMalformedDescriptor reports a descriptor field that failed to parse,
// or a caller-supplied parameter that is invalid.
func NewMalformedDescriptor(op, field string) *Error {
	return &Error{Op: op, Kind: KindMalformedDescriptor, Detail: field}
}

// NewMalformedMemoryMap reports a DfuSe memory-map string that failed to
// parse, naming where in the grammar parsing failed.
func NewMalformedMemoryMap(op, where string) *Error {
	return &Error{Op: op, Kind: KindMalformedMemoryMap, Detail: where}
}

// NewProtocol reports a device status/state that failed at a named phase.
func NewProtocol(op string, state, status uint8, phase string) *Error {
	return &Error{Op: op, Kind: KindProtocol, State: state, Status: status, Detail: phase}
}

// NewAddressOutOfMap reports an address outside any parsed memory segment.
func NewAddressOutOfMap(op string, addr uint32) *Error {
	return &Error{Op: op, Kind: KindAddressOutOfMap, Addr: addr}
}

// NewNoMemoryMap reports a DfuSe operation attempted with no parsed map.
func NewNoMemoryMap(op string) *Error {
	return &Error{Op: op, Kind: KindNoMemoryMap}
}

// NewTimeout reports a wait that exceeded its deadline.
func NewTimeout(op, phase string) *Error {
	return &Error{Op: op, Kind: KindTimeout, Detail: phase}
}

// NewCancelled reports a caller-initiated cancellation.
func NewCancelled(op string) *Error {
	return &Error{Op: op, Kind: KindCancelled}
}
