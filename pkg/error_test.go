package pkg

import (
	"errors"
	"testing"
)

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want string
	}{
		{KindTransportFailed, "transport failed"},
		{KindNotConnected, "not connected"},
		{KindInterfaceNotFound, "interface not found"},
		{KindMalformedDescriptor, "malformed descriptor"},
		{KindMalformedMemoryMap, "malformed memory map"},
		{KindProtocol, "protocol error"},
		{KindAddressOutOfMap, "address out of map"},
		{KindNoMemoryMap, "no memory map"},
		{KindTimeout, "timeout"},
		{KindCancelled, "cancelled"},
		{ErrorKind(99), "unknown error kind (99)"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("ErrorKind.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	e1 := NewProtocol("engine.Write", 4, 1, "download")
	e2 := NewProtocol("engine.Read", 9, 1, "upload")

	if !errors.Is(e1, e2) {
		t.Errorf("errors with the same Kind should match via errors.Is")
	}
	if errors.Is(e1, ErrNotConnected) {
		t.Errorf("errors with different Kinds should not match")
	}
	if !errors.Is(NewNotConnected("session.Write"), ErrNotConnected) {
		t.Errorf("NewNotConnected should match ErrNotConnected sentinel")
	}
}

func TestError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewTransportFailed("transport.ControlOut", inner)
	if !errors.Is(err, inner) {
		t.Errorf("Unwrap should expose the wrapped error")
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"protocol",
			NewProtocol("engine.write", 4, 1, "download"),
			"engine.write: protocol error (state=4 status=1 phase=download)",
		},
		{
			"address out of map",
			NewAddressOutOfMap("engine.Write", 0xDEADBEEF),
			"engine.Write: address out of map (addr=0xDEADBEEF)",
		},
		{
			"interface not found",
			NewInterfaceNotFound("session.Connect", 3),
			"session.Connect: interface not found (index=3)",
		},
		{
			"malformed descriptor",
			NewMalformedDescriptor("descriptor.ParseConfiguration", "bLength"),
			"descriptor.ParseConfiguration: malformed descriptor: bLength",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_ErrorWrapsUnderlying(t *testing.T) {
	err := NewTransportFailed("transport.ControlIn", errors.New("pipe error"))
	want := "transport.ControlIn: transport failed: pipe error"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}
