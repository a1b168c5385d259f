// Package transport defines the abstract capability the protocol and
// engine layers need from a USB device: device selection, control
// transfers, and disconnect notification.
//
// # Architecture
//
// [ControlTransport] plays the role a HostHAL interface plays in a
// larger USB stack: platform or test code implements the interface,
// and everything above it is written only against the interface.
// Unlike a full host-controller HAL, which abstracts ports,
// bulk/interrupt/iso transfers, and device addressing, ControlTransport
// abstracts a single already-discovered device and only the operations
// a DFU session needs: configuration/interface/alternate selection,
// control transfers, and reset.
//
// Two implementations live in subpackages: [transport/fake] is a
// scripted in-memory transport for engine and session tests.
// [transport/gousb] is the real adapter, built on
// github.com/google/gousb.
package transport
