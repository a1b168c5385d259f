// Package session implements the DFU Session Controller: it
// enumerates DFU-capable interfaces on a device, opens one, instantiates
// the correct [engine.Engine] for its functional descriptor, and exposes
// the read/write API and lifecycle events above it.
//
// # Architecture
//
// Session plays the role Host and Device play together in
// github.com/ardnew/softusb (host/host.go, host/device.go): a
// state-guarded owner of one transport.ControlTransport, serialized with
// a sync.Mutex the way Host guards its device table, but scoped to a
// single already-selected interface rather than a whole bus. The
// lifecycle states (New, Initialized, Connected, Closed) and the
// "claim interface then select alternate" open ritual follow
// Device.SetConfiguration and Host.enumerateDevice; interface-name
// recovery reuses the string-descriptor fetch/cache pattern from
// host/enumeration.go's readStringDescriptors, generalized to pull any
// string index from any configuration rather than just the three fixed
// device-level indices.
package session
