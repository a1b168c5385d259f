// Package engine drives the plain DFU 1.1 and DfuSe read/write
// sequences against a transport.ControlTransport, using the request
// primitives in package proto.
//
// # Architecture
//
// Following this driver's model of a tagged-variant engine dispatched
// by type rather than class-hierarchy polymorphism, [Plain] and [DfuSe]
// are two concrete implementations of the [Engine] interface sharing a
// single block-read loop ([readLoop]) and the protocol primitives in
// package proto. A Session selects which one to construct based on the
// device's DFU functional descriptor and owns it for the session's
// lifetime.
//
// Grounded in the request-sequencing style of
// github.com/embeddedgo-tools/egtool internal/dfu/dfu.go (Download,
// wrapErrStatus) and the state-table naming of the freemyipod wInd3x
// dfu.go reference implementation.
package engine
