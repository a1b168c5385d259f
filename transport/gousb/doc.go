// Package gousb implements transport.ControlTransport against a real USB
// device using github.com/google/gousb, the same way the embedded-go
// tools project's internal/dfu package drives a DFU target: one
// already-discovered device, one claimed interface, control transfers
// only.
//
// Device discovery and the open ritual (select configuration, claim
// interface, select alternate) are split the way egtool's dfu.Connect
// does them, but exposed as separate ControlTransport methods instead
// of one monolithic Connect call, so Session can drive the ritual step
// by step and recover alternate-setting interface name strings along
// the way.
//
// gousb has no asynchronous hot-plug notification; disconnection is
// detected reactively the same way dfu.wrapErrStatus in egtool does it
// would have to be, by classifying the error from the next failing
// control transfer.
package gousb
