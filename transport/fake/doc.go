// Package fake provides a scripted, in-memory [transport.ControlTransport]
// for exercising the proto, engine, and session packages without real
// USB hardware.
//
// # Architecture
//
// Tests enqueue a sequence of expected control transfers with
// [Transport.Script]; each call to ControlIn/ControlOut pops the next
// step, checks the request against the expectation, and returns the
// scripted reply. [Transport.Verify] reports any mismatch or leftover
// script steps to the test.
//
// This mirrors the mockHAL double in github.com/ardnew/softusb
// host/host_test.go and its FIFO-based hal.HostHAL implementation
// (host/hal/fifo/fifo.go), adapted from a full host-controller double
// to a single-device, control-transfer-only double suited to DFU's
// request/response shape.
package fake
