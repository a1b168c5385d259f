// Package proto issues the DFU class requests over a transport and
// decodes their replies.
//
// # Architecture
//
// The seven DFU class requests (DETACH, DNLOAD, UPLOAD, GETSTATUS,
// CLRSTATUS, GETSTATE, ABORT) and the poll-until-predicate loop used to
// track device state are collected here as plain functions over a
// [transport.ControlTransport] as small leaf functions with no
// persistent state (see github.com/ardnew/softusb host/hal/hal.go for
// the setup-packet shape this package's requests are built from).
//
// [PollUntil] is the building block every higher-level write/read
// sequence in package engine is built on: it repeatedly issues
// GETSTATUS, sleeps the device's declared poll timeout between
// attempts, and returns as soon as a predicate is satisfied or the
// device reports dfuERROR.
package proto
