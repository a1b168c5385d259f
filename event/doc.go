// Package event defines the lifecycle and progress events a Session
// and its engine emit on a side channel while driving a DFU device.
//
// # Architecture
//
// github.com/ardnew/softusb reports lifecycle changes through a fixed
// set of per-kind callback fields (device/device.go: onStateChange,
// onSuspend, onReset, ...). A DFU session's operations are
// longer-running and progress-bearing, so this package collects every
// event shape into one tagged [Event] value and a single [Sink]
// callback: callers subscribe once and switch on [Event.Kind] rather
// than wiring up a callback per notification.
package event
