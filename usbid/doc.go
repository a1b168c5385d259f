//go:build linux

// Package usbid resolves a USB vendor/product ID pair to a
// human-readable product name from the system's usb.ids database, for
// the one case this driver needs it: a connected DFU-mode device whose
// own iProduct string descriptor is empty.
package usbid
