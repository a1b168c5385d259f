//go:build linux

package gousb

import "github.com/dfuhost/dfu/usbid"

// catalog is process-wide: usb.ids is loaded at most once regardless of
// how many devices this process opens.
var catalog = usbid.NewCatalog()

// productNameFallback looks up a human-readable product name from the
// system USB ID database when the device itself did not supply one (a
// string descriptor fetch failed, or the device has no iProduct).
func productNameFallback(vendorID, productID uint16) string {
	return catalog.Product(vendorID, productID)
}
