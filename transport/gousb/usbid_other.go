//go:build !linux

package gousb

// productNameFallback is a no-op off Linux: the USB ID database this
// looks up lives only in the standard hwdata locations, with no
// Windows/macOS equivalent path wired in.
func productNameFallback(vendorID, productID uint16) string {
	return ""
}
