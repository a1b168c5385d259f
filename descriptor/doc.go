// Package descriptor decodes USB device, configuration, interface, and
// endpoint descriptors, the DFU functional descriptor, and the DfuSe
// memory-map interface-name string into typed records.
//
// # Architecture
//
// Parsing follows the output-parameter convention used throughout
// github.com/ardnew/softusb (see host/constants.go): each Parse function takes
// a pointer to the destination struct and reports success with a bool or
// an error, rather than allocating a new descriptor tree per field.
//
// [ParseConfiguration] walks a raw configuration-descriptor buffer and
// returns an ordered [Configuration] of interfaces, their endpoints, and
// any attached DFU functional descriptors. [ParseMemoryMap] decodes the
// DfuSe "@name/addr/runs" grammar into a [MemoryMap] of non-overlapping
// [Segment] values.
//
// # Example
//
//	cfg, err := descriptor.ParseConfiguration(buf)
//	if err != nil {
//	    return err
//	}
//	for _, alt := range cfg.Alternates {
//	    if alt.Interface.IsDFUCandidate() {
//	        // ...
//	    }
//	}
package descriptor
