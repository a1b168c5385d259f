package descriptor

// Serialize encodes cfg back into the TLV-style configuration-descriptor
// buffer ParseConfiguration decodes: the 9-byte header followed by each
// alternate's INTERFACE record, its FUNCTIONAL record (if any), and its
// ENDPOINT records, in that order. It exists so the round-trip invariant
// ParseConfiguration(Serialize(cfg)) == cfg is implementable and testable.
func Serialize(cfg *Configuration) []byte {
	var body []byte
	for _, alt := range cfg.Alternates {
		body = append(body, serializeInterface(alt.Interface)...)
		if alt.Functional != nil {
			body = append(body, serializeFunctional(*alt.Functional)...)
		}
		for _, ep := range alt.Endpoints {
			body = append(body, serializeEndpoint(ep)...)
		}
	}

	hdr := cfg.Header
	hdr.TotalLength = uint16(ConfigurationDescriptorSize + len(body))

	out := make([]byte, 0, int(hdr.TotalLength))
	out = append(out, serializeHeader(hdr)...)
	out = append(out, body...)
	return out
}

func serializeHeader(h Header) []byte {
	b := make([]byte, ConfigurationDescriptorSize)
	b[0] = ConfigurationDescriptorSize
	b[1] = TypeConfiguration
	putLE16(b[2:], h.TotalLength)
	b[4] = h.NumInterfaces
	b[5] = h.ConfigurationValue
	b[6] = h.ConfigurationIndex
	b[7] = h.Attributes
	b[8] = h.MaxPower
	return b
}

func serializeInterface(i InterfaceDescriptor) []byte {
	b := make([]byte, InterfaceDescriptorSize)
	b[0] = InterfaceDescriptorSize
	b[1] = TypeInterface
	b[2] = i.InterfaceNumber
	b[3] = i.AlternateSetting
	b[4] = i.NumEndpoints
	b[5] = i.InterfaceClass
	b[6] = i.InterfaceSubClass
	b[7] = i.InterfaceProtocol
	b[8] = i.InterfaceIndex
	return b
}

func serializeFunctional(f Functional) []byte {
	b := make([]byte, FunctionalDescriptorSize)
	b[0] = FunctionalDescriptorSize
	b[1] = TypeDFUFunctional
	var attr uint8
	if f.CanWrite {
		attr |= 0x01
	}
	if f.CanRead {
		attr |= 0x02
	}
	if f.ManifestationTolerant {
		attr |= 0x04
	}
	if f.WillDetach {
		attr |= 0x08
	}
	b[2] = attr
	putLE16(b[3:], f.DetachTimeOut)
	putLE16(b[5:], f.TransferSize)
	putLE16(b[7:], f.DFUVersion)
	return b
}

func serializeEndpoint(e EndpointDescriptor) []byte {
	b := make([]byte, EndpointDescriptorSize)
	b[0] = EndpointDescriptorSize
	b[1] = TypeEndpoint
	b[2] = e.EndpointAddress
	b[3] = e.Attributes
	putLE16(b[4:], e.MaxPacketSize)
	b[6] = e.Interval
	return b
}

func putLE16(b []byte, v uint16) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
}
