package descriptor

import "github.com/dfuhost/dfu/pkg"

// Descriptor type tags (bDescriptorType), as they appear in a
// configuration-descriptor buffer.
const (
	TypeDevice        = 0x01
	TypeConfiguration = 0x02
	TypeString        = 0x03
	TypeInterface     = 0x04
	TypeEndpoint      = 0x05
	TypeDFUFunctional = 0x21
)

// DFU class/subclass/protocol triple.
const (
	ClassApplicationSpecific = 0xFE
	SubClassDFU              = 0x01
	ProtocolRuntime           = 0x01
	ProtocolDFUMode           = 0x02
)

// Fixed descriptor sizes.
const (
	DeviceDescriptorSize        = 18
	ConfigurationDescriptorSize = 9
	InterfaceDescriptorSize     = 9
	EndpointDescriptorSize      = 7
	FunctionalDescriptorSize    = 9
)

// DeviceDescriptor is the standard 18-byte USB device descriptor.
type DeviceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	USBVersion        uint16
	DeviceClass       uint8
	DeviceSubClass    uint8
	DeviceProtocol    uint8
	MaxPacketSize0    uint8
	VendorID          uint16
	ProductID         uint16
	DeviceVersion     uint16
	ManufacturerIndex uint8
	ProductIndex      uint8
	SerialNumberIndex uint8
	NumConfigurations uint8
}

// ParseDeviceDescriptor decodes a device descriptor from data.
func ParseDeviceDescriptor(data []byte, out *DeviceDescriptor) error {
	if len(data) < DeviceDescriptorSize {
		return pkg.NewMalformedDescriptor("descriptor.ParseDeviceDescriptor", "length")
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.USBVersion = le16(data[2:])
	out.DeviceClass = data[4]
	out.DeviceSubClass = data[5]
	out.DeviceProtocol = data[6]
	out.MaxPacketSize0 = data[7]
	out.VendorID = le16(data[8:])
	out.ProductID = le16(data[10:])
	out.DeviceVersion = le16(data[12:])
	out.ManufacturerIndex = data[14]
	out.ProductIndex = data[15]
	out.SerialNumberIndex = data[16]
	out.NumConfigurations = data[17]
	return nil
}

// Header is the 9-byte configuration descriptor header.
type Header struct {
	Length             uint8
	DescriptorType     uint8
	TotalLength        uint16
	NumInterfaces      uint8
	ConfigurationValue uint8
	ConfigurationIndex uint8
	Attributes         uint8
	MaxPower           uint8
}

// ParseHeader decodes a configuration descriptor header from data.
func ParseHeader(data []byte, out *Header) error {
	if len(data) < ConfigurationDescriptorSize {
		return pkg.NewMalformedDescriptor("descriptor.ParseHeader", "length")
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.TotalLength = le16(data[2:])
	out.NumInterfaces = data[4]
	out.ConfigurationValue = data[5]
	out.ConfigurationIndex = data[6]
	out.Attributes = data[7]
	out.MaxPower = data[8]
	return nil
}

// InterfaceDescriptor is the standard 9-byte interface descriptor.
type InterfaceDescriptor struct {
	Length            uint8
	DescriptorType    uint8
	InterfaceNumber   uint8
	AlternateSetting  uint8
	NumEndpoints      uint8
	InterfaceClass    uint8
	InterfaceSubClass uint8
	InterfaceProtocol uint8
	InterfaceIndex    uint8
}

// ParseInterfaceDescriptor decodes an interface descriptor from data.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if len(data) < InterfaceDescriptorSize {
		return pkg.NewMalformedDescriptor("descriptor.ParseInterfaceDescriptor", "length")
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return nil
}

// IsDFUCandidate reports whether this alternate setting is a candidate DFU
// interface: class 0xFE, subclass 0x01, and protocol runtime (0x01) or
// DFU-mode (0x02).
func (i InterfaceDescriptor) IsDFUCandidate() bool {
	if i.InterfaceClass != ClassApplicationSpecific || i.InterfaceSubClass != SubClassDFU {
		return false
	}
	return i.InterfaceProtocol == ProtocolRuntime || i.InterfaceProtocol == ProtocolDFUMode
}

// EndpointDescriptor is the standard 7-byte endpoint descriptor.
type EndpointDescriptor struct {
	Length          uint8
	DescriptorType  uint8
	EndpointAddress uint8
	Attributes      uint8
	MaxPacketSize   uint16
	Interval        uint8
}

// ParseEndpointDescriptor decodes an endpoint descriptor from data.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if len(data) < EndpointDescriptorSize {
		return pkg.NewMalformedDescriptor("descriptor.ParseEndpointDescriptor", "length")
	}
	out.Length = data[0]
	out.DescriptorType = data[1]
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = le16(data[4:])
	out.Interval = data[6]
	return nil
}

// Functional is the 9-byte DFU functional descriptor (bDescriptorType =
// 0x21). CanRead/CanWrite/ManifestationTolerant/WillDetach decode
// bmAttributes bits 1/0/2/3 respectively.
type Functional struct {
	WillDetach             bool
	ManifestationTolerant  bool
	CanRead                bool
	CanWrite               bool
	TransferSize           uint16
	DetachTimeOut          uint16
	DFUVersion             uint16
}

// ParseFunctional decodes a DFU functional descriptor from data.
func ParseFunctional(data []byte, out *Functional) error {
	if len(data) < FunctionalDescriptorSize {
		return pkg.NewMalformedDescriptor("descriptor.ParseFunctional", "length")
	}
	if data[1] != TypeDFUFunctional {
		return pkg.NewMalformedDescriptor("descriptor.ParseFunctional", "bDescriptorType")
	}
	attr := data[2]
	out.CanWrite = attr&0x01 != 0
	out.CanRead = attr&0x02 != 0
	out.ManifestationTolerant = attr&0x04 != 0
	out.WillDetach = attr&0x08 != 0
	out.DetachTimeOut = le16(data[3:])
	out.TransferSize = le16(data[5:])
	out.DFUVersion = le16(data[7:])
	return nil
}

// IsDfuSe reports whether this functional descriptor, combined with the
// owning interface's protocol byte, identifies a DfuSe (DFU 1.1a) device:
// bcdDFUVersion == 0x011A and interfaceProtocol == 0x02.
func (f Functional) IsDfuSe(interfaceProtocol uint8) bool {
	return f.DFUVersion == 0x011A && interfaceProtocol == ProtocolDFUMode
}

// Alternate groups one interface alternate setting with its endpoints and
// the DFU functional descriptor attached to it, if any.
type Alternate struct {
	Interface  InterfaceDescriptor
	Functional *Functional
	Endpoints  []EndpointDescriptor
}

// Configuration is a fully parsed configuration descriptor: its header,
// every interface alternate setting found in declaration order, and the
// top-level list of DFU functional descriptors attached to the
// configuration (one per DFU alternate, in declaration order).
type Configuration struct {
	Header      Header
	Alternates  []Alternate
	Functionals []*Functional
}

// ParseConfiguration walks a configuration-descriptor buffer: skip the
// 9-byte header, then iteratively consume TLV-style
// records (bLength, bDescriptorType) until fewer than 2 bytes remain.
// It maintains an "in DFU interface" flag set by the most recent
// INTERFACE record and attaches any FUNCTIONAL record seen while that
// flag is set both to the owning alternate and to the configuration's
// top-level Functionals list.
func ParseConfiguration(data []byte) (*Configuration, error) {
	var hdr Header
	if err := ParseHeader(data, &hdr); err != nil {
		return nil, err
	}

	cfg := &Configuration{Header: hdr}

	total := int(hdr.TotalLength)
	if total > len(data) {
		total = len(data)
	}

	offset := ConfigurationDescriptorSize
	inDFUInterface := false
	currentAlt := -1

	for offset < total {
		if offset+2 > len(data) {
			break
		}
		length := int(data[offset])
		descType := data[offset+1]

		if length < 2 {
			return nil, pkg.NewMalformedDescriptor("descriptor.ParseConfiguration", "bLength")
		}
		if offset+length > len(data) {
			return nil, pkg.NewMalformedDescriptor("descriptor.ParseConfiguration", "record exceeds buffer")
		}

		record := data[offset : offset+length]

		switch descType {
		case TypeInterface:
			var iface InterfaceDescriptor
			if err := ParseInterfaceDescriptor(record, &iface); err != nil {
				return nil, err
			}
			inDFUInterface = iface.InterfaceClass == ClassApplicationSpecific &&
				iface.InterfaceSubClass == SubClassDFU
			cfg.Alternates = append(cfg.Alternates, Alternate{Interface: iface})
			currentAlt = len(cfg.Alternates) - 1

		case TypeEndpoint:
			var ep EndpointDescriptor
			if err := ParseEndpointDescriptor(record, &ep); err != nil {
				return nil, err
			}
			if currentAlt >= 0 {
				cfg.Alternates[currentAlt].Endpoints = append(cfg.Alternates[currentAlt].Endpoints, ep)
			}

		case TypeDFUFunctional:
			if inDFUInterface {
				var fn Functional
				if err := ParseFunctional(record, &fn); err != nil {
					return nil, err
				}
				cfg.Functionals = append(cfg.Functionals, &fn)
				if currentAlt >= 0 {
					cfg.Alternates[currentAlt].Functional = &fn
				}
			}

		default:
			// Opaque/class-specific record; no typed representation needed
			// by this driver.
		}

		offset += length
	}

	return cfg, nil
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}
