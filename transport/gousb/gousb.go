package gousb

import (
	"context"
	"strconv"
	"strings"
	"sync"

	usb "github.com/google/gousb"

	"github.com/dfuhost/dfu/descriptor"
	"github.com/dfuhost/dfu/transport"
)

// Transport is a transport.ControlTransport backed by a real USB
// device opened through gousb/libusb.
type Transport struct {
	mu sync.Mutex

	ctx *usb.Context
	dev *usb.Device
	cfg *usb.Config
	ifc *usb.Interface

	ifaceNum uint8
	open     bool
	disc     transport.DisconnectFunc
}

// Open locates a single USB device by vendor/product ID, optionally
// narrowed to one bus:address pair, and opens it. busAddr may be empty
// to match any device with the given IDs; Open fails if more than one
// matches, mirroring egtool's dfu.Connect ambiguity check.
func Open(vendorID, productID uint16, busAddr string) (*Transport, error) {
	bus, addr, err := parseBusAddr(busAddr)
	if err != nil {
		return nil, wrapErr("gousb.Open", err)
	}

	ctx := usb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *usb.DeviceDesc) bool {
		if bus >= 0 && (desc.Bus != bus || desc.Address != addr) {
			return false
		}
		return desc.Vendor == usb.ID(vendorID) && desc.Product == usb.ID(productID)
	})
	if err != nil {
		ctx.Close()
		return nil, wrapErr("gousb.Open", err)
	}
	if len(devs) == 0 {
		ctx.Close()
		return nil, wrapErr("gousb.Open", errNoDevice)
	}
	if len(devs) > 1 {
		for _, d := range devs[1:] {
			d.Close()
		}
		ctx.Close()
		return nil, wrapErr("gousb.Open", errAmbiguous)
	}

	dev := devs[0]
	dev.SetAutoDetach(true)
	return &Transport{ctx: ctx, dev: dev}, nil
}

func parseBusAddr(busAddr string) (bus, addr int, err error) {
	if busAddr == "" {
		return -1, -1, nil
	}
	parts := strings.Split(busAddr, ":")
	if len(parts) != 2 {
		return -1, -1, errBadBusAddr
	}
	b, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return -1, -1, errBadBusAddr
	}
	a, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return -1, -1, errBadBusAddr
	}
	return int(b), int(a), nil
}

// IsOpen implements transport.ControlTransport.
func (tr *Transport) IsOpen() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.open
}

// Open implements transport.ControlTransport. The device handle is
// already open after the package-level Open; this marks the transport
// usable and lets Session's lifecycle treat it uniformly with other
// ControlTransport implementations.
func (tr *Transport) Open(ctx context.Context) error {
	tr.mu.Lock()
	tr.open = true
	tr.mu.Unlock()
	return nil
}

// Close implements transport.ControlTransport.
func (tr *Transport) Close() error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.ifc != nil {
		tr.ifc.Close()
		tr.ifc = nil
	}
	if tr.cfg != nil {
		tr.cfg.Close()
		tr.cfg = nil
	}
	tr.open = false
	if err := tr.dev.Close(); err != nil {
		tr.ctx.Close()
		return wrapErr("gousb.Close", err)
	}
	return tr.ctx.Close()
}

// SelectConfiguration implements transport.ControlTransport.
func (tr *Transport) SelectConfiguration(ctx context.Context, value uint8) error {
	cfg, err := tr.dev.Config(int(value))
	if err != nil {
		return tr.classify("gousb.SelectConfiguration", err)
	}
	tr.mu.Lock()
	tr.cfg = cfg
	tr.mu.Unlock()
	return nil
}

// ClaimInterface implements transport.ControlTransport. gousb claims an
// interface and selects its alternate setting in a single call, so
// ClaimInterface only records the interface number; the actual claim
// happens in SelectAlternate.
func (tr *Transport) ClaimInterface(ctx context.Context, interfaceNumber uint8) error {
	tr.mu.Lock()
	tr.ifaceNum = interfaceNumber
	tr.mu.Unlock()
	return nil
}

// SelectAlternate implements transport.ControlTransport.
func (tr *Transport) SelectAlternate(ctx context.Context, interfaceNumber, alternate uint8) error {
	tr.mu.Lock()
	cfg := tr.cfg
	tr.mu.Unlock()
	if cfg == nil {
		return wrapErr("gousb.SelectAlternate", errNoConfiguration)
	}

	ifc, err := cfg.Interface(int(interfaceNumber), int(alternate))
	if err != nil {
		return tr.classify("gousb.SelectAlternate", err)
	}

	tr.mu.Lock()
	if tr.ifc != nil {
		tr.ifc.Close()
	}
	tr.ifc = ifc
	tr.ifaceNum = interfaceNumber
	tr.mu.Unlock()
	return nil
}

// ControlIn implements transport.ControlTransport.
func (tr *Transport) ControlIn(ctx context.Context, setup transport.Setup, length int) ([]byte, error) {
	data := make([]byte, length)
	n, err := tr.dev.Control(controlType(setup), setup.Request, setup.Value, setup.Index, data)
	if err != nil {
		return nil, tr.classify("gousb.ControlIn", err)
	}
	return data[:n], nil
}

// ControlOut implements transport.ControlTransport.
func (tr *Transport) ControlOut(ctx context.Context, setup transport.Setup, data []byte) (int, error) {
	n, err := tr.dev.Control(controlType(setup), setup.Request, setup.Value, setup.Index, data)
	if err != nil {
		return n, tr.classify("gousb.ControlOut", err)
	}
	return n, nil
}

// Standard GET_DESCRIPTOR request, used to fetch string descriptors
// directly rather than through a string-only convenience wrapper:
// the interface-name recovery algorithm needs the raw bytes and an
// explicit language ID, including langID 0 for the language-ID array
// itself.
const (
	stdRequestGetDescriptor uint8 = 0x06
	descriptorTypeString    uint8 = 0x03
)

// GetStringDescriptor implements transport.ControlTransport.
func (tr *Transport) GetStringDescriptor(ctx context.Context, index uint8, langID uint16) ([]byte, error) {
	rtype := controlType(transport.Setup{
		Type:      transport.RequestTypeStandard,
		Recipient: transport.RecipientDevice,
		Direction: transport.DirectionIn,
	})
	value := uint16(descriptorTypeString)<<8 | uint16(index)

	header := make([]byte, 2)
	if _, err := tr.dev.Control(rtype, stdRequestGetDescriptor, value, langID, header); err != nil {
		return nil, tr.classify("gousb.GetStringDescriptor", err)
	}
	length := int(header[0])
	if length <= 2 {
		return header[:length], nil
	}

	full := make([]byte, length)
	if _, err := tr.dev.Control(rtype, stdRequestGetDescriptor, value, langID, full); err != nil {
		return nil, tr.classify("gousb.GetStringDescriptor", err)
	}
	return full, nil
}

// Reset implements transport.ControlTransport.
func (tr *Transport) Reset(ctx context.Context) error {
	if err := tr.dev.Reset(); err != nil {
		return tr.classify("gousb.Reset", err)
	}
	return nil
}

// OnDisconnect implements transport.ControlTransport.
func (tr *Transport) OnDisconnect(fn transport.DisconnectFunc) {
	tr.mu.Lock()
	tr.disc = fn
	tr.mu.Unlock()
}

// Standard GET_DESCRIPTOR type codes used to read the device and
// configuration descriptors directly, bypassing gousb's own decoded
// tree: gousb's InterfaceSetting does not carry the raw iInterface
// string index the interface-name recovery algorithm needs, but our
// own descriptor package does.
const (
	stdDescriptorTypeDevice        uint8 = 0x01
	stdDescriptorTypeConfiguration uint8 = 0x02
)

func (tr *Transport) getDescriptorRaw(descType uint8, index uint8, length int) ([]byte, error) {
	rtype := controlType(transport.Setup{
		Type:      transport.RequestTypeStandard,
		Recipient: transport.RecipientDevice,
		Direction: transport.DirectionIn,
	})
	value := uint16(descType)<<8 | uint16(index)
	data := make([]byte, length)
	n, err := tr.dev.Control(rtype, stdRequestGetDescriptor, value, 0, data)
	if err != nil {
		return nil, tr.classify("gousb.getDescriptorRaw", err)
	}
	return data[:n], nil
}

// Identity implements transport.ControlTransport. It re-reads the
// device and configuration descriptors over a standard control
// transfer and decodes them with the descriptor package, the same
// decoder Session uses when parsing descriptors supplied any other
// way.
func (tr *Transport) Identity(ctx context.Context) (transport.DeviceIdentity, error) {
	raw, err := tr.getDescriptorRaw(stdDescriptorTypeDevice, 0, descriptor.DeviceDescriptorSize)
	if err != nil {
		return transport.DeviceIdentity{}, err
	}
	var dev descriptor.DeviceDescriptor
	if err := descriptor.ParseDeviceDescriptor(raw, &dev); err != nil {
		return transport.DeviceIdentity{}, err
	}

	productName, _ := tr.dev.Product()
	serialNumber, _ := tr.dev.SerialNumber()
	if productName == "" {
		productName = productNameFallback(dev.VendorID, dev.ProductID)
	}

	identity := transport.DeviceIdentity{
		VendorID:     dev.VendorID,
		ProductID:    dev.ProductID,
		ProductName:  productName,
		SerialNumber: serialNumber,
	}

	for i := uint8(0); i < dev.NumConfigurations; i++ {
		header, err := tr.getDescriptorRaw(stdDescriptorTypeConfiguration, i, descriptor.ConfigurationDescriptorSize)
		if err != nil {
			return transport.DeviceIdentity{}, err
		}
		var hdr descriptor.Header
		if err := descriptor.ParseHeader(header, &hdr); err != nil {
			return transport.DeviceIdentity{}, err
		}

		full, err := tr.getDescriptorRaw(stdDescriptorTypeConfiguration, i, int(hdr.TotalLength))
		if err != nil {
			return transport.DeviceIdentity{}, err
		}
		cfg, err := descriptor.ParseConfiguration(full)
		if err != nil {
			return transport.DeviceIdentity{}, err
		}

		identity.Configurations = append(identity.Configurations, configurationInfo(cfg))
	}

	return identity, nil
}

// configurationInfo regroups a parsed Configuration's flat Alternates
// list by interface number, the shape transport.ConfigurationInfo
// expects.
func configurationInfo(cfg *descriptor.Configuration) transport.ConfigurationInfo {
	ci := transport.ConfigurationInfo{ConfigurationValue: cfg.Header.ConfigurationValue}

	order := make([]uint8, 0)
	byNumber := make(map[uint8]*transport.InterfaceInfo)
	for _, alt := range cfg.Alternates {
		ii, ok := byNumber[alt.Interface.InterfaceNumber]
		if !ok {
			order = append(order, alt.Interface.InterfaceNumber)
			ii = &transport.InterfaceInfo{InterfaceNumber: alt.Interface.InterfaceNumber}
			byNumber[alt.Interface.InterfaceNumber] = ii
		}
		ii.Alternates = append(ii.Alternates, transport.AlternateInfo{
			AlternateSetting:   alt.Interface.AlternateSetting,
			InterfaceClass:     alt.Interface.InterfaceClass,
			InterfaceSubClass:  alt.Interface.InterfaceSubClass,
			InterfaceProtocol:  alt.Interface.InterfaceProtocol,
			InterfaceNameIndex: alt.Interface.InterfaceIndex,
		})
	}
	for _, n := range order {
		ci.Interfaces = append(ci.Interfaces, *byNumber[n])
	}
	return ci
}

// controlType assembles the bmRequestType byte gousb's Device.Control
// expects from our direction/type/recipient triple, the same three
// bitfields egtool's dfu.Conn composes by hand for every request.
func controlType(s transport.Setup) uint8 {
	var rt uint8
	if s.Direction == transport.DirectionIn {
		rt |= uint8(usb.ControlIn)
	} else {
		rt |= uint8(usb.ControlOut)
	}
	switch s.Type {
	case transport.RequestTypeClass:
		rt |= uint8(usb.ControlClass)
	default:
		rt |= uint8(usb.ControlStandard)
	}
	switch s.Recipient {
	case transport.RecipientInterface:
		rt |= uint8(usb.ControlInterface)
	default:
		rt |= uint8(usb.ControlDevice)
	}
	return rt
}
