package session

import (
	"context"
	"errors"
	"testing"

	"github.com/dfuhost/dfu/descriptor"
	"github.com/dfuhost/dfu/engine"
	"github.com/dfuhost/dfu/event"
	"github.com/dfuhost/dfu/pkg"
	"github.com/dfuhost/dfu/proto"
	"github.com/dfuhost/dfu/transport"
	"github.com/dfuhost/dfu/transport/fake"
)

func le16(v uint16) []byte { return []byte{byte(v), byte(v >> 8)} }

// stringDescriptor wire-encodes s as a USB string descriptor: bLength,
// bDescriptorType, then each rune as a UTF-16LE code unit. Matches the
// layout decodeUCS2 expects.
func stringDescriptor(s string) []byte {
	out := []byte{byte(2 + 2*len(s)), descriptor.TypeString}
	for _, c := range []byte(s) {
		out = append(out, c, 0)
	}
	return out
}

// buildConfig assembles a raw configuration descriptor with a single
// DFU-candidate alternate setting and its attached functional
// descriptor, in standard USB configuration-descriptor wire format.
func buildConfig(configValue, ifaceNum, altSetting, iInterface, protocol uint8, dfuVersion uint16) []byte {
	const totalLen = 9 + 9 + 9
	hdr := []byte{9, descriptor.TypeConfiguration}
	hdr = append(hdr, le16(totalLen)...)
	hdr = append(hdr, 1 /* bNumInterfaces */, configValue, 0 /* iConfiguration */, 0x80, 50)

	iface := []byte{9, descriptor.TypeInterface, ifaceNum, altSetting, 0,
		descriptor.ClassApplicationSpecific, descriptor.SubClassDFU, protocol, iInterface}

	fn := []byte{9, descriptor.TypeDFUFunctional, 0x0F}
	fn = append(fn, le16(255)...)  // wDetachTimeOut
	fn = append(fn, le16(1024)...) // wTransferSize
	fn = append(fn, le16(dfuVersion)...)

	buf := append(append([]byte{}, hdr...), iface...)
	return append(buf, fn...)
}

func scriptConfigFetch(ft *fake.Transport, index int, raw []byte) {
	value := uint16(descriptor.TypeConfiguration)<<8 | uint16(index)
	ft.Script(
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(stdRequestGetDescriptor), WantValue: fake.U16(value), Reply: raw},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(stdRequestGetDescriptor), WantValue: fake.U16(value), Reply: raw},
	)
}

func statusReply(status uint8, state proto.DfuState) []byte {
	return []byte{status, 0, 0, 0, uint8(state), 0}
}

// TestInit_PlainCandidate exercises Init+Connect for a single DFU-mode
// DFU 1.1 alternate with no DfuSe extensions.
func TestInit_PlainCandidate(t *testing.T) {
	raw := buildConfig(1, 0, 0, 0 /* no iInterface */, descriptor.ProtocolDFUMode, 0x0110)
	identity := transport.DeviceIdentity{Configurations: []transport.ConfigurationInfo{{}}}
	ft := fake.New(identity)
	scriptConfigFetch(ft, 0, raw)

	s := New(ft, Options{})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	ft.Verify(t)

	cands := s.Candidates()
	if len(cands) != 1 {
		t.Fatalf("len(Candidates()) = %d, want 1", len(cands))
	}
	if cands[0].ConfigurationValue != 1 || cands[0].InterfaceNumber != 0 {
		t.Errorf("candidate = %+v, unexpected", cands[0])
	}

	if err := s.Connect(context.Background(), 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.State() != StateConnected {
		t.Errorf("State() = %v, want Connected", s.State())
	}
	if s.EngineType() != engine.TypeDFU {
		t.Errorf("EngineType() = %v, want DFU", s.EngineType())
	}
	ft.Verify(t)
}

// TestInit_DfuSeCandidate exercises Connect selecting the DfuSe engine
// and parsing its memory map from the alternate's interface name.
func TestInit_DfuSeCandidate(t *testing.T) {
	raw := buildConfig(1, 0, 0, 4, descriptor.ProtocolDFUMode, 0x011A)
	identity := transport.DeviceIdentity{Configurations: []transport.ConfigurationInfo{{}}}
	ft := fake.New(identity)
	scriptConfigFetch(ft, 0, raw)
	ft.SetStringDescriptor(4, langIDUSEnglish, stringDescriptor("@Flash/0x08000000/16*001Kg"))

	s := New(ft, Options{})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := s.Connect(context.Background(), 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if s.EngineType() != engine.TypeDfuSe {
		t.Errorf("EngineType() = %v, want DfuSe", s.EngineType())
	}
	m, ok := s.MemoryMap()
	if !ok || m.Name != "Flash" {
		t.Errorf("MemoryMap() = %+v, %v, want name Flash", m, ok)
	}
	ft.Verify(t)
}

// TestInit_InterfaceNameRecovery covers two configurations each with
// one DFU alternate whose string index only resolves once the device
// is configured. ForceInterfacesName backfills both candidates'
// InterfaceName.
func TestInit_InterfaceNameRecovery(t *testing.T) {
	raw1 := buildConfig(1, 0, 0, 5, descriptor.ProtocolDFUMode, 0x011A)
	raw2 := buildConfig(2, 0, 0, 6, descriptor.ProtocolDFUMode, 0x011A)
	identity := transport.DeviceIdentity{Configurations: []transport.ConfigurationInfo{{}, {}}}
	ft := fake.New(identity)
	ft.RequireConfiguredForStrings = true
	scriptConfigFetch(ft, 0, raw1)
	scriptConfigFetch(ft, 1, raw2)
	ft.SetStringDescriptor(5, langIDUSEnglish, stringDescriptor("@A/0x0/1*1Kg"))
	ft.SetStringDescriptor(6, langIDUSEnglish, stringDescriptor("@B/0x10000/1*1Kg"))

	s := New(ft, Options{ForceInterfacesName: true})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	ft.Verify(t)

	cands := s.Candidates()
	if len(cands) != 2 {
		t.Fatalf("len(Candidates()) = %d, want 2", len(cands))
	}
	if cands[0].InterfaceName != "@A/0x0/1*1Kg" || cands[1].InterfaceName != "@B/0x10000/1*1Kg" {
		t.Fatalf("InterfaceNames = %q, %q, want %q, %q", cands[0].InterfaceName, cands[1].InterfaceName, "@A/0x0/1*1Kg", "@B/0x10000/1*1Kg")
	}

	if err := s.Connect(context.Background(), 1); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	m, ok := s.MemoryMap()
	if !ok || m.Name != "B" || m.Segments[0].Start != 0x10000 {
		t.Errorf("MemoryMap() = %+v, %v, want name B at 0x10000", m, ok)
	}
}

func TestEnumerate(t *testing.T) {
	raw := buildConfig(1, 0, 0, 0, descriptor.ProtocolDFUMode, 0x0110)
	identity := transport.DeviceIdentity{Configurations: []transport.ConfigurationInfo{{}}}
	ft := fake.New(identity)
	scriptConfigFetch(ft, 0, raw)

	cands, err := Enumerate(context.Background(), ft, Options{})
	if err != nil {
		t.Fatalf("Enumerate() error = %v", err)
	}
	if len(cands) != 1 || cands[0].ConfigurationValue != 1 {
		t.Errorf("Enumerate() = %+v, unexpected", cands)
	}
	ft.Verify(t)
}

func TestConnect_InvalidIndex(t *testing.T) {
	identity := transport.DeviceIdentity{Configurations: []transport.ConfigurationInfo{{}}}
	ft := fake.New(identity)
	scriptConfigFetch(ft, 0, buildConfig(1, 0, 0, 0, descriptor.ProtocolRuntime, 0x0100))

	s := New(ft, Options{})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	err := s.Connect(context.Background(), 5)
	var pe *pkg.Error
	if !errors.As(err, &pe) || pe.Kind != pkg.KindInterfaceNotFound {
		t.Errorf("Connect(5) error = %v, want KindInterfaceNotFound", err)
	}
}

func TestConnect_BeforeInit(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	s := New(ft, Options{})
	if err := s.Connect(context.Background(), 0); !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Connect() before Init error = %v, want ErrInvalidState", err)
	}
}

func TestReadWrite_RequireConnected(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	s := New(ft, Options{})

	if _, err := s.Read(context.Background(), 64, -1); !errors.Is(err, pkg.ErrNotConnected) {
		t.Errorf("Read() before Connect error = %v, want ErrNotConnected", err)
	}
	if err := s.Write(context.Background(), 64, nil, true); !errors.Is(err, pkg.ErrNotConnected) {
		t.Errorf("Write() before Connect error = %v, want ErrNotConnected", err)
	}
}

// TestWriteThenClose_DfuSe checks that Close performs the device reset
// DfuSe's engine deliberately leaves to the Session.
func TestWriteThenClose_DfuSe(t *testing.T) {
	raw := buildConfig(1, 0, 0, 4, descriptor.ProtocolDFUMode, 0x011A)
	identity := transport.DeviceIdentity{Configurations: []transport.ConfigurationInfo{{}}}
	ft := fake.New(identity)
	scriptConfigFetch(ft, 0, raw)
	ft.SetStringDescriptor(4, langIDUSEnglish, stringDescriptor("@Flash/0x0/16*001Kg"))

	s := New(ft, Options{})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := s.Connect(context.Background(), 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	// Zero-byte write: no erase, no data WRITE, just the commit sequence.
	ft.Script(
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(proto.RequestDnload), WantValue: fake.U16(0)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetStatus), Reply: statusReply(0, proto.StateDfuDnbusy)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetStatus), Reply: statusReply(0, proto.StateDfuDownloadIdle)},
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(proto.RequestDnload), WantValue: fake.U16(0), WantData: []byte{}},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetStatus), Reply: statusReply(0, proto.StateDfuManifest)},
	)
	if err := s.Write(context.Background(), 1024, nil, true); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if ft.ResetCount() != 0 {
		t.Errorf("ResetCount() after Write = %d, want 0 (DfuSe leaves reset to Session)", ft.ResetCount())
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if ft.ResetCount() != 1 {
		t.Errorf("ResetCount() after Close = %d, want 1", ft.ResetCount())
	}
	if s.State() != StateClosed {
		t.Errorf("State() = %v, want Closed", s.State())
	}
	ft.Verify(t)
}

func TestDisconnect_MarksNotConnected(t *testing.T) {
	raw := buildConfig(1, 0, 0, 0, descriptor.ProtocolRuntime, 0x0100)
	identity := transport.DeviceIdentity{Configurations: []transport.ConfigurationInfo{{}}}
	ft := fake.New(identity)
	scriptConfigFetch(ft, 0, raw)

	var events []event.Event
	s := New(ft, Options{})
	s.SetSink(func(e event.Event) { events = append(events, e) })
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := s.Connect(context.Background(), 0); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	cause := errors.New("unplugged")
	ft.Disconnect(cause)

	if s.State() != StateClosed {
		t.Errorf("State() after disconnect = %v, want Closed", s.State())
	}
	if _, err := s.Read(context.Background(), 64, -1); !errors.Is(err, pkg.ErrNotConnected) {
		t.Errorf("Read() after disconnect error = %v, want ErrNotConnected", err)
	}

	if err := s.WaitDisconnected(context.Background(), 0); err != nil {
		t.Errorf("WaitDisconnected() error = %v", err)
	}

	found := false
	for _, e := range events {
		if e.Kind == event.KindDisconnect && e.Cause == cause {
			found = true
		}
	}
	if !found {
		t.Errorf("events = %+v, want a Disconnect event carrying cause", events)
	}
}
