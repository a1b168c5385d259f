package session

import (
	"context"
	"sync"
	"time"

	"github.com/dfuhost/dfu/descriptor"
	"github.com/dfuhost/dfu/engine"
	"github.com/dfuhost/dfu/event"
	"github.com/dfuhost/dfu/pkg"
	"github.com/dfuhost/dfu/transport"
)

// State is a Session's lifecycle position.
type State int

// Session lifecycle states. A Session only ever moves forward:
// New -> Initialized -> Connected -> Closed. An unexpected transport
// disconnect while Connected also moves the Session to Closed.
const (
	StateNew State = iota
	StateInitialized
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "New"
	case StateInitialized:
		return "Initialized"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "unknown"
	}
}

// InterfaceSelection identifies one DFU-capable alternate setting found
// during Init. It is an immutable value, safe to copy.
type InterfaceSelection struct {
	ConfigurationValue uint8
	InterfaceNumber    uint8
	AlternateSetting   uint8
	InterfaceName      string
}

// Options configures a Session's optional behaviors.
type Options struct {
	// ForceInterfacesName enables the heavier interface-name recovery
	// algorithm when a candidate's InterfaceName comes back empty from
	// the single best-effort fetch Init performs inline.
	ForceInterfacesName bool
}

// candidate is a DFU-capable alternate setting together with the
// bookkeeping Connect needs that InterfaceSelection does not expose:
// the owning interface's protocol byte (to pick DFU vs DfuSe) and the
// functional descriptor attached to this specific alternate. Attaching
// Functional directly to the alternate it was parsed from resolves the
// "first functional descriptor for the selected configuration value"
// tie-break structurally: there is never more than one candidate per
// alternate to choose between.
type candidate struct {
	sel        InterfaceSelection
	protocol   uint8
	functional *descriptor.Functional
}

// Standard GET_DESCRIPTOR request, used here (as in transport/gousb) to
// re-fetch configuration descriptors directly: transport.DeviceIdentity
// gives Session enough to enumerate candidates, but not the DFU
// functional descriptor attached to each one, which only the raw
// descriptor.ParseConfiguration walk produces.
const stdRequestGetDescriptor uint8 = 0x06

// langIDUSEnglish is the language ID used for all string descriptor
// fetches performed by this package.
const langIDUSEnglish uint16 = 0x0409

// Session is the lifecycle container: it
// owns the transport and the claimed interface for its lifetime, and
// dispatches Read/Write to the engine (Plain or DfuSe) selected by the
// connected alternate's functional descriptor.
type Session struct {
	mu sync.Mutex

	transport transport.ControlTransport
	options   Options
	sink      event.Sink

	state      State
	candidates []candidate

	selection  InterfaceSelection
	functional descriptor.Functional
	engineType engine.Type
	eng        engine.Engine
	memoryMap  *descriptor.MemoryMap
	startAddr  *uint32

	disconnectOnce sync.Once
	disconnectCh   chan struct{}
	disconnectErr  error
}

// New constructs a Session over an already-discovered transport. The
// transport need not be open yet; Init and Connect open it as needed.
func New(t transport.ControlTransport, opts Options) *Session {
	return &Session{
		transport:    t,
		options:      opts,
		sink:         event.Nop,
		disconnectCh: make(chan struct{}),
	}
}

// Enumerate is the one-shot form of New+Init for callers that only want
// the candidate list: it scans every configuration's alternate settings
// for the DFU class/subclass/protocol triple and returns
// them without retaining the Session, mirroring the discovery loop
// egtool's dfu.Connect performs inline before opening a device.
func Enumerate(ctx context.Context, t transport.ControlTransport, opts Options) ([]InterfaceSelection, error) {
	s := New(t, opts)
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s.Candidates(), nil
}

// SetSink registers the callback that receives lifecycle and progress
// events. The zero value (never called) discards events.
func (s *Session) SetSink(sink event.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sink == nil {
		sink = event.Nop
	}
	s.sink = sink
}

// State returns the Session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Candidates returns the DFU-capable alternate settings found by Init,
// in descriptor declaration order. Valid only after Init.
func (s *Session) Candidates() []InterfaceSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InterfaceSelection, len(s.candidates))
	for i, c := range s.candidates {
		out[i] = c.sel
	}
	return out
}

// Selection returns the alternate setting Connect opened. Valid only
// once Connected.
func (s *Session) Selection() InterfaceSelection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// FunctionalDescriptor returns the connected alternate's DFU functional
// descriptor. Valid only once Connected.
func (s *Session) FunctionalDescriptor() descriptor.Functional {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.functional
}

// EngineType reports which engine Connect instantiated. Valid only once
// Connected.
func (s *Session) EngineType() engine.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineType
}

// MemoryMap returns the DfuSe memory map parsed for the connected
// alternate, if any. ok is false for a plain DFU session.
func (s *Session) MemoryMap() (m *descriptor.MemoryMap, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memoryMap, s.memoryMap != nil
}

// SetStartAddress overrides the address DfuSe read/write/erase
// operations resolve to. It may be called before or after Connect; if
// called before, it takes effect once a DfuSe engine is constructed.
// It has no effect for a plain DFU session.
func (s *Session) SetStartAddress(addr uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startAddr = &addr
	if d, ok := s.eng.(*engine.DfuSe); ok {
		d.SetStartAddress(addr)
	}
}

// ClearStartAddress reverts to the default DfuSe address resolution:
// the start of the memory map's first segment.
func (s *Session) ClearStartAddress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startAddr = nil
	if d, ok := s.eng.(*engine.DfuSe); ok {
		d.ClearStartAddress()
	}
}

func setupStdIn(request uint8, value, index uint16) transport.Setup {
	return transport.Setup{
		Type:      transport.RequestTypeStandard,
		Recipient: transport.RecipientDevice,
		Direction: transport.DirectionIn,
		Request:   request,
		Value:     value,
		Index:     index,
	}
}

// fetchConfigurationRaw re-reads configuration descriptor index over a
// standard GET_DESCRIPTOR control transfer: first the 9-byte header to
// learn wTotalLength, then the full record. index is the 0-based
// position GET_DESCRIPTOR addresses configurations by, not
// bConfigurationValue.
func fetchConfigurationRaw(ctx context.Context, t transport.ControlTransport, index int) ([]byte, error) {
	value := uint16(descriptor.TypeConfiguration)<<8 | uint16(index)

	header, err := t.ControlIn(ctx, setupStdIn(stdRequestGetDescriptor, value, 0), descriptor.ConfigurationDescriptorSize)
	if err != nil {
		return nil, pkg.NewTransportFailed("session.Init", err)
	}
	var hdr descriptor.Header
	if err := descriptor.ParseHeader(header, &hdr); err != nil {
		return nil, err
	}

	full, err := t.ControlIn(ctx, setupStdIn(stdRequestGetDescriptor, value, 0), int(hdr.TotalLength))
	if err != nil {
		return nil, pkg.NewTransportFailed("session.Init", err)
	}
	return full, nil
}

// decodeUCS2 decodes a string descriptor's UTF-16LE payload into a Go
// string: bLength is byte 0, the code units start at byte offset 2,
// and there are (bLength-2)/2 of them. Non-ASCII code points fall back
// to their low byte, matching the readStringDescriptors decoder in
// github.com/ardnew/softusb host/enumeration.go.
func decodeUCS2(data []byte) string {
	if len(data) < 2 {
		return ""
	}
	length := int(data[0])
	if length > len(data) {
		length = len(data)
	}
	if length < 2 {
		return ""
	}
	out := make([]byte, 0, (length-2)/2)
	for i := 2; i+1 < length; i += 2 {
		out = append(out, data[i])
	}
	return string(out)
}

// Init parses the device's configuration descriptors, builds the
// candidate DFU interface list, and (for each candidate with a nonzero
// iInterface index) makes a best-effort attempt to resolve its
// InterfaceName. When ForceInterfacesName is set and any candidate is
// still unnamed, the heavier cross-configuration recovery algorithm
// runs.
func (s *Session) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateNew {
		return pkg.ErrInvalidState
	}

	if !s.transport.IsOpen() {
		if err := s.transport.Open(ctx); err != nil {
			return pkg.NewTransportFailed("session.Init", err)
		}
	}

	identity, err := s.transport.Identity(ctx)
	if err != nil {
		return pkg.NewTransportFailed("session.Init", err)
	}

	cfgs := make([]*descriptor.Configuration, len(identity.Configurations))
	for i := range identity.Configurations {
		raw, err := fetchConfigurationRaw(ctx, s.transport, i)
		if err != nil {
			return err
		}
		cfg, err := descriptor.ParseConfiguration(raw)
		if err != nil {
			return err
		}
		cfgs[i] = cfg
	}

	var candidates []candidate
	for _, cfg := range cfgs {
		for i := range cfg.Alternates {
			alt := cfg.Alternates[i]
			if !alt.Interface.IsDFUCandidate() {
				continue
			}
			c := candidate{
				sel: InterfaceSelection{
					ConfigurationValue: cfg.Header.ConfigurationValue,
					InterfaceNumber:    alt.Interface.InterfaceNumber,
					AlternateSetting:   alt.Interface.AlternateSetting,
				},
				protocol:   alt.Interface.InterfaceProtocol,
				functional: alt.Functional,
			}
			if alt.Interface.InterfaceIndex != 0 {
				if raw, err := s.transport.GetStringDescriptor(ctx, alt.Interface.InterfaceIndex, langIDUSEnglish); err == nil {
					c.sel.InterfaceName = decodeUCS2(raw)
				}
			}
			candidates = append(candidates, c)
		}
	}

	needsRecovery := false
	for _, c := range candidates {
		if c.sel.InterfaceName == "" {
			needsRecovery = true
			break
		}
	}
	if s.options.ForceInterfacesName && needsRecovery {
		if err := s.recoverInterfaceNames(ctx, cfgs, candidates); err != nil {
			return err
		}
	}

	s.candidates = candidates
	s.state = StateInitialized
	s.sink(event.Init())
	return nil
}

// recoverInterfaceNames is the cross-configuration fallback: select
// configuration 1, build a (config value -> interface number ->
// alternate -> string index) map across every configuration, fetch
// each distinct nonzero string index once, and back-fill every
// candidate whose InterfaceName is still empty.
func (s *Session) recoverInterfaceNames(ctx context.Context, cfgs []*descriptor.Configuration, candidates []candidate) error {
	if err := s.transport.SelectConfiguration(ctx, 1); err != nil {
		return pkg.NewTransportFailed("session.Init", err)
	}

	type key struct {
		config, iface, alt uint8
	}
	indexByKey := make(map[key]uint8)
	indices := make(map[uint8]struct{})
	for _, cfg := range cfgs {
		for _, alt := range cfg.Alternates {
			if alt.Interface.InterfaceIndex == 0 {
				continue
			}
			k := key{cfg.Header.ConfigurationValue, alt.Interface.InterfaceNumber, alt.Interface.AlternateSetting}
			indexByKey[k] = alt.Interface.InterfaceIndex
			indices[alt.Interface.InterfaceIndex] = struct{}{}
		}
	}

	names := make(map[uint8]string, len(indices))
	for idx := range indices {
		raw, err := s.transport.GetStringDescriptor(ctx, idx, langIDUSEnglish)
		if err != nil {
			continue
		}
		names[idx] = decodeUCS2(raw)
	}

	for i := range candidates {
		if candidates[i].sel.InterfaceName != "" {
			continue
		}
		k := key{candidates[i].sel.ConfigurationValue, candidates[i].sel.InterfaceNumber, candidates[i].sel.AlternateSetting}
		if idx, ok := indexByKey[k]; ok {
			candidates[i].sel.InterfaceName = names[idx]
		}
	}
	return nil
}

// Connect opens the candidate at index: selects its configuration,
// claims its interface, selects its alternate setting, and
// instantiates the DFU or DfuSe engine per the alternate's functional
// descriptor: DfuSe when DFUVersion == 0x011A and the interface
// protocol is 0x02, DFU otherwise. For DfuSe, it also parses the
// memory map from the alternate's interface name.
func (s *Session) Connect(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInitialized {
		return pkg.ErrInvalidState
	}
	if index < 0 || index >= len(s.candidates) {
		return pkg.NewInterfaceNotFound("session.Connect", index)
	}
	cand := s.candidates[index]

	if !s.transport.IsOpen() {
		if err := s.transport.Open(ctx); err != nil {
			return pkg.NewTransportFailed("session.Connect", err)
		}
	}
	if err := s.transport.SelectConfiguration(ctx, cand.sel.ConfigurationValue); err != nil {
		return pkg.NewTransportFailed("session.Connect", err)
	}
	if err := s.transport.ClaimInterface(ctx, cand.sel.InterfaceNumber); err != nil {
		return pkg.NewTransportFailed("session.Connect", err)
	}
	if err := s.transport.SelectAlternate(ctx, cand.sel.InterfaceNumber, cand.sel.AlternateSetting); err != nil {
		return pkg.NewTransportFailed("session.Connect", err)
	}

	if cand.functional == nil {
		return pkg.NewMalformedDescriptor("session.Connect", "functional descriptor")
	}

	var memMap *descriptor.MemoryMap
	var eng engine.Engine
	engineType := engine.TypeDFU
	if cand.functional.IsDfuSe(cand.protocol) {
		engineType = engine.TypeDfuSe
		m, err := descriptor.ParseMemoryMap(cand.sel.InterfaceName)
		if err != nil {
			return err
		}
		memMap = m
		dfuse := engine.NewDfuSe(s.transport, cand.sel.InterfaceNumber, memMap)
		if s.startAddr != nil {
			dfuse.SetStartAddress(*s.startAddr)
		}
		eng = dfuse
	} else {
		eng = engine.NewPlain(s.transport, cand.sel.InterfaceNumber)
	}

	s.selection = cand.sel
	s.functional = *cand.functional
	s.engineType = engineType
	s.memoryMap = memMap
	s.eng = eng

	s.transport.OnDisconnect(s.handleDisconnect)

	s.state = StateConnected
	s.sink(event.Connect())
	return nil
}

// handleDisconnect is registered with the transport at Connect time. An
// unexpected disconnect moves the Session straight to Closed: subsequent
// operations must fail with ErrorKind::NotConnected, and the transport
// is already gone so there is nothing left to release.
func (s *Session) handleDisconnect(cause error) {
	s.mu.Lock()
	if s.state == StateConnected {
		s.state = StateClosed
		s.disconnectErr = cause
	}
	sink := s.sink
	s.mu.Unlock()

	sink(event.Disconnect(cause))
	s.disconnectOnce.Do(func() { close(s.disconnectCh) })
}

// Read uploads firmware from the connected device. See engine.Engine.Read
// for the block-sequencing contract.
func (s *Session) Read(ctx context.Context, xferSize int, maxSize int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return nil, pkg.NewNotConnected("session.Read")
	}
	return s.eng.Read(ctx, xferSize, maxSize, s.sink)
}

// Write downloads firmware to the connected device. See engine.Engine.Write
// for the block-sequencing and manifestation contract. For a DfuSe
// session, the caller (or Close) must still issue Reset to complete
// manifestation; Write itself only drives the device to dfuMANIFEST.
func (s *Session) Write(ctx context.Context, xferSize int, data []byte, manifestationTolerant bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return pkg.NewNotConnected("session.Write")
	}
	return s.eng.Write(ctx, xferSize, data, manifestationTolerant, s.sink)
}

// Reset issues a USB device reset. DfuSe manifestation does not reset
// the device itself; callers (or Close) call Reset explicitly once
// Write has driven the device to dfuMANIFEST. "Device already gone"
// transport errors are suppressed, since a device resetting itself as
// part of manifestation commonly drops off the bus before the host's
// reset request completes.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected {
		return pkg.NewNotConnected("session.Reset")
	}
	if err := s.transport.Reset(ctx); err != nil && !transport.IsDeviceGone(err) {
		return pkg.NewTransportFailed("session.Reset", err)
	}
	return nil
}

// Close releases the claimed interface and the underlying transport. For
// a DfuSe session it first issues a device reset, since DfuSe
// manifestation leaves the reset step to the Session rather than the
// engine. Close is idempotent; closing more than once is a no-op.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil
	}

	if s.state == StateConnected && s.engineType == engine.TypeDfuSe {
		if err := s.transport.Reset(ctx); err != nil && !transport.IsDeviceGone(err) {
			s.state = StateClosed
			return pkg.NewTransportFailed("session.Close", err)
		}
	}

	var closeErr error
	if s.transport.IsOpen() {
		if err := s.transport.Close(); err != nil {
			closeErr = pkg.NewTransportFailed("session.Close", err)
		}
	}
	s.state = StateClosed
	return closeErr
}

// WaitDisconnected blocks until the transport reports disconnection.
// timeoutMs == 0 waits indefinitely; any other value fails with
// ErrorKind::Timeout if the device has not disconnected within the
// window.
func (s *Session) WaitDisconnected(ctx context.Context, timeoutMs int) error {
	s.mu.Lock()
	ch := s.disconnectCh
	already := s.state == StateClosed
	s.mu.Unlock()

	if already {
		return nil
	}
	if timeoutMs == 0 {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return pkg.NewCancelled("session.WaitDisconnected")
		}
	}

	timer := time.NewTimer(time.Duration(timeoutMs) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return pkg.NewTimeout("session.WaitDisconnected", "disconnect")
	case <-ctx.Done():
		return pkg.NewCancelled("session.WaitDisconnected")
	}
}
