package fake

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dfuhost/dfu/transport"
)

// Direction distinguishes an IN step (ControlIn) from an OUT step
// (ControlOut).
type Direction int

// Step directions.
const (
	DirOut Direction = iota
	DirIn
)

// Step is one expected control transfer and the transport's scripted
// response to it.
type Step struct {
	Dir Direction

	// WantRequest, if non-nil, must equal setup.Request.
	WantRequest *uint8
	// WantValue, if non-nil, must equal setup.Value.
	WantValue *uint16
	// WantData, if non-nil, must equal the OUT call's data exactly.
	WantData []byte

	// Reply is returned as the data phase of an IN step.
	Reply []byte
	// ReplyN is the accepted byte count for an OUT step; defaults to
	// len(data) when zero and Err is nil.
	ReplyN int
	// Err is returned instead of a successful reply.
	Err error
}

// Call records one control transfer actually made against the
// Transport, for post-hoc inspection beyond what Verify checks.
type Call struct {
	Dir     Direction
	Setup   transport.Setup
	Data    []byte
	DataLen int
}

// Transport is a scripted transport.ControlTransport. Zero value is not
// usable; construct with New.
type Transport struct {
	mu sync.Mutex

	identity transport.DeviceIdentity

	OpenErr            error
	SelectConfigErr    error
	ClaimInterfaceErr  error
	SelectAlternateErr error
	ResetErr           error
	StringDescriptors  map[stringKey][]byte

	// RequireConfiguredForStrings makes GetStringDescriptor fail until
	// SelectConfiguration has succeeded at least once, modeling the
	// devices that only answer string descriptor requests once
	// configured. Session's interface-name recovery selects
	// configuration 1 before fetching strings precisely to work around
	// this.
	RequireConfiguredForStrings bool

	open       bool
	configured bool
	disc       transport.DisconnectFunc
	steps      []Step
	stepIdx    int
	Calls      []Call
	mismatch   []string
	resets     int
}

type stringKey struct {
	Index  uint8
	LangID uint16
}

// New constructs a Transport reporting the given device identity.
func New(identity transport.DeviceIdentity) *Transport {
	return &Transport{
		identity:          identity,
		StringDescriptors: make(map[stringKey][]byte),
	}
}

// Script appends steps to the transport's expectation queue.
func (tr *Transport) Script(steps ...Step) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.steps = append(tr.steps, steps...)
}

// SetStringDescriptor configures the reply for GetStringDescriptor.
func (tr *Transport) SetStringDescriptor(index uint8, langID uint16, data []byte) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.StringDescriptors[stringKey{index, langID}] = data
}

// ResetCount returns the number of times Reset was called.
func (tr *Transport) ResetCount() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.resets
}

// Disconnect invokes the registered disconnect callback, if any, as a
// real transport would on detecting device loss.
func (tr *Transport) Disconnect(cause error) {
	tr.mu.Lock()
	fn := tr.disc
	tr.mu.Unlock()
	if fn != nil {
		fn(cause)
	}
}

// Verify reports any request that did not match its scripted
// expectation, and fails if script steps remain unconsumed.
func (tr *Transport) Verify(t *testing.T) {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for _, m := range tr.mismatch {
		t.Errorf("%s", m)
	}
	if tr.stepIdx < len(tr.steps) {
		t.Errorf("%d scripted step(s) were never consumed", len(tr.steps)-tr.stepIdx)
	}
}

func (tr *Transport) next(dir Direction) (Step, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.stepIdx >= len(tr.steps) {
		tr.mismatch = append(tr.mismatch, fmt.Sprintf("unexpected call (dir=%d) beyond scripted steps", dir))
		return Step{}, false
	}
	step := tr.steps[tr.stepIdx]
	tr.stepIdx++
	if step.Dir != dir {
		tr.mismatch = append(tr.mismatch, fmt.Sprintf("step %d: direction mismatch, want %d got %d", tr.stepIdx-1, step.Dir, dir))
	}
	return step, true
}

func (tr *Transport) checkSetup(idx int, step Step, setup transport.Setup) {
	if step.WantRequest != nil && *step.WantRequest != setup.Request {
		tr.addMismatch(fmt.Sprintf("step %d: request = %#x, want %#x", idx, setup.Request, *step.WantRequest))
	}
	if step.WantValue != nil && *step.WantValue != setup.Value {
		tr.addMismatch(fmt.Sprintf("step %d: value = %#x, want %#x", idx, setup.Value, *step.WantValue))
	}
}

func (tr *Transport) addMismatch(msg string) {
	tr.mu.Lock()
	tr.mismatch = append(tr.mismatch, msg)
	tr.mu.Unlock()
}

// IsOpen implements transport.ControlTransport.
func (tr *Transport) IsOpen() bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.open
}

// Open implements transport.ControlTransport.
func (tr *Transport) Open(ctx context.Context) error {
	if tr.OpenErr != nil {
		return tr.OpenErr
	}
	tr.mu.Lock()
	tr.open = true
	tr.mu.Unlock()
	return nil
}

// Close implements transport.ControlTransport.
func (tr *Transport) Close() error {
	tr.mu.Lock()
	tr.open = false
	tr.mu.Unlock()
	return nil
}

// SelectConfiguration implements transport.ControlTransport.
func (tr *Transport) SelectConfiguration(ctx context.Context, value uint8) error {
	if tr.SelectConfigErr != nil {
		return tr.SelectConfigErr
	}
	tr.mu.Lock()
	tr.configured = true
	tr.mu.Unlock()
	return nil
}

// ClaimInterface implements transport.ControlTransport.
func (tr *Transport) ClaimInterface(ctx context.Context, interfaceNumber uint8) error {
	return tr.ClaimInterfaceErr
}

// SelectAlternate implements transport.ControlTransport.
func (tr *Transport) SelectAlternate(ctx context.Context, interfaceNumber, alternate uint8) error {
	return tr.SelectAlternateErr
}

// ControlIn implements transport.ControlTransport.
func (tr *Transport) ControlIn(ctx context.Context, setup transport.Setup, length int) ([]byte, error) {
	idx := tr.stepIdx
	step, ok := tr.next(DirIn)
	tr.recordCall(Call{Dir: DirIn, Setup: setup})
	if !ok {
		return nil, fmt.Errorf("fake transport: no scripted response")
	}
	tr.checkSetup(idx, step, setup)
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Reply, nil
}

// ControlOut implements transport.ControlTransport.
func (tr *Transport) ControlOut(ctx context.Context, setup transport.Setup, data []byte) (int, error) {
	idx := tr.stepIdx
	step, ok := tr.next(DirOut)
	tr.recordCall(Call{Dir: DirOut, Setup: setup, Data: append([]byte(nil), data...), DataLen: len(data)})
	if !ok {
		return 0, fmt.Errorf("fake transport: no scripted response")
	}
	tr.checkSetup(idx, step, setup)
	if step.WantData != nil {
		if !bytes.Equal(step.WantData, data) {
			tr.addMismatch(fmt.Sprintf("step %d: data = %v, want %v", idx, data, step.WantData))
		}
	}
	if step.Err != nil {
		return 0, step.Err
	}
	if step.ReplyN != 0 {
		return step.ReplyN, nil
	}
	return len(data), nil
}

// GetStringDescriptor implements transport.ControlTransport.
func (tr *Transport) GetStringDescriptor(ctx context.Context, index uint8, langID uint16) ([]byte, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.RequireConfiguredForStrings && !tr.configured {
		return nil, fmt.Errorf("fake transport: device not configured, string descriptors unavailable")
	}
	data, ok := tr.StringDescriptors[stringKey{index, langID}]
	if !ok {
		return nil, fmt.Errorf("fake transport: no string descriptor configured for index %d langID %#x", index, langID)
	}
	return data, nil
}

// Reset implements transport.ControlTransport.
func (tr *Transport) Reset(ctx context.Context) error {
	tr.mu.Lock()
	tr.resets++
	tr.mu.Unlock()
	return tr.ResetErr
}

// OnDisconnect implements transport.ControlTransport.
func (tr *Transport) OnDisconnect(fn transport.DisconnectFunc) {
	tr.mu.Lock()
	tr.disc = fn
	tr.mu.Unlock()
}

// Identity implements transport.ControlTransport.
func (tr *Transport) Identity(ctx context.Context) (transport.DeviceIdentity, error) {
	return tr.identity, nil
}

func (tr *Transport) recordCall(c Call) {
	tr.mu.Lock()
	tr.Calls = append(tr.Calls, c)
	tr.mu.Unlock()
}

// U8 is a small helper for building *uint8 literals in test tables.
func U8(v uint8) *uint8 { return &v }

// U16 is a small helper for building *uint16 literals in test tables.
func U16(v uint16) *uint16 { return &v }
