package proto

import (
	"context"
	"errors"
	"testing"

	"github.com/dfuhost/dfu/pkg"
	"github.com/dfuhost/dfu/transport"
	"github.com/dfuhost/dfu/transport/fake"
)

func statusReply(status uint8, pollMs uint32, state DfuState) []byte {
	return []byte{
		status,
		byte(pollMs), byte(pollMs >> 8), byte(pollMs >> 16),
		uint8(state),
		0,
	}
}

func TestDecodeStatusReport(t *testing.T) {
	// Status OK, 1000ms poll timeout, dfuDNLOAD_IDLE.
	data := []byte{0x00, 0xE8, 0x03, 0x00, 0x05, 0x00}
	got, err := DecodeStatusReport(data)
	if err != nil {
		t.Fatalf("DecodeStatusReport() error = %v", err)
	}
	want := StatusReport{Status: 0, PollTimeoutMs: 1000, State: StateDfuDownloadIdle}
	if got != want {
		t.Errorf("DecodeStatusReport() = %+v, want %+v", got, want)
	}
}

func TestDecodeStatusReport_TooShort(t *testing.T) {
	_, err := DecodeStatusReport([]byte{0x00, 0x00})
	var derr *pkg.Error
	if !errors.As(err, &derr) || derr.Kind != pkg.KindMalformedDescriptor {
		t.Fatalf("expected KindMalformedDescriptor, got %v", err)
	}
}

func TestDfuState_String(t *testing.T) {
	tests := []struct {
		s    DfuState
		want string
	}{
		{StateAppIdle, "appIDLE"},
		{StateDfuIdle, "dfuIDLE"},
		{StateDfuDnbusy, "dfuDNBUSY"},
		{StateDfuManifestWaitReset, "dfuMANIFEST_WAIT_RESET"},
		{StateDfuError, "dfuERROR"},
		{DfuState(200), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("DfuState(%d).String() = %q, want %q", tt.s, got, tt.want)
		}
	}
}

func TestGetStatus(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(fake.Step{
		Dir:         fake.DirIn,
		WantRequest: fake.U8(RequestGetStatus),
		Reply:       statusReply(0, 0, StateDfuIdle),
	})

	got, err := GetStatus(context.Background(), ft, 0)
	if err != nil {
		t.Fatalf("GetStatus() error = %v", err)
	}
	if got.State != StateDfuIdle {
		t.Errorf("GetStatus().State = %v, want dfuIDLE", got.State)
	}
	ft.Verify(t)
}

func TestPollUntil_OneCallBeforeFirstSleep(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(RequestGetStatus), Reply: statusReply(0, 0, StateDfuDnbusy)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(RequestGetStatus), Reply: statusReply(0, 0, StateDfuDownloadIdle)},
	)

	report, err := PollUntilIdle(context.Background(), ft, 0, StateDfuDownloadIdle)
	if err != nil {
		t.Fatalf("PollUntilIdle() error = %v", err)
	}
	if report.State != StateDfuDownloadIdle {
		t.Errorf("final state = %v, want dfuDOWNLOAD_IDLE", report.State)
	}
	if len(ft.Calls) != 2 {
		t.Errorf("len(Calls) = %d, want 2", len(ft.Calls))
	}
	ft.Verify(t)
}

func TestPollUntil_StopsOnError(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(RequestGetStatus), Reply: statusReply(1, 0, StateDfuError)},
	)

	report, err := PollUntilIdle(context.Background(), ft, 0, StateDfuDownloadIdle)
	if err != nil {
		t.Fatalf("PollUntilIdle() error = %v", err)
	}
	if report.State != StateDfuError {
		t.Errorf("final state = %v, want dfuERROR", report.State)
	}
	ft.Verify(t)
}

func TestAbortToIdle_DirectToIdle(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(RequestAbort)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(RequestGetState), Reply: []byte{uint8(StateDfuIdle)}},
	)

	if err := AbortToIdle(context.Background(), ft, 0); err != nil {
		t.Fatalf("AbortToIdle() error = %v", err)
	}
	ft.Verify(t)
}

func TestAbortToIdle_ViaClearStatus(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(RequestAbort)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(RequestGetState), Reply: []byte{uint8(StateDfuError)}},
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(RequestClrStatus)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(RequestGetState), Reply: []byte{uint8(StateDfuIdle)}},
	)

	if err := AbortToIdle(context.Background(), ft, 0); err != nil {
		t.Fatalf("AbortToIdle() error = %v", err)
	}
	ft.Verify(t)
}

func TestAbortToIdle_FailsWhenNotIdle(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(RequestAbort)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(RequestGetState), Reply: []byte{uint8(StateDfuDownloadIdle)}},
	)

	err := AbortToIdle(context.Background(), ft, 0)
	var derr *pkg.Error
	if !errors.As(err, &derr) || derr.Kind != pkg.KindProtocol {
		t.Fatalf("expected KindProtocol, got %v", err)
	}
	ft.Verify(t)
}

func TestWriteAndRead(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(RequestDnload), WantValue: fake.U16(0), WantData: []byte{1, 2, 3}},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(RequestUpload), WantValue: fake.U16(0), Reply: []byte{4, 5, 6}},
	)

	n, err := Write(context.Background(), ft, 0, 0, []byte{1, 2, 3})
	if err != nil || n != 3 {
		t.Fatalf("Write() = (%d, %v), want (3, nil)", n, err)
	}

	data, err := Read(context.Background(), ft, 0, 0, 64)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(data) != string([]byte{4, 5, 6}) {
		t.Errorf("Read() = %v, want [4 5 6]", data)
	}
	ft.Verify(t)
}
