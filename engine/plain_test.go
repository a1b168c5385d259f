package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/dfuhost/dfu/event"
	"github.com/dfuhost/dfu/proto"
	"github.com/dfuhost/dfu/transport"
	"github.com/dfuhost/dfu/transport/fake"
)

func statusReply(status uint8, state proto.DfuState) []byte {
	return []byte{status, 0, 0, 0, uint8(state), 0}
}

func repeat(b byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

// TestPlainWrite_Scenario1 covers a 2050-byte manifestation-tolerant
// write with xfer_size=1024.
func TestPlainWrite_Scenario1(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	data := append(repeat(0xAA, 1024), append(repeat(0xBB, 1024), repeat(0xCC, 2)...)...)

	ft.Script(
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(proto.RequestDnload), WantValue: fake.U16(0)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetStatus), Reply: statusReply(0, proto.StateDfuDownloadIdle)},
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(proto.RequestDnload), WantValue: fake.U16(1)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetStatus), Reply: statusReply(0, proto.StateDfuDownloadIdle)},
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(proto.RequestDnload), WantValue: fake.U16(2)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetStatus), Reply: statusReply(0, proto.StateDfuDownloadIdle)},
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(proto.RequestDnload), WantValue: fake.U16(3), WantData: []byte{}},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetStatus), Reply: statusReply(0, proto.StateDfuIdle)},
	)

	var events []event.Event
	eng := NewPlain(ft, 0)
	err := eng.Write(context.Background(), 1024, data, true, func(e event.Event) { events = append(events, e) })
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if ft.ResetCount() != 1 {
		t.Errorf("ResetCount() = %d, want 1", ft.ResetCount())
	}
	ft.Verify(t)

	if len(events) == 0 || events[0].Kind != event.KindWriteStart {
		t.Errorf("first event = %+v, want WriteStart", events[0])
	}
	last := events[len(events)-1]
	if last.Kind != event.KindWriteEnd || last.Sent != int64(len(data)) {
		t.Errorf("last event = %+v, want WriteEnd(sent=%d)", last, len(data))
	}
}

func TestPlainWrite_ZeroLength(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(proto.RequestDnload), WantValue: fake.U16(0), WantData: []byte{}},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetStatus), Reply: statusReply(0, proto.StateDfuIdle)},
	)

	eng := NewPlain(ft, 0)
	if err := eng.Write(context.Background(), 1024, nil, true, event.Nop); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	ft.Verify(t)
}

func TestPlainWrite_NonTolerant_SwallowsManifestationError(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(proto.RequestDnload), WantValue: fake.U16(0), WantData: []byte{}},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetStatus), Err: context.DeadlineExceeded},
	)

	eng := NewPlain(ft, 0)
	if err := eng.Write(context.Background(), 1024, nil, false, event.Nop); err != nil {
		t.Fatalf("Write() error = %v, want nil (manifestation kick error swallowed)", err)
	}
	ft.Verify(t)
}

// TestPlainRead_Scenario2 covers a read of unknown length ending in a
// 200-byte short block.
func TestPlainRead_Scenario2(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestUpload), WantValue: fake.U16(0), Reply: repeat(0x11, 512)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestUpload), WantValue: fake.U16(1), Reply: repeat(0x22, 512)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestUpload), WantValue: fake.U16(2), Reply: repeat(0x33, 200)},
	)

	eng := NewPlain(ft, 0)
	data, err := eng.Read(context.Background(), 512, -1, event.Nop)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(data) != 1224 {
		t.Fatalf("len(data) = %d, want 1224", len(data))
	}
	if !bytes.Equal(data[:512], repeat(0x11, 512)) {
		t.Errorf("first block mismatch")
	}
	ft.Verify(t)
}

func TestPlainRead_MaxSizeZero(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	eng := NewPlain(ft, 0)
	data, err := eng.Read(context.Background(), 512, 0, event.Nop)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(data) != 0 {
		t.Errorf("len(data) = %d, want 0", len(data))
	}
	ft.Verify(t) // no scripted steps, none consumed
}

func TestPlainRead_MaxSizeReached_AbortsToIdle(t *testing.T) {
	ft := fake.New(transport.DeviceIdentity{})
	ft.Script(
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestUpload), WantValue: fake.U16(0), Reply: repeat(0x11, 512)},
		fake.Step{Dir: fake.DirOut, WantRequest: fake.U8(proto.RequestAbort)},
		fake.Step{Dir: fake.DirIn, WantRequest: fake.U8(proto.RequestGetState), Reply: []byte{uint8(proto.StateDfuIdle)}},
	)

	eng := NewPlain(ft, 0)
	data, err := eng.Read(context.Background(), 512, 512, event.Nop)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(data) != 512 {
		t.Errorf("len(data) = %d, want 512", len(data))
	}
	ft.Verify(t)
}
