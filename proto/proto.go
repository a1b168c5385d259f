package proto

import (
	"context"
	"time"

	"github.com/dfuhost/dfu/pkg"
	"github.com/dfuhost/dfu/transport"
)

// DFU class request codes.
const (
	RequestDetach     uint8 = 0x00
	RequestDnload     uint8 = 0x01
	RequestUpload     uint8 = 0x02
	RequestGetStatus  uint8 = 0x03
	RequestClrStatus  uint8 = 0x04
	RequestGetState   uint8 = 0x05
	RequestAbort      uint8 = 0x06
)

// StatusReportSize is the fixed length of a GETSTATUS reply.
const StatusReportSize = 6

// DfuState is the device-reported DFU state machine position.
type DfuState uint8

// DFU states.
const (
	StateAppIdle              DfuState = 0
	StateAppDetach            DfuState = 1
	StateDfuIdle              DfuState = 2
	StateDfuDownloadSync      DfuState = 3
	StateDfuDnbusy            DfuState = 4
	StateDfuDownloadIdle      DfuState = 5
	StateDfuManifestSync      DfuState = 6
	StateDfuManifest          DfuState = 7
	StateDfuManifestWaitReset DfuState = 8
	StateDfuUploadIdle        DfuState = 9
	StateDfuError             DfuState = 10
)

func (s DfuState) String() string {
	switch s {
	case StateAppIdle:
		return "appIDLE"
	case StateAppDetach:
		return "appDETACH"
	case StateDfuIdle:
		return "dfuIDLE"
	case StateDfuDownloadSync:
		return "dfuDOWNLOAD_SYNC"
	case StateDfuDnbusy:
		return "dfuDNBUSY"
	case StateDfuDownloadIdle:
		return "dfuDOWNLOAD_IDLE"
	case StateDfuManifestSync:
		return "dfuMANIFEST_SYNC"
	case StateDfuManifest:
		return "dfuMANIFEST"
	case StateDfuManifestWaitReset:
		return "dfuMANIFEST_WAIT_RESET"
	case StateDfuUploadIdle:
		return "dfuUPLOAD_IDLE"
	case StateDfuError:
		return "dfuERROR"
	default:
		return "unknown"
	}
}

// StatusReport is the decoded 6-byte GETSTATUS reply.
type StatusReport struct {
	Status        uint8
	PollTimeoutMs uint32
	State         DfuState
}

// DecodeStatusReport decodes a 6-byte GETSTATUS reply. Byte 5 (iString)
// is ignored.
func DecodeStatusReport(data []byte) (StatusReport, error) {
	if len(data) < StatusReportSize {
		return StatusReport{}, pkg.NewMalformedDescriptor("proto.DecodeStatusReport", "length")
	}
	return StatusReport{
		Status:        data[0],
		PollTimeoutMs: uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16,
		State:         DfuState(data[4]),
	}, nil
}

func setup(request uint8, dir transport.Direction, value, index uint16) transport.Setup {
	return transport.Setup{
		Type:      transport.RequestTypeClass,
		Recipient: transport.RecipientInterface,
		Direction: dir,
		Request:   request,
		Value:     value,
		Index:     index,
	}
}

// Detach issues the DETACH request.
func Detach(ctx context.Context, t transport.ControlTransport, iface uint8, timeoutMs uint16) error {
	_, err := t.ControlOut(ctx, setup(RequestDetach, transport.DirectionOut, timeoutMs, uint16(iface)), nil)
	if err != nil {
		return pkg.NewTransportFailed("proto.Detach", err)
	}
	return nil
}

// Write issues a DNLOAD request carrying data (which may be empty) at
// the given block number.
func Write(ctx context.Context, t transport.ControlTransport, iface uint8, blockNum uint16, data []byte) (int, error) {
	n, err := t.ControlOut(ctx, setup(RequestDnload, transport.DirectionOut, blockNum, uint16(iface)), data)
	if err != nil {
		return n, pkg.NewTransportFailed("proto.Write", err)
	}
	return n, nil
}

// Read issues an UPLOAD request at the given block number, returning up
// to xferSize bytes.
func Read(ctx context.Context, t transport.ControlTransport, iface uint8, blockNum uint16, xferSize int) ([]byte, error) {
	data, err := t.ControlIn(ctx, setup(RequestUpload, transport.DirectionIn, blockNum, uint16(iface)), xferSize)
	if err != nil {
		return nil, pkg.NewTransportFailed("proto.Read", err)
	}
	return data, nil
}

// GetStatus issues GETSTATUS and decodes the reply.
func GetStatus(ctx context.Context, t transport.ControlTransport, iface uint8) (StatusReport, error) {
	data, err := t.ControlIn(ctx, setup(RequestGetStatus, transport.DirectionIn, 0, uint16(iface)), StatusReportSize)
	if err != nil {
		return StatusReport{}, pkg.NewTransportFailed("proto.GetStatus", err)
	}
	return DecodeStatusReport(data)
}

// ClearStatus issues CLRSTATUS.
func ClearStatus(ctx context.Context, t transport.ControlTransport, iface uint8) error {
	_, err := t.ControlOut(ctx, setup(RequestClrStatus, transport.DirectionOut, 0, uint16(iface)), nil)
	if err != nil {
		return pkg.NewTransportFailed("proto.ClearStatus", err)
	}
	return nil
}

// GetState issues GETSTATE.
func GetState(ctx context.Context, t transport.ControlTransport, iface uint8) (DfuState, error) {
	data, err := t.ControlIn(ctx, setup(RequestGetState, transport.DirectionIn, 0, uint16(iface)), 1)
	if err != nil {
		return 0, pkg.NewTransportFailed("proto.GetState", err)
	}
	if len(data) < 1 {
		return 0, pkg.NewMalformedDescriptor("proto.GetState", "length")
	}
	return DfuState(data[0]), nil
}

// Abort issues ABORT.
func Abort(ctx context.Context, t transport.ControlTransport, iface uint8) error {
	_, err := t.ControlOut(ctx, setup(RequestAbort, transport.DirectionOut, 0, uint16(iface)), nil)
	if err != nil {
		return pkg.NewTransportFailed("proto.Abort", err)
	}
	return nil
}

// PollUntil repeatedly issues GETSTATUS, sleeping poll_timeout_ms
// between attempts, until predicate(state) is true or the device
// reports dfuERROR. It issues exactly one GETSTATUS before the first
// sleep and one per subsequent iteration.
func PollUntil(ctx context.Context, t transport.ControlTransport, iface uint8, predicate func(DfuState) bool) (StatusReport, error) {
	for {
		report, err := GetStatus(ctx, t, iface)
		if err != nil {
			return StatusReport{}, err
		}
		if predicate(report.State) || report.State == StateDfuError {
			return report, nil
		}
		if err := sleep(ctx, time.Duration(report.PollTimeoutMs)*time.Millisecond); err != nil {
			return StatusReport{}, pkg.NewCancelled("proto.PollUntil")
		}
	}
}

// PollUntilIdle is the common case of PollUntil(state == target).
func PollUntilIdle(ctx context.Context, t transport.ControlTransport, iface uint8, target DfuState) (StatusReport, error) {
	return PollUntil(ctx, t, iface, func(s DfuState) bool { return s == target })
}

// AbortToIdle issues ABORT, reads state, and if the device reports
// dfuERROR, issues CLRSTATUS and re-reads state. It fails with
// ErrorKind::Protocol if the final state is not dfuIDLE.
func AbortToIdle(ctx context.Context, t transport.ControlTransport, iface uint8) error {
	if err := Abort(ctx, t, iface); err != nil {
		return err
	}
	state, err := GetState(ctx, t, iface)
	if err != nil {
		return err
	}
	if state == StateDfuError {
		if err := ClearStatus(ctx, t, iface); err != nil {
			return err
		}
		state, err = GetState(ctx, t, iface)
		if err != nil {
			return err
		}
	}
	if state != StateDfuIdle {
		return pkg.NewProtocol("proto.AbortToIdle", uint8(state), 0, "abort did not reach idle")
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
