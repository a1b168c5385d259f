package engine

import (
	"context"

	"github.com/dfuhost/dfu/event"
	"github.com/dfuhost/dfu/pkg"
	"github.com/dfuhost/dfu/proto"
	"github.com/dfuhost/dfu/transport"
)

func logStatusError(op string, report proto.StatusReport) {
	pkg.LogWarn(pkg.ComponentEngine, "device reported DFU error status",
		"op", op, "status", report.Status, "reason", proto.StatusString(report.Status), "state", report.State.String())
}

// Plain drives the plain DFU 1.1 read and write sequences.
type Plain struct {
	transport transport.ControlTransport
	iface     uint8
}

// NewPlain constructs a Plain engine for the claimed interface number
// on t.
func NewPlain(t transport.ControlTransport, iface uint8) *Plain {
	return &Plain{transport: t, iface: iface}
}

// Type implements Engine.
func (p *Plain) Type() Type { return TypeDFU }

// Read implements Engine: blocks are requested in order
// starting at block_num=0; a short block terminates the stream. If
// maxSize is reached before a short block, abort_to_idle is issued
// since the device would otherwise remain in dfuUPLOAD_IDLE.
func (p *Plain) Read(ctx context.Context, xferSize int, maxSize int64, sink event.Sink) ([]byte, error) {
	return readLoop(ctx, p.transport, p.iface, xferSize, maxSize, 0, sink)
}

// Write implements Engine.
func (p *Plain) Write(ctx context.Context, xferSize int, data []byte, manifestationTolerant bool, sink event.Sink) error {
	if xferSize <= 0 {
		return pkg.NewMalformedDescriptor("engine.Plain.Write", "xferSize")
	}

	sink(event.WriteStart())

	total := int64(len(data))
	var sent int64
	var blockNum uint16

	for offset := 0; offset < len(data); offset += xferSize {
		end := offset + xferSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]

		if _, err := proto.Write(ctx, p.transport, p.iface, blockNum, chunk); err != nil {
			return err
		}
		report, err := proto.PollUntilIdle(ctx, p.transport, p.iface, proto.StateDfuDownloadIdle)
		if err != nil {
			return err
		}
		if report.Status != 0 {
			logStatusError("engine.Plain.Write", report)
			return pkg.NewProtocol("engine.Plain.Write", uint8(report.State), report.Status, "download")
		}

		sent += int64(len(chunk))
		sink(event.WriteProgress(sent, total))
		blockNum++
	}

	// Commit: a zero-length WRITE terminates the image regardless of
	// whether any data chunks were sent.
	if _, err := proto.Write(ctx, p.transport, p.iface, blockNum, nil); err != nil {
		return err
	}

	if manifestationTolerant {
		report, err := proto.PollUntil(ctx, p.transport, p.iface, func(s proto.DfuState) bool {
			return s == proto.StateDfuIdle || s == proto.StateDfuManifestWaitReset
		})
		if err != nil {
			return err
		}
		if report.Status != 0 {
			logStatusError("engine.Plain.Write", report)
			return pkg.NewProtocol("engine.Plain.Write", uint8(report.State), report.Status, "manifest")
		}
	} else {
		// One GET_STATUS attempt to kick manifestation; transport
		// errors here mean the device is already gone and are not
		// actionable.
		_, _ = proto.GetStatus(ctx, p.transport, p.iface)
	}

	if err := p.transport.Reset(ctx); err != nil && !transport.IsDeviceGone(err) {
		return pkg.NewTransportFailed("engine.Plain.Write", err)
	}

	sink(event.WriteEnd(sent))
	return nil
}
