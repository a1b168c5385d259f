package engine

import (
	"context"

	"github.com/dfuhost/dfu/event"
	"github.com/dfuhost/dfu/pkg"
	"github.com/dfuhost/dfu/proto"
	"github.com/dfuhost/dfu/transport"
)

// Type distinguishes the plain DFU 1.1 engine from the DfuSe extension.
type Type int

// Engine types, chosen by Session: DfuSe when
// FunctionalDescriptor.DFUVersion == 0x011A and interfaceProtocol ==
// 0x02; otherwise DFU.
const (
	TypeDFU Type = iota
	TypeDfuSe
)

func (t Type) String() string {
	switch t {
	case TypeDFU:
		return "DFU"
	case TypeDfuSe:
		return "DfuSe"
	default:
		return "unknown"
	}
}

// Engine drives read and write sequences for one DFU-capable
// interface. Plain implements the USB-IF DFU 1.1 sequences; DfuSe adds
// address targeting and sector erase.
type Engine interface {
	Type() Type
	Read(ctx context.Context, xferSize int, maxSize int64, sink event.Sink) ([]byte, error)
	Write(ctx context.Context, xferSize int, data []byte, manifestationTolerant bool, sink event.Sink) error
}

// unknownTotal marks an event.Progress total as unbounded.
const unknownTotal int64 = -1

// readLoop is the shared plain-DFU upload sequence used by both Plain
// (firstBlock=0) and DfuSe (firstBlock=2, device resolves the read
// address as start_addr + (block_num-2)*xfer_size internally).
func readLoop(
	ctx context.Context,
	t transport.ControlTransport,
	iface uint8,
	xferSize int,
	maxSize int64,
	firstBlock uint16,
	sink event.Sink,
) ([]byte, error) {
	if xferSize <= 0 {
		return nil, pkg.NewMalformedDescriptor("engine.readLoop", "xferSize")
	}
	if maxSize == 0 {
		return []byte{}, nil
	}

	total := unknownTotal
	if maxSize > 0 {
		total = maxSize
	}

	var buf []byte
	blockNum := firstBlock
	var read int64

	for {
		data, err := proto.Read(ctx, t, iface, blockNum, xferSize)
		if err != nil {
			return nil, err
		}
		buf = append(buf, data...)
		read += int64(len(data))
		sink(event.Progress(read, total))
		blockNum++

		if maxSize > 0 && read >= maxSize {
			if err := proto.AbortToIdle(ctx, t, iface); err != nil {
				return nil, err
			}
			break
		}
		if len(data) < xferSize {
			break
		}
	}

	return buf, nil
}
