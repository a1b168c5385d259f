package engine

import (
	"fmt"

	"context"

	"github.com/dfuhost/dfu/descriptor"
	"github.com/dfuhost/dfu/event"
	"github.com/dfuhost/dfu/pkg"
	"github.com/dfuhost/dfu/proto"
	"github.com/dfuhost/dfu/transport"
)

// DfuSe command codes sent via WRITE at block_num=0.
const (
	dfuseCmdGetCommands uint8 = 0x00
	dfuseCmdSetAddress  uint8 = 0x21
	dfuseCmdEraseSector uint8 = 0x41
)

// DfuSe drives the ST-Microelectronics address-based read, erase, and
// write sequences that extend plain DFU 1.1.
type DfuSe struct {
	transport transport.ControlTransport
	iface     uint8
	memMap    *descriptor.MemoryMap
	startAddr *uint32
}

// NewDfuSe constructs a DfuSe engine for the claimed interface number
// on t, using memMap for address resolution.
func NewDfuSe(t transport.ControlTransport, iface uint8, memMap *descriptor.MemoryMap) *DfuSe {
	return &DfuSe{transport: t, iface: iface, memMap: memMap}
}

// SetStartAddress overrides the address resolved by read/write/erase
// operations. Unset (the default) means "use the first segment's
// start".
func (d *DfuSe) SetStartAddress(addr uint32) { d.startAddr = &addr }

// ClearStartAddress reverts to the default first-segment-start
// resolution.
func (d *DfuSe) ClearStartAddress() { d.startAddr = nil }

// Type implements Engine.
func (d *DfuSe) Type() Type { return TypeDfuSe }

func (d *DfuSe) resolveStartAddr() (uint32, error) {
	if d.memMap == nil || len(d.memMap.Segments) == 0 {
		return 0, pkg.NewNoMemoryMap("engine.DfuSe")
	}
	if d.startAddr != nil {
		return *d.startAddr, nil
	}
	return d.memMap.Segments[0].Start, nil
}

func dfuseCommand(ctx context.Context, t transport.ControlTransport, iface uint8, cmd uint8, param *uint32) error {
	var payload []byte
	if param == nil {
		payload = []byte{cmd}
	} else {
		p := *param
		payload = []byte{cmd, byte(p), byte(p >> 8), byte(p >> 16), byte(p >> 24)}
	}
	if _, err := proto.Write(ctx, t, iface, 0, payload); err != nil {
		return err
	}
	report, err := proto.PollUntil(ctx, t, iface, func(s proto.DfuState) bool { return s != proto.StateDfuDnbusy })
	if err != nil {
		return err
	}
	if report.Status != 0 {
		logStatusError("engine.DfuSe.command", report)
		return pkg.NewProtocol("engine.DfuSe.command", uint8(report.State), report.Status, "command")
	}
	return nil
}

func setAddress(ctx context.Context, t transport.ControlTransport, iface uint8, addr uint32) error {
	return dfuseCommand(ctx, t, iface, dfuseCmdSetAddress, &addr)
}

func eraseSectorCmd(ctx context.Context, t transport.ControlTransport, iface uint8, addr uint32) error {
	return dfuseCommand(ctx, t, iface, dfuseCmdEraseSector, &addr)
}

// GetCommands issues GET_COMMANDS and waits for the device to leave
// dfuDNBUSY. It reports only success or failure; the device's list of
// supported commands is not read back.
func GetCommands(ctx context.Context, t transport.ControlTransport, iface uint8) error {
	return dfuseCommand(ctx, t, iface, dfuseCmdGetCommands, nil)
}

func sectorStart(seg descriptor.Segment, addr uint32) uint32 {
	idx := (addr - seg.Start) / seg.SectorSize
	return seg.Start + idx*seg.SectorSize
}

func sectorEnd(seg descriptor.Segment, addr uint32) uint32 {
	return sectorStart(seg, addr) + seg.SectorSize
}

// MaxReadableSize walks segments in order starting from the one
// containing addr, accumulating contiguous readable bytes. It stops at
// the first gap or non-readable segment. Callers use it to cap a read
// request to what the device can actually return from addr without
// crossing into unmapped or unreadable territory.
func (d *DfuSe) MaxReadableSize(addr uint32) uint32 {
	return maxReadableSize(d.memMap, addr)
}

func maxReadableSize(m *descriptor.MemoryMap, addr uint32) uint32 {
	idx := -1
	for i, s := range m.Segments {
		if s.Contains(addr) {
			idx = i
			break
		}
	}
	if idx < 0 || !m.Segments[idx].Readable {
		return 0
	}

	total := m.Segments[idx].End - addr
	expect := m.Segments[idx].End
	for i := idx + 1; i < len(m.Segments); i++ {
		s := m.Segments[i]
		if s.Start != expect || !s.Readable {
			break
		}
		total += s.Size()
		expect = s.End
	}
	return total
}

// FirstWritableSegment returns the first segment in order with
// writable == true. Callers use it to pick a sensible default target
// for a fresh image when the caller has not set an explicit start
// address.
func (d *DfuSe) FirstWritableSegment() (descriptor.Segment, bool) {
	return firstWritableSegment(d.memMap)
}

func firstWritableSegment(m *descriptor.MemoryMap) (descriptor.Segment, bool) {
	for _, s := range m.Segments {
		if s.Writable {
			return s, true
		}
	}
	return descriptor.Segment{}, false
}

// erasePlan issues ERASE_SECTOR for every erasable sector between
// sector_start_of(startAddr) and sector_end_of(startAddr+length-1),
// skipping non-erasable regions without issuing a command for them.
// EraseProgress is emitted after each erased sector and once after each
// skipped non-erasable region; the reported total is the full
// sector-aligned span.
func erasePlan(ctx context.Context, t transport.ControlTransport, iface uint8, m *descriptor.MemoryMap, startAddr, length uint32, sink event.Sink) error {
	if length == 0 {
		return nil
	}

	startSeg, ok := m.Find(startAddr)
	if !ok {
		return pkg.NewAddressOutOfMap("engine.DfuSe.erase", startAddr)
	}
	endAddr := startAddr + length - 1
	endSeg, ok := m.Find(endAddr)
	if !ok {
		return pkg.NewAddressOutOfMap("engine.DfuSe.erase", endAddr)
	}

	a := sectorStart(startSeg, startAddr)
	last := sectorEnd(endSeg, endAddr)
	total := int64(last - a)
	var done int64

	for a < last {
		seg, ok := m.Find(a)
		if !ok {
			return pkg.NewAddressOutOfMap("engine.DfuSe.erase", a)
		}
		if !seg.Erasable {
			done += int64(seg.End - a)
			a = seg.End
			sink(event.EraseProgress(done, total))
			continue
		}
		ss := sectorStart(seg, a)
		if err := eraseSectorCmd(ctx, t, iface, ss); err != nil {
			return err
		}
		a = ss + seg.SectorSize
		done += int64(seg.SectorSize)
		sink(event.EraseProgress(done, total))
	}

	return nil
}

// Write implements Engine. A zero-length write issues no
// erase and no data WRITE, but still performs the SET_ADDRESS + empty
// WRITE(block=0) commit sequence.
func (d *DfuSe) Write(ctx context.Context, xferSize int, data []byte, manifestationTolerant bool, sink event.Sink) error {
	if xferSize <= 0 {
		return pkg.NewMalformedDescriptor("engine.DfuSe.Write", "xferSize")
	}

	startAddr, err := d.resolveStartAddr()
	if err != nil {
		return err
	}
	if len(data) > 0 {
		if _, ok := d.memMap.Find(startAddr); !ok {
			return pkg.NewAddressOutOfMap("engine.DfuSe.Write", startAddr)
		}

		sink(event.EraseStart())
		if err := erasePlan(ctx, d.transport, d.iface, d.memMap, startAddr, uint32(len(data)), sink); err != nil {
			return err
		}
		sink(event.EraseEnd())

		sink(event.WriteStart())
		total := int64(len(data))
		var sent int64
		for offset := 0; offset < len(data); offset += xferSize {
			end := offset + xferSize
			if end > len(data) {
				end = len(data)
			}
			chunk := data[offset:end]

			if err := setAddress(ctx, d.transport, d.iface, startAddr+uint32(offset)); err != nil {
				return err
			}
			if _, err := proto.Write(ctx, d.transport, d.iface, 2, chunk); err != nil {
				return err
			}
			report, err := proto.PollUntilIdle(ctx, d.transport, d.iface, proto.StateDfuDownloadIdle)
			if err != nil {
				return err
			}
			if report.Status != 0 {
				logStatusError("engine.DfuSe.Write", report)
				return pkg.NewProtocol("engine.DfuSe.Write", uint8(report.State), report.Status, "download")
			}

			sent += int64(len(chunk))
			sink(event.WriteProgress(sent, total))
		}
		sink(event.WriteEnd(sent))
	}

	if err := setAddress(ctx, d.transport, d.iface, startAddr); err != nil {
		return err
	}
	if _, err := proto.Write(ctx, d.transport, d.iface, 0, nil); err != nil {
		return err
	}
	if _, err := proto.PollUntil(ctx, d.transport, d.iface, func(s proto.DfuState) bool {
		return s == proto.StateDfuManifest
	}); err != nil {
		return err
	}

	return nil
}

// Read implements Engine. The DfuSe idiom of aborting to
// idle both before and after SET_ADDRESS is preserved even though the
// DfuSe application note does not state it: SET_ADDRESS leaves the
// device in dfuDOWNLOAD_IDLE, and the upload sequence starts from
// dfuIDLE, which the second abort restores.
func (d *DfuSe) Read(ctx context.Context, xferSize int, maxSize int64, sink event.Sink) ([]byte, error) {
	startAddr, err := d.resolveStartAddr()
	if err != nil {
		return nil, err
	}
	if _, ok := d.memMap.Find(startAddr); !ok {
		sink(event.Error(pkg.KindAddressOutOfMap, fmt.Sprintf("start address %#x is outside the memory map", startAddr)))
	}

	state, err := proto.GetState(ctx, d.transport, d.iface)
	if err != nil {
		return nil, err
	}
	if state != proto.StateDfuIdle {
		if err := proto.AbortToIdle(ctx, d.transport, d.iface); err != nil {
			return nil, err
		}
	}

	if err := setAddress(ctx, d.transport, d.iface, startAddr); err != nil {
		return nil, err
	}
	if err := proto.AbortToIdle(ctx, d.transport, d.iface); err != nil {
		return nil, err
	}

	return readLoop(ctx, d.transport, d.iface, xferSize, maxSize, 2, sink)
}
