package descriptor

import (
	"strconv"
	"strings"

	"github.com/dfuhost/dfu/pkg"
)

// Segment is one contiguous run of identically sized sectors with
// uniform read/erase/write permissions.
type Segment struct {
	Start      uint32
	End        uint32
	SectorSize uint32
	Readable   bool
	Erasable   bool
	Writable   bool
}

// Size returns the total byte length of the segment.
func (s Segment) Size() uint32 {
	return s.End - s.Start
}

// Contains reports whether addr falls within this segment.
func (s Segment) Contains(addr uint32) bool {
	return addr >= s.Start && addr < s.End
}

// MemoryMap is the parsed form of a DfuSe alternate-setting interface
// string, per the grammar:
//
//	@name/addr/count1*size1unit1perm1,count2*size2unit2perm2,.../addr2/...
//
// unit is one of 'K' (x1024), 'M' (x1048576), or ' '/'B' (x1). perm is
// a single letter 'a'..'g' whose alphabetic position (a=1 .. g=7) is a
// 3-bit permission bitmap: bit 0 readable, bit 1 erasable, bit 2
// writable.
type MemoryMap struct {
	Name     string
	Segments []Segment
}

// Find returns the segment containing addr, if any.
func (m *MemoryMap) Find(addr uint32) (Segment, bool) {
	for _, seg := range m.Segments {
		if seg.Contains(addr) {
			return seg, true
		}
	}
	return Segment{}, false
}

// ParseMemoryMap decodes a DfuSe interface-name string into a MemoryMap.
func ParseMemoryMap(s string) (*MemoryMap, error) {
	if !strings.HasPrefix(s, "@") {
		return nil, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "missing '@' prefix")
	}

	fields := strings.Split(s[1:], "/")
	if len(fields) < 3 || (len(fields)-1)%2 != 0 {
		return nil, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "malformed address/run-list blocks")
	}

	m := &MemoryMap{Name: strings.TrimSpace(fields[0])}

	for i := 1; i < len(fields); i += 2 {
		addrField := strings.TrimSpace(fields[i])
		addr, err := strconv.ParseUint(strings.TrimPrefix(addrField, "0x"), 16, 32)
		if err != nil {
			return nil, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "invalid base address")
		}
		base := uint32(addr)

		for _, run := range strings.Split(fields[i+1], ",") {
			run = strings.TrimSpace(run)
			if run == "" {
				continue
			}
			seg, err := parseRun(run, base)
			if err != nil {
				return nil, err
			}
			m.Segments = append(m.Segments, seg)
			base = seg.End
		}
	}

	if len(m.Segments) == 0 {
		return nil, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "empty run list")
	}

	return m, nil
}

func parseRun(run string, base uint32) (Segment, error) {
	parts := strings.SplitN(run, "*", 2)
	if len(parts) != 2 {
		return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "missing '*' in run")
	}

	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "invalid page count")
	}

	sizeAndPerm := parts[1]
	if len(sizeAndPerm) < 2 {
		return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "malformed size/unit/perm field")
	}

	i := 0
	for i < len(sizeAndPerm) && sizeAndPerm[i] >= '0' && sizeAndPerm[i] <= '9' {
		i++
	}
	if i == 0 {
		return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "missing sector size")
	}
	size, err := strconv.Atoi(sizeAndPerm[:i])
	if err != nil {
		return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "invalid sector size")
	}

	rest := sizeAndPerm[i:]
	if rest == "" {
		return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "missing unit/permission field")
	}

	var multiplier uint32
	var permByte byte
	switch rest[0] {
	case 'K':
		multiplier = 1024
		if len(rest) != 2 {
			return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "malformed unit/permission field")
		}
		permByte = rest[1]
	case 'M':
		multiplier = 1024 * 1024
		if len(rest) != 2 {
			return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "malformed unit/permission field")
		}
		permByte = rest[1]
	case 'B', ' ':
		multiplier = 1
		if len(rest) != 2 {
			return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "malformed unit/permission field")
		}
		permByte = rest[1]
	default:
		// No explicit unit letter: byte unit, rest is the single perm
		// letter.
		multiplier = 1
		if len(rest) != 1 {
			return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "malformed unit/permission field")
		}
		permByte = rest[0]
	}

	if permByte < 'a' || permByte > 'g' {
		return Segment{}, pkg.NewMalformedMemoryMap("descriptor.ParseMemoryMap", "permission letter out of range a..g")
	}
	pos := int(permByte-'a') + 1

	sectorSize := uint32(size) * multiplier
	end := base + uint32(count)*sectorSize

	return Segment{
		Start:      base,
		End:        end,
		SectorSize: sectorSize,
		Readable:   pos&0x1 != 0,
		Erasable:   pos&0x2 != 0,
		Writable:   pos&0x4 != 0,
	}, nil
}
