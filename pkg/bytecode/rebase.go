package bytecode

import (
	"github.com/appsworld/go-dyld/types"
)

// RebaseEntry is one pointer-fixup site produced by the rebase opcode
// stream: "add slide to whatever is stored at this address".
type RebaseEntry struct {
	SegmentIndex int
	Address      uint64 // preferred (unslid) address within the image
	Type         uint8  // types.REBASE_TYPE_*
}

// ParseRebase walks a rebase opcode stream (LC_DYLD_INFO's rebase_off/size)
// and returns every fixup site it describes. ptrSize is 4 or 8.
func ParseRebase(data []byte, segs []SegmentBounds, ptrSize uint64) ([]RebaseEntry, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	c := newCursor(data)
	var entries []RebaseEntry

	var typ uint8
	segIndex := 0
	address := segs[0].PreferredAddr
	segEnd := segs[0].end()

	checkBounds := func() error {
		if address >= segEnd {
			return &MalformedError{"rebase", c.pos(), "address beyond end of segment"}
		}
		return nil
	}
	setSegment := func(idx int) error {
		if idx < 0 || idx >= len(segs) {
			return &MalformedError{"rebase", c.pos(), "segment index out of range"}
		}
		segIndex = idx
		segEnd = segs[idx].end()
		return nil
	}

	for {
		b, err := c.readByte()
		if err != nil {
			break // stream ended without REBASE_OPCODE_DONE; tolerate EOF as implicit done
		}
		opcode := b & types.REBASE_OPCODE_MASK
		imm := b & types.REBASE_IMMEDIATE_MASK

		switch opcode {
		case types.REBASE_OPCODE_DONE:
			return entries, nil
		case types.REBASE_OPCODE_SET_TYPE_IMM:
			typ = imm
		case types.REBASE_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB:
			if err := setSegment(int(imm)); err != nil {
				return nil, err
			}
			off, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			address = segs[segIndex].PreferredAddr + off
		case types.REBASE_OPCODE_ADD_ADDR_ULEB:
			off, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			address += off
		case types.REBASE_OPCODE_ADD_ADDR_IMM_SCALED:
			address += uint64(imm) * ptrSize
		case types.REBASE_OPCODE_DO_REBASE_IMM_TIMES:
			for i := 0; i < int(imm); i++ {
				if err := checkBounds(); err != nil {
					return nil, err
				}
				entries = append(entries, RebaseEntry{segIndex, address, typ})
				address += ptrSize
			}
		case types.REBASE_OPCODE_DO_REBASE_ULEB_TIMES:
			count, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			for i := uint64(0); i < count; i++ {
				if err := checkBounds(); err != nil {
					return nil, err
				}
				entries = append(entries, RebaseEntry{segIndex, address, typ})
				address += ptrSize
			}
		case types.REBASE_OPCODE_DO_REBASE_ADD_ADDR_ULEB:
			if err := checkBounds(); err != nil {
				return nil, err
			}
			entries = append(entries, RebaseEntry{segIndex, address, typ})
			off, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			address += off + ptrSize
		case types.REBASE_OPCODE_DO_REBASE_ULEB_TIMES_SKIPPING_ULEB:
			count, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			skip, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			for i := uint64(0); i < count; i++ {
				if err := checkBounds(); err != nil {
					return nil, err
				}
				entries = append(entries, RebaseEntry{segIndex, address, typ})
				address += skip + ptrSize
			}
		default:
			return nil, &MalformedError{"rebase", c.pos(), "unknown opcode"}
		}
	}
	return entries, nil
}

// EncodeRebase emits a canonical, if verbose, opcode stream for a set of
// rebase entries: a SET_TYPE_IMM whenever the type changes, a
// SET_SEGMENT_AND_OFFSET_ULEB that places the address exactly, and a single
// DO_REBASE_IMM_TIMES per entry, terminated by DONE. It does not attempt to
// reproduce the exact run-length encoding a real linker would choose; it
// exists so ParseRebase(EncodeRebase(es), segs) == es for the round-trip
// property test.
func EncodeRebase(entries []RebaseEntry, segs []SegmentBounds) []byte {
	var buf []byte
	putUleb := func(v uint64) {
		for {
			b := byte(v & 0x7f)
			v >>= 7
			if v != 0 {
				b |= 0x80
			}
			buf = append(buf, b)
			if v == 0 {
				break
			}
		}
	}
	lastType := uint8(0xFF)
	for _, e := range entries {
		if e.Type != lastType {
			buf = append(buf, byte(types.REBASE_OPCODE_SET_TYPE_IMM)|e.Type)
			lastType = e.Type
		}
		buf = append(buf, byte(types.REBASE_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB)|byte(e.SegmentIndex))
		putUleb(e.Address - segs[e.SegmentIndex].PreferredAddr)
		buf = append(buf, byte(types.REBASE_OPCODE_DO_REBASE_IMM_TIMES)|1)
	}
	buf = append(buf, byte(types.REBASE_OPCODE_DONE))
	return buf
}
