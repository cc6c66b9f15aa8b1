package bytecode

import (
	"github.com/appsworld/go-dyld/types"
)

// BindEntry is one symbol-binding fixup site: "look up Symbol in the dylib
// named by LibraryOrdinal (one of the special values below if zero or
// negative),
// add Addend, and store the result at Address".
type BindEntry struct {
	SegmentIndex   int
	Address        uint64
	Type           uint8
	LibraryOrdinal int64
	Symbol         string
	Flags          uint8 // types.BIND_SYMBOL_FLAGS_*
	Addend         int64
	Weak           bool // true when decoded from a weak-bind stream
}

// Special library ordinals (zero for self, negative for the rest), mirrored from
// BIND_SPECIAL_DYLIB_SELF/MAIN_EXECUTABLE/FLAT_LOOKUP/WEAK_LOOKUP.
const (
	BindSpecialDylibSelf           = int64(types.BIND_SPECIAL_DYLIB_SELF)
	BindSpecialDylibMainExecutable = int64(types.BIND_SPECIAL_DYLIB_MAIN_EXECUTABLE)
	BindSpecialDylibFlatLookup     = int64(types.BIND_SPECIAL_DYLIB_FLAT_LOOKUP)
	BindSpecialDylibWeakLookup     = int64(types.BIND_SPECIAL_DYLIB_WEAK_LOOKUP)
)

// bindState is the shared mutable cursor state the three bind opcode
// families (regular, lazy, weak) all thread through identically; only the
// DONE handling and the weak flag differ between callers.
type bindState struct {
	segIndex       int
	address        uint64
	typ            uint8
	libraryOrdinal int64
	symbol         string
	flags          uint8
	addend         int64
}

func parseBindOpcodes(data []byte, segs []SegmentBounds, ptrSize uint64, stream string, weak bool, stopAtFirstDone bool) ([]BindEntry, error) {
	if len(segs) == 0 {
		return nil, nil
	}
	c := newCursor(data)
	var entries []BindEntry
	st := bindState{address: segs[0].PreferredAddr}
	segEnd := segs[0].end()

	checkBounds := func() error {
		if st.address >= segEnd {
			return &MalformedError{stream, c.pos(), "address beyond end of segment"}
		}
		return nil
	}
	emit := func() {
		entries = append(entries, BindEntry{
			SegmentIndex:   st.segIndex,
			Address:        st.address,
			Type:           st.typ,
			LibraryOrdinal: st.libraryOrdinal,
			Symbol:         st.symbol,
			Flags:          st.flags,
			Addend:         st.addend,
			Weak:           weak,
		})
	}
	doBind := func() error {
		if err := checkBounds(); err != nil {
			return err
		}
		emit()
		st.address += ptrSize
		return nil
	}

	for {
		b, err := c.readByte()
		if err != nil {
			break
		}
		opcode := b & types.BIND_OPCODE_MASK
		imm := b & types.BIND_IMMEDIATE_MASK

		switch opcode {
		case types.BIND_OPCODE_DONE:
			if stopAtFirstDone {
				return entries, nil
			}
			// lazy-bind streams carry one DONE per record; keep reading
			// until the opcode stream itself runs out.
		case types.BIND_OPCODE_SET_DYLIB_ORDINAL_IMM:
			st.libraryOrdinal = int64(imm)
		case types.BIND_OPCODE_SET_DYLIB_ORDINAL_ULEB:
			v, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			st.libraryOrdinal = int64(v)
		case types.BIND_OPCODE_SET_DYLIB_SPECIAL_IMM:
			if imm == 0 {
				st.libraryOrdinal = 0
			} else {
				// sign-extend the 4-bit immediate, as
				// ImageLoaderMachOCompressed.cpp does via
				// (int8_t)(BIND_OPCODE_MASK | immediate).
				st.libraryOrdinal = int64(int8(types.BIND_OPCODE_MASK | imm))
			}
		case types.BIND_OPCODE_SET_SYMBOL_TRAILING_FLAGS_IMM:
			st.flags = imm
			sym, err := c.readCString()
			if err != nil {
				return nil, err
			}
			st.symbol = sym
		case types.BIND_OPCODE_SET_TYPE_IMM:
			st.typ = imm
		case types.BIND_OPCODE_SET_ADDEND_SLEB:
			v, err := c.readSleb128()
			if err != nil {
				return nil, err
			}
			st.addend = v
		case types.BIND_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB:
			if int(imm) < 0 || int(imm) >= len(segs) {
				return nil, &MalformedError{stream, c.pos(), "segment index out of range"}
			}
			st.segIndex = int(imm)
			segEnd = segs[st.segIndex].end()
			off, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			st.address = segs[st.segIndex].PreferredAddr + off
		case types.BIND_OPCODE_ADD_ADDR_ULEB:
			off, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			st.address += off
		case types.BIND_OPCODE_DO_BIND:
			if err := doBind(); err != nil {
				return nil, err
			}
		case types.BIND_OPCODE_DO_BIND_ADD_ADDR_ULEB:
			if err := checkBounds(); err != nil {
				return nil, err
			}
			emit()
			off, err := c.readUleb128()
			if err != nil {
				return nil, err
			}
			st.address += off + ptrSize
		case types.BIND_OPCODE_DO_BIND_ADD_ADDR_IMM_SCALED:
			if err := checkBounds(); err != nil {
				return nil, err
			}
			emit()
			st.address += uint64(imm)*ptrSize + ptrSize
		case types.BIND_OPCODE_DO_BIND_ULEB_TIMES_SKIPPING_ULEB:
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
				emit()
				st.address += skip + ptrSize
			}
		case types.BIND_OPCODE_THREADED:
			// Threaded-rebase/bind chains (BIND_SUBOPCODE_THREADED_*) are
			// covered separately by pkg/fixupchains for images that use
			// LC_DYLD_CHAINED_FIXUPS; this classic-opcode stream never
			// mixes the two, so encountering THREADED here is malformed.
			return nil, &MalformedError{stream, c.pos(), "unexpected threaded sub-opcode in classic stream"}
		default:
			return nil, &MalformedError{stream, c.pos(), "unknown opcode"}
		}
	}
	return entries, nil
}

// ParseBind walks a regular (non-lazy) bind opcode stream. BIND_OPCODE_DONE
// ends the whole stream immediately, matching dyld's eager-bind loop.
func ParseBind(data []byte, segs []SegmentBounds, ptrSize uint64) ([]BindEntry, error) {
	return parseBindOpcodes(data, segs, ptrSize, "bind", false, true)
}

// ParseWeakBind walks a weak-bind opcode stream. Semantically identical to
// ParseBind; entries are tagged Weak so the caller can run coalescing
// (spec §4.D) before applying them.
func ParseWeakBind(data []byte, segs []SegmentBounds, ptrSize uint64) ([]BindEntry, error) {
	return parseBindOpcodes(data, segs, ptrSize, "weak-bind", true, true)
}

// ParseLazyBind walks an entire lazy-bind opcode stream and returns every
// record it contains. Unlike ParseBind, BIND_OPCODE_DONE here only
// terminates the current record, not the stream: dyld's comment is explicit
// that "there is a BIND_OPCODE_DONE at the end of each lazy bind, don't stop
// until the end of the whole sequence".
func ParseLazyBind(data []byte, segs []SegmentBounds, ptrSize uint64) ([]BindEntry, error) {
	return parseBindOpcodes(data, segs, ptrSize, "lazy-bind", false, false)
}

// ParseLazyBindAt decodes a single lazy-bind record starting at byteOffset
// within the full lazy-bind stream, the operation the stub-binding helper
// (spec component I) needs: a stub miss hands over one offset into
// la_symbol_ptr's lazy-bind data, not the whole table. It stops at the first
// DONE (or end of input), since a single record is everything the caller
// asked for.
func ParseLazyBindAt(data []byte, byteOffset int, segs []SegmentBounds, ptrSize uint64) (BindEntry, error) {
	if byteOffset < 0 || byteOffset > len(data) {
		return BindEntry{}, &MalformedError{"lazy-bind", byteOffset, "offset out of range"}
	}
	entries, err := parseBindOpcodes(data[byteOffset:], segs, ptrSize, "lazy-bind", false, true)
	if err != nil {
		return BindEntry{}, err
	}
	if len(entries) == 0 {
		return BindEntry{}, &MalformedError{"lazy-bind", byteOffset, "record produced no bind"}
	}
	return entries[len(entries)-1], nil
}

// EncodeBind emits a canonical opcode stream for entries, each preceded by
// its full ordinal/symbol/type/addend/address state (no state-reuse
// compression), terminated by DONE. Used for the round-trip property test;
// not a space-efficient encoder.
func EncodeBind(entries []BindEntry, segs []SegmentBounds) []byte {
	return encodeBindOpcodes(entries, segs, true)
}

// EncodeLazyBind emits a lazy-bind stream: identical per-record shape to
// EncodeBind, except every record (not just the last) is followed by its own
// DONE, matching the real format's one-DONE-per-record convention.
func EncodeLazyBind(entries []BindEntry, segs []SegmentBounds) []byte {
	return encodeBindOpcodes(entries, segs, false)
}

func encodeBindOpcodes(entries []BindEntry, segs []SegmentBounds, singleTrailingDone bool) []byte {
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
	putSleb := func(v int64) {
		more := true
		for more {
			b := byte(v & 0x7f)
			v >>= 7
			signBitSet := b&0x40 != 0
			if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
				more = false
			} else {
				b |= 0x80
			}
			buf = append(buf, b)
		}
	}
	for _, e := range entries {
		if e.LibraryOrdinal < 0 {
			buf = append(buf, byte(types.BIND_OPCODE_SET_DYLIB_SPECIAL_IMM)|byte(e.LibraryOrdinal)&types.BIND_IMMEDIATE_MASK)
		} else if e.LibraryOrdinal <= 0x0f {
			buf = append(buf, byte(types.BIND_OPCODE_SET_DYLIB_ORDINAL_IMM)|byte(e.LibraryOrdinal))
		} else {
			buf = append(buf, byte(types.BIND_OPCODE_SET_DYLIB_ORDINAL_ULEB))
			putUleb(uint64(e.LibraryOrdinal))
		}
		buf = append(buf, byte(types.BIND_OPCODE_SET_SYMBOL_TRAILING_FLAGS_IMM)|e.Flags)
		buf = append(buf, []byte(e.Symbol)...)
		buf = append(buf, 0)
		buf = append(buf, byte(types.BIND_OPCODE_SET_TYPE_IMM)|e.Type)
		buf = append(buf, byte(types.BIND_OPCODE_SET_ADDEND_SLEB))
		putSleb(e.Addend)
		buf = append(buf, byte(types.BIND_OPCODE_SET_SEGMENT_AND_OFFSET_ULEB)|byte(e.SegmentIndex))
		putUleb(e.Address - segs[e.SegmentIndex].PreferredAddr)
		buf = append(buf, byte(types.BIND_OPCODE_DO_BIND))
		if !singleTrailingDone {
			buf = append(buf, byte(types.BIND_OPCODE_DONE))
		}
	}
	if singleTrailingDone {
		buf = append(buf, byte(types.BIND_OPCODE_DONE))
	}
	return buf
}
