package sharedcache

import "encoding/binary"

// SlideInfo is the two-level slide-info table format (version 3) dyld's
// shared cache uses for its __DATA mapping: one 16-bit start per page
// (noPageStart for a page with no fixups) naming the first slot of that
// page's chain, where each 8-byte slot carries the distance, in 8-byte
// units, to the next slot needing a slide add.
type SlideInfo struct {
	Version      uint32
	PageSize     uint32
	PageStartsOf uint32 // index into the starts table for mapping's first page
	PageStarts   []uint16
}

const noPageStart = 0xFFFF
const slideInfoV3WireHeaderSize = 4 + 4 + 4 + 4 + 8 + 4

// ParseSlideInfoV3 decodes a version-3 slide-info blob: header fields
// followed by one uint16 per page (an index into that page's delta chain,
// or noPageStart if the page needs no sliding).
func ParseSlideInfoV3(data []byte) (SlideInfo, error) {
	bo := binary.LittleEndian
	if len(data) < slideInfoV3WireHeaderSize {
		return SlideInfo{}, errShortSlideInfo
	}
	version := bo.Uint32(data[0:])
	pageSize := bo.Uint32(data[4:])
	pageStartsCount := bo.Uint32(data[20:])

	starts := make([]uint16, 0, pageStartsCount)
	off := slideInfoV3WireHeaderSize
	for i := uint32(0); i < pageStartsCount; i++ {
		if off+2 > len(data) {
			return SlideInfo{}, errShortSlideInfo
		}
		starts = append(starts, bo.Uint16(data[off:]))
		off += 2
	}
	return SlideInfo{Version: version, PageSize: pageSize, PageStarts: starts}, nil
}

var errShortSlideInfo = shortErr("sharedcache: truncated slide info")

type shortErr string

func (e shortErr) Error() string { return string(e) }

// ApplySlide walks every page this SlideInfo marks as needing a fixup and
// calls add(slot, value) once per chain entry, where slot is the 8-byte
// (v3 is always 64-bit pointers) slice of mapping holding that entry and
// value is its current contents. The page's own bytes form a linked list:
// bits 51-61 of the value add returns give the distance to the next slot
// in 8-byte units, and 0 ends the chain. Adjusting a slot by the slide is
// left to add; ApplySlide itself does not use slide.
func ApplySlide(info SlideInfo, mapping []byte, slide int64, add func(slot []byte, value uint64) uint64) error {
	for pageIndex, start := range info.PageStarts {
		if start == noPageStart {
			continue
		}
		pageOff := uint32(pageIndex) * info.PageSize
		chainOff := uint32(start) * 4 // v3 page-start is itself in units of 4 bytes
		for {
			slotOff := int(pageOff + chainOff)
			if slotOff+8 > len(mapping) {
				return errShortSlideInfo
			}
			raw := binary.LittleEndian.Uint64(mapping[slotOff:])
			next := add(mapping[slotOff:slotOff+8], raw)
			delta := (next >> 51) & 0x7FF
			if delta == 0 {
				break
			}
			chainOff += uint32(delta) * 8
		}
	}
	return nil
}
