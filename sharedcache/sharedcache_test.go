package sharedcache

import (
	"encoding/binary"
	"testing"
)

func buildHeader(t *testing.T, mappings []MappingInfo) []byte {
	t.Helper()
	bo := binary.LittleEndian
	headerBuf := make([]byte, headerWireSize)
	copy(headerBuf[:5], "dyld_")
	mappingOff := uint32(headerWireSize)
	bo.PutUint32(headerBuf[16:], mappingOff)
	bo.PutUint32(headerBuf[20:], uint32(len(mappings)))

	var out []byte
	out = append(out, headerBuf...)
	for _, m := range mappings {
		buf := make([]byte, mappingInfoWireSize)
		bo.PutUint64(buf[0:], m.Address)
		bo.PutUint64(buf[8:], m.Size)
		bo.PutUint64(buf[16:], m.FileOffset)
		bo.PutUint32(buf[24:], m.MaxProt)
		bo.PutUint32(buf[28:], m.InitProt)
		out = append(out, buf...)
	}
	return out
}

func TestParseHeaderAndMappings(t *testing.T) {
	want := []MappingInfo{
		{Address: 0x180000000, Size: 0x10000000, FileOffset: 0, MaxProt: 5, InitProt: 5},
		{Address: 0x190000000, Size: 0x8000000, FileOffset: 0x10000000, MaxProt: 3, InitProt: 3},
	}
	data := buildHeader(t, want)

	h, got, err := ParseHeader(data)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if h.MappingCount != uint32(len(want)) {
		t.Errorf("MappingCount = %d, want %d", h.MappingCount, len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("mapping[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestParseHeaderBadMagic(t *testing.T) {
	data := make([]byte, headerWireSize)
	copy(data[:5], "nope_")
	if _, _, err := ParseHeader(data); err == nil {
		t.Fatal("ParseHeader() expected error on bad magic, got nil")
	}
}

func TestReserveMappings(t *testing.T) {
	mappings := []MappingInfo{
		{Address: 0x180000000, Size: 0x1000},
		{Address: 0x190000000, Size: 0x2000},
	}
	lo, hi := ReserveMappings(mappings)
	if lo != 0x180000000 {
		t.Errorf("lo = %#x, want %#x", lo, 0x180000000)
	}
	if hi != 0x190002000 {
		t.Errorf("hi = %#x, want %#x", hi, 0x190002000)
	}
}

func TestOverridesDisk(t *testing.T) {
	if !OverridesDisk(true, false) {
		t.Error("OverridesDisk(true, false) = false, want true")
	}
	if OverridesDisk(true, true) {
		t.Error("OverridesDisk(true, true) = true, want false (disk identity known)")
	}
	if OverridesDisk(false, false) {
		t.Error("OverridesDisk(false, false) = true, want false (not in cache)")
	}
}

func TestApplySlideWalksChain(t *testing.T) {
	pageSize := uint32(16)
	mapping := make([]byte, pageSize*2)
	// Page 0 chain: slot at offset 0 -> next delta 1 (in 8-byte units) -> slot at offset 8 -> delta 0 (end).
	binary.LittleEndian.PutUint64(mapping[0:], uint64(1)<<51)
	binary.LittleEndian.PutUint64(mapping[8:], 0)

	info := SlideInfo{PageSize: pageSize, PageStarts: []uint16{0, noPageStart}}

	var visited []int
	err := ApplySlide(info, mapping, 0x1000, func(slot []byte, value uint64) uint64 {
		visited = append(visited, int(binary.LittleEndian.Uint64(slot)))
		return value
	})
	if err != nil {
		t.Fatalf("ApplySlide() error = %v", err)
	}
	if len(visited) != 2 {
		t.Fatalf("visited %d slots, want 2", len(visited))
	}
}
