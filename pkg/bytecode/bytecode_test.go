package bytecode

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRebaseBasic(t *testing.T) {
	segs := []SegmentBounds{
		{PreferredAddr: 0x1000, Size: 0x1000}, // __TEXT
		{PreferredAddr: 0x2000, Size: 0x1000}, // __DATA
	}
	want := []RebaseEntry{
		{SegmentIndex: 1, Address: 0x2008, Type: 1},
		{SegmentIndex: 1, Address: 0x2010, Type: 1},
		{SegmentIndex: 1, Address: 0x2018, Type: 1},
	}
	data := EncodeRebase(want, segs)

	got, err := ParseRebase(data, segs, 8)
	if err != nil {
		t.Fatalf("ParseRebase() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseRebase() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRebaseOutOfBounds(t *testing.T) {
	segs := []SegmentBounds{{PreferredAddr: 0x1000, Size: 0x10}}
	// SET_SEGMENT_AND_OFFSET_ULEB(seg=0, off=0x20) puts address past the
	// 0x10-byte segment; DO_REBASE_IMM_TIMES(1) must fail the bounds check.
	data := []byte{
		byte(0x20) | 0, 0x20,
		byte(0x50) | 1,
		0x00,
	}
	if _, err := ParseRebase(data, segs, 8); err == nil {
		t.Fatal("ParseRebase() expected bounds error, got nil")
	}
}

func TestParseBindRoundTrip(t *testing.T) {
	segs := []SegmentBounds{
		{PreferredAddr: 0x4000, Size: 0x2000},
	}
	want := []BindEntry{
		{SegmentIndex: 0, Address: 0x4100, Type: 1, LibraryOrdinal: 2, Symbol: "_printf", Flags: 0, Addend: 0},
		{SegmentIndex: 0, Address: 0x4200, Type: 1, LibraryOrdinal: BindSpecialDylibFlatLookup, Symbol: "_malloc", Addend: -8},
	}
	data := EncodeBind(want, segs)

	got, err := ParseBind(data, segs, 8)
	if err != nil {
		t.Fatalf("ParseBind() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseBind() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLazyBindContinuesPastDone(t *testing.T) {
	segs := []SegmentBounds{{PreferredAddr: 0x8000, Size: 0x1000}}
	want := []BindEntry{
		{SegmentIndex: 0, Address: 0x8010, Type: 1, LibraryOrdinal: 1, Symbol: "_fopen"},
		{SegmentIndex: 0, Address: 0x8020, Type: 1, LibraryOrdinal: 1, Symbol: "_fclose"},
	}
	data := EncodeLazyBind(want, segs)

	got, err := ParseLazyBind(data, segs, 8)
	if err != nil {
		t.Fatalf("ParseLazyBind() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseLazyBind() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseLazyBindAtSingleRecord(t *testing.T) {
	segs := []SegmentBounds{{PreferredAddr: 0x8000, Size: 0x1000}}
	entries := []BindEntry{
		{SegmentIndex: 0, Address: 0x8010, Type: 1, LibraryOrdinal: 1, Symbol: "_fopen"},
		{SegmentIndex: 0, Address: 0x8020, Type: 1, LibraryOrdinal: 1, Symbol: "_fclose"},
	}
	data := EncodeLazyBind(entries, segs)

	// The second record starts where the first one's encoding ends: since
	// EncodeLazyBind writes each record followed by its own DONE, that is
	// the length of the first record encoded alone. (Scanning for the first
	// 0x00 byte would stop at the NUL terminating "_fopen" instead.)
	split := len(EncodeLazyBind(entries[:1], segs))

	got, err := ParseLazyBindAt(data, split, segs, 8)
	if err != nil {
		t.Fatalf("ParseLazyBindAt() error = %v", err)
	}
	if diff := cmp.Diff(entries[1], got); diff != "" {
		t.Errorf("ParseLazyBindAt() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseWeakBindTagsEntries(t *testing.T) {
	segs := []SegmentBounds{{PreferredAddr: 0x9000, Size: 0x1000}}
	entries := []BindEntry{
		{SegmentIndex: 0, Address: 0x9010, Type: 1, Symbol: "__ZTVSt9exception"},
	}
	data := EncodeBind(entries, segs)

	got, err := ParseWeakBind(data, segs, 8)
	if err != nil {
		t.Fatalf("ParseWeakBind() error = %v", err)
	}
	if len(got) != 1 || !got[0].Weak {
		t.Fatalf("ParseWeakBind() = %+v, want single Weak entry", got)
	}
}

func TestParseBindUnknownOpcode(t *testing.T) {
	segs := []SegmentBounds{{PreferredAddr: 0x1000, Size: 0x100}}
	data := []byte{0xE0} // unassigned top nibble
	if _, err := ParseBind(data, segs, 8); err == nil {
		t.Fatal("ParseBind() expected error on unknown opcode, got nil")
	}
}
