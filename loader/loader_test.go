package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/appsworld/go-dyld/pkg/bytecode"
	"github.com/appsworld/go-dyld/types"
)

// buildSyntheticImage assembles a minimal two-segment 64-bit Mach-O image
// (__TEXT rx, __DATA rw) plus an LC_DYLD_INFO command whose rebase opcodes
// mark one pointer slot in __DATA. It exists for the same reason
// file_test.go's buildMinimalMachO64 does: the retrieval pack carried no
// binary fixtures to round-trip against, so the test builds its own.
func buildSyntheticImage(t *testing.T) (raw []byte, dataAddr uint64) {
	t.Helper()
	bo := binary.LittleEndian

	const textAddr = 0x100000000
	const dataAddr64 = 0x100004000
	const segSize = 0x4000

	rebaseOpcodes := bytecode.EncodeRebase(
		[]bytecode.RebaseEntry{{SegmentIndex: 1, Address: dataAddr64 + 0x10, Type: types.REBASE_TYPE_POINTER}},
		[]bytecode.SegmentBounds{
			{PreferredAddr: textAddr, Size: segSize},
			{PreferredAddr: dataAddr64, Size: segSize},
		},
	)

	segHeaderSize := uint32(binary.Size(types.Segment64{}))
	dyldInfoSize := uint32(binary.Size(types.DyldInfoCmd{}))

	// Rebase opcodes live right after both segments' file-backed ranges:
	// __TEXT occupies [0, segSize), __DATA occupies [segSize, 2*segSize).
	rebaseOff := uint32(2 * segSize)

	var buf bytes.Buffer
	hdr := types.FileHeader{
		Magic:        types.Magic64,
		CPU:          types.CPUAmd64,
		SubCPU:       3,
		Type:         types.MH_EXECUTE,
		NCommands:    3,
		SizeCommands: 2*segHeaderSize + dyldInfoSize,
		Flags:        types.NoUndefs,
	}
	must(t, binary.Write(&buf, bo, &hdr))
	must(t, binary.Write(&buf, bo, uint32(0)))

	var textName, dataName [16]byte
	copy(textName[:], "__TEXT")
	copy(dataName[:], "__DATA")

	must(t, binary.Write(&buf, bo, &types.Segment64{
		LoadCmd: types.LC_SEGMENT_64, Len: segHeaderSize, Name: textName,
		Addr: textAddr, Memsz: segSize, Offset: 0, Filesz: segSize,
		Maxprot: 7, Prot: 5,
	}))
	must(t, binary.Write(&buf, bo, &types.Segment64{
		LoadCmd: types.LC_SEGMENT_64, Len: segHeaderSize, Name: dataName,
		Addr: dataAddr64, Memsz: segSize, Offset: segSize, Filesz: segSize,
		Maxprot: 7, Prot: 3,
	}))
	must(t, binary.Write(&buf, bo, &types.DyldInfoCmd{
		LoadCmd: types.LC_DYLD_INFO_ONLY, Len: dyldInfoSize,
		RebaseOff: rebaseOff, RebaseSize: uint32(len(rebaseOpcodes)),
	}))

	// Pad out to the __TEXT segment's file-backed size, then lay down
	// __DATA's file bytes, then the rebase opcode stream.
	for uint32(buf.Len()) < segSize {
		buf.WriteByte(0)
	}
	dataBytes := make([]byte, segSize)
	buf.Write(dataBytes)
	must(t, err2(buf.Write(rebaseOpcodes)))

	return buf.Bytes(), dataAddr64
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func err2(_ int, err error) error { return err }

func TestStateTransitionsMonotonic(t *testing.T) {
	img := &Image{state: StateMapped}
	if err := img.transition(StateRebased); err != nil {
		t.Fatalf("forward transition failed: %v", err)
	}
	if err := img.transition(StateMapped); err == nil {
		t.Fatal("expected error moving backward from rebased to mapped")
	}
	if err := img.transition(StateTerminated); err != nil {
		t.Fatalf("transition to terminated should always succeed: %v", err)
	}
}

func TestLoadFromMemoryAndRebase(t *testing.T) {
	raw, dataAddr := buildSyntheticImage(t)

	ctx := &LinkContext{
		ResolveSymbol: func(from *Image, ordinal int64, name string) (uint64, bool) { return 0, false },
	}

	img, err := LoadFromMemory("synthetic", raw, 0x100000000, false, ctx)
	if err != nil {
		t.Fatalf("LoadFromMemory() error = %v", err)
	}
	if img.State() != StateMapped {
		t.Fatalf("state = %v, want mapped", img.State())
	}
	if len(img.Segments) != 2 {
		t.Fatalf("len(Segments) = %d, want 2", len(img.Segments))
	}

	// No slide requested, so rebase is a no-op add-zero; still exercises
	// the full opcode decode + bounds-checked pointer write path.
	if err := RecursiveRebase(img, ctx, nil); err != nil {
		t.Fatalf("RecursiveRebase() error = %v", err)
	}
	if img.State() != StateRebased {
		t.Fatalf("state = %v, want rebased", img.State())
	}

	got, err := img.readPointer(dataAddr + 0x10)
	if err != nil {
		t.Fatalf("readPointer() error = %v", err)
	}
	if got != 0 {
		t.Errorf("rebased pointer = %#x, want 0 (zero slide)", got)
	}
}
