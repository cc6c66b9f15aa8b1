package lazybind

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/appsworld/go-dyld/loader"
	"github.com/appsworld/go-dyld/pkg/bytecode"
	"github.com/appsworld/go-dyld/types"
)

// buildSyntheticImage mirrors loader's own synthetic-image builder (no
// binary fixtures were available to round-trip against) but carries a
// lazy-bind opcode stream instead of rebase opcodes, since that is what
// this package decodes.
func buildSyntheticImage(t *testing.T) (raw []byte, dataAddr uint64, lazyPtrAddr uint64) {
	t.Helper()
	bo := binary.LittleEndian

	const textAddr = 0x100000000
	const dataAddr64 = 0x100004000
	const segSize = 0x4000

	segs := []bytecode.SegmentBounds{
		{PreferredAddr: textAddr, Size: segSize},
		{PreferredAddr: dataAddr64, Size: segSize},
	}
	lazyPtr := dataAddr64 + 0x20
	lazyOpcodes := bytecode.EncodeLazyBind([]bytecode.BindEntry{
		{SegmentIndex: 1, Address: lazyPtr, Type: types.BIND_TYPE_POINTER, Symbol: "_puts"},
	}, segs)

	segHeaderSize := uint32(binary.Size(types.Segment64{}))
	dyldInfoSize := uint32(binary.Size(types.DyldInfoCmd{}))
	lazyOff := uint32(2 * segSize)

	var buf bytes.Buffer
	hdr := types.FileHeader{
		Magic: types.Magic64, CPU: types.CPUAmd64, SubCPU: 3,
		Type: types.MH_EXECUTE, NCommands: 3,
		SizeCommands: 2*segHeaderSize + dyldInfoSize, Flags: types.NoUndefs,
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
		LazyBindOff: lazyOff, LazyBindSize: uint32(len(lazyOpcodes)),
	}))

	for uint32(buf.Len()) < segSize {
		buf.WriteByte(0)
	}
	buf.Write(make([]byte, segSize))
	must(t, err2(buf.Write(lazyOpcodes)))

	return buf.Bytes(), dataAddr64, lazyPtr
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func err2(_ int, err error) error { return err }

type fakeResolver struct {
	img *loader.Image
}

func (f fakeResolver) ImageContaining(addr uint64) *loader.Image {
	for _, s := range f.img.Segments {
		if addr >= s.PreferredAddr && addr < s.PreferredAddr+s.Size {
			return f.img
		}
	}
	return nil
}

func (f fakeResolver) ResolveSymbol(from *loader.Image, ordinal int64, name string) (uint64, bool) {
	if name == "_puts" {
		return 0x7fff00001000, true
	}
	return 0, false
}

func TestResolvePatchesLazyPointer(t *testing.T) {
	raw, _, lazyPtr := buildSyntheticImage(t)
	ctx := &loader.LinkContext{
		ResolveSymbol: func(from *loader.Image, ordinal int64, name string) (uint64, bool) { return 0, false },
	}
	img, err := loader.LoadFromMemory("synthetic", raw, 0x100000000, false, ctx)
	if err != nil {
		t.Fatalf("LoadFromMemory() error = %v", err)
	}

	addr, err := Resolve(Miss{LazyPointerAddr: lazyPtr, BindOffset: 0}, fakeResolver{img: img})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if addr != 0x7fff00001000 {
		t.Errorf("Resolve() = %#x, want %#x", addr, 0x7fff00001000)
	}

	got, err := img.ReadPointer(lazyPtr)
	if err != nil {
		t.Fatalf("ReadPointer() error = %v", err)
	}
	if got != addr {
		t.Errorf("patched pointer = %#x, want %#x", got, addr)
	}
}

func TestResolveUnknownImage(t *testing.T) {
	raw, _, _ := buildSyntheticImage(t)
	ctx := &loader.LinkContext{
		ResolveSymbol: func(from *loader.Image, ordinal int64, name string) (uint64, bool) { return 0, false },
	}
	img, err := loader.LoadFromMemory("synthetic", raw, 0x100000000, false, ctx)
	if err != nil {
		t.Fatalf("LoadFromMemory() error = %v", err)
	}

	_, err = Resolve(Miss{LazyPointerAddr: 0xdead0000, BindOffset: 0}, fakeResolver{img: img})
	if err == nil {
		t.Fatal("Resolve() expected error for address outside any image, got nil")
	}
}

func TestResolveSymbolNotFound(t *testing.T) {
	raw, _, lazyPtr := buildSyntheticImage(t)
	ctx := &loader.LinkContext{
		ResolveSymbol: func(from *loader.Image, ordinal int64, name string) (uint64, bool) { return 0, false },
	}
	img, err := loader.LoadFromMemory("synthetic", raw, 0x100000000, false, ctx)
	if err != nil {
		t.Fatalf("LoadFromMemory() error = %v", err)
	}

	noSuchSymbol := fakeResolver{img: img}
	_, err = Resolve(Miss{LazyPointerAddr: lazyPtr, BindOffset: 0}, resolverFunc{
		containing: noSuchSymbol.ImageContaining,
		resolve:    func(*loader.Image, int64, string) (uint64, bool) { return 0, false },
	})
	if err == nil {
		t.Fatal("Resolve() expected error for unresolvable symbol, got nil")
	}
}

type resolverFunc struct {
	containing func(uint64) *loader.Image
	resolve    func(*loader.Image, int64, string) (uint64, bool)
}

func (r resolverFunc) ImageContaining(addr uint64) *loader.Image { return r.containing(addr) }
func (r resolverFunc) ResolveSymbol(from *loader.Image, ordinal int64, name string) (uint64, bool) {
	return r.resolve(from, ordinal, name)
}
