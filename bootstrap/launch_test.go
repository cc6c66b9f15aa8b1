package bootstrap

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/appsworld/go-dyld/loader"
	"github.com/appsworld/go-dyld/types"
)

// buildMinimalExecutable writes a single-segment, dependency-free 64-bit
// Mach-O executable to a temp file, just enough for loader.LoadFromFile to
// map successfully with no dylib loads, no fixups, and nothing for
// RunInitializers to do beyond the state-machine walk.
func buildMinimalExecutable(t *testing.T) string {
	t.Helper()
	bo := binary.LittleEndian
	const textAddr = 0x100000000
	const segSize = 0x4000

	segHeaderSize := uint32(binary.Size(types.Segment64{}))

	var buf bytes.Buffer
	hdr := types.FileHeader{
		Magic: types.Magic64, CPU: types.CPUAmd64, SubCPU: 3,
		Type: types.MH_EXECUTE, NCommands: 1,
		SizeCommands: segHeaderSize, Flags: types.NoUndefs,
	}
	if err := binary.Write(&buf, bo, &hdr); err != nil {
		t.Fatal(err)
	}
	if err := binary.Write(&buf, bo, uint32(0)); err != nil {
		t.Fatal(err)
	}

	var textName [16]byte
	copy(textName[:], "__TEXT")
	if err := binary.Write(&buf, bo, &types.Segment64{
		LoadCmd: types.LC_SEGMENT_64, Len: segHeaderSize, Name: textName,
		Addr: textAddr, Memsz: segSize, Offset: 0, Filesz: segSize,
		Maxprot: 7, Prot: 5,
	}); err != nil {
		t.Fatal(err)
	}
	for uint32(buf.Len()) < segSize {
		buf.WriteByte(0)
	}

	path := filepath.Join(t.TempDir(), "minimal")
	if err := os.WriteFile(path, buf.Bytes(), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLaunchMapsMainExecutable(t *testing.T) {
	t.Setenv("DYLD_LIBRARY_PATH", "")
	t.Setenv("DYLD_INSERT_LIBRARIES", "")
	path := buildMinimalExecutable(t)

	result, err := Launch(path, []string{"executable_path=" + path, "stack_guard=0x42"})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if result.Main.Path != path {
		t.Errorf("Main.Path = %q, want %q", result.Main.Path, path)
	}
	if !result.Main.IsMainExecutable {
		t.Error("Main.IsMainExecutable = false, want true")
	}
	if result.Entry.StackGuard != 0x42 {
		t.Errorf("Entry.StackGuard = %#x, want 0x42", result.Entry.StackGuard)
	}
	if got := len(result.Registry.All()); got != 1 {
		t.Errorf("registry has %d images, want 1", got)
	}
}

func TestLaunchInitializesInsertedLibraries(t *testing.T) {
	mainPath := buildMinimalExecutable(t)
	insertPath := buildMinimalExecutable(t)
	t.Setenv("DYLD_LIBRARY_PATH", "")
	t.Setenv("DYLD_INSERT_LIBRARIES", insertPath)

	result, err := Launch(mainPath, []string{"executable_path=" + mainPath})
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}

	inserted := result.Registry.ByPath(insertPath)
	if inserted == nil {
		t.Fatal("inserted library was not registered")
	}
	if inserted.State() != loader.StateInitialized {
		t.Errorf("inserted library state = %v, want StateInitialized; DYLD_INSERT_LIBRARIES must be rebased/bound/initialized, not left at StateMapped", inserted.State())
	}
	if result.Main.State() != loader.StateInitialized {
		t.Errorf("main state = %v, want StateInitialized", result.Main.State())
	}
}

func TestLaunchMissingInsertedLibraryFails(t *testing.T) {
	path := buildMinimalExecutable(t)
	t.Setenv("DYLD_INSERT_LIBRARIES", "/nonexistent/lib.dylib")

	_, err := Launch(path, []string{"executable_path=" + path})
	if err == nil {
		t.Fatal("Launch() expected error for missing inserted library, got nil")
	}
}
