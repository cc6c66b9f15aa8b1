// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package macho

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/appsworld/go-dyld/types"
)

// buildMinimalMachO64 assembles a tiny in-memory 64-bit Mach-O image: a file
// header and a single LC_SEGMENT_64 with no sections. It exists because the
// retrieval pack this test tree was built from did not carry the upstream
// base64-encoded binary fixtures (internal/testdata/*.base64); this is the
// smallest buffer NewFile can parse end to end.
func buildMinimalMachO64(t *testing.T, name string, addr, size uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	bo := binary.LittleEndian

	var segName [16]byte
	copy(segName[:], name)

	hdr := types.FileHeader{
		Magic:        types.Magic64,
		CPU:          types.CPUAmd64,
		SubCPU:       3,
		Type:         types.MH_EXECUTE,
		NCommands:    1,
		SizeCommands: uint32(binary.Size(types.Segment64{})),
		Flags:        types.NoUndefs,
	}
	if err := binary.Write(&buf, bo, &hdr); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if err := binary.Write(&buf, bo, uint32(0)); err != nil { // Reserved (64-bit pad)
		t.Fatalf("write reserved: %v", err)
	}

	seg := types.Segment64{
		LoadCmd: types.LC_SEGMENT_64,
		Len:     uint32(binary.Size(types.Segment64{})),
		Name:    segName,
		Addr:    addr,
		Memsz:   size,
		Offset:  0,
		Filesz:  size,
		Maxprot: 7,
		Prot:    5,
		Nsect:   0,
		Flag:    0,
	}
	if err := binary.Write(&buf, bo, &seg); err != nil {
		t.Fatalf("write segment: %v", err)
	}

	return buf.Bytes()
}

func TestNewFileSyntheticSegment(t *testing.T) {
	raw := buildMinimalMachO64(t, "__TEXT", 0x100000000, 0x4000)

	f, err := NewFile(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	if f.FileHeader.Magic != types.Magic64 {
		t.Errorf("Magic = %#x, want %#x", f.FileHeader.Magic, types.Magic64)
	}

	seg := f.Segment("__TEXT")
	if seg == nil {
		t.Fatal("Segment(\"__TEXT\") = nil")
	}
	if seg.Addr != 0x100000000 {
		t.Errorf("seg.Addr = %#x, want %#x", seg.Addr, 0x100000000)
	}
	if seg.Memsz != 0x4000 {
		t.Errorf("seg.Memsz = %#x, want %#x", seg.Memsz, 0x4000)
	}
}

func TestOpenFailure(t *testing.T) {
	filename := "file.go" // not a Mach-O file
	_, err := Open(filename)
	if err == nil {
		t.Errorf("open %s: succeeded unexpectedly", filename)
	}
}

func TestRelocTypeString(t *testing.T) {
	if types.X86_64_RELOC_BRANCH.String() != "X86_64_RELOC_BRANCH" {
		t.Errorf("got %v, want %v", types.X86_64_RELOC_BRANCH.String(), "X86_64_RELOC_BRANCH")
	}
	if types.X86_64_RELOC_BRANCH.GoString() != "macho.X86_64_RELOC_BRANCH" {
		t.Errorf("got %v, want %v", types.X86_64_RELOC_BRANCH.GoString(), "macho.X86_64_RELOC_BRANCH")
	}
}

func TestTypeString(t *testing.T) {
	if types.MH_EXECUTE.String() != "EXECUTE" {
		t.Errorf("got %v, want %v", types.MH_EXECUTE.String(), "EXECUTE")
	}
}
