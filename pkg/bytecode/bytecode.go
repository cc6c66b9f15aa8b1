// Package bytecode interprets the compressed-LINKEDIT opcode streams that
// accompany LC_DYLD_INFO(_ONLY): rebase, bind, lazy-bind, and weak-bind.
//
// pkg/trie decodes the export trie and pkg/fixupchains decodes the newer
// LC_DYLD_CHAINED_FIXUPS format, but neither interprets these four opcode
// families, even though types/flags.go already carries every opcode
// constant. The opcode semantics here follow
// ImageLoaderMachOCompressed.cpp, the canonical interpreter these four
// streams were designed against.
package bytecode

import (
	"bytes"
	"fmt"
	"io"
)

// SegmentBounds is the minimal per-segment geometry the interpreters need:
// where a segment's fixups land in the address space, expressed relative to
// the image (i.e. before slide is applied by the caller).
type SegmentBounds struct {
	PreferredAddr uint64
	Size          uint64
}

func (s SegmentBounds) end() uint64 { return s.PreferredAddr + s.Size }

// MalformedError reports an opcode stream that referenced an address or
// segment outside the bounds the image actually declared.
type MalformedError struct {
	Stream string
	Offset int
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s opcodes at %#x: %s", e.Stream, e.Offset, e.Reason)
}

// cursor is a bounds-checked reader over an opcode stream, decoding the
// uleb128/sleb128 operands the four families share.
type cursor struct {
	r    *bytes.Reader
	data []byte
}

func newCursor(data []byte) *cursor {
	return &cursor{r: bytes.NewReader(data), data: data}
}

func (c *cursor) pos() int { return len(c.data) - c.r.Len() }

func (c *cursor) readByte() (byte, error) {
	return c.r.ReadByte()
}

func (c *cursor) readUleb128() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, fmt.Errorf("truncated uleb128")
			}
			return 0, err
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, nil
}

func (c *cursor) readSleb128() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = c.r.ReadByte()
		if err != nil {
			if err == io.EOF {
				return 0, fmt.Errorf("truncated sleb128")
			}
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && (b&0x40) != 0 {
		result |= -1 << shift
	}
	return result, nil
}

func (c *cursor) readCString() (string, error) {
	var out []byte
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("truncated symbol name")
		}
		if b == 0 {
			break
		}
		out = append(out, b)
	}
	return string(out), nil
}
