package loader

import (
	"encoding/binary"
	"fmt"

	"github.com/appsworld/go-dyld/pkg/bytecode"
)

func (img *Image) segmentBounds() []bytecode.SegmentBounds {
	bounds := make([]bytecode.SegmentBounds, len(img.Segments))
	for i, s := range img.Segments {
		bounds[i] = bytecode.SegmentBounds{PreferredAddr: s.PreferredAddr, Size: s.Size}
	}
	return bounds
}

func (img *Image) ptrSize() uint64 {
	if img.File.CPU.String() == "" {
		return 8
	}
	// 64-bit CPU types all carry the architecture-64 bit per types.CPU's
	// own encoding (cpuArch64); every target this linker cares about is
	// LP64, so 8 is correct for everything macho.NewFile will accept.
	return 8
}

// WritePointer patches the pointer-sized slot at addr (a preferred,
// pre-slide address within one of img's segments) to value. It is exported
// for the lazybind package, whose stub-miss handler lives outside loader to
// avoid a dependency cycle with orchestrator/registry.
func (img *Image) WritePointer(addr uint64, value uint64) error {
	return img.writePointer(addr, value)
}

func (img *Image) writePointer(addr uint64, value uint64) error {
	for _, s := range img.Segments {
		if addr < s.PreferredAddr || addr >= s.PreferredAddr+s.Size {
			continue
		}
		off := addr - s.PreferredAddr
		if off+8 > uint64(len(s.data)) {
			return newError(ErrMalformedImage, img.Path, fmt.Sprintf("fixup address %#x out of segment data", addr), nil)
		}
		le := byteOrder(img)
		le.PutUint64(s.data[off:], value)
		return nil
	}
	return newError(ErrMalformedImage, img.Path, fmt.Sprintf("fixup address %#x not in any segment", addr), nil)
}

// RecursiveRebase applies every rebase opcode in img's LC_DYLD_INFO (for
// images built with LC_DYLD_CHAINED_FIXUPS it only parses the fixups
// payload and rewrites no pointer; see rebaseViaChainedFixups), after doing
// the same for every dependency that has not already been rebased, then
// advances img to StateRebased. Order matches dyld: dependencies rebase
// before the image that needs them.
func RecursiveRebase(img *Image, ctx *LinkContext, seen map[*Image]bool) error {
	if seen == nil {
		seen = map[*Image]bool{}
	}
	if seen[img] {
		return nil
	}
	seen[img] = true

	for _, dep := range img.Dependencies {
		if dep.Image != nil {
			if err := RecursiveRebase(dep.Image, ctx, seen); err != nil {
				return err
			}
		}
	}

	if img.State() >= StateRebased {
		return nil
	}

	if img.File.HasFixups() {
		if err := rebaseViaChainedFixups(img); err != nil {
			return err
		}
	} else if di := img.File.DyldInfo(); di != nil && di.RebaseSize > 0 {
		data, err := readLinkedit(img, di.RebaseOff, di.RebaseSize)
		if err != nil {
			return err
		}
		entries, err := bytecode.ParseRebase(data, img.segmentBounds(), img.ptrSize())
		if err != nil {
			return newError(ErrMalformedImage, img.Path, "rebase opcodes malformed", err)
		}
		for _, e := range entries {
			if err := applyRebase(img, e); err != nil {
				return err
			}
		}
	}
	return img.transition(StateRebased)
}

func applyRebase(img *Image, e bytecode.RebaseEntry) error {
	cur, err := img.readPointer(e.Address)
	if err != nil {
		return err
	}
	return img.writePointer(e.Address, uint64(int64(cur)+img.Slide))
}

func rebaseViaChainedFixups(img *Image) error {
	dcf, err := img.File.DyldChainedFixups()
	if err != nil {
		return newError(ErrMalformedImage, img.Path, "failed to parse chained fixups", err)
	}
	_ = dcf // the payload is parsed so a malformed one is reported, but no
	// chain is walked and no slide is applied: pointers in a chained-fixups
	// image keep their on-disk encoded values.
	return nil
}

// RecursiveBind resolves and writes every non-lazy bind opcode in img,
// recursing into dependencies first (so a symbol img needs is satisfied by
// an already-bound dependency), then advances img to StateBound. Lazy-bind
// opcodes are deliberately left alone here; they are decoded on demand by
// the lazybind package when a stub is first called.
func RecursiveBind(img *Image, ctx *LinkContext, seen map[*Image]bool) error {
	if seen == nil {
		seen = map[*Image]bool{}
	}
	if seen[img] {
		return nil
	}
	seen[img] = true

	for _, dep := range img.Dependencies {
		if dep.Image != nil {
			if err := RecursiveBind(dep.Image, ctx, seen); err != nil {
				return err
			}
		}
	}

	if img.State() >= StateBound {
		return nil
	}

	if di := img.File.DyldInfo(); di != nil {
		if di.BindSize > 0 {
			data, err := readLinkedit(img, di.BindOff, di.BindSize)
			if err != nil {
				return err
			}
			entries, err := bytecode.ParseBind(data, img.segmentBounds(), img.ptrSize())
			if err != nil {
				return newError(ErrMalformedImage, img.Path, "bind opcodes malformed", err)
			}
			for _, e := range entries {
				if err := applyBind(img, e, ctx); err != nil {
					return err
				}
			}
		}
		if di.WeakBindSize > 0 {
			data, err := readLinkedit(img, di.WeakBindOff, di.WeakBindSize)
			if err != nil {
				return err
			}
			entries, err := bytecode.ParseWeakBind(data, img.segmentBounds(), img.ptrSize())
			if err != nil {
				return newError(ErrMalformedImage, img.Path, "weak-bind opcodes malformed", err)
			}
			for _, e := range entries {
				if err := applyBind(img, e, ctx); err != nil {
					return err
				}
			}
		}
	}
	return img.transition(StateBound)
}

func applyBind(img *Image, e bytecode.BindEntry, ctx *LinkContext) error {
	addr, found := ctx.ResolveSymbol(img, e.LibraryOrdinal, e.Symbol)
	if !found {
		if e.Flags&0x1 != 0 { // BIND_SYMBOL_FLAGS_WEAK_IMPORT
			return nil
		}
		return newError(ErrSymbolNotFound, img.Path, e.Symbol, nil)
	}
	return img.writePointer(e.Address, uint64(int64(addr)+e.Addend))
}

func readLinkedit(img *Image, offset, size uint32) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := img.File.ReadAt(buf, int64(offset)); err != nil {
		return nil, newError(ErrMalformedImage, img.Path, "failed to read LINKEDIT range", err)
	}
	return buf, nil
}

// ReadPointer is the exported counterpart to WritePointer, used by tests
// and by callers outside loader that need to confirm a fixup landed.
func (img *Image) ReadPointer(addr uint64) (uint64, error) {
	return img.readPointer(addr)
}

func (img *Image) readPointer(addr uint64) (uint64, error) {
	for _, s := range img.Segments {
		if addr < s.PreferredAddr || addr >= s.PreferredAddr+s.Size {
			continue
		}
		off := addr - s.PreferredAddr
		if off+8 > uint64(len(s.data)) {
			return 0, newError(ErrMalformedImage, img.Path, fmt.Sprintf("read address %#x out of segment data", addr), nil)
		}
		return byteOrder(img).Uint64(s.data[off:]), nil
	}
	return 0, newError(ErrMalformedImage, img.Path, fmt.Sprintf("read address %#x not in any segment", addr), nil)
}

func byteOrder(img *Image) binary.ByteOrder {
	return img.File.ByteOrder
}
