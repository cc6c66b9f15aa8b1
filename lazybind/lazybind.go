// Package lazybind implements spec component I: the stub-miss entry
// point. A lazy-bound call site's stub traps into Resolve once, which
// decodes the single lazy-bind record the stub's la_symbol_ptr offset
// points at, resolves the symbol, patches the pointer so every subsequent
// call skips this package entirely, and returns the resolved address so
// the trampoline can jump to it.
package lazybind

import (
	"fmt"

	"github.com/appsworld/go-dyld/loader"
	"github.com/appsworld/go-dyld/pkg/bytecode"
)

// Resolver is the minimal read-only view lazybind needs of the rest of the
// linker: finding which image a faulting address belongs to, and
// resolving a symbol. It deliberately does not take the registry's write
// lock — spec §4.I requires the stub-miss path to be cheap and
// reentrant-safe under concurrent calls from different threads, so it
// only ever reads.
type Resolver interface {
	// ImageContaining returns the image whose mapped range contains addr,
	// used to identify which image's stub table just faulted.
	ImageContaining(addr uint64) *loader.Image
	// ResolveSymbol mirrors loader.LinkContext.ResolveSymbol.
	ResolveSymbol(from *loader.Image, ordinal int64, name string) (addr uint64, found bool)
}

// Miss is the argument a stub's trap handler hands to Resolve: the lazy
// pointer's own address (where the resolved address gets written) and the
// byte offset into the image's lazy-bind opcode stream that describes how
// to resolve it — exactly the two values dyld's stub helper code carries
// in registers at a real stub miss.
type Miss struct {
	LazyPointerAddr uint64
	BindOffset      int
}

// Resolve handles one stub miss: find the faulting image, decode the
// single lazy-bind record at miss.BindOffset, resolve the symbol it names,
// write the resolved address into the lazy pointer slot, and return it so
// the caller's trampoline can complete the call it was trying to make.
func Resolve(miss Miss, r Resolver) (uint64, error) {
	img := r.ImageContaining(miss.LazyPointerAddr)
	if img == nil {
		return 0, fmt.Errorf("lazybind: no image contains lazy pointer %#x", miss.LazyPointerAddr)
	}

	di := img.File.DyldInfo()
	if di == nil || di.LazyBindSize == 0 {
		return 0, fmt.Errorf("lazybind: %s has no lazy-bind opcodes", img.Path)
	}
	data := make([]byte, di.LazyBindSize)
	if _, err := img.File.ReadAt(data, int64(di.LazyBindOff)); err != nil {
		return 0, fmt.Errorf("lazybind: failed to read lazy-bind opcodes for %s: %w", img.Path, err)
	}

	entry, err := bytecode.ParseLazyBindAt(data, miss.BindOffset, segmentBounds(img), 8)
	if err != nil {
		return 0, fmt.Errorf("lazybind: %s: %w", img.Path, err)
	}

	addr, found := r.ResolveSymbol(img, entry.LibraryOrdinal, entry.Symbol)
	if !found {
		return 0, fmt.Errorf("lazybind: symbol %q not found (required by %s)", entry.Symbol, img.Path)
	}
	resolved := uint64(int64(addr) + entry.Addend)

	if err := img.WritePointer(entry.Address, resolved); err != nil {
		return 0, fmt.Errorf("lazybind: %w", err)
	}
	return resolved, nil
}

func segmentBounds(img *loader.Image) []bytecode.SegmentBounds {
	bounds := make([]bytecode.SegmentBounds, len(img.Segments))
	for i, s := range img.Segments {
		bounds[i] = bytecode.SegmentBounds{PreferredAddr: s.PreferredAddr, Size: s.Size}
	}
	return bounds
}
