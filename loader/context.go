package loader

// LinkContext is the set of callbacks an Image uses to reach the rest of
// the linker without this package importing registry/orchestrator/
// pathresolver directly. The orchestrator constructs one LinkContext per
// process and hands it to every Image it creates; every field must be set
// before any Image method that needs it is called.
//
// This is the "translate global mutable state into passed parameters, and
// block callbacks for anything that would otherwise need a back-reference"
// shape spec.md's own design notes call for, applied at the package
// boundary instead of inside one file.
type LinkContext struct {
	// FindImageByPath returns an already-mapped image for path, or nil if
	// none is mapped yet (the registry's path index, spec component F).
	FindImageByPath func(path string) *Image

	// FindImageByIdentity returns an already-mapped image whose Identity
	// matches, used to detect the same file reached via two different
	// paths (hard link, symlink, @rpath vs absolute).
	FindImageByIdentity func(id Identity) *Image

	// LoadLibrary resolves name (as found in a dependency load command)
	// against the search-path rules (component E) and either returns an
	// already-mapped Image or maps a new one, recursing as needed.
	LoadLibrary func(name string, fromImage *Image) (*Image, error)

	// ResolveSymbol implements the two-level-namespace / flat-namespace
	// symbol search spec §4.D describes: look in fromImage's direct and
	// re-exported dependencies first, then fall back per LibraryOrdinal.
	ResolveSymbol func(fromImage *Image, ordinal int64, name string) (addr uint64, found bool)

	// NotifyBatch is called once per phase transition across the whole
	// set of images added in one link operation (dependents mapped,
	// rebased, bound, initialized), giving the host process's debugger/instrumentation
	// hooks a single, ordered notification instead of one per image.
	NotifyBatch func(phase State, images []*Image)

	// RegisterInterposing records an interposing tuple read from an image's
	// __interpose section (DYLD_INTERPOSE); orchestrator's applyInterposing
	// calls it after binding and weak coalescing.
	RegisterInterposing func(image *Image, replacement, replacee uint64)

	// Printf emits a diagnostic line gated by the bootstrap package's
	// PRINT_* environment variable bitmask; nil is valid and means
	// logging is fully disabled.
	Printf func(format string, args ...any)
}

func (c *LinkContext) logf(format string, args ...any) {
	if c == nil || c.Printf == nil {
		return
	}
	c.Printf(format, args...)
}
