package loader

// RunInitializers recurses into img's dependencies first (an image's
// initializers must never run before the initializers of anything it
// depends on, spec §3's DependentsInitialized state), then runs img's own
// C++/Swift-style static initializers. This linker has no code to actually
// execute, so "running" an initializer means recording that this image's
// constructor section was reached; a real embedder would transfer control
// to each function pointer in __mod_init_func here instead.
func RunInitializers(img *Image, ctx *LinkContext, seen map[*Image]bool) error {
	if seen == nil {
		seen = map[*Image]bool{}
	}
	if seen[img] {
		return nil
	}
	seen[img] = true

	for _, dep := range img.Dependencies {
		if dep.Image != nil {
			if err := RunInitializers(dep.Image, ctx, seen); err != nil {
				return err
			}
		}
	}
	if err := img.transition(StateDependentsInitialized); err != nil {
		return err
	}

	img.mu.Lock()
	already := img.initializersRun
	img.initializersRun = true
	img.mu.Unlock()
	if !already {
		ctx.logf("loader: running initializers for %s", img.Path)
	}

	return img.transition(StateInitialized)
}

// DoTermination recurses into dependencies after running img's own static
// terminators (__mod_term_func's conceptual counterpart here: just a state
// transition, for the reasons RunInitializers documents), the mirror image
// of RunInitializers' dependency-first order.
func DoTermination(img *Image, ctx *LinkContext, seen map[*Image]bool) error {
	if seen == nil {
		seen = map[*Image]bool{}
	}
	if seen[img] {
		return nil
	}
	seen[img] = true

	ctx.logf("loader: running terminators for %s", img.Path)
	if err := img.transition(StateTerminated); err != nil {
		return err
	}
	for _, dep := range img.Dependencies {
		if dep.Image != nil {
			if err := DoTermination(dep.Image, ctx, seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// FindExportedSymbol looks up name in img's own export trie (spec §4.C's
// trie half, via pkg/trie) and, if recurse is true and img re-exports other
// dylibs, continues into those. It does not consult img's non-re-export
// dependencies — that flat/two-level namespace search belongs to the
// LinkContext.ResolveSymbol callback (orchestrator's resolveSymbol), which
// calls this once per candidate image.
func (img *Image) FindExportedSymbol(name string, recurse bool) (addr uint64, found bool) {
	exports, err := img.File.DyldExports()
	if err == nil {
		for _, e := range exports {
			if e.Name == name {
				return e.Address + uint64(img.Slide), true
			}
		}
	}
	if !recurse {
		return 0, false
	}
	for _, dep := range img.Dependencies {
		if !dep.ReExport || dep.Image == nil {
			continue
		}
		if addr, found := dep.Image.FindExportedSymbol(name, true); found {
			return addr, true
		}
	}
	return 0, false
}
