package orchestrator

import "github.com/appsworld/go-dyld/loader"

// coalesceWeakSymbols implements spec §4.D's weak-definition merge. A name
// exported weak by more than one image in the batch must still resolve to
// a single winner everywhere, but a non-weak (strong) definition anywhere
// in the batch always wins over every weak one — per spec §8 scenario 2,
// a strong `_x` in the main executable beats a weak `_x` in an inserted
// library regardless of load order. Only when no image defines a name
// strongly does the first weak definition encountered in batch
// (registration) order become the winner, mirroring dyld's load-order
// tie-break among weak-only definitions. resolveSymbol only falls back to
// o.weakWinners for a name that has no strong definition, so a later
// strong export never loses to a stale weak winner recorded earlier.
func (o *Orchestrator) coalesceWeakSymbols(batch []*loader.Image) {
	if o.weakWinners == nil {
		o.weakWinners = map[string]uint64{}
	}
	strong := map[string]bool{}
	for _, img := range batch {
		exports, err := img.File.DyldExports()
		if err != nil {
			continue
		}
		for _, e := range exports {
			if !e.Flags.WeakDefinition() {
				strong[e.Name] = true
				delete(o.weakWinners, e.Name)
			}
		}
	}
	for _, img := range batch {
		exports, err := img.File.DyldExports()
		if err != nil {
			continue
		}
		for _, e := range exports {
			if !e.Flags.WeakDefinition() || strong[e.Name] {
				continue
			}
			if _, ok := o.weakWinners[e.Name]; !ok {
				o.weakWinners[e.Name] = e.Address + uint64(img.Slide)
			}
		}
	}
}

// applyInterposing scans every image's __DATA,__interpose section — the
// array of (replacement, replacee) pointer pairs DYLD_INTERPOSE(new,old)
// emits — and registers each tuple with the registry. Per spec §9
// decision 1, this runs strictly after coalesceWeakSymbols, so an
// interposer's replacement address is whatever coalescing already settled
// on; this pass does not special-case a replacement that is itself a weak
// symbol.
func (o *Orchestrator) applyInterposing(batch []*loader.Image, ctx *loader.LinkContext) {
	for _, img := range batch {
		sec := img.File.Section("__DATA", "__interpose")
		if sec == nil {
			continue
		}
		data, err := sec.Data()
		if err != nil || len(data) < 16 {
			continue
		}
		bo := img.File.ByteOrder
		for off := 0; off+16 <= len(data); off += 16 {
			replacement := bo.Uint64(data[off:]) + uint64(img.Slide)
			replacee := bo.Uint64(data[off+8:]) + uint64(img.Slide)
			ctx.RegisterInterposing(img, replacement, replacee)
		}
	}
}

// GC implements spec §4.G's garbage collection: starting from the roots
// the caller passes, mark every image reachable through a Dependency or
// DynamicReference edge, then deregister (Registry.Remove) every unmarked
// image except NeverUnload images and the main executable. RefCount is not
// consulted, and segment memory is not unmapped here. An image already
// marked in this GC pass is not revisited, so dependency cycles terminate.
func (o *Orchestrator) GC(roots []*loader.Image) {
	marked := map[*loader.Image]bool{}
	var mark func(img *loader.Image)
	mark = func(img *loader.Image) {
		if marked[img] {
			return
		}
		marked[img] = true
		for _, dep := range img.Dependencies {
			if dep.Image != nil {
				mark(dep.Image)
			}
		}
		for _, dyn := range img.DynamicReferences {
			mark(dyn)
		}
	}
	for _, r := range roots {
		mark(r)
	}

	for _, img := range o.Registry.All() {
		if img.NeverUnload || img.IsMainExecutable {
			continue
		}
		if !marked[img] {
			o.Registry.Remove(img)
		}
	}
}
