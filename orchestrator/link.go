package orchestrator

import (
	"github.com/appsworld/go-dyld/loader"
	"github.com/appsworld/go-dyld/pathresolver"
)

// SearchConfig is the set of search paths Link consults when a dependency
// name is not a token-qualified or absolute path; see
// pathresolver.SearchConfig for the precedence these are combined in.
type SearchConfig = pathresolver.SearchConfig

// Link drives the full sequence spec §4.G describes for one newly
// requested image (typically a dlopen target): recursive-load-libraries, a
// depth pass, recursive-rebase, recursive-bind, weak-symbol coalescing,
// interposing application, then RunInitializers — with one NotifyBatch
// call between each phase, matching dyld's batched-notification design.
// Link is LinkAll with a single root; callers linking more than one root at
// once (main plus its DYLD_INSERT_LIBRARIES) must use LinkAll so every root
// shares one rebase/bind/coalesce pass instead of racing on the registry.
func (o *Orchestrator) Link(img *loader.Image, ctx *loader.LinkContext) error {
	return o.LinkAll([]*loader.Image{img}, ctx)
}

// LinkAll drives spec §4.G's sequence across every image in roots at once:
// each root's dependency graph is loaded, rebased and bound before any
// root's initializers run, then RunInitializers is called once per root in
// the order given. This is what makes DYLD_INSERT_LIBRARIES work — an
// inserted library is a root, not a dependency of main, so it would never
// be reached by Link(main, ctx) alone; spec §4.G's "runs run-initializers
// on each inserted library and finally on main" ordering is exactly
// roots = [inserted libraries..., main].
func (o *Orchestrator) LinkAll(roots []*loader.Image, ctx *loader.LinkContext) error {
	for _, root := range roots {
		if err := loader.RecursiveLoadLibraries(root, ctx, nil); err != nil {
			return err
		}
	}
	batch := o.Registry.All()
	ctx.NotifyBatch(loader.StateDependentsMapped, batch)

	if o.Printf != nil {
		for _, root := range roots {
			depths := assignDepths(root)
			o.Printf("orchestrator: dependency graph depth=%d images=%d root=%s", maxDepth(depths), len(depths), root.Path)
		}
	}

	rebaseSeen := map[*loader.Image]bool{}
	for _, root := range roots {
		if err := loader.RecursiveRebase(root, ctx, rebaseSeen); err != nil {
			return err
		}
	}
	ctx.NotifyBatch(loader.StateRebased, batch)

	bindSeen := map[*loader.Image]bool{}
	for _, root := range roots {
		if err := loader.RecursiveBind(root, ctx, bindSeen); err != nil {
			return err
		}
	}
	o.coalesceWeakSymbols(batch)
	o.applyInterposing(batch, ctx)
	ctx.NotifyBatch(loader.StateBound, batch)

	initSeen := map[*loader.Image]bool{}
	for _, root := range roots {
		if err := loader.RunInitializers(root, ctx, initSeen); err != nil {
			return err
		}
	}
	ctx.NotifyBatch(loader.StateInitialized, batch)
	return nil
}

// loadLibrary is the LinkContext.LoadLibrary callback: resolve name
// against the already-mapped registry first (avoids remapping a library
// two dependents both require), then against the search-path precedence,
// map the first candidate that parses successfully, and register it. Before
// mapping any candidate it also checks the candidate's on-disk identity
// against the registry (spec §3 Invariant 1): a candidate path reached via
// a symlink or a different @rpath expansion than some already-mapped image
// must resolve to that same *Image, never a second mapping of one file.
func (o *Orchestrator) loadLibrary(name string, fromImage *Image) (*loader.Image, error) {
	if existing := o.Registry.ByPath(name); existing != nil {
		return existing, nil
	}

	rctx := pathresolver.Context{LoaderPath: "", ImageSuffix: o.ImageSuffix}
	if fromImage != nil {
		rctx.LoaderPath = dirOf(fromImage.Path)
	}
	candidates := pathresolver.Candidates(name, rctx)
	candidates = append(candidates, pathresolver.SearchPaths(name, pathresolver.IsFrameworkPath(name), o.Search, rctx)...)

	var lastErr error
	for _, candidate := range candidates {
		if existing := o.Registry.ByPath(candidate); existing != nil {
			return existing, nil
		}
		id, err := loader.StatIdentity(candidate)
		if err != nil {
			continue
		}
		if existing := o.Registry.ByIdentity(id); existing != nil {
			return existing, nil
		}
		img, err := loader.LoadFromFile(candidate, 0, false, o.Context())
		if err != nil {
			lastErr = err
			continue
		}
		if existing := o.Registry.ByIdentity(img.Identity); existing != nil {
			return existing, nil
		}
		o.Registry.Add(img, false)
		return img, nil
	}
	return nil, lastErr
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Image is an alias so link.go can name loadLibrary's parameter without a
// second import of the loader package's Image type under a different name.
type Image = loader.Image
