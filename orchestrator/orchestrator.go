// Package orchestrator implements spec component G: the link-sequence
// driver that turns a newly loaded image graph into a fully initialized
// one, cycle-tolerant depth assignment, weak-symbol coalescing, and
// garbage collection by reachability from caller-supplied roots.
package orchestrator

import (
	"github.com/appsworld/go-dyld/loader"
	"github.com/appsworld/go-dyld/pathresolver"
	"github.com/appsworld/go-dyld/registry"
)

// Orchestrator owns the process-wide Registry and builds the LinkContext
// every Image uses to call back into it, closing the loop loader.LinkContext
// describes without loader importing this package.
type Orchestrator struct {
	Registry *registry.Registry
	Resolver SymbolResolver
	Search   pathresolver.SearchConfig
	Printf   func(format string, args ...any)

	// ImageSuffix is DYLD_IMAGE_SUFFIX, applied to every candidate path
	// loadLibrary considers (spec §4.E step 7): the suffixed variant of a
	// candidate is tried first and preferred if it exists.
	ImageSuffix string

	weakWinners map[string]uint64
}

// SymbolResolver is the two-level/flat-namespace search spec §4.D
// describes, factored out so orchestrator can be unit-tested against a
// fake without a real registry of mapped images.
type SymbolResolver interface {
	Resolve(from *loader.Image, ordinal int64, name string) (addr uint64, found bool)
}

func New(reg *registry.Registry) *Orchestrator {
	return &Orchestrator{Registry: reg}
}

// Context builds the LinkContext this Orchestrator's Image operations
// should use, wiring every callback to either the Registry or to this
// Orchestrator's own higher-level methods (LoadLibrary resolves, maps and
// registers one library; it does not link it).
func (o *Orchestrator) Context() *loader.LinkContext {
	return &loader.LinkContext{
		FindImageByPath:     o.Registry.ByPath,
		FindImageByIdentity: o.Registry.ByIdentity,
		LoadLibrary:         o.loadLibrary,
		ResolveSymbol:       o.resolveSymbol,
		NotifyBatch:         o.notifyBatch,
		RegisterInterposing: o.Registry.RegisterInterposing,
		Printf:              o.Printf,
	}
}

// resolveSymbol tries ordinary resolution (a custom Resolver, or the
// default registry scan) first, since that search already walks images in
// registration order and will surface a strong definition ahead of any
// weak one registered later. Only when ordinary resolution finds nothing
// — the case of two-or-more weak-only definitions and no strong one
// anywhere — does it fall back to o.weakWinners, the coalesced first-weak
// winner coalesceWeakSymbols computed. This ordering is what makes spec
// §8 scenario 2 hold: a strong `_x` in the main executable always beats a
// weak `_x` from an inserted library, never the other way around, and
// weakWinners itself never holds an entry for a name any image defines
// strongly (see coalesceWeakSymbols).
func (o *Orchestrator) resolveSymbol(from *loader.Image, ordinal int64, name string) (uint64, bool) {
	if addr, found := o.resolveOrdinary(from, ordinal, name); found {
		return addr, true
	}
	if addr, ok := o.weakWinners[name]; ok {
		return addr, true
	}
	return 0, false
}

func (o *Orchestrator) resolveOrdinary(from *loader.Image, ordinal int64, name string) (uint64, bool) {
	if o.Resolver != nil {
		if addr, found := o.Resolver.Resolve(from, ordinal, name); found {
			if interposed, ok := o.Registry.Interposed(addr); ok {
				return interposed, true
			}
			return addr, true
		}
		return 0, false
	}
	return o.defaultResolve(from, ordinal, name)
}

// defaultResolve implements spec §4.D's search order directly against the
// registry when no custom SymbolResolver is installed: ordinal>0 names one
// specific dependency by its 1-based position in from.Dependencies; any
// other ordinal (0 for self, the negative special values for main
// executable, flat and weak lookup, or one outside the dependency list) is
// treated uniformly as "search every mapped image", since this linker has
// no separate flat-namespace cache to consult.
func (o *Orchestrator) defaultResolve(from *loader.Image, ordinal int64, name string) (uint64, bool) {
	if ordinal > 0 && int(ordinal) <= len(from.Dependencies) {
		dep := from.Dependencies[ordinal-1]
		if dep.Image != nil {
			if addr, ok := dep.Image.FindExportedSymbol(name, true); ok {
				return addr, true
			}
		}
		return 0, false
	}
	for _, img := range o.Registry.All() {
		if addr, ok := img.FindExportedSymbol(name, true); ok {
			return addr, true
		}
	}
	return 0, false
}

func (o *Orchestrator) notifyBatch(phase loader.State, images []*loader.Image) {
	if o.Printf == nil {
		return
	}
	o.Printf("orchestrator: batch notify phase=%s images=%d", phase, len(images))
}
