// Package registry implements spec component F: the process-wide set of
// mapped images, a fast address-range index, path and identity lookup, the
// interposition tuple list, and the dyld_all_image_infos-compatible
// process-info projection debuggers read.
package registry

import (
	"sort"
	"sync"

	"github.com/appsworld/go-dyld/loader"
)

// rangeEntry is one contiguous address range owned by an image, the unit
// the address index searches over; an image with N segments contributes up
// to N entries (segments need not be contiguous with each other).
type rangeEntry struct {
	lo, hi uint64 // [lo, hi)
	image  *loader.Image
}

// Interposing is one DYLD_INTERPOSE tuple read from an image's __interpose
// section: every future reference to Replacee should instead resolve to
// Replacement.
type Interposing struct {
	Image       *loader.Image
	Replacement uint64
	Replacee    uint64
}

// Registry is the process-wide linker state every loaded Image is
// registered into. Safe for concurrent use: Lookup takes the write lock
// (it re-sorts the range index when that is stale); the other lookups take
// the read lock.
type Registry struct {
	mu sync.RWMutex

	images     []*loader.Image
	byPath     map[string]*loader.Image
	byIdentity map[loader.Identity][]*loader.Image // multiple entries only when a clone was explicitly allowed

	ranges      []rangeEntry // kept sorted by lo for binary search
	rangesDirty bool

	interposing []Interposing

	nextCloneID int
}

func New() *Registry {
	return &Registry{
		byPath:     map[string]*loader.Image{},
		byIdentity: map[loader.Identity][]*loader.Image{},
	}
}

// Add registers img. allowClone permits a second entry sharing img's
// (device, inode) identity — the bundle-clone case spec §9 open question 3
// covers — and assigns it a fresh, nonzero CloneID. Without allowClone, Add
// enforces spec §3 Invariant 1 itself: if img's identity already names a
// registered image, that existing image is returned and img is never
// indexed, so a caller that skipped the FindImageByIdentity check still
// cannot register a second Image for one physical file.
func (r *Registry) Add(img *loader.Image, allowClone bool) *loader.Image {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.byIdentity[img.Identity]; len(existing) > 0 {
		if allowClone {
			r.nextCloneID++
			img.CloneID = r.nextCloneID
		} else {
			return existing[0]
		}
	}

	r.images = append(r.images, img)
	r.byPath[img.Path] = img
	r.byIdentity[img.Identity] = append(r.byIdentity[img.Identity], img)
	for _, s := range img.Segments {
		r.ranges = append(r.ranges, rangeEntry{
			lo:    s.LoadedAddr(img.Slide),
			hi:    s.LoadedAddr(img.Slide) + s.Size,
			image: img,
		})
	}
	r.rangesDirty = true
	return img
}

// Remove drops img from every index; orchestrator's garbage collector
// calls it for each image its mark phase did not reach. It does not unmap
// the image's segments.
func (r *Registry) Remove(img *loader.Image) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byPath, img.Path)
	if list := r.byIdentity[img.Identity]; len(list) > 0 {
		kept := list[:0]
		for _, c := range list {
			if c != img {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(r.byIdentity, img.Identity)
		} else {
			r.byIdentity[img.Identity] = kept
		}
	}
	for i, im := range r.images {
		if im == img {
			r.images = append(r.images[:i], r.images[i+1:]...)
			break
		}
	}
	kept := r.ranges[:0]
	for _, rg := range r.ranges {
		if rg.image != img {
			kept = append(kept, rg)
		}
	}
	r.ranges = kept
	r.rangesDirty = true
}

// ByPath returns the already-mapped image at path, or nil.
func (r *Registry) ByPath(path string) *loader.Image {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byPath[path]
}

// ByIdentity returns the first non-clone image matching id, or nil.
func (r *Registry) ByIdentity(id loader.Identity) *loader.Image {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if list := r.byIdentity[id]; len(list) > 0 {
		return list[0]
	}
	return nil
}

// Lookup finds the image whose mapped range contains addr (the dladdr
// primitive, spec §9 open question 3): if multiple clones' ranges overlap
// — which should not normally happen since clones get distinct mappings —
// whichever sorts first by range start wins; not guaranteed stable across
// clone generations, matching the documented ambiguity.
func (r *Registry) Lookup(addr uint64) *loader.Image {
	r.mu.Lock()
	if r.rangesDirty {
		sort.Slice(r.ranges, func(i, j int) bool { return r.ranges[i].lo < r.ranges[j].lo })
		r.rangesDirty = false
	}
	ranges := r.ranges
	r.mu.Unlock()

	// Binary search for the last range starting at or before addr, then
	// scan backward briefly to tolerate overlapping ranges should any
	// exist (adjacent same-image segments never overlap; clones might,
	// in pathological address-space-exhaustion configurations).
	i := sort.Search(len(ranges), func(i int) bool { return ranges[i].lo > addr })
	for j := i - 1; j >= 0 && j >= i-4; j-- {
		if addr >= ranges[j].lo && addr < ranges[j].hi {
			return ranges[j].image
		}
	}
	return nil
}

// All returns a snapshot of every registered image, in registration order.
func (r *Registry) All() []*loader.Image {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*loader.Image, len(r.images))
	copy(out, r.images)
	return out
}

// RegisterInterposing records one interposing tuple; wired directly as
// LinkContext.RegisterInterposing.
func (r *Registry) RegisterInterposing(image *loader.Image, replacement, replacee uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interposing = append(r.interposing, Interposing{Image: image, Replacement: replacement, Replacee: replacee})
}

// Interposed returns replacement, true if addr has been interposed;
// orchestrator's resolveOrdinary consults this after a custom
// SymbolResolver finds an address.
func (r *Registry) Interposed(addr uint64) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, tup := range r.interposing {
		if tup.Replacee == addr {
			return tup.Replacement, true
		}
	}
	return addr, false
}
