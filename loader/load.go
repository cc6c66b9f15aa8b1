package loader

import (
	"bytes"
	"fmt"
	"os"
	"syscall"

	macho "github.com/appsworld/go-dyld"
)

// LoadFromFile implements component D's load-from-file: read path, parse
// its Mach-O headers, verify the code signature if present, map its
// segments, and register its dependency list (unresolved — recursive-load-
// libraries fills in the []*Dependency.Image pointers afterward).
func LoadFromFile(path string, preferredBase uint64, wantSlide bool, ctx *LinkContext) (*Image, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(ErrMalformedImage, path, "failed to read file", err)
	}
	img, err := loadFromBytes(path, raw, preferredBase, wantSlide, ctx)
	if err != nil {
		return nil, err
	}
	if id, statErr := StatIdentity(path); statErr == nil {
		img.Identity = id
	}
	return img, nil
}

// StatIdentity stats path and returns the (device, inode, mtime) triple spec
// §3 Invariant 1 keys image identity on, letting a caller check
// LinkContext.FindImageByIdentity before mapping a candidate path that might
// be the same physical file reached under a different name (symlink,
// relative path, a second @rpath candidate).
func StatIdentity(path string) (Identity, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Identity{}, err
	}
	id := Identity{Mtime: fi.ModTime().UnixNano()}
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		id.Device = uint64(st.Dev)
		id.Inode = uint64(st.Ino)
	}
	return id, nil
}

// LoadFromMemory is LoadFromFile's counterpart for images that are already
// in memory (the main executable handed to bootstrap by the kernel, or a
// shared-cache image whose bytes are a view into the cache mapping rather
// than a standalone file).
func LoadFromMemory(path string, raw []byte, preferredBase uint64, wantSlide bool, ctx *LinkContext) (*Image, error) {
	return loadFromBytes(path, raw, preferredBase, wantSlide, ctx)
}

func loadFromBytes(path string, raw []byte, preferredBase uint64, wantSlide bool, ctx *LinkContext) (*Image, error) {
	f, err := macho.NewFile(bytes.NewReader(raw))
	if err != nil {
		return nil, newError(ErrMalformedImage, path, "failed to parse mach-o headers", err)
	}
	switch f.CPU {
	case 0:
		return nil, newError(ErrUnsupportedArch, path, "missing cpu type", nil)
	}

	if err := verifySignature(f, path); err != nil {
		return nil, err
	}

	loadAddr, slide, segs, err := mapImage(f, raw, preferredBase, wantSlide)
	if err != nil {
		if le, ok := err.(*LinkError); ok {
			le.Path = path
		}
		return nil, err
	}

	img := &Image{
		Path:        path,
		RealPath:    path,
		File:        f,
		LoadAddress: loadAddr,
		Slide:       slide,
		Segments:    segs,
		state:       StateMapped,
	}

	if id := f.DylibID(); id != nil {
		img.InstallName = id.Name
		img.CurrentVersion = id.CurrentVersion
		img.CompatVersion = id.CompatVersion
	}

	for _, name := range f.ImportedLibraries() {
		img.Dependencies = append(img.Dependencies, &Dependency{Name: name})
	}
	// Re-classify weak/upward/re-export edges; ImportedLibraries collapses
	// all dylib-load flavors into a flat name list, so walk the load
	// commands once more for the qualifiers recursive-load-libraries needs.
	classifyDependencies(f, img)

	ctx.logf("loader: mapped %s at %#x (slide=%#x)", path, img.LoadAddress, img.Slide)
	return img, nil
}

func classifyDependencies(f *macho.File, img *Image) {
	index := map[string]*Dependency{}
	for _, d := range img.Dependencies {
		index[d.Name] = d
	}
	for _, l := range f.Loads {
		switch lib := l.(type) {
		case *macho.Dylib:
			if d, ok := index[lib.Name]; ok {
				d.RequestedCompat = lib.CompatVersion
			}
		case *macho.WeakDylib:
			if d, ok := index[lib.Name]; ok {
				d.Weak = true
				d.RequestedCompat = lib.CompatVersion
			}
		case *macho.UpwardDylib:
			if d, ok := index[lib.Name]; ok {
				d.Upward = true
				d.RequestedCompat = lib.CompatVersion
			}
		case *macho.ReExportDylib:
			if d, ok := index[lib.Name]; ok {
				d.ReExport = true
				d.RequestedCompat = lib.CompatVersion
			}
		}
	}
}

func verifySignature(f *macho.File, path string) error {
	cs := f.CodeSignature()
	if cs == nil {
		return nil // unsigned images are tolerated, matching dyld's default posture off Apple platforms
	}
	if len(cs.CodeDirectories) == 0 {
		return newError(ErrSignatureInvalid, path, "code signature load command present but no code directory", nil)
	}
	return nil
}

// RecursiveLoadLibraries walks img's dependency list, resolving each via
// ctx.LoadLibrary (which applies the search-path rules in pathresolver and
// recurses into that library's own dependencies), and advances img to
// StateDependentsMapped once every dependency — direct and transitive — has
// a mapped Image. Missing non-weak libraries are fatal; missing weak ones
// are left with a nil Dependency.Image. Every resolved dependency must also
// satisfy spec §4.D's compatibility check (actual.compat >= requested.compat);
// a resolved library whose own LC_ID_DYLIB compat-version has regressed
// below what img was built against fails with ErrVersionMismatch, the same
// way a missing library fails with ErrMissingLibrary.
func RecursiveLoadLibraries(img *Image, ctx *LinkContext, seen map[*Image]bool) error {
	if seen == nil {
		seen = map[*Image]bool{}
	}
	if seen[img] {
		return nil
	}
	seen[img] = true

	for _, dep := range img.Dependencies {
		if dep.Image != nil {
			continue
		}
		lib, err := ctx.LoadLibrary(dep.Name, img)
		if err != nil {
			if dep.Weak {
				ctx.logf("loader: weak dependency %s of %s not found, continuing", dep.Name, img.Path)
				continue
			}
			return newError(ErrMissingLibrary, img.Path, fmt.Sprintf("cannot load %s", dep.Name), err)
		}
		if !compatVersionSatisfied(lib.CompatVersion, dep.RequestedCompat) {
			if dep.Weak {
				ctx.logf("loader: weak dependency %s of %s has compat version %s, want >= %s, continuing",
					dep.Name, img.Path, lib.CompatVersion, dep.RequestedCompat)
				continue
			}
			return newError(ErrVersionMismatch, img.Path, fmt.Sprintf(
				"%s has compat version %s, %s requires >= %s", dep.Name, lib.CompatVersion, img.Path, dep.RequestedCompat), nil)
		}
		dep.Image = lib
		if err := RecursiveLoadLibraries(lib, ctx, seen); err != nil {
			return err
		}
	}
	return img.transition(StateDependentsMapped)
}
