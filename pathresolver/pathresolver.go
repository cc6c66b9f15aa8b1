// Package pathresolver implements spec component E: turning a dependency's
// recorded name (possibly an @executable_path/@loader_path/@rpath token) and
// the process's search-path configuration into the ordered list of
// candidate filesystem paths the loader should try, in the precedence order
// dyld.cpp itself uses.
package pathresolver

import (
	"path/filepath"
	"strings"
)

const (
	tokenExecutablePath = "@executable_path"
	tokenLoaderPath     = "@loader_path"
	tokenRPath          = "@rpath"
)

// Context is the small amount of process state path expansion needs: where
// the main executable lives, where the image doing the loading lives, and
// the rpath search list accumulated from every LC_RPATH command seen so far
// (the image's own rpaths plus everything above it in the load chain).
type Context struct {
	ExecutablePath string
	LoaderPath     string // directory of the image whose dependency this is
	RPaths         []string
	RootPath       []string // DYLD_ROOT_PATH prefixes, applied to absolute candidates
	Restricted     bool     // hardened/restricted process: SearchPaths ignores every environment search-path list
	ImageSuffix    string   // DYLD_IMAGE_SUFFIX; empty means no suffix preference
}

// withSuffix prepends path's suffixed variant (the suffix inserted before
// the final extension, e.g. "libFoo.dylib" -> "libFoo_debug.dylib") ahead
// of path itself, per spec §4.E step 7: "whenever a candidate path is
// formed, also try the same path with the suffix inserted before the
// extension, and prefer the suffixed version if it exists." A candidate
// list is built by trying each in order and stopping at the first that
// exists, so placing the suffixed path first is what makes it preferred.
func withSuffix(path, suffix string) []string {
	if suffix == "" {
		return []string{path}
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return []string{base + suffix + ext, path}
}

func withSuffixAll(paths []string, suffix string) []string {
	if suffix == "" {
		return paths
	}
	out := make([]string, 0, len(paths)*2)
	for _, p := range paths {
		out = append(out, withSuffix(p, suffix)...)
	}
	return out
}

// Candidates returns the ordered list of concrete paths to try for name, as
// recorded in a dependency load command. The caller stops at the first
// path that exists and opens as a valid Mach-O image.
func Candidates(name string, ctx Context) []string {
	switch {
	case strings.HasPrefix(name, tokenExecutablePath+"/"):
		rel := strings.TrimPrefix(name, tokenExecutablePath+"/")
		return rooted(filepath.Join(filepath.Dir(ctx.ExecutablePath), rel), ctx)
	case strings.HasPrefix(name, tokenLoaderPath+"/"):
		rel := strings.TrimPrefix(name, tokenLoaderPath+"/")
		return rooted(filepath.Join(ctx.LoaderPath, rel), ctx)
	case strings.HasPrefix(name, tokenRPath+"/"):
		rel := strings.TrimPrefix(name, tokenRPath+"/")
		var out []string
		for _, rp := range expandTokens(ctx.RPaths, ctx) {
			out = append(out, rooted(filepath.Join(rp, rel), ctx)...)
		}
		return out
	case filepath.IsAbs(name):
		return rooted(name, ctx)
	default:
		return rooted(name, ctx)
	}
}

// expandTokens resolves @executable_path/@loader_path tokens that can
// themselves appear inside an LC_RPATH entry, before that rpath is combined
// with an @rpath/ dependency name.
func expandTokens(rpaths []string, ctx Context) []string {
	out := make([]string, 0, len(rpaths))
	for _, rp := range rpaths {
		switch {
		case strings.HasPrefix(rp, tokenExecutablePath):
			out = append(out, filepath.Join(filepath.Dir(ctx.ExecutablePath), strings.TrimPrefix(rp, tokenExecutablePath)))
		case strings.HasPrefix(rp, tokenLoaderPath):
			out = append(out, filepath.Join(ctx.LoaderPath, strings.TrimPrefix(rp, tokenLoaderPath)))
		default:
			out = append(out, rp)
		}
	}
	return out
}

// rooted prepends every DYLD_ROOT_PATH prefix to an absolute path, falling
// back to the unprefixed path itself, matching dyld's root-path override
// behavior for restricted/simulator-style root redirection. Every path it
// produces is expanded into its image-suffix variants before being
// returned, so the suffix preference applies uniformly under every root.
func rooted(path string, ctx Context) []string {
	var bases []string
	if len(ctx.RootPath) == 0 || !filepath.IsAbs(path) {
		bases = []string{path}
	} else {
		bases = make([]string, 0, len(ctx.RootPath)+1)
		for _, root := range ctx.RootPath {
			bases = append(bases, filepath.Join(root, path))
		}
		bases = append(bases, path)
	}
	return withSuffixAll(bases, ctx.ImageSuffix)
}

// SearchPaths builds the fallback candidate list for an unqualified (plain
// leaf-name or relative) dependency, applying DYLD_LIBRARY_PATH /
// DYLD_FRAMEWORK_PATH ahead of the name's own directory, then
// DYLD_FALLBACK_* after it, the precedence order spec §4.E and §6 describe.
// isFramework selects the framework search lists over the library ones.
type SearchConfig struct {
	LibraryPath            []string
	FrameworkPath          []string
	FallbackLibraryPath    []string
	FallbackFrameworkPath  []string
	VersionedLibraryPath   []string
	VersionedFrameworkPath []string
}

func SearchPaths(name string, isFramework bool, cfg SearchConfig, ctx Context) []string {
	var order [][]string
	if ctx.Restricted {
		// Restricted processes ignore every *_PATH override entirely,
		// including the fallback lists, and try just the name as given,
		// matching dyld's hardened-runtime posture.
		order = nil
	} else if isFramework {
		order = [][]string{cfg.VersionedFrameworkPath, cfg.FrameworkPath}
	} else {
		order = [][]string{cfg.VersionedLibraryPath, cfg.LibraryPath}
	}

	var out []string
	for _, list := range order {
		for _, dir := range list {
			out = append(out, filepath.Join(dir, name))
		}
	}
	out = append(out, name)
	if !ctx.Restricted {
		fallback := cfg.FallbackLibraryPath
		if isFramework {
			fallback = cfg.FallbackFrameworkPath
		}
		for _, dir := range fallback {
			out = append(out, filepath.Join(dir, name))
		}
	}
	return withSuffixAll(out, ctx.ImageSuffix)
}

// IsFrameworkPath reports whether path's trailing path component matches
// its containing .framework directory's base name, e.g.
// ".../Foo.framework/Foo" — dyld.cpp's isFrameworkPath check, not a plain
// substring test, so "Foo.framework/NotFoo" does not match.
func IsFrameworkPath(path string) bool {
	dir, base := filepath.Split(path)
	dir = strings.TrimSuffix(dir, "/")
	frameworkDir := filepath.Base(dir)
	if !strings.HasSuffix(frameworkDir, ".framework") {
		return false
	}
	return strings.TrimSuffix(frameworkDir, ".framework") == base
}
