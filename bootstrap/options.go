// Package bootstrap implements spec component J: process entry parsing
// (the apple[] auxiliary vector), DYLD_*-style environment parsing,
// restricted-process detection, inserted-library load ordering, and the
// top-level Launch entry point sequencing every other component.
package bootstrap

import (
	"strings"

	"github.com/xyproto/env/v2"
)

// PrintFlags is the DYLD_PRINT_* bitmask; each bit gates one category of
// fmt.Fprintf(os.Stderr, ...) logging rather than routing through a
// logging framework, matching this codebase's other caller-gated
// fmt.Printf-style output.
type PrintFlags uint32

const (
	PrintOpts PrintFlags = 1 << iota
	PrintEnv
	PrintLibraries
	PrintStatistics
	PrintBindings
	PrintRebasings
	PrintInitializers
	PrintSegments
	PrintRPaths
	PrintWeakBindings
	PrintWarnings
	PrintInterposing
	PrintCSNotifications
)

// Options is every DYLD_* environment variable this linker recognizes,
// collected once at launch. Field names drop the DYLD_ prefix spec §6's
// table already omits.
type Options struct {
	FrameworkPath          []string
	FallbackFrameworkPath  []string
	LibraryPath            []string
	FallbackLibraryPath    []string
	VersionedLibraryPath   []string
	VersionedFrameworkPath []string
	InsertLibraries        []string
	RootPath               []string
	ImageSuffix            string
	BindAtLaunch           bool
	ForceFlatNamespace     bool
	SharedRegion           string // "use" (default) / "private" / "avoid"
	DisablePrefetch        bool
	DisableDofs            bool
	Print                  PrintFlags
}

// LoadOptions reads every DYLD_* variable from the process environment via
// github.com/xyproto/env/v2, the same helper xyproto-flapc and
// xyproto-vibe67 use for their own configuration. Restricted processes
// never call this; Launch checks IsRestricted first and substitutes
// DefaultOptions() instead, per spec §6's "ignored silently in restricted
// processes".
func LoadOptions() Options {
	return Options{
		FrameworkPath:          splitColonList(env.Str("DYLD_FRAMEWORK_PATH")),
		FallbackFrameworkPath:  splitColonList(env.Str("DYLD_FALLBACK_FRAMEWORK_PATH")),
		LibraryPath:            splitColonList(env.Str("DYLD_LIBRARY_PATH")),
		FallbackLibraryPath:    splitColonList(env.Str("DYLD_FALLBACK_LIBRARY_PATH")),
		VersionedLibraryPath:   splitColonList(env.Str("DYLD_VERSIONED_LIBRARY_PATH")),
		VersionedFrameworkPath: splitColonList(env.Str("DYLD_VERSIONED_FRAMEWORK_PATH")),
		InsertLibraries:        splitColonList(env.Str("DYLD_INSERT_LIBRARIES")),
		RootPath:               splitColonList(env.Str("DYLD_ROOT_PATH")),
		ImageSuffix:            env.Str("DYLD_IMAGE_SUFFIX"),
		BindAtLaunch:           env.Bool("DYLD_BIND_AT_LAUNCH"),
		ForceFlatNamespace:     env.Bool("DYLD_FORCE_FLAT_NAMESPACE"),
		SharedRegion:           env.Str("DYLD_SHARED_REGION", "use"),
		DisablePrefetch:        env.Bool("DYLD_DISABLE_PREFETCH"),
		DisableDofs:            env.Bool("DYLD_DISABLE_DOFS"),
		Print:                  parsePrintFlags(),
	}
}

// DefaultOptions is what a restricted process sees regardless of its real
// environment: every override list empty, every toggle at its safe default.
func DefaultOptions() Options {
	return Options{SharedRegion: "use"}
}

func parsePrintFlags() PrintFlags {
	var p PrintFlags
	set := func(name string, bit PrintFlags) {
		if env.Bool(name) {
			p |= bit
		}
	}
	set("DYLD_PRINT_OPTS", PrintOpts)
	set("DYLD_PRINT_ENV", PrintEnv)
	set("DYLD_PRINT_LIBRARIES", PrintLibraries)
	set("DYLD_PRINT_STATISTICS", PrintStatistics)
	set("DYLD_PRINT_BINDINGS", PrintBindings)
	set("DYLD_PRINT_REBASINGS", PrintRebasings)
	set("DYLD_PRINT_INITIALIZERS", PrintInitializers)
	set("DYLD_PRINT_SEGMENTS", PrintSegments)
	set("DYLD_PRINT_RPATHS", PrintRPaths)
	set("DYLD_PRINT_WEAK_BINDINGS", PrintWeakBindings)
	set("DYLD_PRINT_WARNINGS", PrintWarnings)
	set("DYLD_PRINT_INTERPOSING", PrintInterposing)
	set("DYLD_PRINT_CS_NOTIFICATIONS", PrintCSNotifications)
	return p
}

func splitColonList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ":")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
