package bootstrap

import (
	"fmt"
	"os"

	"github.com/appsworld/go-dyld/loader"
	"github.com/appsworld/go-dyld/orchestrator"
	"github.com/appsworld/go-dyld/pathresolver"
	"github.com/appsworld/go-dyld/registry"
)

// LaunchResult is everything a caller (typically cmd/dyldsim) needs after
// a successful launch: the process-wide registry and orchestrator, plus
// the fully linked main image ready for RunInitializers' entry-point
// caller to transfer control to.
type LaunchResult struct {
	Registry     *registry.Registry
	Orchestrator *orchestrator.Orchestrator
	Main         *loader.Image
	Options      Options
	Entry        ProcessEntry
}

// Launch sequences component J (this package) into E (pathresolver),
// F (registry), and G (orchestrator): parse the apple vector, load
// environment options (skipped for a restricted process), map the main
// executable, map and register every DYLD_INSERT_LIBRARIES entry ahead of
// the main image's own dependencies, then hand every inserted library plus
// main to Orchestrator.LinkAll as one set of roots for the full
// rebase/bind/initialize sequence. Matches dyld::_main()'s top-level shape
// in _examples/original_source/src/dyld.cpp: environment first, main image
// next, inserted libraries before recursing into real dependencies.
func Launch(mainPath string, apple []string) (*LaunchResult, error) {
	entry := ParseAppleVector(apple)
	if entry.ExecutablePath == "" {
		entry.ExecutablePath = mainPath
	}

	restricted := IsRestricted()
	var opts Options
	if restricted {
		opts = DefaultOptions()
	} else {
		opts = LoadOptions()
	}

	reg := registry.New()
	orch := orchestrator.New(reg)
	orch.Search = pathresolver.SearchConfig{
		LibraryPath:            opts.LibraryPath,
		FrameworkPath:          opts.FrameworkPath,
		FallbackLibraryPath:    opts.FallbackLibraryPath,
		FallbackFrameworkPath:  opts.FallbackFrameworkPath,
		VersionedLibraryPath:   opts.VersionedLibraryPath,
		VersionedFrameworkPath: opts.VersionedFrameworkPath,
	}
	orch.ImageSuffix = opts.ImageSuffix
	if opts.Print != 0 {
		orch.Printf = func(format string, args ...any) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}

	ctx := orch.Context()

	main, err := loader.LoadFromFile(entry.ExecutablePath, 0, false, ctx)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: failed to map main executable %s: %w", entry.ExecutablePath, err)
	}
	main.IsMainExecutable = true
	main.NeverUnload = true
	reg.Add(main, false)

	var inserted []*loader.Image
	for _, insert := range opts.InsertLibraries {
		img, err := loader.LoadFromFile(insert, 0, false, ctx)
		if err != nil {
			// DYLD_INSERT_LIBRARIES naming a missing file is a launch
			// failure in real dyld too, not a silent skip.
			return nil, fmt.Errorf("bootstrap: failed to map inserted library %s: %w", insert, err)
		}
		img.NeverUnload = true
		reg.Add(img, false)
		inserted = append(inserted, img)
	}

	// Inserted libraries are roots, not main's dependencies, so they must
	// go through rebase/bind/init themselves; LinkAll drives every root
	// through one shared pass and runs initializers in root order, with
	// main last, matching dyld::initializeMainExecutable's sequencing.
	roots := append(inserted, main)
	if err := orch.LinkAll(roots, ctx); err != nil {
		return nil, fmt.Errorf("bootstrap: link failed: %w", err)
	}

	return &LaunchResult{Registry: reg, Orchestrator: orch, Main: main, Options: opts, Entry: entry}, nil
}
