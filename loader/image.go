package loader

import (
	"fmt"
	"sync"

	macho "github.com/appsworld/go-dyld"
)

// State is a position in the image lifecycle spec.md component 3
// describes: every image moves forward through these states exactly once,
// except Terminated which can be reached from any state when the image's
// reference count drops to zero during garbage collection.
type State int

const (
	StateMapped State = iota
	StateDependentsMapped
	StateRebased
	StateBound
	StateDependentsInitialized
	StateInitialized
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateMapped:
		return "mapped"
	case StateDependentsMapped:
		return "dependents-mapped"
	case StateRebased:
		return "rebased"
	case StateBound:
		return "bound"
	case StateDependentsInitialized:
		return "dependents-initialized"
	case StateInitialized:
		return "initialized"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Identity is the (device, inode, mtime) triple the linker uses to decide
// whether two paths name the same file on disk, the check load-from-file
// runs before mapping a library a second time.
type Identity struct {
	Device uint64
	Inode  uint64
	Mtime  int64
}

// SegmentMapping records where one Mach-O segment landed in this process's
// address space once the image was mapped and slid.
type SegmentMapping struct {
	Name          string
	PreferredAddr uint64
	Size          uint64
	FileOffset    uint64
	FileSize      uint64
	Prot          int // mmap protection the segment was mapped with
	MaxProt       int
	data          []byte // present only for the in-memory mapper used by tests/dyldsim
}

// LoadedAddr returns where this segment actually sits once slide is applied.
func (s SegmentMapping) LoadedAddr(slide int64) uint64 {
	return uint64(int64(s.PreferredAddr) + slide)
}

// Image is one mapped Mach-O binary participating in the link: the
// in-process analogue of dyld's ImageLoaderMachO.
type Image struct {
	mu sync.RWMutex

	Path     string
	RealPath string // after symlink resolution
	Identity Identity

	File *macho.File // parsed headers; never nil once state >= StateMapped

	LoadAddress uint64
	Slide       int64
	Segments    []SegmentMapping

	InstallName    string // LC_ID_DYLIB name, empty for the main executable
	CompatVersion  string
	CurrentVersion string

	Dependencies []*Dependency

	state State

	// RefCount is a count of live references to this image: direct
	// dependents plus any dlopen handles. Nothing in this tree updates it,
	// and garbage collection (orchestrator component G) does not read it:
	// GC deregisters images by reachability from the roots it is given.
	RefCount int

	// DynamicReferences are edges created by dlopen/dlsym rather than by a
	// load command, tracked separately so the GC mark phase can still
	// traverse them (spec §4.G).
	DynamicReferences []*Image

	IsMainExecutable bool
	NeverUnload      bool // set for images loaded from the shared cache
	FromSharedCache  bool

	// CloneID distinguishes multiple mapped copies of the same
	// (device, inode) identity (spec §9 open question 3: bundle clones
	// loaded a second time under a distinct path). Zero means "not a
	// clone" — the ordinary, single-mapping case.
	CloneID int

	initializersRun bool
}

// Dependency is one LC_LOAD_DYLIB-family edge from an image to a library it
// requires, recorded before the library is necessarily resolved so cycles
// in the dependency graph (two dylibs each depending on the other) can be
// represented and walked without infinite recursion.
type Dependency struct {
	Name     string
	Weak     bool
	Upward   bool
	ReExport bool

	// RequestedCompat is the dylib's compat-version field from the
	// LC_*_DYLIB load command that named it, the version the dependent was
	// built against. RecursiveLoadLibraries requires the resolved image's
	// own CompatVersion to be >= this before accepting the dependency.
	RequestedCompat string

	Image *Image // nil until recursive-load-libraries resolves it
}

func (img *Image) State() State {
	img.mu.RLock()
	defer img.mu.RUnlock()
	return img.state
}

// transition enforces that the state machine only ever moves forward (or
// to Terminated), mirroring the monotonic state dyld's ImageLoader keeps.
func (img *Image) transition(next State) error {
	img.mu.Lock()
	defer img.mu.Unlock()
	if next == StateTerminated {
		img.state = StateTerminated
		return nil
	}
	if next < img.state {
		return newError(ErrMalformedImage, img.Path,
			fmt.Sprintf("illegal state transition %s -> %s", img.state, next), nil)
	}
	img.state = next
	return nil
}

// MaxProt/Prot values, expressed independent of any particular OS mmap
// constant set so the segment mapper (map.go) can translate them.
const (
	ProtNone  = 0
	ProtRead  = 1 << 0
	ProtWrite = 1 << 1
	ProtExec  = 1 << 2
)
