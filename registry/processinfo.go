package registry

// ImageInfo is one entry of the image array a debugger walks, matching
// dyld_image_info's field order in mach-o/dyld_images.h: load address,
// path pointer (represented here as the string itself, since this linker
// has no separate debuggee address space to point into), and the file
// modification date used to detect an image that changed on disk between
// runs.
type ImageInfo struct {
	LoadAddress uint64
	FilePath    string
	FileModDate int64
}

// ProcessInfo mirrors dyld_all_image_infos closely enough that a debugger
// written against the real structure's field order would need no
// translation beyond pointer-vs-value representation — the fidelity detail
// SPEC_FULL.md's supplemented-features section calls for beyond spec.md's
// looser "published at a well-known offset" description.
type ProcessInfo struct {
	Version                  uint32
	InfoArray                []ImageInfo
	LibSystemInitialized     bool
	DyldImageLoadAddress     uint64
	ErrorMessage             string
	TerminationFlags         uint64
	CoreSymbolicationShmPage uint64
	SystemOrderFlag          uint64
}

// Snapshot builds a ProcessInfo from the registry's current state, the
// operation a debugger attach or a crash reporter would trigger.
func (r *Registry) Snapshot(dyldLoadAddress uint64) ProcessInfo {
	images := r.All()
	info := ProcessInfo{
		Version:              15,
		InfoArray:            make([]ImageInfo, 0, len(images)),
		LibSystemInitialized: true,
		DyldImageLoadAddress: dyldLoadAddress,
	}
	for _, img := range images {
		info.InfoArray = append(info.InfoArray, ImageInfo{
			LoadAddress: img.LoadAddress,
			FilePath:    img.Path,
			FileModDate: img.Identity.Mtime,
		})
	}
	return info
}
