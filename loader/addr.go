package loader

import "unsafe"

// addressOf returns the address of a mapped region's backing array, used
// only to synthesize a plausible load address from wherever the host OS's
// mmap actually placed the reservation (this linker's stand-in for the
// kernel's own ASLR base selection).
func addressOf(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}
