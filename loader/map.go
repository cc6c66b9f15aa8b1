package loader

import (
	"fmt"

	"github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"

	macho "github.com/appsworld/go-dyld"
)

// mapImage performs spec component B: reserve one contiguous anonymous
// range sized to cover every segment at its preferred addresses, then map
// each segment's file bytes into the matching slice of that reservation
// and apply its declared protections. It is grounded on
// ImageLoaderMachO::mapSegments, simplified because this linker never
// transfers control to the mapped code — it only needs the address-space
// bookkeeping (ranges, slide) the rest of the linker reasons about.
//
// f must already have its segment list parsed (macho.File.Segments()).
func mapImage(f *macho.File, data []byte, preferredBase uint64, wantSlide bool) (loadAddr uint64, slide int64, segs []SegmentMapping, err error) {
	segments := f.Segments()
	if len(segments) == 0 {
		return 0, 0, nil, newError(ErrMalformedImage, "", "image has no LC_SEGMENT commands", nil)
	}

	lo, hi := segments[0].Addr, segments[0].Addr+segments[0].Memsz
	for _, s := range segments[1:] {
		if s.Addr < lo {
			lo = s.Addr
		}
		if end := s.Addr + s.Memsz; end > hi {
			hi = end
		}
	}
	total := hi - lo
	if total == 0 {
		return 0, 0, nil, newError(ErrMalformedImage, "", "image has zero-sized address range", nil)
	}

	reservation, err := mmap.MapRegion(nil, int(total), mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return 0, 0, nil, newError(ErrAddressSpaceBusy, "", "failed to reserve address space", err)
	}

	loadAddr = preferredBase
	if wantSlide {
		// The reservation's actual address stands in for ASLR's chosen
		// base; the slide is the delta from the image's own preferred
		// first-segment address to wherever the OS actually put it.
		loadAddr = uint64(addressOf(reservation))
	}
	slide = int64(loadAddr) - int64(lo)

	segs = make([]SegmentMapping, len(segments))
	for i, s := range segments {
		relStart := s.Addr - lo
		relEnd := relStart + s.Memsz
		if relEnd > uint64(len(reservation)) {
			return 0, 0, nil, newError(ErrMalformedImage, "", fmt.Sprintf("segment %s exceeds reservation", s.Name), nil)
		}
		dst := reservation[relStart:relEnd]
		if s.Filesz > 0 {
			fileEnd := s.Offset + s.Filesz
			if fileEnd > uint64(len(data)) {
				return 0, 0, nil, newError(ErrMalformedImage, "", fmt.Sprintf("segment %s file range exceeds image data", s.Name), nil)
			}
			copy(dst, data[s.Offset:fileEnd])
		}
		segs[i] = SegmentMapping{
			Name:          s.Name,
			PreferredAddr: s.Addr,
			Size:          s.Memsz,
			FileOffset:    s.Offset,
			FileSize:      s.Filesz,
			Prot:          machoProtToLocal(int(s.Prot)),
			MaxProt:       machoProtToLocal(int(s.Maxprot)),
			data:          dst,
		}
	}
	if err := applyProtections(reservation, segs, lo); err != nil {
		return 0, 0, nil, err
	}
	return loadAddr, slide, segs, nil
}

// applyProtections sets each segment's initial protection from its load
// command on the segment's byte range. It runs at map time, before any
// rebase or bind write; writable __DATA stays RW, read-only __TEXT drops
// to RX/R, and no later pass adds or removes write permission around
// fix-ups.
func applyProtections(reservation mmap.MMap, segs []SegmentMapping, base uint64) error {
	for _, s := range segs {
		relStart := s.PreferredAddr - base
		relEnd := relStart + s.Size
		if relEnd > uint64(len(reservation)) || s.Size == 0 {
			continue
		}
		prot := unixProt(s.Prot)
		if err := unix.Mprotect(reservation[relStart:relEnd], prot); err != nil {
			// Execute permission on a foreign-architecture Mach-O
			// segment is routinely refused by the host kernel; this
			// linker never transfers control to the mapped bytes, so
			// a failed exec-bit request is not fatal: the range is
			// protected without the exec bit instead, and nothing is
			// reported.
			if prot&unix.PROT_EXEC != 0 {
				_ = unix.Mprotect(reservation[relStart:relEnd], prot&^unix.PROT_EXEC)
				continue
			}
			return newError(ErrAddressSpaceBusy, "", "mprotect failed", err)
		}
	}
	return nil
}

func machoProtToLocal(vmProt int) int {
	var p int
	if vmProt&0x1 != 0 {
		p |= ProtRead
	}
	if vmProt&0x2 != 0 {
		p |= ProtWrite
	}
	if vmProt&0x4 != 0 {
		p |= ProtExec
	}
	return p
}

func unixProt(p int) int {
	var v int
	if p&ProtRead != 0 {
		v |= unix.PROT_READ
	}
	if p&ProtWrite != 0 {
		v |= unix.PROT_WRITE
	}
	if p&ProtExec != 0 {
		v |= unix.PROT_EXEC
	}
	return v
}
