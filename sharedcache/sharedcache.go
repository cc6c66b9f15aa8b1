// Package sharedcache implements spec component H: parsing a
// dyld_shared_cache file's header and mapping table, walking its
// slide-info page chains, and the cache-vs-disk override check (spec §8
// scenario 6). Field layout is grounded on
// _examples/original_source's launch-cache/dyld_cache_format.h.
package sharedcache

import (
	"encoding/binary"
	"fmt"
)

// Magic is the fixed 16-byte prefix every dyld_shared_cache file starts
// with, e.g. "dyld_v1  arm64e\x00".
const magicSize = 16

// Header mirrors dyld_cache_header's field layout far enough to support
// every mapping and image-table lookup this linker needs, including the
// fields spec.md's distillation omitted (CodeSignatureOffset/Size,
// ImagesOffset/Count, and the original SlideInfo fields superseded by the
// newer per-mapping slide info list — both are kept since real caches still
// carry the legacy fields even when empty).
type Header struct {
	Magic                  [magicSize]byte
	MappingOffset          uint32
	MappingCount           uint32
	ImagesOffsetOld        uint32
	ImagesCountOld         uint32
	DyldBaseAddress        uint64
	CodeSignatureOffset    uint64
	CodeSignatureSize      uint64
	SlideInfoOffsetUnused  uint64
	SlideInfoSizeUnused    uint64
	LocalSymbolsOffset     uint64
	LocalSymbolsSize       uint64
	UUID                   [16]byte
	CacheType              uint64
	BranchPoolsOffset      uint32
	BranchPoolsCount       uint32
	AccelerateInfoAddr     uint64
	AccelerateInfoSize     uint64
	ImagesTextOffset       uint64
	ImagesTextCount        uint64
	MappingWithSlideOffset uint32
	MappingWithSlideCount  uint32
}

const headerWireSize = magicSize + 4*4 + 8*7 + 16 + 8 + 4*2 + 8*2 + 8*2 + 4*2

// MappingInfo is one of the (usually three: __TEXT RX, __DATA RW,
// __LINKEDIT RO) regions the cache reserves as one contiguous mapping,
// matching dyld_cache_mapping_info.
type MappingInfo struct {
	Address    uint64
	Size       uint64
	FileOffset uint64
	MaxProt    uint32
	InitProt   uint32
}

// ImageInfo is one entry of the cache's embedded image table: the install
// name and its offset within the cache, enough to resolve a dependency
// name against the cache before falling back to disk.
type ImageInfo struct {
	Address    uint64
	ModTime    uint64
	Inode      uint64
	PathOffset uint32
	Name       string
}

// ParseHeader reads and validates a cache file's header from the start of
// data, returning the mapping table alongside it since nearly every caller
// needs both together.
func ParseHeader(data []byte) (Header, []MappingInfo, error) {
	if len(data) < headerWireSize {
		return Header{}, nil, fmt.Errorf("sharedcache: truncated header (%d bytes)", len(data))
	}
	var h Header
	copy(h.Magic[:], data[:magicSize])
	bo := binary.LittleEndian
	p := magicSize
	read32 := func() uint32 { v := bo.Uint32(data[p:]); p += 4; return v }
	read64 := func() uint64 { v := bo.Uint64(data[p:]); p += 8; return v }

	h.MappingOffset = read32()
	h.MappingCount = read32()
	h.ImagesOffsetOld = read32()
	h.ImagesCountOld = read32()
	h.DyldBaseAddress = read64()
	h.CodeSignatureOffset = read64()
	h.CodeSignatureSize = read64()
	h.SlideInfoOffsetUnused = read64()
	h.SlideInfoSizeUnused = read64()
	h.LocalSymbolsOffset = read64()
	h.LocalSymbolsSize = read64()
	copy(h.UUID[:], data[p:p+16])
	p += 16
	h.CacheType = read64()
	h.BranchPoolsOffset = read32()
	h.BranchPoolsCount = read32()
	h.AccelerateInfoAddr = read64()
	h.AccelerateInfoSize = read64()
	h.ImagesTextOffset = read64()
	h.ImagesTextCount = read64()
	h.MappingWithSlideOffset = read32()
	h.MappingWithSlideCount = read32()

	if string(h.Magic[:5]) != "dyld_" {
		return Header{}, nil, fmt.Errorf("sharedcache: bad magic %q", h.Magic[:])
	}

	mappings, err := parseMappings(data, h)
	if err != nil {
		return Header{}, nil, err
	}
	return h, mappings, nil
}

const mappingInfoWireSize = 8 + 8 + 8 + 4 + 4

func parseMappings(data []byte, h Header) ([]MappingInfo, error) {
	out := make([]MappingInfo, 0, h.MappingCount)
	bo := binary.LittleEndian
	for i := uint32(0); i < h.MappingCount; i++ {
		off := int(h.MappingOffset) + int(i)*mappingInfoWireSize
		if off+mappingInfoWireSize > len(data) {
			return nil, fmt.Errorf("sharedcache: mapping %d out of range", i)
		}
		out = append(out, MappingInfo{
			Address:    bo.Uint64(data[off:]),
			Size:       bo.Uint64(data[off+8:]),
			FileOffset: bo.Uint64(data[off+16:]),
			MaxProt:    bo.Uint32(data[off+24:]),
			InitProt:   bo.Uint32(data[off+28:]),
		})
	}
	return out, nil
}

// ReserveMappings returns the total [lo, hi) span the cache's mappings
// cover, the single contiguous reservation component H asks the OS for
// before mapping each region at its fixed offset within it.
func ReserveMappings(mappings []MappingInfo) (lo, hi uint64) {
	if len(mappings) == 0 {
		return 0, 0
	}
	lo, hi = mappings[0].Address, mappings[0].Address+mappings[0].Size
	for _, m := range mappings[1:] {
		if m.Address < lo {
			lo = m.Address
		}
		if end := m.Address + m.Size; end > hi {
			hi = end
		}
	}
	return lo, hi
}
