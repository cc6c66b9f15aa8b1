package sharedcache

import (
	"encoding/binary"
	"fmt"
)

// dyld_cache_image_text_info's wire layout: uuid[16], loadAddress uint64,
// textSegmentSize uint32, pathOffset uint32.
const imageTextInfoWireSize = 16 + 8 + 4 + 4

// ParseImages decodes the cache's image-text table (h.ImagesTextOffset /
// ImagesTextCount) into the install-name -> load-address map component H
// needs to resolve a dependency against the cache before falling back to
// a standalone file on disk.
func ParseImages(data []byte, h Header) ([]ImageInfo, error) {
	out := make([]ImageInfo, 0, h.ImagesTextCount)
	bo := binary.LittleEndian
	for i := uint64(0); i < h.ImagesTextCount; i++ {
		off := int(h.ImagesTextOffset) + int(i)*imageTextInfoWireSize
		if off+imageTextInfoWireSize > len(data) {
			return nil, fmt.Errorf("sharedcache: image-text entry %d out of range", i)
		}
		addr := bo.Uint64(data[off+16:])
		pathOff := bo.Uint32(data[off+16+8+4:])
		name, err := readCString(data, int(pathOff))
		if err != nil {
			return nil, fmt.Errorf("sharedcache: image-text entry %d: %w", i, err)
		}
		out = append(out, ImageInfo{Address: addr, PathOffset: pathOff, Name: name})
	}
	return out, nil
}

func readCString(data []byte, off int) (string, error) {
	if off < 0 || off >= len(data) {
		return "", fmt.Errorf("offset %#x out of range", off)
	}
	end := off
	for end < len(data) && data[end] != 0 {
		end++
	}
	if end == len(data) {
		return "", fmt.Errorf("unterminated string at %#x", off)
	}
	return string(data[off:end]), nil
}

// FindImage returns the ImageInfo for installName, or false if the cache
// does not contain it — the lookup LoadLibrary tries before falling back
// to pathresolver's on-disk search.
func FindImage(images []ImageInfo, installName string) (ImageInfo, bool) {
	for _, img := range images {
		if img.Name == installName {
			return img, true
		}
	}
	return ImageInfo{}, false
}

// OverridesDisk implements spec §8 scenario 6: a dylib present in the
// shared cache is only used in place of a matching on-disk file when the
// two have the same install name and the disk copy's mtime/inode identity
// was not explicitly provided (meaning the caller never independently
// statted a newer on-disk override). Callers that did stat a disk file
// pass its identity so a developer-replaced library on disk always wins.
func OverridesDisk(cacheHasImage bool, diskIdentityKnown bool) bool {
	return cacheHasImage && !diskIdentityKnown
}
