package registry

import (
	"testing"

	"github.com/appsworld/go-dyld/loader"
)

func newTestImage(path string, dev, inode uint64, loadAddr, segSize uint64) *loader.Image {
	return &loader.Image{
		Path:        path,
		Identity:    loader.Identity{Device: dev, Inode: inode},
		LoadAddress: loadAddr,
		Segments: []loader.SegmentMapping{
			{PreferredAddr: loadAddr, Size: segSize},
		},
	}
}

func TestAddAndLookupByPath(t *testing.T) {
	r := New()
	img := newTestImage("/usr/lib/libfoo.dylib", 1, 100, 0x1000, 0x1000)
	r.Add(img, false)

	if got := r.ByPath("/usr/lib/libfoo.dylib"); got != img {
		t.Fatalf("ByPath() = %v, want %v", got, img)
	}
	if got := r.ByIdentity(loader.Identity{Device: 1, Inode: 100}); got != img {
		t.Fatalf("ByIdentity() = %v, want %v", got, img)
	}
}

func TestLookupByAddress(t *testing.T) {
	r := New()
	a := newTestImage("/a.dylib", 1, 1, 0x1000, 0x1000)
	b := newTestImage("/b.dylib", 1, 2, 0x2000, 0x1000)
	r.Add(a, false)
	r.Add(b, false)

	if got := r.Lookup(0x1500); got != a {
		t.Errorf("Lookup(0x1500) = %v, want a", got)
	}
	if got := r.Lookup(0x2500); got != b {
		t.Errorf("Lookup(0x2500) = %v, want b", got)
	}
	if got := r.Lookup(0x5000); got != nil {
		t.Errorf("Lookup(0x5000) = %v, want nil", got)
	}
}

func TestCloneGetsDistinctID(t *testing.T) {
	r := New()
	first := newTestImage("/bundle/v1/Foo", 9, 9, 0x1000, 0x100)
	second := newTestImage("/bundle/v2/Foo", 9, 9, 0x2000, 0x100)
	r.Add(first, false)
	r.Add(second, true)

	if first.CloneID != 0 {
		t.Errorf("first.CloneID = %d, want 0", first.CloneID)
	}
	if second.CloneID == 0 {
		t.Errorf("second.CloneID = 0, want nonzero")
	}
}

func TestAddRefusesDuplicateIdentityWithoutClone(t *testing.T) {
	r := New()
	first := newTestImage("/usr/lib/libfoo.dylib", 4, 4, 0x1000, 0x100)
	second := newTestImage("/private/usr/lib/libfoo.dylib", 4, 4, 0x2000, 0x100)

	r.Add(first, false)
	got := r.Add(second, false)

	if got != first {
		t.Fatalf("Add() of duplicate identity = %v, want existing image %v", got, first)
	}
	if r.ByPath("/private/usr/lib/libfoo.dylib") != nil {
		t.Errorf("second path got indexed, want the duplicate never registered")
	}
	if len(r.All()) != 1 {
		t.Errorf("len(All()) = %d, want 1 (duplicate must not be added)", len(r.All()))
	}
}

func TestRemoveDropsAllIndexes(t *testing.T) {
	r := New()
	img := newTestImage("/x.dylib", 1, 1, 0x1000, 0x1000)
	r.Add(img, false)
	r.Remove(img)

	if got := r.ByPath("/x.dylib"); got != nil {
		t.Errorf("ByPath() after Remove = %v, want nil", got)
	}
	if got := r.Lookup(0x1500); got != nil {
		t.Errorf("Lookup() after Remove = %v, want nil", got)
	}
	if len(r.All()) != 0 {
		t.Errorf("len(All()) = %d, want 0", len(r.All()))
	}
}

func TestInterposing(t *testing.T) {
	r := New()
	img := newTestImage("/interposer.dylib", 1, 1, 0x1000, 0x100)
	r.RegisterInterposing(img, 0xAAAA, 0xBBBB)

	addr, ok := r.Interposed(0xBBBB)
	if !ok || addr != 0xAAAA {
		t.Fatalf("Interposed(0xBBBB) = (%#x, %v), want (0xAAAA, true)", addr, ok)
	}
	if _, ok := r.Interposed(0xCCCC); ok {
		t.Fatalf("Interposed(0xCCCC) found, want not found")
	}
}
