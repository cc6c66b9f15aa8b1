package orchestrator

import (
	"testing"

	"github.com/appsworld/go-dyld/loader"
	"github.com/appsworld/go-dyld/registry"
)

func TestGCUnmapsUnreachableImage(t *testing.T) {
	reg := registry.New()
	o := New(reg)

	root := &loader.Image{Path: "/main", IsMainExecutable: true}
	kept := &loader.Image{Path: "/kept.dylib"}
	orphan := &loader.Image{Path: "/orphan.dylib"}
	root.Dependencies = []*loader.Dependency{{Name: "kept", Image: kept}}

	reg.Add(root, false)
	reg.Add(kept, false)
	reg.Add(orphan, false)

	o.GC([]*loader.Image{root})

	if reg.ByPath("/kept.dylib") == nil {
		t.Error("kept.dylib was collected, want retained")
	}
	if reg.ByPath("/orphan.dylib") != nil {
		t.Error("orphan.dylib survived GC, want collected")
	}
	if reg.ByPath("/main") == nil {
		t.Error("main executable was collected, want retained (IsMainExecutable)")
	}
}

func TestGCFollowsDynamicReferences(t *testing.T) {
	reg := registry.New()
	o := New(reg)

	root := &loader.Image{Path: "/main", IsMainExecutable: true}
	plugin := &loader.Image{Path: "/plugin.dylib"}
	root.DynamicReferences = []*loader.Image{plugin}

	reg.Add(root, false)
	reg.Add(plugin, false)

	o.GC([]*loader.Image{root})

	if reg.ByPath("/plugin.dylib") == nil {
		t.Error("plugin.dylib (dlopen'd) was collected, want retained via DynamicReferences")
	}
}

type fakeResolver struct {
	hits map[string]uint64
}

func (f fakeResolver) Resolve(from *loader.Image, ordinal int64, name string) (uint64, bool) {
	addr, ok := f.hits[name]
	return addr, ok
}

func TestResolveSymbolPrefersOrdinaryHitOverStaleWeakWinner(t *testing.T) {
	const mainAddr, weakAddr = 0x1111, 0x2222
	reg := registry.New()
	o := New(reg)
	o.Resolver = fakeResolver{hits: map[string]uint64{"_x": mainAddr}}
	o.weakWinners = map[string]uint64{"_x": weakAddr}

	addr, ok := o.resolveSymbol(nil, -1, "_x")
	if !ok || addr != mainAddr {
		t.Fatalf("resolveSymbol(_x) = (%#x, %v), want (%#x, true); a strong hit from ordinary resolution must win over a stale weakWinners entry", addr, ok, mainAddr)
	}
}

func TestResolveSymbolFallsBackToWeakWinnerWhenOrdinaryMisses(t *testing.T) {
	const weakAddr = 0x3333
	reg := registry.New()
	o := New(reg)
	o.Resolver = fakeResolver{hits: map[string]uint64{}}
	o.weakWinners = map[string]uint64{"_y": weakAddr}

	addr, ok := o.resolveSymbol(nil, -1, "_y")
	if !ok || addr != weakAddr {
		t.Fatalf("resolveSymbol(_y) = (%#x, %v), want (%#x, true)", addr, ok, weakAddr)
	}
}

func TestAssignDepthsToleratesCycles(t *testing.T) {
	a := &loader.Image{Path: "/a"}
	b := &loader.Image{Path: "/b"}
	a.Dependencies = []*loader.Dependency{{Name: "b", Image: b}}
	b.Dependencies = []*loader.Dependency{{Name: "a", Image: a}}

	depths := assignDepths(a)
	if depths[a] != 0 || depths[b] != 1 {
		t.Errorf("depths = %v, want a=0 b=1", depths)
	}
}
