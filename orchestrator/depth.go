package orchestrator

import "github.com/appsworld/go-dyld/loader"

// assignDepths computes each image's distance from root (one of the roots
// LinkAll was called with) into a fresh map, once per root after the
// dependency graph is loaded. It is cycle-tolerant: a node already on the
// current DFS stack is not re-descended into, so two dylibs that depend on
// each other do not recurse forever. A node reached again by a longer path
// takes the larger depth; a shorter or equal path leaves it unchanged.
// LinkAll uses the result only for its Printf trace (see maxDepth):
// initializer order comes from RunInitializers' dependency-first
// recursion, and rebase/bind rely on RecursiveRebase/RecursiveBind's own
// seen-set recursion.
func assignDepths(root *loader.Image) map[*loader.Image]int {
	depth := map[*loader.Image]int{}
	onStack := map[*loader.Image]bool{}
	var visit func(img *loader.Image, d int)
	visit = func(img *loader.Image, d int) {
		if onStack[img] {
			return
		}
		if existing, ok := depth[img]; ok && existing >= d {
			return
		}
		depth[img] = d
		onStack[img] = true
		for _, dep := range img.Dependencies {
			if dep.Image != nil {
				visit(dep.Image, d+1)
			}
		}
		onStack[img] = false
	}
	visit(root, 0)
	return depth
}

// maxDepth returns the deepest distance-from-root recorded in depths,
// which Link reports through Printf so DYLD_PRINT_LIBRARIES-style tracing
// can show how deep the dependency graph runs.
func maxDepth(depths map[*loader.Image]int) int {
	m := 0
	for _, d := range depths {
		if d > m {
			m = d
		}
	}
	return m
}
