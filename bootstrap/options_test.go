package bootstrap

import "testing"

func TestLoadOptionsSplitsColonLists(t *testing.T) {
	t.Setenv("DYLD_LIBRARY_PATH", "/a/lib:/b/lib")
	t.Setenv("DYLD_INSERT_LIBRARIES", "/x.dylib:/y.dylib")
	t.Setenv("DYLD_BIND_AT_LAUNCH", "1")
	t.Setenv("DYLD_SHARED_REGION", "private")

	opts := LoadOptions()
	if got, want := opts.LibraryPath, []string{"/a/lib", "/b/lib"}; !equalStrs(got, want) {
		t.Errorf("LibraryPath = %v, want %v", got, want)
	}
	if got, want := opts.InsertLibraries, []string{"/x.dylib", "/y.dylib"}; !equalStrs(got, want) {
		t.Errorf("InsertLibraries = %v, want %v", got, want)
	}
	if !opts.BindAtLaunch {
		t.Error("BindAtLaunch = false, want true")
	}
	if opts.SharedRegion != "private" {
		t.Errorf("SharedRegion = %q, want private", opts.SharedRegion)
	}
}

func TestLoadOptionsDefaultSharedRegion(t *testing.T) {
	t.Setenv("DYLD_SHARED_REGION", "")
	opts := LoadOptions()
	if opts.SharedRegion != "use" {
		t.Errorf("SharedRegion = %q, want use (default)", opts.SharedRegion)
	}
}

func TestParsePrintFlags(t *testing.T) {
	t.Setenv("DYLD_PRINT_LIBRARIES", "1")
	t.Setenv("DYLD_PRINT_BINDINGS", "1")
	p := parsePrintFlags()
	if p&PrintLibraries == 0 {
		t.Error("expected PrintLibraries bit set")
	}
	if p&PrintBindings == 0 {
		t.Error("expected PrintBindings bit set")
	}
	if p&PrintSegments != 0 {
		t.Error("expected PrintSegments bit clear")
	}
}

func TestDefaultOptionsIgnoresEnvironment(t *testing.T) {
	t.Setenv("DYLD_LIBRARY_PATH", "/should/not/appear")
	opts := DefaultOptions()
	if opts.LibraryPath != nil {
		t.Errorf("LibraryPath = %v, want nil for restricted-process defaults", opts.LibraryPath)
	}
}

func equalStrs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
