package pathresolver

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCandidatesExecutablePath(t *testing.T) {
	ctx := Context{ExecutablePath: "/Applications/App.app/Contents/MacOS/App"}
	got := Candidates("@executable_path/../Frameworks/Foo.framework/Foo", ctx)
	want := []string{"/Applications/App.app/Contents/Frameworks/Foo.framework/Foo"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Candidates() mismatch (-want +got):\n%s", diff)
	}
}

func TestCandidatesRPathExpandsEveryEntry(t *testing.T) {
	ctx := Context{
		LoaderPath: "/usr/lib",
		RPaths:     []string{"/opt/lib", "@loader_path/../lib"},
	}
	got := Candidates("@rpath/libfoo.dylib", ctx)
	want := []string{"/opt/lib/libfoo.dylib", "/usr/lib/libfoo.dylib"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Candidates() mismatch (-want +got):\n%s", diff)
	}
}

func TestCandidatesRootPathPrefixesAbsolute(t *testing.T) {
	ctx := Context{RootPath: []string{"/root1", "/root2"}}
	got := Candidates("/usr/lib/libfoo.dylib", ctx)
	want := []string{"/root1/usr/lib/libfoo.dylib", "/root2/usr/lib/libfoo.dylib", "/usr/lib/libfoo.dylib"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Candidates() mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchPathsRestrictedIgnoresOverrides(t *testing.T) {
	cfg := SearchConfig{LibraryPath: []string{"/evil"}, FallbackLibraryPath: []string{"/usr/lib"}}
	got := SearchPaths("libfoo.dylib", false, cfg, Context{Restricted: true})
	want := []string{"libfoo.dylib"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SearchPaths() mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchPathsUnrestrictedOrder(t *testing.T) {
	cfg := SearchConfig{
		LibraryPath:         []string{"/custom/lib"},
		FallbackLibraryPath: []string{"/usr/local/lib", "/usr/lib"},
	}
	got := SearchPaths("libfoo.dylib", false, cfg, Context{})
	want := []string{
		"/custom/lib/libfoo.dylib",
		"libfoo.dylib",
		"/usr/local/lib/libfoo.dylib",
		"/usr/lib/libfoo.dylib",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SearchPaths() mismatch (-want +got):\n%s", diff)
	}
}

func TestCandidatesPrefersImageSuffix(t *testing.T) {
	ctx := Context{RootPath: nil, ImageSuffix: "_debug"}
	got := Candidates("/usr/lib/libfoo.dylib", ctx)
	want := []string{"/usr/lib/libfoo_debug.dylib", "/usr/lib/libfoo.dylib"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Candidates() mismatch (-want +got):\n%s", diff)
	}
}

func TestSearchPathsAppliesImageSuffixToEveryCandidate(t *testing.T) {
	cfg := SearchConfig{LibraryPath: []string{"/custom/lib"}}
	got := SearchPaths("libfoo.dylib", false, cfg, Context{ImageSuffix: "_debug"})
	want := []string{
		"/custom/lib/libfoo_debug.dylib",
		"/custom/lib/libfoo.dylib",
		"libfoo_debug.dylib",
		"libfoo.dylib",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SearchPaths() mismatch (-want +got):\n%s", diff)
	}
}

func TestIsFrameworkPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/Foo.framework/Foo", true},
		{"/Foo.framework/NotFoo", false},
		{"/usr/lib/libfoo.dylib", false},
	}
	for _, tt := range tests {
		if got := IsFrameworkPath(tt.path); got != tt.want {
			t.Errorf("IsFrameworkPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
