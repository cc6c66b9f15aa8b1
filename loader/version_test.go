package loader

import "testing"

func TestCompatVersionSatisfied(t *testing.T) {
	tests := []struct {
		actual, requested string
		want              bool
	}{
		{"1.0.0", "1.0.0", true},
		{"1.2.0", "1.0.0", true},
		{"1.0.0", "1.2.0", false},
		{"2.0", "1.9.9", true},
		{"1.0", "1.0.1", false},
		{"1.0.0", "", true},
		{"", "1.0.0", true}, // unparseable actual never blocks loading
	}
	for _, tt := range tests {
		if got := compatVersionSatisfied(tt.actual, tt.requested); got != tt.want {
			t.Errorf("compatVersionSatisfied(%q, %q) = %v, want %v", tt.actual, tt.requested, got, tt.want)
		}
	}
}

func TestRecursiveLoadLibrariesRejectsRegressedCompatVersion(t *testing.T) {
	lib := &Image{Path: "/libFoo.dylib", CompatVersion: "1.0.0", state: StateMapped}
	main := &Image{Path: "/main", state: StateMapped}
	main.Dependencies = []*Dependency{{Name: "libFoo", RequestedCompat: "2.0.0"}}

	ctx := &LinkContext{
		LoadLibrary: func(name string, from *Image) (*Image, error) { return lib, nil },
	}

	err := RecursiveLoadLibraries(main, ctx, nil)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	le, ok := err.(*LinkError)
	if !ok || le.Kind != ErrVersionMismatch {
		t.Fatalf("error = %v, want a *LinkError with Kind=ErrVersionMismatch", err)
	}
}

func TestRecursiveLoadLibrariesToleratesWeakCompatMismatch(t *testing.T) {
	lib := &Image{Path: "/libFoo.dylib", CompatVersion: "1.0.0", state: StateMapped}
	main := &Image{Path: "/main", state: StateMapped}
	main.Dependencies = []*Dependency{{Name: "libFoo", Weak: true, RequestedCompat: "2.0.0"}}

	ctx := &LinkContext{
		LoadLibrary: func(name string, from *Image) (*Image, error) { return lib, nil },
	}

	if err := RecursiveLoadLibraries(main, ctx, nil); err != nil {
		t.Fatalf("RecursiveLoadLibraries() error = %v, want nil (weak dependency mismatch is skipped, not fatal)", err)
	}
	if main.Dependencies[0].Image != nil {
		t.Errorf("Dependencies[0].Image = %v, want nil (version-mismatched weak dependency left unresolved)", main.Dependencies[0].Image)
	}
}
