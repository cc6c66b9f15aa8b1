package bootstrap

import "testing"

func TestParseAppleVector(t *testing.T) {
	pe := ParseAppleVector([]string{
		"executable_path=/usr/bin/true",
		"stack_guard=0xdeadbeef",
		"ignored_key=123",
	})
	if pe.ExecutablePath != "/usr/bin/true" {
		t.Errorf("ExecutablePath = %q, want /usr/bin/true", pe.ExecutablePath)
	}
	if pe.StackGuard != 0xdeadbeef {
		t.Errorf("StackGuard = %#x, want %#x", pe.StackGuard, uint64(0xdeadbeef))
	}
}

func TestParseAppleVectorMissingStackGuard(t *testing.T) {
	pe := ParseAppleVector([]string{"executable_path=/bin/ls"})
	if pe.StackGuard != 0 {
		t.Errorf("StackGuard = %#x, want 0 when absent", pe.StackGuard)
	}
}

func TestParseAppleVectorMalformedEntryIgnored(t *testing.T) {
	pe := ParseAppleVector([]string{"no-equals-sign", "stack_guard=not-a-number"})
	if pe.StackGuard != 0 {
		t.Errorf("StackGuard = %#x, want 0 for malformed value", pe.StackGuard)
	}
}
