package bootstrap

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// ProcessEntry is what spec §6 calls the apple[] auxiliary vector: a
// null-terminated list of key=value pairs the OS hands the linker
// alongside argc/argv/envp. Only executable_path and stack_guard are
// recognized; every other key is ignored, matching dyld's own
// _simple_getenv-style scan over apple[].
type ProcessEntry struct {
	ExecutablePath string
	StackGuard     uint64
}

// ParseAppleVector scans apple for the two keys this linker understands.
// A malformed or absent stack_guard is not an error — the field is simply
// left zero, since the value only seeds future ASLR-adjacent decisions
// this linker does not make itself.
func ParseAppleVector(apple []string) ProcessEntry {
	var pe ProcessEntry
	for _, kv := range apple {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "executable_path":
			pe.ExecutablePath = value
		case "stack_guard":
			if v, err := strconv.ParseUint(value, 0, 64); err == nil {
				pe.StackGuard = v
			}
		}
	}
	return pe
}

// IsRestricted reports whether this process should ignore every DYLD_*
// environment override, spec §6's "ignored silently in restricted
// processes" rule. A process is restricted when its real and effective
// user (or group) IDs differ — the classic setuid/setgid case — mirroring
// dyld's own hardened-runtime check without depending on the
// Darwin-specific Issetugid call, which golang.org/x/sys/unix does not
// expose on every platform this linker might be built for.
func IsRestricted() bool {
	return unix.Geteuid() != unix.Getuid() || unix.Getegid() != unix.Getgid()
}
