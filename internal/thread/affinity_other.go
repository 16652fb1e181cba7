//go:build !linux

package thread

// setAffinityMask reports ErrAffinityUnsupported on platforms with no CPU
// affinity syscall wired in (spec.md §4.1's documented fallback).
func setAffinityMask(cpus []int) error {
	return ErrAffinityUnsupported
}

// getAffinityMask reports ErrAffinityUnsupported on platforms with no CPU
// affinity syscall wired in.
func getAffinityMask() ([]int, error) {
	return nil, ErrAffinityUnsupported
}
