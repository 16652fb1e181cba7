package thread

import (
	"fmt"
	"strconv"
	"strings"
)

// ErrAffinityUnsupported is returned by platform hooks on hosts with no
// CPU-affinity syscall, per spec.md §4.1's "platform may not support
// affinity; in that case get/set report failure rather than panicking".
var ErrAffinityUnsupported = fmt.Errorf("thread: affinity unsupported on this platform")

// SetAffinity pins h's underlying OS thread to the CPUs named by mask,
// which may be a bitmask ("\x05" => CPUs 0 and 2) or a textual CPU-list
// ("0,2-5"), per spec.md §4.1 "set affinity(mask)". The mask is decoded
// into CPU indices here; the platform-specific setAffinityMask hook
// receives that CPU list.
func (h *Handle) SetAffinity(mask string) error {
	cpus, err := parseAffinityList(mask)
	if err != nil {
		return err
	}
	if err := setAffinityMask(cpus); err != nil {
		return err
	}
	h.setAffinity(cpuListToBitmask(cpus))
	return nil
}

// GetAffinity returns the textual CPU-list form of h's current affinity.
func (h *Handle) GetAffinity() (string, error) {
	cpus, err := getAffinityMask()
	if err != nil {
		// Fall back to the last value this handle explicitly set.
		mask := h.Affinity()
		if mask == nil {
			return "", err
		}
		return bitmaskToCPUList(mask), nil
	}
	return cpuListToString(cpus), nil
}

// parseAffinityList accepts either a raw byte bitmask string or a
// comma/dash CPU list ("0,2-5") and returns the CPU indices it names.
// A bitmask yields ascending indices; a CPU list yields them in the order
// written.
func parseAffinityList(mask string) ([]int, error) {
	trimmed := strings.TrimSpace(mask)
	if trimmed == "" {
		return nil, fmt.Errorf("thread: empty affinity mask")
	}
	if !strings.ContainsAny(trimmed, ",-") && isAllDigits(trimmed) {
		// A single numeric token is a CPU index, not a bitmask byte string.
		n, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, err
		}
		return []int{n}, nil
	}
	if looksLikeCPUList(trimmed) {
		return parseCPUList(trimmed)
	}
	return bitmaskStringToCPUList(mask), nil
}

func isAllDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func looksLikeCPUList(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && r != ',' && r != '-' {
			return false
		}
	}
	return true
}

func parseCPUList(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if dash := strings.IndexByte(part, '-'); dash >= 0 {
			lo, err := strconv.Atoi(part[:dash])
			if err != nil {
				return nil, err
			}
			hi, err := strconv.Atoi(part[dash+1:])
			if err != nil {
				return nil, err
			}
			for c := lo; c <= hi; c++ {
				out = append(out, c)
			}
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func bitmaskStringToCPUList(mask string) []int {
	var out []int
	for byteIdx := 0; byteIdx < len(mask); byteIdx++ {
		b := mask[byteIdx]
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				out = append(out, byteIdx*8+bit)
			}
		}
	}
	return out
}

func cpuListToBitmask(cpus []int) []byte {
	if len(cpus) == 0 {
		return nil
	}
	maxCPU := 0
	for _, c := range cpus {
		if c > maxCPU {
			maxCPU = c
		}
	}
	out := make([]byte, maxCPU/8+1)
	for _, c := range cpus {
		out[c/8] |= 1 << uint(c%8)
	}
	return out
}

func bitmaskToCPUList(mask []byte) string {
	return cpuListToString(bitmaskStringToCPUList(string(mask)))
}

func cpuListToString(cpus []int) string {
	parts := make([]string, len(cpus))
	for i, c := range cpus {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
