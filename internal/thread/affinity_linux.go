//go:build linux

package thread

import "golang.org/x/sys/unix"

// setAffinityMask pins the calling OS thread (the caller must already hold
// runtime.LockOSThread) to the given CPU set, via sched_setaffinity.
func setAffinityMask(cpus []int) error {
	var set unix.CPUSet
	set.Zero()
	for _, c := range cpus {
		set.Set(c)
	}
	return unix.SchedSetaffinity(0, &set)
}

// getAffinityMask reads back the calling OS thread's current CPU set via
// sched_getaffinity.
func getAffinityMask() ([]int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return nil, err
	}
	var cpus []int
	for c := 0; c < unix.CPU_SETSIZE; c++ {
		if set.IsSet(c) {
			cpus = append(cpus, c)
		}
	}
	return cpus, nil
}
