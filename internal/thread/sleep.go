package thread

import (
	"runtime"
	"time"
)

// Sleep blocks for d, waking early (and returning true) if h's cancel flag
// is set while exitCheck is true, matching spec.md §4.1's "sleep(interval)
// ... returns early on pending cancellation". When h is nil (the caller is
// not running inside a registered thread) it always sleeps the full
// duration and returns false.
func Sleep(h *Handle, d time.Duration, exitCheck bool) bool {
	if h == nil {
		time.Sleep(d)
		return false
	}
	const tick = time.Millisecond
	if d <= tick {
		time.Sleep(d)
		return exitCheck && h.CancelRequested()
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if exitCheck && h.CancelRequested() {
			return true
		}
		remaining := time.Until(deadline)
		if remaining > tick {
			time.Sleep(tick)
		} else {
			time.Sleep(remaining)
		}
	}
	return exitCheck && h.CancelRequested()
}

// USleep sleeps for microseconds.
func USleep(h *Handle, usec int64, exitCheck bool) bool {
	return Sleep(h, time.Duration(usec)*time.Microsecond, exitCheck)
}

// MSleep sleeps for milliseconds.
func MSleep(h *Handle, msec int64, exitCheck bool) bool {
	return Sleep(h, time.Duration(msec)*time.Millisecond, exitCheck)
}

// Idle yields the calling thread for one scheduling quantum without
// necessarily sleeping the full OS minimum, per spec.md §4.1 "idle()".
func Idle(h *Handle) bool {
	runtime.Gosched()
	if h == nil {
		return false
	}
	return h.CancelRequested()
}

// Yield is an alias for Idle retained for scripts using the "yield()"
// spelling found in some Yate-derived call scripts.
func Yield(h *Handle) bool {
	return Idle(h)
}

// Check reports whether h (or the calling thread's Current handle, if h is
// nil) has a pending cancellation request.
func Check(h *Handle) bool {
	if h == nil {
		h = Current()
	}
	if h == nil {
		return false
	}
	return h.CancelRequested()
}
