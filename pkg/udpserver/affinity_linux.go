//go:build linux

package udpserver

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// pinCurrentThread locks the calling goroutine to its current OS thread and
// restricts that thread to cpu. It must be called from the goroutine that
// will run the hot loop (RX or worker), before entering it.
func pinCurrentThread(cpu int) error {
	if cpu < 0 {
		return nil
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
