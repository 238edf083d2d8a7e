//go:build unix

package daemon

import "syscall"

// Signal 0 probes for the process without delivering anything.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
