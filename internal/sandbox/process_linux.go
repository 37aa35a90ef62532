//go:build linux

package sandbox

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func applyResourceLimits(pid int, memoryBytes, cpuSeconds uint64) error {
	if memoryBytes > 0 {
		lim := &unix.Rlimit{Cur: memoryBytes, Max: memoryBytes}
		if err := unix.Prlimit(pid, unix.RLIMIT_AS, lim, nil); err != nil {
			return fmt.Errorf("RLIMIT_AS: %w", err)
		}
	}
	if cpuSeconds > 0 {
		lim := &unix.Rlimit{Cur: cpuSeconds, Max: cpuSeconds}
		if err := unix.Prlimit(pid, unix.RLIMIT_CPU, lim, nil); err != nil {
			return fmt.Errorf("RLIMIT_CPU: %w", err)
		}
	}
	return nil
}
