//go:build !linux

package sandbox

func applyResourceLimits(pid int, memoryBytes, cpuSeconds uint64) error {
	return nil
}
