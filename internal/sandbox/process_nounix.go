//go:build !unix

package sandbox

import "os/exec"

func isolateProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(pid int) {}
