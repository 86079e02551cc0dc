//go:build !linux

package executor

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(cmd *exec.Cmd) {}

// peakMemoryMB is not measured outside Linux.
func peakMemoryMB(state *os.ProcessState) float64 {
	return 0
}
