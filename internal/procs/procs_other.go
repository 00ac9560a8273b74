//go:build !unix

package procs

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func setSession(cmd *exec.Cmd) {}

func exitCode(state *os.ProcessState) int {
	if state == nil {
		return -1
	}
	return state.ExitCode()
}
