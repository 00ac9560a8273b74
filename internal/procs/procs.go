// Package procs wraps the OS process facilities the gateway needs: running a
// shell command with captured output, probing for running processes by
// pattern, and launching detached background services.
package procs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"
)

// waitDelay bounds how long Wait blocks after the process group was killed.
const waitDelay = 5 * time.Second

var ErrTimeout = errors.New("command timed out")

type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// RunShell runs `shell -c command` in its own process group and waits for the
// shell to exit or for timeout to elapse, whichever comes first. On timeout the
// whole process group is killed and ErrTimeout is returned.
//
// Output is captured through unlinked temporary files rather than pipes, so a
// command that leaves a background job running (`cmd &`) returns as soon as
// the shell itself exits.
func RunShell(ctx context.Context, shell, command string, timeout time.Duration) (*Output, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, err := captureFile()
	if err != nil {
		return nil, err
	}
	defer stdout.Close()

	stderr, err := captureFile()
	if err != nil {
		return nil, err
	}
	defer stderr.Close()

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	err = cmd.Run()
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return nil, ErrTimeout
	case context.Canceled:
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
			return nil, err
		}
	}

	out := &Output{ExitCode: exitCode(cmd.ProcessState)}
	if out.Stdout, err = readBack(stdout); err != nil {
		return nil, fmt.Errorf("error reading stdout: %w", err)
	}
	if out.Stderr, err = readBack(stderr); err != nil {
		return nil, fmt.Errorf("error reading stderr: %w", err)
	}
	return out, nil
}

func captureFile() (*os.File, error) {
	f, err := os.CreateTemp("", "sandbox-out-*")
	if err != nil {
		return nil, fmt.Errorf("error creating capture file: %w", err)
	}
	// the open handle keeps the data reachable
	if err := os.Remove(f.Name()); err != nil {
		f.Close()
		return nil, fmt.Errorf("error unlinking capture file: %w", err)
	}
	return f, nil
}

// readBack reads with ReadAt so the file offset shared with any background
// job still writing to it is left alone.
func readBack(f *os.File) (string, error) {
	st, err := f.Stat()
	if err != nil {
		return "", err
	}
	buf, err := io.ReadAll(io.NewSectionReader(f, 0, st.Size()))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}
