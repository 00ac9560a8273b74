package procs

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
)

// DetachedSpec describes a long-running service started in the background.
type DetachedSpec struct {
	// Command is a shell-style command line, split into words without a shell.
	Command string
	Dir     string
	// LogFile receives stdout and stderr, opened for append.
	LogFile string
}

// Spawner starts detached processes.
type Spawner interface {
	Spawn(spec DetachedSpec) (*Handle, error)
}

// Handle tracks a detached process until it is reaped.
type Handle struct {
	Pid       int
	Args      []string
	StartedAt time.Time

	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  error
}

// Done is closed once the process has exited and been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exit returns the exit code and wait error. It is only meaningful after
// Done is closed.
func (h *Handle) Exit() (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode, h.exitErr
}

// DetachedSpawner launches processes in a new session so they survive the
// gateway, with output appended to DetachedSpec.LogFile.
type DetachedSpawner struct{}

func (DetachedSpawner) Spawn(spec DetachedSpec) (*Handle, error) {
	args, err := shlex.Split(spec.Command)
	if err != nil {
		return nil, fmt.Errorf("error parsing command \"%s\": %s", spec.Command, err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("no command provided")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = spec.Dir
	setSession(cmd)

	if spec.LogFile != "" {
		logFile, err := os.OpenFile(spec.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("error opening log file: %w", err)
		}
		// the child holds its own descriptor once started
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("error starting command \"%s\": %s", strings.Join(args, " "), err)
	}

	h := &Handle{
		Pid:       cmd.Process.Pid,
		Args:      args,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go func() {
		err := cmd.Wait()
		h.mu.Lock()
		h.exitCode = exitCode(cmd.ProcessState)
		h.exitErr = err
		h.mu.Unlock()
		close(h.done)
	}()
	return h, nil
}
