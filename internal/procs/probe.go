package procs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Prober reports whether a process matching pattern is currently running.
type Prober interface {
	Running(ctx context.Context, pattern string) (bool, error)
}

// Pgrep probes with `pgrep -f`, matching against full command lines.
type Pgrep struct {
	// Path defaults to "pgrep"
	Path string
}

func (p Pgrep) Running(ctx context.Context, pattern string) (bool, error) {
	if pattern == "" {
		return false, fmt.Errorf("empty process pattern")
	}
	path := p.Path
	if path == "" {
		path = "pgrep"
	}

	err := exec.CommandContext(ctx, path, "-f", pattern).Run()
	if err == nil {
		return true, nil
	}
	// pgrep exits 1 when nothing matched; anything else is a failure
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("error probing for %q: %w", pattern, err)
}
