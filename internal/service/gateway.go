package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/synadia-labs/sandbox-gateway/internal/config"
	"github.com/synadia-labs/sandbox-gateway/internal/procs"
)

const (
	ReasonNoCommand  = "no command provided"
	ReasonNotAllowed = "command not allowed for security reasons"
	MessageTimedOut  = "command timed out"
)

// DenyList holds the substrings that reject a command outright. Matching is a
// case-insensitive substring test on the raw text, nothing more: equivalent
// spellings (`rm -r -f`, piping into sh, command substitution) are not caught.
// It guards against accidents, not against a determined caller.
var DenyList = []string{"rm -rf", "sudo rm", "mkfs", "dd if=", "shutdown", "reboot"}

// CommandResult is one of Completed, TimedOut, Rejected or Failed.
type CommandResult interface {
	commandResult()
}

// Completed means the shell ran to completion. A non-zero ExitCode is still
// a completion.
type Completed struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type TimedOut struct{}

// Rejected means the command was refused before anything was spawned.
type Rejected struct {
	Reason string
}

// Failed means the interpreter could not be started or its output collected.
type Failed struct {
	Message string
}

func (Completed) commandResult() {}
func (TimedOut) commandResult()  {}
func (Rejected) commandResult()  {}
func (Failed) commandResult()    {}

type Gateway interface {
	// run a shell command on the host, subject to the deny list and timeout
	Execute(ctx context.Context, command string) CommandResult
}

type runFunc func(ctx context.Context, shell, command string, timeout time.Duration) (*procs.Output, error)

func NewGateway(cfg config.ExecConfig, metrics *Metrics, log *slog.Logger) Gateway {
	return &gateway{
		shell:   cfg.Shell,
		timeout: cfg.Timeout,
		run:     procs.RunShell,
		metrics: metrics,
		log:     log,
	}
}

type gateway struct {
	shell   string
	timeout time.Duration
	run     runFunc
	metrics *Metrics
	log     *slog.Logger
}

func (g *gateway) Execute(ctx context.Context, command string) CommandResult {
	start := time.Now()
	res := g.execute(ctx, command)
	g.metrics.observeCommand(res, time.Since(start))
	return res
}

func (g *gateway) execute(ctx context.Context, command string) CommandResult {
	if strings.TrimSpace(command) == "" {
		return Rejected{Reason: ReasonNoCommand}
	}
	if denied(command) {
		g.log.Warn("command rejected by deny list", "command", command)
		return Rejected{Reason: ReasonNotAllowed}
	}

	g.log.Debug("running command", "command", command)
	out, err := g.run(ctx, g.shell, command, g.timeout)
	if errors.Is(err, procs.ErrTimeout) {
		g.log.Warn("command timed out", "command", command, "timeout", g.timeout)
		return TimedOut{}
	}
	if err != nil {
		g.log.Error("command failed", "command", command, "error", err)
		return Failed{Message: err.Error()}
	}
	return Completed{
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
	}
}

func denied(command string) bool {
	lower := strings.ToLower(command)
	for _, d := range DenyList {
		if strings.Contains(lower, d) {
			return true
		}
	}
	return false
}
