package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/synadia-labs/sandbox-gateway/internal/config"
	"github.com/synadia-labs/sandbox-gateway/internal/procs"
)

// StartResult is one of AlreadyRunning, Started or StartFailed.
type StartResult interface {
	startResult()
}

type AlreadyRunning struct{}

// Started only means the process was spawned. Nothing checks that it is
// still alive afterwards.
type Started struct {
	Pid int
}

type StartFailed struct {
	Message string
}

func (AlreadyRunning) startResult() {}
func (Started) startResult()        {}
func (StartFailed) startResult()    {}

type Launcher interface {
	Name() string
	Port() int

	// start the service unless it is already running
	Start(ctx context.Context) StartResult

	// probe the process table for the service
	Running(ctx context.Context) (bool, error)
}

func NewLauncher(cfg config.ServiceConfig, prober procs.Prober, spawner procs.Spawner, metrics *Metrics, log *slog.Logger) Launcher {
	return &launcher{
		cfg:     cfg,
		prober:  prober,
		spawner: spawner,
		metrics: metrics,
		log:     log.With("service", cfg.Name),
	}
}

type launcher struct {
	cfg     config.ServiceConfig
	prober  procs.Prober
	spawner procs.Spawner
	metrics *Metrics
	log     *slog.Logger

	// serializes Start so concurrent callers cannot launch twice
	mu     sync.Mutex
	handle *procs.Handle
}

func (l *launcher) Name() string {
	return l.cfg.Name
}

func (l *launcher) Port() int {
	return l.cfg.Port
}

func (l *launcher) Running(ctx context.Context) (bool, error) {
	return l.prober.Running(ctx, l.cfg.Pattern)
}

func (l *launcher) Start(ctx context.Context) StartResult {
	res := l.start(ctx)
	l.metrics.observeStart(l.cfg.Name, res)
	return res
}

func (l *launcher) start(ctx context.Context) StartResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	running, err := l.Running(ctx)
	if err != nil {
		l.log.Error("probe failed", "error", err)
		return StartFailed{Message: err.Error()}
	}
	// a freshly spawned process may not match the pattern yet
	if running || l.tracked() {
		return AlreadyRunning{}
	}

	h, err := l.spawner.Spawn(procs.DetachedSpec{
		Command: l.cfg.Command,
		Dir:     l.cfg.Dir,
		LogFile: l.cfg.LogFile,
	})
	if err != nil {
		l.log.Error("launch failed", "error", err)
		return StartFailed{Message: err.Error()}
	}
	l.handle = h
	l.log.Info("launched", "pid", h.Pid, "log_file", l.cfg.LogFile)
	go l.watch(h)

	return Started{Pid: h.Pid}
}

// tracked reports whether the last spawned process is still alive.
func (l *launcher) tracked() bool {
	if l.handle == nil {
		return false
	}
	select {
	case <-l.handle.Done():
		return false
	default:
		return true
	}
}

func (l *launcher) watch(h *procs.Handle) {
	<-h.Done()
	code, err := h.Exit()
	l.log.Warn("exited", "pid", h.Pid, "code", code, "uptime", time.Since(h.StartedAt).Round(time.Millisecond), "error", err)
}
