package service

import (
	"context"
	"sync"
	"time"

	"github.com/synadia-labs/sandbox-gateway/internal/config"
	"github.com/synadia-labs/sandbox-gateway/internal/logging"
	"github.com/synadia-labs/sandbox-gateway/internal/procs"
)

type fakeProber struct {
	mu       sync.Mutex
	running  bool
	err      error
	patterns []string
}

func (p *fakeProber) Running(ctx context.Context, pattern string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.patterns = append(p.patterns, pattern)
	return p.running, p.err
}

func (p *fakeProber) set(running bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = running
}

// fakeSpawner records specs and runs command (default "true") in their place.
// When prober is set, a successful spawn makes it report running.
type fakeSpawner struct {
	mu      sync.Mutex
	specs   []procs.DetachedSpec
	err     error
	command string
	prober  *fakeProber
}

func (s *fakeSpawner) Spawn(spec procs.DetachedSpec) (*procs.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs = append(s.specs, spec)
	if s.err != nil {
		return nil, s.err
	}
	if s.prober != nil {
		s.prober.set(true)
	}
	command := s.command
	if command == "" {
		command = "true"
	}
	return procs.DetachedSpawner{}.Spawn(procs.DetachedSpec{Command: command})
}

func (s *fakeSpawner) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.specs)
}

func testServiceConfig() config.ServiceConfig {
	return config.ServiceConfig{
		Name:    "Jupyter Lab",
		Pattern: "jupyter-lab",
		Command: config.DefaultJupyterCommand,
		Port:    8888,
		Dir:     "/home/sandbox",
		LogFile: "/home/sandbox/jupyter.log",
	}
}

// testServices serves the gateway's metrics when g is a *gateway.
func testServices(g Gateway, l Launcher) *Services {
	metrics := NewMetrics()
	if gw, ok := g.(*gateway); ok {
		metrics = gw.metrics
	}
	return &Services{
		Gateway:  g,
		Launcher: l,
		Sandbox:  &config.Sandbox{YmlContent: "name: test\n"},
		Metrics:  metrics,
		HttpPort: "8000",
		Log:      logging.NewNop(),
	}
}

func testGateway(timeout time.Duration) *gateway {
	return NewGateway(config.ExecConfig{Shell: "sh", Timeout: timeout}, NewMetrics(), logging.NewNop()).(*gateway)
}
