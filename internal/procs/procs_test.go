package procs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunShell(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    Output
	}{
		{
			name:    "simple",
			command: "echo hello",
			want:    Output{Stdout: "hello\n"},
		},
		{
			name:    "pipe",
			command: "echo hello | tr a-z A-Z",
			want:    Output{Stdout: "HELLO\n"},
		},
		{
			name:    "stderr",
			command: "echo oops >&2",
			want:    Output{Stderr: "oops\n"},
		},
		{
			name:    "exit code",
			command: "exit 7",
			want:    Output{ExitCode: 7},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := RunShell(context.Background(), "sh", test.command, 5*time.Second)
			require.NoError(t, err)
			require.Equal(t, test.want, *got)
		})
	}
}

func TestRunShellCommandNotFound(t *testing.T) {
	got, err := RunShell(context.Background(), "sh", "definitely-not-a-command-xyz", 5*time.Second)
	require.NoError(t, err)
	require.Equal(t, 127, got.ExitCode)
	require.NotEmpty(t, got.Stderr)
}

func TestRunShellTimeout(t *testing.T) {
	timeout := 300 * time.Millisecond
	start := time.Now()
	_, err := RunShell(context.Background(), "sh", "sleep 10", timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Less(t, elapsed, 5*time.Second)
}

func TestRunShellKillsProcessGroupOnTimeout(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "marker")
	cmd := fmt.Sprintf("(sleep 1 && touch %s) & sleep 10", marker)

	_, err := RunShell(context.Background(), "sh", cmd, 200*time.Millisecond)
	require.ErrorIs(t, err, ErrTimeout)

	time.Sleep(1500 * time.Millisecond)
	require.NoFileExists(t, marker)
}

func TestRunShellBackgroundJob(t *testing.T) {
	start := time.Now()
	got, err := RunShell(context.Background(), "sh", "sleep 3 & echo started", 10*time.Second)
	require.NoError(t, err)
	require.Equal(t, "started\n", got.Stdout)
	require.Equal(t, 0, got.ExitCode)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestRunShellMissingInterpreter(t *testing.T) {
	_, err := RunShell(context.Background(), "/nonexistent/shell", "echo hi", time.Second)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrTimeout)
}

func TestPgrep(t *testing.T) {
	if _, err := exec.LookPath("pgrep"); err != nil {
		t.Skip("pgrep not installed")
	}
	ctx := context.Background()
	pattern := fmt.Sprintf("sleep %d.%d", 40+os.Getpid()%50, time.Now().UnixNano()%1000)

	running, err := Pgrep{}.Running(ctx, pattern)
	require.NoError(t, err)
	require.False(t, running)

	cmd := exec.Command("sh", "-c", pattern)
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	require.Eventually(t, func() bool {
		running, err := Pgrep{}.Running(ctx, pattern)
		return err == nil && running
	}, 2*time.Second, 50*time.Millisecond)
}

func TestPgrepErrors(t *testing.T) {
	_, err := Pgrep{}.Running(context.Background(), "")
	require.Error(t, err)

	_, err = Pgrep{Path: "/nonexistent/pgrep"}.Running(context.Background(), "x")
	require.Error(t, err)
}

func TestDetachedSpawner(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "service.log")

	h, err := DetachedSpawner{}.Spawn(DetachedSpec{
		Command: `sh -c 'echo "in $(pwd)"; exit 3'`,
		Dir:     dir,
		LogFile: logFile,
	})
	require.NoError(t, err)
	require.NotZero(t, h.Pid)
	require.Equal(t, "sh", h.Args[0])

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("detached process did not exit")
	}
	code, err := h.Exit()
	require.Error(t, err)
	require.Equal(t, 3, code)

	buf, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Contains(t, string(buf), "in ")
}

func TestDetachedSpawnerErrors(t *testing.T) {
	tests := []struct {
		name string
		spec DetachedSpec
	}{
		{name: "bad quoting", spec: DetachedSpec{Command: "echo 'hello"}},
		{name: "empty", spec: DetachedSpec{Command: "   "}},
		{name: "not found", spec: DetachedSpec{Command: "definitely-not-a-command-xyz"}},
		{name: "bad log dir", spec: DetachedSpec{Command: "true", LogFile: "/nonexistent/dir/x.log"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := DetachedSpawner{}.Spawn(test.spec)
			require.Error(t, err)
		})
	}
}
