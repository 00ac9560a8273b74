package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/stretchr/testify/require"
)

// fakeRequest records the response to a micro request. Methods the handlers
// do not use fall through to the nil embedded interface.
type fakeRequest struct {
	micro.Request
	subject string
	data    []byte

	done     chan struct{}
	response []byte
	errCode  string
	errDesc  string
}

func newFakeRequest(subject, data string) *fakeRequest {
	return &fakeRequest{subject: subject, data: []byte(data), done: make(chan struct{})}
}

func (r *fakeRequest) Subject() string { return r.subject }
func (r *fakeRequest) Data() []byte    { return r.data }

func (r *fakeRequest) Respond(data []byte, opts ...micro.RespondOpt) error {
	r.response = data
	close(r.done)
	return nil
}

func (r *fakeRequest) RespondJSON(data any, opts ...micro.RespondOpt) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return r.Respond(buf)
}

func (r *fakeRequest) Error(code, description string, data []byte, opts ...micro.RespondOpt) error {
	r.errCode = code
	r.errDesc = description
	close(r.done)
	return nil
}

func (r *fakeRequest) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("no response")
	}
}

func (r *fakeRequest) decoded(t *testing.T) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(r.response, &m))
	return m
}

func handle(svc *Services, fn func(r micro.Request, svc *Services), r *fakeRequest) {
	microLogHandler(svc, fn).Handle(r)
}

func TestMicroPing(t *testing.T) {
	svc := testServices(testGateway(time.Second), newTestLauncher(&fakeProber{}, &fakeSpawner{}))
	r := newFakeRequest("SANDBOX.PING", "")
	handle(svc, ping, r)
	r.wait(t)
	require.Equal(t, "PONG", string(r.response))
}

func TestMicroExec(t *testing.T) {
	svc := testServices(testGateway(2*time.Second), newTestLauncher(&fakeProber{}, &fakeSpawner{}))

	tests := []struct {
		name string
		data string
		want map[string]any
	}{
		{
			name: "completed",
			data: `{"command": "echo hello"}`,
			want: map[string]any{"stdout": "hello\n", "stderr": "", "returncode": 0.0},
		},
		{
			name: "denied",
			data: `{"command": "shutdown now"}`,
			want: map[string]any{"error": ReasonNotAllowed},
		},
		{
			name: "empty",
			data: `{"command": "  "}`,
			want: map[string]any{"error": ReasonNoCommand},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			r := newFakeRequest("SANDBOX.EXEC", test.data)
			handle(svc, execCommand, r)
			r.wait(t)
			require.Empty(t, r.errCode)
			require.Equal(t, test.want, r.decoded(t))
		})
	}
}

func TestMicroExecBadRequest(t *testing.T) {
	svc := testServices(testGateway(time.Second), newTestLauncher(&fakeProber{}, &fakeSpawner{}))
	r := newFakeRequest("SANDBOX.EXEC", `{"cmd": "ls"}`)
	handle(svc, execCommand, r)
	r.wait(t)
	require.Equal(t, "400", r.errCode)
	require.Contains(t, r.errDesc, "invalid request")
}

func TestMicroJupyterAndStatus(t *testing.T) {
	prober := &fakeProber{}
	svc := testServices(testGateway(time.Second), newTestLauncher(prober, &fakeSpawner{prober: prober}))

	r := newFakeRequest("SANDBOX.JUPYTER", "")
	handle(svc, startJupyter, r)
	r.wait(t)
	require.Equal(t, "started", r.decoded(t)["status"])

	r = newFakeRequest("SANDBOX.STATUS", "")
	handle(svc, status, r)
	r.wait(t)
	ports := r.decoded(t)["ports"].(map[string]any)
	require.Equal(t, "active", ports["8888"])

	r = newFakeRequest("SANDBOX.HEALTH", "")
	handle(svc, health, r)
	r.wait(t)
	require.Equal(t, "healthy", r.decoded(t)["status"])
}

func runNATSServer(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err)
	ns.Start()
	t.Cleanup(ns.Shutdown)
	require.True(t, ns.ReadyForConnections(5*time.Second), "nats server not ready")

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func endpointStats(ms micro.Service, name string) *micro.EndpointStats {
	for _, ep := range ms.Stats().Endpoints {
		if ep.Name == name {
			return ep
		}
	}
	return nil
}

func TestMicroServiceStats(t *testing.T) {
	nc := runNATSServer(t)
	svc := testServices(testGateway(5*time.Second), newTestLauncher(&fakeProber{}, &fakeSpawner{}))

	ms, err := StartNATSMicro(nc, svc)
	require.NoError(t, err)
	t.Cleanup(func() { ms.Stop() })

	for range 3 {
		msg, err := nc.Request("SANDBOX.EXEC", []byte(`{"cmd": "ls"}`), 5*time.Second)
		require.NoError(t, err)
		require.Equal(t, errCodeBadRequest, msg.Header.Get(micro.ErrorCodeHeader))
	}

	msg, err := nc.Request("SANDBOX.EXEC", []byte(`{"command": "sleep 0.5"}`), 5*time.Second)
	require.NoError(t, err)
	require.Empty(t, msg.Header.Get(micro.ErrorCodeHeader))
	require.JSONEq(t, `{"stdout": "", "stderr": "", "returncode": 0}`, string(msg.Data))

	// stats are updated just after the reply is sent
	var exec *micro.EndpointStats
	require.Eventually(t, func() bool {
		exec = endpointStats(ms, "EXEC")
		return exec != nil && exec.NumRequests == 4
	}, 2*time.Second, 20*time.Millisecond)

	require.Equal(t, 3, exec.NumErrors)
	require.Contains(t, exec.LastError, "invalid request")
	require.GreaterOrEqual(t, exec.ProcessingTime, 500*time.Millisecond)
}
