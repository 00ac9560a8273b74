package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
)

const (
	Name   = "SandboxGateway"
	Prefix = "SANDBOX"
)

const errCodeBadRequest = "400"

// StartNATSMicro registers the sandbox endpoints on nc. The caller stops the
// returned service.
func StartNATSMicro(nc *nats.Conn, svc *Services) (micro.Service, error) {
	ms, err := micro.AddService(nc, micro.Config{
		Name:        Name,
		Description: "NATS micro service to run commands in a sandbox container.",
		Version:     "0.1.0",
	})
	if err != nil {
		return nil, fmt.Errorf("error creating nats micro service: %w", err)
	}

	endpoints := []struct {
		name    string
		request string
		fn      func(r micro.Request, svc *Services)
	}{
		{name: "PING", fn: ping},
		{name: "EXEC", request: `{"command": "string"}`, fn: execCommand},
		{name: "JUPYTER", fn: startJupyter},
		{name: "STATUS", fn: status},
		{name: "HEALTH", fn: health},
	}
	for _, ep := range endpoints {
		err = ms.AddEndpoint(
			ep.name,
			microLogHandler(svc, ep.fn),
			micro.WithEndpointSubject(fmt.Sprintf("%s.%s", Prefix, ep.name)),
			micro.WithEndpointMetadata(map[string]string{
				"request": ep.request,
			}),
		)
		if err != nil {
			ms.Stop()
			return nil, fmt.Errorf("error adding %s endpoint: %w", ep.name, err)
		}
	}

	svc.Log.Info("nats micro service started", "name", Name, "prefix", Prefix)
	return ms, nil
}

// Handlers reply before returning so micro records errors and processing
// time. Requests to one endpoint are served one at a time per instance;
// more instances share the load through the endpoint queue group.
func microLogHandler(svc *Services, fn func(r micro.Request, svc *Services)) micro.Handler {
	return micro.HandlerFunc(func(r micro.Request) {
		svc.Log.Info("nats request", "subject", r.Subject())
		fn(r, svc)
	})
}

func respondJSON(r micro.Request, log *slog.Logger, v any) {
	if err := r.RespondJSON(v); err != nil {
		log.Error("nats response error", "subject", r.Subject(), "error", err)
	}
}

func ping(r micro.Request, svc *Services) {
	if err := r.Respond([]byte("PONG")); err != nil {
		svc.Log.Error("ping response error", "error", err)
	}
}

func execCommand(r micro.Request, svc *Services) {
	req, err := DecodeRunCommandRequest(r.Data())
	if err != nil {
		svc.Log.Warn("exec request error", "error", err)
		if err := r.Error(errCodeBadRequest, err.Error(), nil); err != nil {
			svc.Log.Error("exec error response failed", "error", err)
		}
		return
	}
	res := svc.Gateway.Execute(context.Background(), req.Command)
	respondJSON(r, svc.Log, CommandResponse(res))
}

func startJupyter(r micro.Request, svc *Services) {
	res := svc.Launcher.Start(context.Background())
	respondJSON(r, svc.Log, StartResponse(svc.Launcher, res))
}

func status(r micro.Request, svc *Services) {
	respondJSON(r, svc.Log, svc.Status(context.Background()))
}

func health(r micro.Request, svc *Services) {
	respondJSON(r, svc.Log, Health(time.Now()))
}
