package service

import (
	"context"
	"log/slog"
	"strconv"
	"time"
)

const (
	statusActive   = "active"
	statusInactive = "inactive"

	devServerPort = 3000
)

type StatusReport struct {
	Sandbox string            `json:"sandbox"`
	Python  string            `json:"python"`
	Nodejs  string            `json:"nodejs"`
	Git     string            `json:"git"`
	Ports   map[string]string `json:"ports"`
}

type HealthReport struct {
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Timestamp float64 `json:"timestamp"`
}

// Status reports the sandbox components. Only the launcher's port is probed;
// everything else is fixed. The HTTP port is always active, even when it
// shares a number with another entry.
func Status(ctx context.Context, httpPort string, l Launcher, log *slog.Logger) StatusReport {
	running, err := l.Running(ctx)
	if err != nil {
		log.Warn("status probe failed", "service", l.Name(), "error", err)
	}
	launcherStatus := statusInactive
	if running {
		launcherStatus = statusActive
	}

	ports := map[string]string{}
	ports[strconv.Itoa(devServerPort)] = statusInactive
	ports[strconv.Itoa(l.Port())] = launcherStatus
	ports[httpPort] = statusActive

	return StatusReport{
		Sandbox: "running",
		Python:  "available",
		Nodejs:  "available",
		Git:     "available",
		Ports:   ports,
	}
}

func Health(now time.Time) HealthReport {
	return HealthReport{
		Status:    "healthy",
		Message:   "Ubuntu Sandbox is running",
		Timestamp: float64(now.UnixNano()) / float64(time.Second),
	}
}
