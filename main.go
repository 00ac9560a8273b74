package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/nats-io/nkeys"
	flag "github.com/spf13/pflag"

	"github.com/synadia-labs/sandbox-gateway/internal/config"
	"github.com/synadia-labs/sandbox-gateway/internal/logging"
	"github.com/synadia-labs/sandbox-gateway/internal/procs"
	"github.com/synadia-labs/sandbox-gateway/internal/service"
)

type options struct {
	envFile string
	port    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, output io.Writer) (*options, error) {
	opts := &options{}
	fs := flag.NewFlagSet("sandbox-gateway", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.envFile, "env-file", ".env", "optional file of KEY=VALUE pairs loaded before the environment is read")
	fs.StringVarP(&opts.port, "port", "p", "", "http listen port, overrides SANDBOX_HTTP_PORT")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func loadConfig(opts *options) (*config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if opts.port != "" {
		if err := cfg.SetHttpPort(opts.port); err != nil {
			return nil, fmt.Errorf("--port is invalid: %w", err)
		}
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, output io.Writer) error {
	opts, err := parseFlags(args, output)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}

	if err := cfg.EnsureDirs(); err != nil {
		// the gateway still serves commands without its working directories
		log.Warn("sandbox directories not created", "error", err)
	}

	sandbox, err := config.LoadSandbox(cfg.Home, log)
	if err != nil {
		return err
	}

	metrics := service.NewMetrics()
	svc := &service.Services{
		Gateway:  service.NewGateway(cfg.Exec, metrics, log),
		Launcher: service.NewLauncher(cfg.Jupyter, procs.Pgrep{}, procs.DetachedSpawner{}, metrics, log),
		Sandbox:  sandbox,
		Metrics:  metrics,
		HttpPort: cfg.Http.Port,
		Log:      log,
	}

	if cfg.Nats != nil {
		nc, ms, err := startNATS(cfg, svc)
		if err != nil {
			return err
		}
		defer nc.Close()
		defer ms.Stop()
	}

	srv, err := service.NewHTTPServer(&cfg.Http, svc)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	log.Info("sandbox gateway started", "home", cfg.Home, "shell", cfg.Exec.Shell, "timeout", cfg.Exec.Timeout)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error serving http: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := srv.Shutdown(context.Background()); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("error shutting down http server: %w", err)
	}
	log.Info("sandbox gateway stopped")
	return nil
}

func startNATS(cfg *config.Config, svc *service.Services) (*nats.Conn, micro.Service, error) {
	log := svc.Log

	// save user creds to file if inside a container
	if os.Getenv("container") != "" && cfg.Nats.HasCreds() {
		path, err := cfg.SaveCreds(cfg.Home)
		if err != nil {
			return nil, nil, err
		}
		log.Info("nats creds file written", "path", path)
	}

	natsOpts, err := natsOptions(cfg.Nats, log)
	if err != nil {
		return nil, nil, err
	}

	nc, err := nats.Connect(cfg.Nats.Url, natsOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("error connecting to nats: %w", err)
	}

	ms, err := service.StartNATSMicro(nc, svc)
	if err != nil {
		nc.Close()
		return nil, nil, err
	}
	return nc, ms, nil
}

func natsOptions(cfg *config.NatsConfig, log *slog.Logger) ([]nats.Option, error) {
	opts := []nats.Option{
		nats.Name(service.Name),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	switch {
	case cfg.HasCreds():
		opts = append(opts, nats.UserJWTAndSeed(cfg.Jwt, cfg.Nkey))
	case cfg.Nkey != "":
		kp, err := nkeys.FromSeed([]byte(cfg.Nkey))
		if err != nil {
			return nil, fmt.Errorf("error parsing nkey seed: %w", err)
		}
		pub, err := kp.PublicKey()
		if err != nil {
			return nil, fmt.Errorf("error reading nkey public key: %w", err)
		}
		opts = append(opts, nats.Nkey(pub, kp.Sign))
	}
	return opts, nil
}
