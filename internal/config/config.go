package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nkeys"
)

const credsTempl = `-----BEGIN NATS USER JWT-----
{{.Jwt}}
------END NATS USER JWT------

************************* IMPORTANT *************************
NKEY Seed printed below can be used to sign and prove identity.
NKEYs are sensitive and should be treated as secrets.

-----BEGIN USER NKEY SEED-----
{{.Nkey}}
------END USER NKEY SEED------

*************************************************************`

const (
	DefaultHome           = "/home/sandbox"
	DefaultHttpPort       = "8000"
	DefaultShell          = "sh"
	DefaultExecTimeout    = 30 * time.Second
	DefaultJupyterPattern = "jupyter-lab"
	DefaultJupyterCommand = "jupyter lab --ip=0.0.0.0 --port=8888 --no-browser --allow-root"
	DefaultJupyterPort    = 8888
)

type HttpConfig struct {
	Port    string
	UseAuth bool
	Token   string // minted at startup when empty
}

type ExecConfig struct {
	Shell   string
	Timeout time.Duration
}

// ServiceConfig describes the auxiliary service the launcher manages.
type ServiceConfig struct {
	Name    string
	Pattern string
	Command string
	Port    int
	Dir     string
	LogFile string
}

type NatsConfig struct {
	Url  string
	Nkey string
	Jwt  string
}

type Config struct {
	Home     string
	LogLevel string
	Http     HttpConfig
	Exec     ExecConfig
	Jupyter  ServiceConfig
	Nats     *NatsConfig // nil when SANDBOX_NATS_URL is unset
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("error loading env file %s: %w", path, err)
	}
	return nil
}

func LoadConfig() (*Config, error) {
	home := getenv("SANDBOX_HOME", DefaultHome)

	useAuth := false
	if v := os.Getenv("SANDBOX_HTTP_AUTH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("SANDBOX_HTTP_AUTH is invalid: %w", err)
		}
		useAuth = b
	}

	timeout := DefaultExecTimeout
	if v := os.Getenv("SANDBOX_EXEC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SANDBOX_EXEC_TIMEOUT is invalid: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("SANDBOX_EXEC_TIMEOUT must be positive")
		}
		timeout = d
	}

	jupyterPort := DefaultJupyterPort
	if v := os.Getenv("SANDBOX_JUPYTER_PORT"); v != "" {
		p, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("SANDBOX_JUPYTER_PORT is invalid: %q", v)
		}
		jupyterPort = int(p)
	}

	natsCfg, err := loadNatsConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Home:     home,
		LogLevel: getenv("SANDBOX_LOG_LEVEL", "info"),
		Http: HttpConfig{
			UseAuth: useAuth,
			Token:   os.Getenv("SANDBOX_HTTP_TOKEN"),
		},
		Exec: ExecConfig{
			Shell:   getenv("SANDBOX_SHELL", DefaultShell),
			Timeout: timeout,
		},
		Jupyter: ServiceConfig{
			Name:    "Jupyter Lab",
			Pattern: getenv("SANDBOX_JUPYTER_PATTERN", DefaultJupyterPattern),
			Command: getenv("SANDBOX_JUPYTER_COMMAND", DefaultJupyterCommand),
			Port:    jupyterPort,
			Dir:     home,
			LogFile: filepath.Join(home, "jupyter.log"),
		},
		Nats: natsCfg,
	}
	if err := cfg.SetHttpPort(getenv("SANDBOX_HTTP_PORT", DefaultHttpPort)); err != nil {
		return nil, fmt.Errorf("SANDBOX_HTTP_PORT is invalid: %w", err)
	}
	return cfg, nil
}

// SetHttpPort sets the HTTP listen port. It must not be the port the
// launched service listens on.
func (c *Config) SetHttpPort(port string) error {
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return fmt.Errorf("bad port %q", port)
	}
	if int(p) == c.Jupyter.Port {
		return fmt.Errorf("port %d is used by %s", p, c.Jupyter.Name)
	}
	c.Http.Port = strconv.FormatUint(p, 10)
	return nil
}

func loadNatsConfig() (*NatsConfig, error) {
	natsUrl := os.Getenv("SANDBOX_NATS_URL")
	if natsUrl == "" {
		return nil, nil
	}

	natsNkey := strings.TrimSpace(os.Getenv("SANDBOX_NATS_NKEY"))
	natsJwtB64 := os.Getenv("SANDBOX_NATS_B64_JWT")
	if natsJwtB64 != "" && natsNkey == "" {
		return nil, fmt.Errorf("SANDBOX_NATS_B64_JWT requires SANDBOX_NATS_NKEY")
	}

	if natsNkey != "" {
		if _, err := nkeys.FromSeed([]byte(natsNkey)); err != nil {
			return nil, fmt.Errorf("SANDBOX_NATS_NKEY is invalid: %w", err)
		}
	}

	var natsJwt string
	if natsJwtB64 != "" {
		natsJwtBytes, err := base64.StdEncoding.DecodeString(natsJwtB64)
		if err != nil {
			return nil, fmt.Errorf("SANDBOX_NATS_B64_JWT is invalid base64: %w", err)
		}
		natsJwt = strings.TrimSpace(string(natsJwtBytes))
	}

	return &NatsConfig{
		Url:  natsUrl,
		Nkey: natsNkey,
		Jwt:  natsJwt,
	}, nil
}

// HasCreds reports whether a user JWT and seed were both supplied.
func (n *NatsConfig) HasCreds() bool {
	return n != nil && n.Jwt != "" && n.Nkey != ""
}

// SaveCreds writes a nats creds file into dir and returns its path.
func (c *Config) SaveCreds(dir string) (string, error) {
	if !c.Nats.HasCreds() {
		return "", fmt.Errorf("no nats credentials configured")
	}

	tmpl, err := template.New("creds").Parse(credsTempl)
	if err != nil {
		return "", fmt.Errorf("error parsing creds template: %w", err)
	}

	path := filepath.Join(dir, "creds.txt")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", fmt.Errorf("error creating nats creds file: %w", err)
	}
	defer file.Close()

	err = tmpl.Execute(file, map[string]string{
		"Jwt":  c.Nats.Jwt,
		"Nkey": c.Nats.Nkey,
	})
	if err != nil {
		return "", fmt.Errorf("error writing nats creds file: %w", err)
	}
	return path, nil
}

// EnsureDirs creates the sandbox working directories under Home.
func (c *Config) EnsureDirs() error {
	for _, name := range []string{"projects", "tools"} {
		if err := os.MkdirAll(filepath.Join(c.Home, name), 0o755); err != nil {
			return fmt.Errorf("error creating %s directory: %w", name, err)
		}
	}
	return nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
