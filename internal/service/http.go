package service

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nkeys"

	"github.com/synadia-labs/sandbox-gateway/internal/config"
)

type RequestId string

const (
	RequestIdKey RequestId = "request_id"
)

const maxBodyBytes = 1 << 20

//go:embed web/dashboard.html
var dashboardHTML []byte

// Services bundles what the HTTP and NATS surfaces expose.
type Services struct {
	Gateway  Gateway
	Launcher Launcher
	Sandbox  *config.Sandbox // read-only after startup
	Metrics  *Metrics
	HttpPort string
	Log      *slog.Logger
}

func (s *Services) Status(ctx context.Context) StatusReport {
	return Status(ctx, s.HttpPort, s.Launcher, s.Log)
}

type Middleware func(http.Handler) http.Handler

type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
	Handler() http.Handler
}

type httpServer struct {
	server *http.Server
	log    *slog.Logger
}

func (s *httpServer) Start() error {
	s.log.Info("http server started", "addr", s.server.Addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *httpServer) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *httpServer) Handler() http.Handler {
	return s.server.Handler
}

func NewHTTPServer(cfg *config.HttpConfig, svc *Services) (HTTPServer, error) {
	port := cfg.Port
	if port == "" {
		port = config.DefaultHttpPort
	}
	log := svc.Log

	middlewares := []Middleware{requestIdMiddleware, logMiddleware(log), recoverMiddleware(log)}
	apiMiddlewares := middlewares

	if cfg.UseAuth {
		token := cfg.Token
		if token == "" {
			var err error
			token, err = createToken()
			if err != nil {
				return nil, fmt.Errorf("error creating token: %w", err)
			}
			log.Info("http api token created", "token", token)
		}
		log.Info("http api auth enabled, include 'Authorization: Bearer <token>' in /api requests")
		apiMiddlewares = append(slices.Clone(middlewares), authMiddleware(token))
	}

	chain := func(mws []Middleware) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			// apply in reverse order so they execute in the listed sequence
			handler := next
			for i := len(mws) - 1; i >= 0; i-- {
				handler = mws[i](handler)
			}
			return handler
		}
	}
	open := chain(middlewares)
	api := chain(apiMiddlewares)

	mux := http.NewServeMux()

	// dashboard
	var dashboard http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(dashboardHTML)
	})
	mux.Handle("GET /{$}", open(dashboard))

	// health
	var health http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, Health(time.Now()))
	})
	mux.Handle("GET /health", open(health))

	// command
	var command http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeJSON(w, log, ErrorResponse{Error: (&ValidationError{Err: err}).Error()})
			return
		}
		req, err := DecodeRunCommandRequest(body)
		if err != nil {
			writeJSON(w, log, ErrorResponse{Error: err.Error()})
			return
		}
		// only the gateway timeout cancels a command, not the client going away
		ctx := context.WithoutCancel(r.Context())
		writeJSON(w, log, CommandResponse(svc.Gateway.Execute(ctx, req.Command)))
	})
	mux.Handle("POST /api/command", api(command))

	// start jupyter
	var startJupyter http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := svc.Launcher.Start(context.WithoutCancel(r.Context()))
		writeJSON(w, log, StartResponse(svc.Launcher, res))
	})
	mux.Handle("POST /api/start-jupyter", api(startJupyter))

	// status
	var status http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, log, svc.Status(r.Context()))
	})
	mux.Handle("GET /api/status", api(status))

	// informational config
	var sandboxConfig http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sb := svc.Sandbox
		if sb == nil {
			sb = &config.Sandbox{}
		}
		writeJSON(w, log, sb)
	})
	mux.Handle("GET /api/config", api(sandboxConfig))

	mux.Handle("GET /metrics", open(svc.Metrics.Handler()))

	return &httpServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}, nil
}

func writeJSON(w http.ResponseWriter, log *slog.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode error", "error", err)
	}
}

// Unique ID for each request
func requestIdMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		ctx := r.Context()
		ctx = context.WithValue(ctx, RequestIdKey, id)
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Log requests
func logMiddleware(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestId, _ := r.Context().Value(RequestIdKey).(string)

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", requestId,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}

// A panicking handler must not take the process down.
func recoverMiddleware(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					if v == http.ErrAbortHandler {
						panic(v)
					}
					log.Error("handler panic", "path", r.URL.Path, "panic", v)
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Authorize requests with a Bearer token
func authMiddleware(token string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := r.Header.Get("Authorization")
			if bearer != "Bearer "+token {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Generate a random API token.
func createToken() (string, error) {
	nkey, err := nkeys.CreatePair(nkeys.PrefixByteUser)
	if err != nil {
		return "", fmt.Errorf("error creating nkey pair: %s", err)
	}

	token, err := nkey.PublicKey()
	if err != nil {
		return "", fmt.Errorf("error getting public key: %s", err)
	}

	return string(token), nil
}
