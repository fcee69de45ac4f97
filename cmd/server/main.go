package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/sakif/script-playground/internal/executor"
	"github.com/sakif/script-playground/internal/executor/docker"
	"github.com/sakif/script-playground/internal/executor/isolated"
	"github.com/sakif/script-playground/internal/sandbox"
	"github.com/sakif/script-playground/internal/server"
)

// specification is the full environment surface, processed by envconfig.
// PORT=9090 EXECUTOR_BACKEND=docker ./server etc.
type specification struct {
	Port      int    `default:"8080"`
	DBPath    string `envconfig:"DB_PATH" default:"data/playground.db"`
	StaticDir string `envconfig:"STATIC_DIR"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	JWTSecret          string `envconfig:"JWT_SECRET"`
	GitHubClientID     string `envconfig:"GITHUB_CLIENT_ID"`
	GitHubClientSecret string `envconfig:"GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `envconfig:"GITHUB_CALLBACK_URL"`

	// "isolated" runs guest code in an in-process sandboxed unit;
	// "docker" runs it in single-shot containers and needs a daemon.
	ExecutorBackend  string `envconfig:"EXECUTOR_BACKEND" default:"isolated"`
	ExecutorPoolSize int    `envconfig:"EXECUTOR_POOL_SIZE" default:"3"`

	MaxRuns    int           `envconfig:"MAX_RUNS" default:"10"`
	RateWindow time.Duration `envconfig:"RATE_WINDOW" default:"1m"`
	RunTimeout time.Duration `envconfig:"RUN_TIMEOUT" default:"5s"`
}

func main() {
	var spec specification
	if err := envconfig.Process("", &spec); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(spec.LogLevel),
	}))

	dbDir := filepath.Dir(spec.DBPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		logger.Error("failed to create database directory",
			slog.String("dir", dbDir),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	exec, err := newExecutor(spec, logger)
	if err != nil {
		logger.Error("failed to create executor", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer exec.Close()

	if spec.GitHubCallbackURL == "" {
		spec.GitHubCallbackURL = fmt.Sprintf("http://localhost:%d/auth/github/callback", spec.Port)
	}

	cfg := server.Config{
		Port:               spec.Port,
		DBPath:             spec.DBPath,
		StaticDir:          spec.StaticDir,
		JWTSecret:          spec.JWTSecret,
		GitHubClientID:     spec.GitHubClientID,
		GitHubClientSecret: spec.GitHubClientSecret,
		GitHubCallbackURL:  spec.GitHubCallbackURL,
		MaxRuns:            spec.MaxRuns,
		Window:             spec.RateWindow,
		RunTimeout:         spec.RunTimeout,
	}

	srv, err := server.New(cfg, logger, exec)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newExecutor(spec specification, logger *slog.Logger) (executor.Executor, error) {
	switch spec.ExecutorBackend {
	case "docker":
		dockerCfg := docker.DefaultConfig()
		dockerCfg.Timeout = spec.RunTimeout
		dockerCfg.PoolSize = spec.ExecutorPoolSize
		return docker.New(dockerCfg, logger)
	case "isolated":
		return isolated.New(sandbox.Config{Timeout: spec.RunTimeout}, logger), nil
	default:
		return nil, fmt.Errorf("unknown executor backend %q", spec.ExecutorBackend)
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
