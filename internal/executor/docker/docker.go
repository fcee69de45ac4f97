// Package docker is the container-backed execution backend.
//
// Where the in-process goja unit isolates by construction (allow-list
// context, no host bindings), this backend isolates by process boundary:
// guest code runs under `node -e` inside a network-less, read-only,
// memory-capped container from a pre-warmed pool, and the container is
// destroyed after a single use. It exists for deployments that want a real
// kernel-level boundary behind the same Executor interface, at the price of
// requiring a Docker daemon.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/sakif/script-playground/internal/executor"
)

var _ executor.Executor = (*Executor)(nil)

// Executor implements executor.Executor using Docker.
type Executor struct {
	cli    *client.Client
	config Config
	logger *slog.Logger
	pool   *Pool
}

// New creates a Docker Executor, pulls the image, and starts the warm pool.
func New(cfg Config, logger *slog.Logger) (*Executor, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	logger.Info("ensuring docker image is available", slog.String("image", cfg.Image))
	reader, err := cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	// Read everything to block until the pull is complete
	io.Copy(io.Discard, reader)
	logger.Info("docker image is ready")

	exec := &Executor{
		cli:    cli,
		config: cfg,
		logger: logger,
	}

	exec.pool = NewPool(cli, cfg, logger)
	exec.pool.Start()

	return exec, nil
}

// Discard is a no-op for the container backend: every execution already uses
// a single-shot container that is force-removed afterwards, so there is no
// lingering unit to tear down.
func (e *Executor) Discard() {}

// Close shuts down the executor pool and docker client.
func (e *Executor) Close() error {
	e.pool.Stop()
	return e.cli.Close()
}

// Execute runs the guest program under `node -e` in a pooled container.
//
// The wire shape matches the in-process unit: guest stdout becomes Output,
// a non-zero exit becomes a failure response with the stderr tail as the
// message, and exceeding the budget reports executor.TimeoutMessage exactly.
// Result is always empty — an expression completion value does not survive a
// process boundary, so container users print instead.
func (e *Executor) Execute(ctx context.Context, req executor.Request) (*executor.Response, error) {
	containerID, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container from pool: %w", err)
	}

	// Single-shot containers: always remove the one we acquired.
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := e.cli.ContainerRemove(cleanupCtx, containerID, container.RemoveOptions{
			Force: true,
		})
		if err != nil {
			e.logger.Error("failed to remove container", slog.String("id", containerID), slog.String("error", err.Error()))
		}
	}()

	timeout := req.Timeout()
	if timeout <= 0 {
		timeout = e.config.Timeout
	}
	executeCtx, executeCancel := context.WithTimeout(ctx, timeout)
	defer executeCancel()

	// The container was started with `sleep infinity`, so we inject the
	// program via docker exec rather than restarting it.
	execConfig := container.ExecOptions{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          []string{"node", "--max-old-space-size=64", "-e", req.Code},
	}

	execResp, err := e.cli.ContainerExecCreate(executeCtx, containerID, execConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create exec: %w", err)
	}

	attachResp, err := e.cli.ContainerExecAttach(executeCtx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer

	done := make(chan struct{})
	go func() {
		// stdcopy demultiplexes stdout from stderr on the attach stream
		_, _ = stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader)
		close(done)
	}()

	select {
	case <-done:
		inspectResp, err := e.cli.ContainerExecInspect(ctx, execResp.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect exec: %w", err)
		}
		if inspectResp.ExitCode != 0 {
			return &executor.Response{
				Output: stdout.String(),
				Error:  guestErrorMessage(stderr.String()),
			}, nil
		}
		return &executor.Response{
			Output: stdout.String(),
		}, nil

	case <-executeCtx.Done():
		return &executor.Response{
			Output: stdout.String(),
			Error:  executor.TimeoutMessage,
		}, nil
	}
}

// guestErrorMessage extracts a short, host-path-free message from node's
// stderr. Node prints the file context and a stack trace; the first line
// mentioning the thrown error is all the user needs.
func guestErrorMessage(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "at ") || strings.HasPrefix(line, "[eval]") {
			continue
		}
		if strings.Contains(line, "Error") || strings.Contains(line, "error") {
			return line
		}
	}
	return "script exited with a non-zero status"
}
