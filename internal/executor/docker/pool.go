package docker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Pool keeps pre-warmed containers so execution does not pay the container
// start cost on every request. It refills on demand: acquiring a container
// issues a refill ticket, and the filler creates one replacement per ticket.
type Pool struct {
	cli    *client.Client
	config Config
	logger *slog.Logger

	warm   chan string
	refill chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool initializes a container pool of cfg.PoolSize warm containers.
func NewPool(cli *client.Client, cfg Config, logger *slog.Logger) *Pool {
	size := cfg.PoolSize
	if size < 1 {
		size = 1
	}
	return &Pool{
		cli:    cli,
		config: cfg,
		logger: logger,
		warm:   make(chan string, size),
		refill: make(chan struct{}, size),
		done:   make(chan struct{}),
	}
}

// Start launches the filler with tickets for a full pool.
func (p *Pool) Start() {
	p.once.Do(func() {
		p.logger.Info("starting container pool", slog.Int("poolSize", cap(p.warm)))
		for i := 0; i < cap(p.refill); i++ {
			p.refill <- struct{}{}
		}
		p.wg.Add(1)
		go p.filler()
	})
}

// Stop shuts down the filler and removes all surviving warm containers.
func (p *Pool) Stop() {
	p.logger.Info("shutting down container pool")
	close(p.done)
	p.wg.Wait()

	for {
		select {
		case id := <-p.warm:
			p.removeContainer(id)
		default:
			return
		}
	}
}

// Acquire hands out a warm container and schedules its replacement. It
// blocks until one is ready or the context is canceled.
func (p *Pool) Acquire(ctx context.Context) (string, error) {
	select {
	case id := <-p.warm:
		select {
		case p.refill <- struct{}{}:
		default:
		}
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// filler creates one container per refill ticket. On failure the ticket is
// returned after a pause so capacity recovers once the daemon does.
func (p *Pool) filler() {
	defer p.wg.Done()

	for {
		select {
		case <-p.done:
			return
		case <-p.refill:
			id, err := p.createContainer()
			if err != nil {
				p.logger.Error("failed to create pre-warmed container", slog.String("error", err.Error()))
				time.Sleep(1 * time.Second)
				select {
				case p.refill <- struct{}{}:
				default:
				}
				continue
			}

			select {
			case p.warm <- id:
			case <-p.done:
				// Shutting down while trying to push
				p.removeContainer(id)
				return
			}
		}
	}
}

// createContainer starts an idle container the executor can exec into.
//
// NetworkMode "none" and ReadonlyRootfs are the container-level equivalents
// of the validator's network and storage deny-list categories: even if a
// construct slips past textual filtering, there is no network namespace and
// no writable filesystem to reach. The pids limit stops fork bombs; /tmp is
// a small noexec tmpfs because node wants writable scratch even for -e
// programs.
func (p *Pool) createContainer() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pids := int64(64)
	hostConfig := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:    p.config.MemoryLimit,
			NanoCPUs:  int64(p.config.CPULimit * 1e9),
			PidsLimit: &pids,
		},
		AutoRemove:     false,
		ReadonlyRootfs: true,
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,size=16m",
		},
	}

	resp, err := p.cli.ContainerCreate(ctx, &container.Config{
		Image:        p.config.Image,
		Cmd:          []string{"sleep", "infinity"},
		Tty:          false,
		AttachStdout: false,
		AttachStderr: false,
		User:         "node", // unprivileged user shipped with the node images
	}, hostConfig, nil, nil, "")

	if err != nil {
		return "", fmt.Errorf("ContainerCreate failed: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		p.removeContainer(resp.ID) // Cleanup
		return "", fmt.Errorf("ContainerStart failed: %w", err)
	}

	return resp.ID, nil
}

// removeContainer force removes a container by ID.
func (p *Pool) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = p.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force: true,
	})
}
