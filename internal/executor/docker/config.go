package docker

import (
	"time"
)

// Config holds the configuration for container-backed execution.
type Config struct {
	// Image is the image guest code runs in. Anything with a `node` binary
	// on PATH works.
	Image string
	// MemoryLimit is the container memory cap in bytes.
	MemoryLimit int64
	// CPULimit is the CPU share in whole CPUs (0.5 = half a core).
	CPULimit float64
	// Timeout is the default execution budget when a request carries none.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers kept ready.
	PoolSize int
}

// DefaultConfig provides sensible defaults for a JavaScript sandbox.
func DefaultConfig() Config {
	return Config{
		Image:       "node:20-alpine",
		MemoryLimit: 128 * 1024 * 1024,
		CPULimit:    0.5,
		Timeout:     5 * time.Second,
		PoolSize:    3,
	}
}
