package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrInsufficientMem = errors.New("insufficient free memory")
)

const (
	kb = 1024
	mb = kb * kb

	// per-connection bookkeeping outside the arena: the connection record
	// plus its iovec and buffer record arrays
	connRecordSize = 256
	iovecSize      = 16
	bufferRecSize  = 40
	blockSize      = 4
)

// freeMemory reports currently free system memory in bytes
var freeMemory = func() (uint64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	return uint64(info.Freeram) * uint64(info.Unit), nil
}

// Workers returns how many workers the configuration starts
func (c *Config) Workers() int {
	if c.MultiCore {
		return runtime.NumCPU()
	}
	return 1
}

// Normalize rounds the pool size up to a whole number of pages
func (c *Config) Normalize() {
	page := os.Getpagesize()
	if c.PoolSize > 0 {
		c.PoolSize = (c.PoolSize + page - 1) &^ (page - 1)
	}
}

// HeaderBufferSize is the size of the per-connection receive and response
// head buffers: MaxHeaderSize rounded up to a whole bitmap word of blocks
func (c *Config) HeaderBufferSize() int {
	const word = 64 * blockSize
	return (c.MaxHeaderSize + word - 1) / word * word
}

// NeededMemory projects the worst-case memory use of all workers
func (c *Config) NeededMemory() uint64 {
	conns := uint64(c.MaxConnections)
	pool := uint64(c.PoolSize)
	iovs := uint64(c.MaxWrites+1) * 2

	var perWorker uint64
	perWorker += conns * connRecordSize
	perWorker += pool
	perWorker += conns * iovs * (iovecSize + bufferRecSize)
	perWorker += (pool/blockSize + 63) / 64 * 8
	perWorker += (conns + 63) / 64 * 8
	return perWorker * uint64(c.Workers())
}

// Validate checks the configuration once before the server listens
func (c *Config) Validate() error {
	switch {
	case c.MaxConnections <= 0:
		return fmt.Errorf("%w: max-connections must be positive", ErrInvalidConfig)
	case c.MaxHeaders <= 0:
		return fmt.Errorf("%w: max-headers must be positive", ErrInvalidConfig)
	case c.MaxParams <= 0:
		return fmt.Errorf("%w: max-params must be positive", ErrInvalidConfig)
	case c.MaxHeaderSize < kb:
		return fmt.Errorf("%w: max-header-size must be at least 1KB", ErrInvalidConfig)
	case c.PoolSize < mb:
		return fmt.Errorf("%w: pool-size must be at least 1MB", ErrInvalidConfig)
	case c.MaxWrites <= 0:
		return fmt.Errorf("%w: max-writes must be positive", ErrInvalidConfig)
	case c.MaxBodySize < 0:
		return fmt.Errorf("%w: max-body-size must not be negative", ErrInvalidConfig)
	case c.IdleTimeout < 0:
		return fmt.Errorf("%w: idle-timeout must not be negative", ErrInvalidConfig)
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	case c.QueueDepth <= 0:
		return fmt.Errorf("%w: queue-depth must be positive", ErrInvalidConfig)
	case c.Backend != BackendUring && c.Backend != BackendEpoll:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	case c.PoolOnly && c.PoolSize < 2*c.HeaderBufferSize():
		return fmt.Errorf("%w: pool-only arena cannot hold one connection", ErrInvalidConfig)
	}

	free, err := freeMemory()
	if err != nil {
		return fmt.Errorf("failed to read free memory: %w", err)
	}
	if need := c.NeededMemory(); need >= free {
		return fmt.Errorf("%w: need %d bytes, %d free", ErrInsufficientMem, need, free)
	}
	return nil
}
