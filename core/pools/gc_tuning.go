package pools

import (
	"runtime"
	"runtime/debug"
	"time"
)

// GCConfig holds GC tuning parameters
type GCConfig struct {
	// GOGC sets the garbage collection target percentage.
	// Arena and overflow buffers are mmapped and invisible to the GC, so the
	// Go heap only holds connection records and route tables.
	GOGC int

	// MemoryLimit sets a soft limit in bytes for the Go heap, 0 = no limit
	MemoryLimit int64
}

// DefaultGCConfig returns GC settings for workers whose buffers live in arenas
func DefaultGCConfig() GCConfig {
	return GCConfig{
		GOGC:        400,
		MemoryLimit: 0,
	}
}

// ApplyGCConfig applies GC tuning and returns the previous GOGC value
func ApplyGCConfig(cfg GCConfig) int {
	prev := -1
	if cfg.GOGC > 0 {
		prev = debug.SetGCPercent(cfg.GOGC)
	}
	if cfg.MemoryLimit > 0 {
		debug.SetMemoryLimit(cfg.MemoryLimit)
	}
	return prev
}

// GCStats holds garbage collection statistics
type GCStats struct {
	NumGC        uint32        `json:"num_gc"`
	LastPause    time.Duration `json:"last_pause"`
	HeapAlloc    uint64        `json:"heap_alloc"`
	Sys          uint64        `json:"sys"`
	NumGoroutine int           `json:"num_goroutine"`
}

// GetGCStats returns current GC statistics
func GetGCStats() GCStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	stats := GCStats{
		NumGC:        ms.NumGC,
		HeapAlloc:    ms.HeapAlloc,
		Sys:          ms.Sys,
		NumGoroutine: runtime.NumGoroutine(),
	}
	if ms.NumGC > 0 {
		stats.LastPause = time.Duration(ms.PauseNs[(ms.NumGC+255)%256])
	}
	return stats
}
