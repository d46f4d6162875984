package pools

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyGCConfigReturnsPrevious(t *testing.T) {
	orig := debug.SetGCPercent(150)
	defer debug.SetGCPercent(orig)

	prev := ApplyGCConfig(GCConfig{GOGC: 300})
	assert.Equal(t, 150, prev)
	assert.Equal(t, 300, debug.SetGCPercent(300))

	assert.Equal(t, -1, ApplyGCConfig(GCConfig{}))
}

func TestGetGCStats(t *testing.T) {
	runtime.GC()
	s := GetGCStats()
	assert.NotZero(t, s.NumGC)
	assert.NotZero(t, s.HeapAlloc)
	assert.Positive(t, s.NumGoroutine)
}
