package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_VisitsEveryIndexOnce(t *testing.T) {
	configs := map[string]Config{
		"sequential": Sequential(),
		"parallel":   {Enabled: true, NumWorkers: 4, MinChunkSize: 1},
		"default":    DefaultConfig(),
	}
	for name, cfg := range configs {
		t.Run(name, func(t *testing.T) {
			const n = 500
			var counts [n]int32
			For(n, func(i int) {
				atomic.AddInt32(&counts[i], 1)
			}, cfg)
			for i, c := range counts {
				assert.Equal(t, int32(1), c, "index %d", i)
			}
		})
	}
}

func TestFor_ZeroItems(t *testing.T) {
	called := false
	For(0, func(int) { called = true }, DefaultConfig())
	assert.False(t, called)
}
