package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/entsync/internal/ir"
)

func TestClock_Next(t *testing.T) {
	c := NewClock()
	assert.Equal(t, int64(0), c.Current())
	assert.Equal(t, int64(1), c.Next())
	assert.Equal(t, int64(2), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestClock_ConcurrentNextIsUnique(t *testing.T) {
	c := NewClock()
	const goroutines, calls = 20, 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				seq := c.Next()
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, goroutines*calls)
	assert.Equal(t, int64(goroutines*calls), c.Current())
}

func TestEngine_PassesCountOnlyReadyPasses(t *testing.T) {
	f := newFixture(t)
	f.track(ir.Entity{ID: "a1", Kind: ir.KindAction, DefinitionID: "send", UpgradeIndex: ir.IntPtr(0)}, "c1")
	f.pass()
	assert.Equal(t, int64(0), f.engine.Passes(), "no pass before start")

	f.engine.Start(0)
	f.pass()
	assert.Equal(t, int64(1), f.engine.Passes())
}
