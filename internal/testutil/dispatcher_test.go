package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManualDispatcher_QueuesUntilRun(t *testing.T) {
	d := NewManualDispatcher()
	ran := 0
	d.Go(func() { ran++ })
	d.Go(func() { ran++ })

	assert.Equal(t, 0, ran)
	assert.Equal(t, 2, d.Pending())

	assert.True(t, d.RunNext())
	assert.Equal(t, 1, ran)
	assert.Equal(t, 1, d.RunAll())
	assert.Equal(t, 2, ran)
	assert.False(t, d.RunNext())
}

func TestManualDispatcher_RunAllIncludesNestedTasks(t *testing.T) {
	d := NewManualDispatcher()
	var order []int
	d.Go(func() {
		order = append(order, 1)
		d.Go(func() { order = append(order, 3) })
	})
	d.Go(func() { order = append(order, 2) })

	assert.Equal(t, 3, d.RunAll())
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestManualDispatcher_Discard(t *testing.T) {
	d := NewManualDispatcher()
	d.Go(func() { t.Fatal("discarded task ran") })

	assert.Equal(t, 1, d.Discard())
	assert.Equal(t, 0, d.RunAll())
}
