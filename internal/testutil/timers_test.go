package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualTimers_StartsAtEpoch(t *testing.T) {
	m := NewManualTimers()
	assert.Equal(t, Epoch, m.Now())
	assert.Equal(t, 0, m.Pending())
}

func TestManualTimers_FiresOnlyWhenDue(t *testing.T) {
	m := NewManualTimers()
	fired := 0
	m.AfterFunc(10*time.Millisecond, func() { fired++ })

	m.Advance(9 * time.Millisecond)
	assert.Equal(t, 0, fired)
	assert.Equal(t, 1, m.Pending())

	m.Advance(1 * time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.Equal(t, 0, m.Pending())
	assert.Equal(t, Epoch.Add(10*time.Millisecond), m.Now())
}

func TestManualTimers_StopPreventsCall(t *testing.T) {
	m := NewManualTimers()
	fired := false
	stop := m.AfterFunc(time.Millisecond, func() { fired = true })

	assert.True(t, stop())
	assert.False(t, stop(), "second stop reports nothing prevented")

	m.Advance(time.Second)
	assert.False(t, fired)
}

func TestManualTimers_RunsInDueOrder(t *testing.T) {
	m := NewManualTimers()
	var order []string
	m.AfterFunc(30*time.Millisecond, func() { order = append(order, "c") })
	m.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	m.AfterFunc(10*time.Millisecond, func() { order = append(order, "b") })

	m.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestManualTimers_CallbackSchedulesWithinWindow(t *testing.T) {
	m := NewManualTimers()
	var at []time.Duration
	m.AfterFunc(10*time.Millisecond, func() {
		at = append(at, m.Now().Sub(Epoch))
		m.AfterFunc(10*time.Millisecond, func() {
			at = append(at, m.Now().Sub(Epoch))
		})
	})

	m.Advance(25 * time.Millisecond)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, at)
	assert.Equal(t, Epoch.Add(25*time.Millisecond), m.Now())
}
