package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer_Fires(t *testing.T) {
	var tm Timer
	var fired atomic.Int32

	tm.Arm(10*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, tm.Armed())

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 2*time.Millisecond)
	assert.False(t, tm.Armed())
}

func TestTimer_RearmCancelsPrevious(t *testing.T) {
	var tm Timer
	var first, second atomic.Int32

	tm.Arm(20*time.Millisecond, func() { first.Add(1) })
	tm.Arm(40*time.Millisecond, func() { second.Add(1) })

	require.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, 2*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), first.Load())
	assert.Equal(t, int32(1), second.Load())
}

func TestTimer_Cancel(t *testing.T) {
	var tm Timer
	var fired atomic.Int32

	tm.Arm(10*time.Millisecond, func() { fired.Add(1) })
	tm.Cancel()
	assert.False(t, tm.Armed())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestTimer_CancelIdle(t *testing.T) {
	var tm Timer
	assert.NotPanics(t, tm.Cancel)
	assert.False(t, tm.Armed())
}

func TestManager_CancelAll(t *testing.T) {
	var m Manager
	var fired atomic.Int32

	m.Inactivity.Arm(10*time.Millisecond, func() { fired.Add(1) })
	m.WakeIdle.Arm(10*time.Millisecond, func() { fired.Add(1) })
	assert.True(t, m.AnyArmed())

	m.CancelAll()
	assert.False(t, m.AnyArmed())

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())
}

func TestManager_Independent(t *testing.T) {
	var m Manager
	var inactivity, wake atomic.Int32

	m.Inactivity.Arm(10*time.Millisecond, func() { inactivity.Add(1) })
	m.WakeIdle.Arm(10*time.Millisecond, func() { wake.Add(1) })
	m.WakeIdle.Cancel()

	require.Eventually(t, func() bool { return inactivity.Load() == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, int32(0), wake.Load())
}
