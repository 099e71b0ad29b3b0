package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunDueFiresInDeadlineOrder(t *testing.T) {
	a := NewAlarms()
	now := time.Now()
	var order []int

	a.Schedule(now.Add(30*time.Millisecond), func(time.Time) { order = append(order, 3) })
	a.Schedule(now.Add(10*time.Millisecond), func(time.Time) { order = append(order, 1) })
	a.Schedule(now.Add(20*time.Millisecond), func(time.Time) { order = append(order, 2) })

	a.RunDue(now.Add(25 * time.Millisecond))
	assert.Equal(t, []int{1, 2}, order)

	a.RunDue(now.Add(40 * time.Millisecond))
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestCancelRemovesPendingAlarm(t *testing.T) {
	a := NewAlarms()
	fired := false
	id := a.Schedule(time.Now().Add(time.Millisecond), func(time.Time) { fired = true })
	a.Cancel(id)
	a.RunDue(time.Now().Add(time.Second))
	assert.False(t, fired)
}

func TestNextDeadlineReflectsEarliestAlarm(t *testing.T) {
	a := NewAlarms()
	now := time.Now()
	a.Schedule(now.Add(50*time.Millisecond), func(time.Time) {})
	a.Schedule(now.Add(5*time.Millisecond), func(time.Time) {})

	d, ok := a.NextDeadline()
	require.True(t, ok)
	assert.True(t, d.Before(now.Add(10*time.Millisecond)))
}
