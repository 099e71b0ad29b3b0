package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcore-project/meshcore/pkg/wire"
)

func TestEnqueueRejectsExpiredFrame(t *testing.T) {
	m := NewManager()
	err := m.Enqueue(&Item{Header: wire.Header{TTL: 0, Queue: wire.QueueOrdinary}})
	assert.ErrorIs(t, err, ErrExpired)
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	m := NewManager()
	limit := defaultLimits[wire.QueueVoice].maxLength
	for i := 0; i < limit; i++ {
		require.NoError(t, m.Enqueue(&Item{Header: wire.Header{TTL: 5, Queue: wire.QueueVoice}}))
	}
	err := m.Enqueue(&Item{Header: wire.Header{TTL: 5, Queue: wire.QueueVoice}})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestDrainRespectsPriorityOrder(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Enqueue(&Item{Header: wire.Header{TTL: 1, Queue: wire.QueueMeshManagement}}))
	require.NoError(t, m.Enqueue(&Item{Header: wire.Header{TTL: 1, Queue: wire.QueueOrdinary}}))
	require.NoError(t, m.Enqueue(&Item{Header: wire.Header{TTL: 1, Queue: wire.QueueVoice}}))

	now := time.Now()
	first := m.Drain(now)
	require.NotNil(t, first)
	assert.Equal(t, wire.QueueVoice, first.Header.Queue)

	second := m.Drain(now)
	require.NotNil(t, second)
	assert.Equal(t, wire.QueueOrdinary, second.Header.Queue)

	third := m.Drain(now)
	require.NotNil(t, third)
	assert.Equal(t, wire.QueueMeshManagement, third.Header.Queue)

	assert.Nil(t, m.Drain(now))
}

// TestDrainDropsExpiredItem covers spec §4.5 stuff-pass step 2's first rule
// and its Concrete Scenario D: a VOICE frame (latency_target=200ms) that has
// sat in the queue past its deadline must be dropped at drain time rather
// than transmitted stale, and must not resurface on a later Drain call.
func TestDrainDropsExpiredItem(t *testing.T) {
	m := NewManager()
	stale := &Item{Header: wire.Header{TTL: 1, Queue: wire.QueueVoice}, Enqueued: time.Now().Add(-500 * time.Millisecond)}
	require.NoError(t, m.Enqueue(stale))

	assert.Nil(t, m.Drain(time.Now()), "a frame past its latency target must be dropped, not returned")
	assert.Nil(t, m.Drain(time.Now()), "the expired item must not still be in the queue on a later drain")
}

// TestDrainSkipsExpiredHeadAndReturnsFreshItem ensures an expired item does
// not block a still-fresh item behind it in the same class.
func TestDrainSkipsExpiredHeadAndReturnsFreshItem(t *testing.T) {
	m := NewManager()
	stale := &Item{Header: wire.Header{TTL: 1, Queue: wire.QueueVoice}, Payload: []byte("stale"), Enqueued: time.Now().Add(-500 * time.Millisecond)}
	fresh := &Item{Header: wire.Header{TTL: 1, Queue: wire.QueueVoice}, Payload: []byte("fresh"), Enqueued: time.Now()}
	require.NoError(t, m.Enqueue(stale))
	require.NoError(t, m.Enqueue(fresh))

	got := m.Drain(time.Now())
	require.NotNil(t, got)
	assert.Equal(t, fresh, got)
}

func TestNextDeadlineTracksOldestItem(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Enqueue(&Item{Header: wire.Header{TTL: 1, Queue: wire.QueueVoice}, Enqueued: time.Now()}))
	d, ok := m.NextDeadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(200*time.Millisecond), d, 50*time.Millisecond)
}

func TestRequeuePutsItemBackAtFront(t *testing.T) {
	m := NewManager()
	a := &Item{Header: wire.Header{TTL: 1, Queue: wire.QueueOrdinary}, Payload: []byte("a")}
	b := &Item{Header: wire.Header{TTL: 1, Queue: wire.QueueOrdinary}, Payload: []byte("b")}
	require.NoError(t, m.Enqueue(a))
	require.NoError(t, m.Enqueue(b))

	now := time.Now()
	popped := m.Drain(now) // a
	m.Requeue(popped)

	assert.Equal(t, a, m.Drain(now))
	assert.Equal(t, b, m.Drain(now))
}
