package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcore-project/meshcore/pkg/link"
	"github.com/meshcore-project/meshcore/pkg/route"
	"github.com/meshcore-project/meshcore/pkg/subscriber"
	"github.com/meshcore-project/meshcore/pkg/wire"
)

func sid(b byte) subscriber.SID {
	var s subscriber.SID
	s[0] = b
	return s
}

// TestStuffPassKeepsBroadcastUntilEveryUpInterfaceSent covers spec §4.5's
// removal rule: a broadcast must stay queued until it has gone out every
// up interface, regardless of SendCopies (original_source/overlay_queue.c:
// 426-446 ignores send_copies for broadcasts entirely).
func TestStuffPassKeepsBroadcastUntilEveryUpInterfaceSent(t *testing.T) {
	self := sid(1)
	subs := subscriber.NewTable(self)
	links := link.NewTable(2)
	routes := route.NewTable(subs, links)
	m := NewManager()

	// Two up interfaces, ids 1 and 2.
	upIfaces := uint64(1)<<1 | uint64(1)<<2

	item := &Item{
		Header: wire.Header{
			Source: self, Broadcast: true, BroadcastID: wire.BroadcastID{7},
			TTL: 3, Queue: wire.QueueOrdinary, Type: wire.TypeData,
		},
		Payload:    []byte("flood"),
		SendCopies: 1, // broadcasts must ignore this entirely
	}
	require.NoError(t, m.Enqueue(item))

	now := time.Now()
	buf1 := m.StuffPass(1, 1400, self, wire.EncapOverlay, subs, routes, now, upIfaces)
	require.NotNil(t, buf1, "the first interface's stuff pass should carry the broadcast")
	assert.Equal(t, 1, m.Depth(wire.QueueOrdinary), "broadcast must stay queued: interface 2 hasn't sent it yet")

	buf2 := m.StuffPass(2, 1400, self, wire.EncapOverlay, subs, routes, now, upIfaces)
	require.NotNil(t, buf2, "the second interface's stuff pass should also carry the broadcast")
	assert.Equal(t, 0, m.Depth(wire.QueueOrdinary), "broadcast must be removed once every up interface has sent it")

	// A third stuff pass on either interface has nothing left to send.
	assert.Nil(t, m.StuffPass(1, 1400, self, wire.EncapOverlay, subs, routes, now, upIfaces))
}
