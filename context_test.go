package meshcore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcore-project/meshcore/pkg/iface"
	"github.com/meshcore-project/meshcore/pkg/queue"
	"github.com/meshcore-project/meshcore/pkg/route"
	"github.com/meshcore-project/meshcore/pkg/subscriber"
	"github.com/meshcore-project/meshcore/pkg/wire"
)

// pipeTransport is a minimal in-memory iface.Transport: Send appends to an
// outbox the test inspects directly; nothing in these tests drives traffic
// through Recv/the poller, so they are unused stubs.
type pipeTransport struct {
	out *[][]byte
}

func (p *pipeTransport) Send(b []byte) error {
	*p.out = append(*p.out, append([]byte(nil), b...))
	return nil
}
func (p *pipeTransport) Recv() ([]byte, error) { return nil, nil }
func (p *pipeTransport) Close() error          { return nil }
func (p *pipeTransport) FD() int               { return -1 }

func sidFor(b byte) subscriber.SID {
	var s subscriber.SID
	s[0] = b
	return s
}

func newTestContext(t *testing.T, sid subscriber.SID) (*Context, *[][]byte, *iface.Interface) {
	t.Helper()
	c, err := NewContext(Config{SID: sid})
	require.NoError(t, err)

	var out [][]byte
	ifc := c.Ifaces.Register("eth0", iface.KindEthernet, &pipeTransport{out: &out}, nil)
	ifc.State = iface.StateUp
	require.NoError(t, c.RegisterInterface(ifc))
	return c, &out, ifc
}

// TestSelfAnnounceAndAckRoundTrip exercises the tick-driven half of spec
// §4.3 end to end: A's periodic self-announcements let B build a
// contiguous hearing window, B's own next tick reports that window back as
// a SELFANNOUNCE_ACK, and A processing that ack gives A a positive link
// score for B (spec §8 scenario A, simplified to two ticks instead of a
// full 2-second ramp).
func TestSelfAnnounceAndAckRoundTrip(t *testing.T) {
	sidA := sidFor(1)
	sidB := sidFor(2)

	a, aOut, aIfc := newTestContext(t, sidA)
	b, _, bIfc := newTestContext(t, sidB)

	t1 := time.Now()
	t2 := t1.Add(100 * time.Millisecond)

	a.emitSelfAnnounce(aIfc, t1)
	a.emitSelfAnnounce(aIfc, t2)
	require.Len(t, *aOut, 2)

	for i, hearAt := range []time.Time{t1, t2} {
		env, records, err := wire.Decode((*aOut)[i])
		require.NoError(t, err)
		assert.True(t, env.HasSeq)
		b.trackSelfAnnounce(bIfc, env, hearAt)
		for _, rec := range records {
			b.handleRecord(bIfc, env, rec)
		}
	}

	var bOut [][]byte
	bIfc.Transport = &pipeTransport{out: &bOut}
	b.emitSelfAnnounce(bIfc, t2.Add(time.Millisecond))
	require.Len(t, bOut, 1)

	env2, records2, err := wire.Decode(bOut[0])
	require.NoError(t, err)

	var sawAck bool
	for _, rec := range records2 {
		if rec.Header.Type == wire.TypeSelfAnnounceAck {
			sawAck = true
			assert.Equal(t, sidA, rec.Header.Dest)
		}
		a.handleRecord(aIfc, env2, rec)
	}
	require.True(t, sawAck, "B's next tick should ack A's self-announcement")

	bID := a.Subs.Lookup(sidB).ID
	_, slot, ok := a.Links.Lookup(bID)
	require.True(t, ok, "A should have created a neighbour slot for B")
	assert.Greater(t, slot.PeakScore(), uint8(0))
}

// TestHandleRecordLearnsSourceSID covers the general Subscriber-registration
// hook: decoding a record whose Source differs from the envelope's own
// sender (the forwarded-record case) must still register that Source as a
// known Subscriber, since that is how a NODEANNOUNCE prefix two hops away
// eventually resolves (spec §3, §4.4).
func TestHandleRecordLearnsSourceSID(t *testing.T) {
	sidSelf := sidFor(9)
	sidRelay := sidFor(8)
	sidOrigin := sidFor(7)

	c, err := NewContext(Config{SID: sidSelf})
	require.NoError(t, err)
	var out [][]byte
	ifc := c.Ifaces.Register("eth0", iface.KindEthernet, &pipeTransport{out: &out}, nil)
	ifc.State = iface.StateUp
	require.NoError(t, c.RegisterInterface(ifc))

	env := wire.Envelope{Encap: wire.EncapOverlay, Sender: sidRelay}
	rec := wire.Record{Header: wire.Header{Source: sidOrigin, HasDest: true, Dest: sidSelf, TTL: 3, Type: wire.TypeData}}

	c.handleRecord(ifc, env, rec)

	_, ok := c.Subs.Find(sidOrigin)
	assert.True(t, ok, "the record's Source should be registered even though it differs from the envelope sender")
}

// fakeRhizomeSource is a minimal stand-in for a content store: it has no
// persistence, it just reports whatever BARs the test configured and
// records whatever adverts it was handed.
type fakeRhizomeSource struct {
	bars     []wire.BAR
	received []wire.RhizomeAdvert
}

func (f *fakeRhizomeSource) AdvertisedBARs() []wire.BAR { return f.bars }
func (f *fakeRhizomeSource) ReceiveAdvert(from subscriber.SID, advert wire.RhizomeAdvert) {
	f.received = append(f.received, advert)
}

// TestStuffPassPiggybacksRhizomeAdvert covers spec §4.5 step 3: once the
// queue walk has produced a nonempty ensemble, a wired RhizomeSource's BARs
// are opportunistically appended as a RHIZOME_ADVERT record.
func TestStuffPassPiggybacksRhizomeAdvert(t *testing.T) {
	c, out, ifc := newTestContext(t, sidFor(1))
	src := &fakeRhizomeSource{bars: []wire.BAR{{TTL: 4}}}
	c.RhizomeSource = src

	h := wire.Header{
		Source:      c.cfg.SID,
		Broadcast:   true,
		BroadcastID: wire.BroadcastID{1},
		TTL:         1,
		Queue:       wire.QueueMeshManagement,
		Type:        wire.TypeNodeAnnounce,
	}
	require.NoError(t, c.Queues.Enqueue(&queue.Item{Header: h, Payload: []byte{0}, SendCopies: 1}))

	c.stuffPass(ifc)
	require.Len(t, *out, 1)

	_, records, err := wire.Decode((*out)[0])
	require.NoError(t, err)

	var sawAdvert bool
	for _, rec := range records {
		if rec.Header.Type == wire.TypeRhizomeAdvert {
			sawAdvert = true
			advert, derr := wire.DecodeRhizomeAdvert(rec.Payload)
			require.NoError(t, derr)
			require.Len(t, advert.BARs, 1)
			assert.Equal(t, uint8(4), advert.BARs[0].TTL)
		}
	}
	assert.True(t, sawAdvert, "stuffPass should piggyback the rhizome source's BARs onto a nonempty ensemble")
}

// TestBecameReachableRequestsPriorityAdvertise covers spec §4.3's invariant
// that a node whose score rises from 0 gets a priority advertisement request
// rather than waiting for the next periodic self-announce tick.
func TestBecameReachableRequestsPriorityAdvertise(t *testing.T) {
	c, _, _ := newTestContext(t, sidFor(1))

	peer := c.Subs.Lookup(sidFor(2))
	peer.Reachable = subscriber.BROADCAST
	peer.IfaceID = 1
	n := c.Routes.Node(peer.ID)
	n.BestScore = 200

	c.requestPriorityAdvertise(n)

	item := c.Queues.Drain(time.Now())
	require.NotNil(t, item, "requestPriorityAdvertise should enqueue a NODEANNOUNCE")
	assert.Equal(t, wire.TypeNodeAnnounce, item.Header.Type)
	assert.Equal(t, wire.QueueMeshManagement, item.Header.Queue)

	advert, err := wire.DecodeNodeAnnounce(item.Payload)
	require.NoError(t, err)
	require.Len(t, advert, 1)
	assert.EqualValues(t, 200, advert[0].Score)
}

// TestBecameUnreachableSendsProbe covers spec §4.4 Transitions: a node
// dropping from a positive best score to 0 gets a one-off unicast probe sent
// directly out the interface it was last reachable through, and its
// LastProbe timestamp is recorded.
func TestBecameUnreachableSendsProbe(t *testing.T) {
	c, out, ifc := newTestContext(t, sidFor(1))

	peer := c.Subs.Lookup(sidFor(2))
	peer.Reachable = subscriber.NONE // already demoted by BestPath before the callback fires
	n := c.Routes.Node(peer.ID)

	before := peer.LastProbe
	c.sendProbe(n, ifc.ID)

	require.Len(t, *out, 1, "sendProbe should send directly over the transport, bypassing the queue")
	_, records, err := wire.Decode((*out)[0])
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, peer.SID, records[0].Header.Dest)
	assert.True(t, peer.LastProbe.After(before))
}

// TestRouteBestPathFiresReachabilityCallbacks exercises BestPath itself (not
// just the callbacks in isolation): a direct link appearing then disappearing
// must fire OnBecameReachable then OnBecameUnreachable exactly once each,
// with the unreachable callback reporting the interface the node was last
// reachable through.
func TestRouteBestPathFiresReachabilityCallbacks(t *testing.T) {
	c, _, ifc := newTestContext(t, sidFor(1))

	var reachableCalls, unreachableCalls int
	var lastIface uint8
	c.Routes.OnBecameReachable = func(n *route.Node, _ uint8) { reachableCalls++ }
	c.Routes.OnBecameUnreachable = func(n *route.Node, iface uint8) {
		unreachableCalls++
		lastIface = iface
	}

	peer := c.Subs.Lookup(sidFor(2))
	n := c.Routes.Node(peer.ID)
	c.Links.NodeCanHearMe(peer.ID, ifc.ID, 0, 0, time.Now())
	slotID, slot, ok := c.Links.Lookup(peer.ID)
	require.True(t, ok)
	n.NeighbourSlot = slotID
	slot.Scores[ifc.ID] = 100

	c.Routes.BestPath(time.Now(), n)
	assert.Equal(t, 1, reachableCalls)
	assert.Equal(t, subscriber.BROADCAST, peer.Reachable)

	slot.Scores[ifc.ID] = 0
	c.Routes.BestPath(time.Now(), n)
	assert.Equal(t, 1, unreachableCalls)
	assert.Equal(t, ifc.ID, lastIface)
}
