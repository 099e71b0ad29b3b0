// Package meshcore wires together the interface manager, link and route
// tables, frame codec, outbound queues, and scheduler into one running
// mesh node. A single Context handle is threaded through every operation
// and owns every piece of mutable state (spec §9 Design Notes), matching
// the teacher's own single-owner *Server pattern
// (_examples/ventosilenzioso-go-raknet/source/server/server.go) generalized
// from one UDP listener to N heterogeneous interfaces.
package meshcore

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/xid"

	"github.com/meshcore-project/meshcore/pkg/dedup"
	"github.com/meshcore-project/meshcore/pkg/iface"
	"github.com/meshcore-project/meshcore/pkg/link"
	"github.com/meshcore-project/meshcore/pkg/logger"
	"github.com/meshcore-project/meshcore/pkg/queue"
	"github.com/meshcore-project/meshcore/pkg/route"
	"github.com/meshcore-project/meshcore/pkg/sched"
	"github.com/meshcore-project/meshcore/pkg/subscriber"
	"github.com/meshcore-project/meshcore/pkg/wire"
)

// selfAnnounceTTL bounds how far a piggybacked node-advertisement is
// reflooded (spec §1 Non-goals: "knowledge extends only a few hops").
const selfAnnounceTTL = 2

// heardKey identifies one (neighbour, local-interface) pair we are tracking
// a contiguous self-announcement window for, pending acknowledgement.
type heardKey struct {
	sender subscriber.ID
	iface  uint8
}

// heardWindow is the receiving side's running tally of a contiguous run of
// a neighbour's self-announcement envelopes, built from local receipt
// wallclock rather than the sender's own clock (spec §4.3's s1/s2 are, by
// construction here, the hearer's observation interval, not a value the
// sender transmits) and reported back as a SELFANNOUNCE_ACK on our own next
// tick on that interface.
type heardWindow struct {
	s1, s2  uint32
	lastSeq uint8
	haveSeq bool
}

// Config configures a new mesh Context.
type Config struct {
	// SID is this node's own subscriber identity.
	SID subscriber.SID
	// BroadcastDedupTTL bounds how long a broadcast id is remembered to
	// suppress re-flooding (spec §3).
	BroadcastDedupTTL time.Duration
	// RouteTick is the periodic interval at which both the link table's
	// scores and the route table's best paths are recomputed (spec §4.3,
	// §4.4); it defaults to route.TickInterval (5s) if zero.
	RouteTick time.Duration
}

// Context owns every piece of state for one running mesh node.
type Context struct {
	cfg Config

	Subs   *subscriber.Table
	Links  *link.Table
	Routes *route.Table
	Dedup  *dedup.Table
	Ifaces *iface.Manager
	Queues *queue.Manager

	alarms *sched.Alarms
	poller *sched.Poller
	done   chan struct{}

	ifaceSeq map[uint8]uint8
	heard    map[heardKey]*heardWindow

	// RhizomeSource is an optional hook into the content store (spec §1
	// Non-goals: "the core only sees them as 'enqueue an advertisement
	// frame' and 'here is a received advertisement, hand it off'"). When
	// set, its BARs are opportunistically piggybacked onto an otherwise
	// nonempty outbound ensemble (spec §4.5 step 3). Left nil, no
	// RHIZOME_ADVERT records are ever emitted.
	RhizomeSource RhizomeSource
}

// RhizomeSource is implemented by whatever owns the content store; the
// core never looks inside a BAR beyond what it advertises or relays.
type RhizomeSource interface {
	// AdvertisedBARs returns the BARs to piggyback on the next outbound
	// ensemble that already has a payload.
	AdvertisedBARs() []wire.BAR
	// ReceiveAdvert hands off a decoded advertisement heard from the mesh;
	// the core takes no further action on it.
	ReceiveAdvert(from subscriber.SID, advert wire.RhizomeAdvert)
}

// NewContext builds a Context from cfg, wiring the link table's score
// changes and the route table's reachability transitions together exactly
// as spec §4.3/§4.4 describe, then returns it in a stopped state — callers
// must call Run to start the event loop.
func NewContext(cfg Config) (*Context, error) {
	if cfg.BroadcastDedupTTL == 0 {
		cfg.BroadcastDedupTTL = 30 * time.Second
	}
	if cfg.RouteTick == 0 {
		cfg.RouteTick = route.TickInterval
	}

	subs := subscriber.NewTable(cfg.SID)
	links := link.NewTable(0)
	routes := route.NewTable(subs, links)

	poller, err := sched.NewPoller()
	if err != nil {
		return nil, fmt.Errorf("meshcore: create poller: %w", err)
	}

	c := &Context{
		cfg:    cfg,
		Subs:   subs,
		Links:  links,
		Routes: routes,
		Dedup:  dedup.New(cfg.BroadcastDedupTTL),
		Ifaces: iface.NewManager(),
		Queues: queue.NewManager(),
		alarms: sched.NewAlarms(),
		poller: poller,
		done:   make(chan struct{}),

		ifaceSeq: make(map[uint8]uint8),
		heard:    make(map[heardKey]*heardWindow),
	}

	links.OnScoreChange = func(slot link.SlotID, ifaceID uint8, old, newScore uint8, becameReachable bool) {
		s := links.Slot(slot)
		if s == nil {
			return
		}
		n := routes.Node(s.Subscriber)
		n.NeighbourSlot = slot
		routes.BestPath(time.Now(), n)
	}
	links.OnEvict = func(slot link.SlotID, evicted subscriber.ID) {
		n := routes.Node(evicted)
		n.NeighbourSlot = 0
		routes.BestPath(time.Now(), n)
	}

	// spec §4.3/§4.4's reachability Transitions: a peer becoming reachable
	// (score 0 -> positive) requests priority advertisement instead of
	// waiting for its next regularly-scheduled tick; a peer becoming
	// unreachable (best score -> 0) gets a one-off unicast probe on the
	// interface it was last reachable through.
	routes.OnBecameReachable = func(n *route.Node, _ uint8) {
		c.requestPriorityAdvertise(n)
	}
	routes.OnBecameUnreachable = func(n *route.Node, lastIface uint8) {
		c.sendProbe(n, lastIface)
	}

	return c, nil
}

// requestPriorityAdvertise enqueues a one-off NODEANNOUNCE for n (spec
// §4.3 invariant: "if the score rose from 0 ... requests priority
// advertisement"), so it rides the very next stuff pass on any interface
// instead of waiting for this node's own next periodic self-announce tick.
// Grounded on overlay_route_please_advertise's priority-request list
// (original_source/overlay_advertise.c) — we skip its round-robin node-list
// consultation. The frame goes into the MESH_MANAGEMENT class, which a
// stuff pass drains after voice, video and ordinary traffic.
func (c *Context) requestPriorityAdvertise(n *route.Node) {
	sub := c.Subs.Get(n.Subscriber)
	if sub == nil {
		return
	}
	var gatewaysEnRoute uint8
	if sub.Reachable == subscriber.INDIRECT {
		gatewaysEnRoute = 1
	}
	advert := wire.NodeAdvert{SIDPrefix: [6]byte(sub.SID[:6]), Score: n.BestScore, GatewaysEnRoute: gatewaysEnRoute}
	body := wire.EncodeNodeAnnounce([]wire.NodeAdvert{advert})
	h := wire.Header{
		Source:      c.cfg.SID,
		Broadcast:   true,
		BroadcastID: randomBroadcastID(),
		TTL:         selfAnnounceTTL,
		Queue:       wire.QueueMeshManagement,
		Type:        wire.TypeNodeAnnounce,
	}
	if err := c.Queues.Enqueue(&queue.Item{Header: h, Payload: body, SendCopies: 1}); err != nil {
		logger.Debug("priority advertise for %s not queued: %v", sub.SID, err)
	}
}

// sendProbe implements spec §4.4 Transitions' "going from non-zero best to
// zero triggers a unicast probe to the last known address": a minimal
// one-hop frame sent directly out lastIface, bypassing the outbound queue
// (the route table by now reports this subscriber unreachable, so a stuff
// pass would drop any queued frame addressed to it).
func (c *Context) sendProbe(n *route.Node, lastIface uint8) {
	sub := c.Subs.Get(n.Subscriber)
	if sub == nil {
		return
	}
	ifc := c.Ifaces.Get(lastIface)
	if ifc == nil {
		return
	}
	h := wire.Header{Source: c.cfg.SID, HasDest: true, Dest: sub.SID, OneHop: true, Queue: wire.QueueMeshManagement, Type: wire.TypeData}
	ctx := wire.NewEncodeContext(wire.EncapOverlay, c.cfg.SID)
	buf := wire.EncodeEnvelope(wire.Envelope{Encap: wire.EncapOverlay, Sender: c.cfg.SID})
	buf = append(buf, wire.EncodeRecord(c.cfg.SID, h, nil, ctx)...)
	if err := ifc.Send(buf); err != nil {
		logger.Debug("probe to %s via iface %d failed: %v", sub.SID, lastIface, err)
		return
	}
	sub.LastProbe = time.Now()
}

// RegisterInterface adds ifc to the interface manager and schedules its
// periodic tick and (if its transport exposes one) epoll registration.
func (c *Context) RegisterInterface(ifc *iface.Interface) error {
	if err := c.poller.Register(ifc.Transport.FD(), func(fd int) {
		c.onReadable(ifc)
	}); err != nil {
		return err
	}
	c.Links.SetInterfaceCount(int(ifc.ID) + 1)
	if d := ifc.TickInterval(); d > 0 {
		c.scheduleIfaceTick(ifc, d)
	}
	return nil
}

func (c *Context) scheduleIfaceTick(ifc *iface.Interface, d time.Duration) {
	c.alarms.ScheduleAfter(time.Now(), d, func(now time.Time) {
		c.emitSelfAnnounce(ifc, now)
		c.stuffPass(ifc)
		c.scheduleIfaceTick(ifc, d)
	})
}

// emitSelfAnnounce builds and sends one tick ensemble on ifc: the envelope
// carries this interface's own monotonic sequence byte (the self-announcement
// proper, spec §4.2/§GLOSSARY), followed by piggybacked node advertisements
// for every node we currently have a best path to, followed by a
// SELFANNOUNCE_ACK back to every neighbour we've heard announcing on this
// interface since the last tick. It bypasses the outbound queue scheduler
// (unlike data/forwarded traffic) since the tick's own cadence, not latency
// budgets, governs when it is sent; it still consumes the interface's token
// bucket via Interface.Send.
func (c *Context) emitSelfAnnounce(ifc *iface.Interface, now time.Time) {
	seq := c.ifaceSeq[ifc.ID] + 1
	c.ifaceSeq[ifc.ID] = seq

	env := wire.Envelope{Encap: wire.EncapOverlay, Sender: c.cfg.SID, HasIface: true, IfaceNum: ifc.ID, HasSeq: true, Seq: seq}
	buf := wire.EncodeEnvelope(env)
	ctx := wire.NewEncodeContext(wire.EncapOverlay, c.cfg.SID)

	buf = append(buf, c.buildDirectAdvertRecords(ctx)...)
	if rec := c.buildIndirectAdvertRecord(ctx); rec != nil {
		buf = append(buf, rec...)
	}
	buf = append(buf, c.buildAckRecords(ctx, ifc.ID)...)

	if err := ifc.Send(buf); err != nil {
		logger.Warn("iface %s: self-announce send failed: %v", ifc.Name, err)
	}
}

// buildDirectAdvertRecords returns one broadcast record per direct
// neighbour with a positive score, each headered with that neighbour's own
// SID as Source. Sending the full SID (rather than only its prefix, which
// is all the NodeAdvert payload itself carries) is what lets a node two
// hops away resolve the prefix in a later-relayed advert — the same
// mechanism that lets any forwarded record teach its receiver a full SID it
// didn't have before (see the Subscriber-registration hook in handleRecord).
func (c *Context) buildDirectAdvertRecords(ctx *wire.EncodeContext) []byte {
	var out []byte
	for _, slot := range c.Links.AllSlots() {
		score := slot.PeakScore()
		if score == 0 {
			continue
		}
		sub := c.Subs.Get(slot.Subscriber)
		if sub == nil {
			continue
		}
		advert := wire.NodeAdvert{SIDPrefix: [6]byte(sub.SID[:6]), Score: score, GatewaysEnRoute: 0}
		h := wire.Header{
			Source:      sub.SID,
			Broadcast:   true,
			BroadcastID: randomBroadcastID(),
			TTL:         selfAnnounceTTL,
			Queue:       wire.QueueMeshManagement,
			Type:        wire.TypeNodeAnnounce,
		}
		out = append(out, wire.EncodeRecord(c.cfg.SID, h, wire.EncodeNodeAnnounce([]wire.NodeAdvert{advert}), ctx)...)
	}
	return out
}

// buildIndirectAdvertRecord batches every node we only know indirectly
// (reached via a neighbour, not a direct link of our own) into a single
// node-announce record authored by us, since we have no fuller identity to
// offer for them than the prefix the wire format already carries.
func (c *Context) buildIndirectAdvertRecord(ctx *wire.EncodeContext) []byte {
	var adverts []wire.NodeAdvert
	for id, n := range c.Routes.Nodes() {
		if n.BestScore == 0 {
			continue
		}
		sub := c.Subs.Get(id)
		if sub == nil || sub.Reachable != subscriber.INDIRECT {
			continue
		}
		adverts = append(adverts, wire.NodeAdvert{SIDPrefix: [6]byte(sub.SID[:6]), Score: n.BestScore, GatewaysEnRoute: 1})
	}
	if len(adverts) == 0 {
		return nil
	}
	h := wire.Header{
		Source:      c.cfg.SID,
		Broadcast:   true,
		BroadcastID: randomBroadcastID(),
		TTL:         selfAnnounceTTL,
		Queue:       wire.QueueMeshManagement,
		Type:        wire.TypeNodeAnnounce,
	}
	return wire.EncodeRecord(c.cfg.SID, h, wire.EncodeNodeAnnounce(adverts), ctx)
}

// buildAckRecords returns one SELFANNOUNCE_ACK record, addressed one-hop
// back to each neighbour whose self-announcements we've heard contiguously
// on ifaceID since our last tick (spec §4.3). Each reported window is
// cleared once sent; a fresh one begins with the neighbour's next envelope.
func (c *Context) buildAckRecords(ctx *wire.EncodeContext, ifaceID uint8) []byte {
	var out []byte
	for key, w := range c.heard {
		if key.iface != ifaceID || !w.haveSeq {
			continue
		}
		sender := c.Subs.Get(key.sender)
		if sender == nil {
			continue
		}
		ack := wire.SelfAnnounceAck{S1: w.s1, S2: w.s2, Iface: ifaceID}
		h := wire.Header{
			Source:  c.cfg.SID,
			HasDest: true,
			Dest:    sender.SID,
			OneHop:  true,
			Queue:   wire.QueueMeshManagement,
			Type:    wire.TypeSelfAnnounceAck,
		}
		out = append(out, wire.EncodeRecord(c.cfg.SID, h, wire.EncodeSelfAnnounceAck(ack), ctx)...)
		delete(c.heard, key)
	}
	return out
}

// randomBroadcastID produces an 8-byte broadcast-id (spec §3); math/rand is
// sufficient since collisions only cost a redundant re-delivery, never a
// correctness or security property.
func randomBroadcastID() wire.BroadcastID {
	var id wire.BroadcastID
	rand.Read(id[:])
	return id
}

// trackSelfAnnounce extends (or restarts) the contiguous-hearing window for
// env.Sender on ifc, using our own receipt wallclock as the s1/s2 bounds
// reported back in the next SELFANNOUNCE_ACK (spec §4.3). Only envelopes
// that carry the SEQ flag count; a gap in the 1-byte sequence closes the
// current window and starts a new one (255 followed by 0 counts as
// contiguous, not as a gap).
func (c *Context) trackSelfAnnounce(ifc *iface.Interface, env wire.Envelope, now time.Time) {
	if !env.HasSeq || env.Sender == c.cfg.SID {
		return
	}
	sender := c.Subs.Lookup(env.Sender)
	key := heardKey{sender: sender.ID, iface: ifc.ID}
	nowMs := uint32(now.UnixMilli())

	w, ok := c.heard[key]
	if !ok || !w.haveSeq || env.Seq != w.lastSeq+1 {
		c.heard[key] = &heardWindow{s1: nowMs, s2: nowMs, lastSeq: env.Seq, haveSeq: true}
		return
	}
	w.s2 = nowMs
	w.lastSeq = env.Seq
}

func (c *Context) stuffPass(ifc *iface.Interface) {
	const defaultMTU = 1400
	now := time.Now()
	buf := c.Queues.StuffPass(ifc.ID, defaultMTU, c.cfg.SID, wire.EncapOverlay, c.Subs, c.Routes, now, c.Ifaces.UpBitmap())
	if buf == nil {
		return
	}
	if rec := c.buildRhizomeAdvertRecord(); rec != nil && len(buf)+len(rec) <= defaultMTU {
		buf = append(buf, rec...)
	}
	if err := ifc.Send(buf); err != nil {
		logger.Warn("iface %s: send failed: %v", ifc.Name, err)
	}
}

// buildRhizomeAdvertRecord opportunistically appends the content store's
// current BARs to an ensemble that already has at least one payload (spec
// §4.5 step 3: "optionally append opportunistic content-store
// advertisements, then dispatch"). Returns nil if there is no source
// wired in or it has nothing to advertise.
func (c *Context) buildRhizomeAdvertRecord() []byte {
	if c.RhizomeSource == nil {
		return nil
	}
	bars := c.RhizomeSource.AdvertisedBARs()
	if len(bars) == 0 {
		return nil
	}
	h := wire.Header{
		Source:      c.cfg.SID,
		Broadcast:   true,
		BroadcastID: randomBroadcastID(),
		TTL:         selfAnnounceTTL,
		Queue:       wire.QueueMeshManagement,
		Type:        wire.TypeRhizomeAdvert,
	}
	body := wire.EncodeRhizomeAdvert(wire.RhizomeAdvert{Version: wire.RhizomeV2, BARs: bars})
	ctx := wire.NewEncodeContext(wire.EncapOverlay, c.cfg.SID)
	return wire.EncodeRecord(c.cfg.SID, h, body, ctx)
}

// onReadable is invoked by the poller when an interface's transport has
// data ready; it decodes the ensemble and dispatches each record.
func (c *Context) onReadable(ifc *iface.Interface) {
	raw, err := ifc.Transport.Recv()
	if err != nil {
		return
	}
	env, records, err := wire.Decode(raw)
	if err != nil {
		logger.Debug("iface %s: decode error: %v", ifc.Name, err)
		if !env.Sender.IsZero() {
			c.queuePleaseExplain(env.Sender, wire.ReasonMalformed)
		}
		return
	}
	c.trackSelfAnnounce(ifc, env, time.Now())
	for _, rec := range records {
		c.handleRecord(ifc, env, rec)
	}
}

func (c *Context) handleRecord(ifc *iface.Interface, env wire.Envelope, rec wire.Record) {
	if rec.Header.InvalidAddress {
		c.queuePleaseExplain(env.Sender, wire.ReasonUnknownAddress)
		return
	}
	// Any validly-addressed record teaches us its Source's full SID, even
	// when it is only relayed on someone else's behalf — the mechanism that
	// lets an identity originated more than one hop away eventually resolve
	// a later NODEANNOUNCE prefix referring to it (spec §3, "created on
	// first reference").
	c.Subs.Lookup(rec.Header.Source)

	if rec.Header.Broadcast {
		if c.Dedup.Record(rec.Header.BroadcastID) {
			return
		}
	}

	if wire.ProcessLocally(rec.Header, c.cfg.SID) {
		c.dispatchPayload(ifc, env, rec)
	}
	if wire.ShouldForward(rec.Header, c.cfg.SID, false) {
		// rec.Header.TTL is already the post-decrement value applied at
		// decode time (pkg/wire/codec.go), so the outgoing copy is stamped
		// with it directly rather than decrementing a second time.
		c.Queues.Enqueue(&queue.Item{Header: rec.Header, Payload: rec.Payload, SendCopies: 1})
	}
}

// queuePleaseExplain enqueues a PLEASEEXPLAIN back to sender when we could
// not fully make sense of something it sent us (spec §4.1, §7). sender must
// already be a known Subscriber — an unresolvable or unidentifiable sender
// has nowhere to send one back to, matching spec §7's "if the sender is
// identifiable" qualifier.
func (c *Context) queuePleaseExplain(sender subscriber.SID, reason wire.PleaseExplainReason) {
	sub, ok := c.Subs.Find(sender)
	if !ok {
		return
	}
	var traceID [12]byte
	copy(traceID[:], xid.New().Bytes())

	h := wire.Header{
		Source:  c.cfg.SID,
		HasDest: true,
		Dest:    sub.SID,
		TTL:     1,
		Queue:   wire.QueueMeshManagement,
		Type:    wire.TypePleaseExplain,
	}
	body := wire.EncodePleaseExplain(wire.PleaseExplain{Reason: reason, TraceID: traceID})
	if err := c.Queues.Enqueue(&queue.Item{Header: h, Payload: body, SendCopies: 1}); err != nil {
		logger.Debug("please-explain to %s not queued: %v", sub.SID, err)
	}
}

func (c *Context) dispatchPayload(ifc *iface.Interface, env wire.Envelope, rec wire.Record) {
	switch rec.Header.Type {
	case wire.TypeSelfAnnounceAck:
		ack, err := wire.DecodeSelfAnnounceAck(rec.Payload)
		if err != nil {
			return
		}
		sender, ok := c.Subs.Find(rec.Header.Source)
		if !ok {
			return
		}
		c.Links.NodeCanHearMe(sender.ID, ack.Iface, ack.S1, ack.S2, time.Now())

	case wire.TypeNodeAnnounce:
		adverts, err := wire.DecodeNodeAnnounce(rec.Payload)
		if err != nil {
			return
		}
		// The credited neighbour ("via" in spec §4.4's record_link) is
		// whoever relayed this ensemble to us directly — the envelope's own
		// sender — not rec.Header.Source, which may instead name the
		// advert's subject (see buildDirectAdvertRecords) or an original
		// author several hops upstream.
		via, ok := c.Subs.Find(env.Sender)
		if !ok {
			return
		}
		for _, a := range adverts {
			for _, sub := range c.matchingSubscribers(a) {
				c.Routes.RecordLink(time.Now(), sub, via.ID, ifc.ID, 0, 0, a.Score, a.GatewaysEnRoute)
			}
		}

	case wire.TypeRhizomeAdvert:
		if c.RhizomeSource == nil {
			return
		}
		advert, err := wire.DecodeRhizomeAdvert(rec.Payload)
		if err != nil {
			return
		}
		c.RhizomeSource.ReceiveAdvert(rec.Header.Source, advert)
	}
}

// matchingSubscribers returns every known subscriber whose SID matches a's
// prefix, so a NodeAdvert with an abbreviated identity still resolves
// against subscribers we already hold a full SID for (spec §4.1 addressing
// by abbreviation).
func (c *Context) matchingSubscribers(a wire.NodeAdvert) []subscriber.ID {
	var out []subscriber.ID
	for _, s := range c.Subs.All() {
		if a.MatchesPrefix(s.SID) {
			out = append(out, s.ID)
		}
	}
	return out
}

// Run starts the event loop and blocks until Shutdown is called.
func (c *Context) Run() error {
	c.alarms.ScheduleAfter(time.Now(), c.cfg.RouteTick, c.routeTick)
	for {
		select {
		case <-c.done:
			return nil
		default:
		}

		timeout := -1
		if d, ok := c.alarms.NextDeadline(); ok {
			timeout = int(time.Until(d).Milliseconds())
			if timeout < 0 {
				timeout = 0
			}
		}
		if err := c.poller.Wait(timeout); err != nil {
			return err
		}
		c.alarms.RunDue(time.Now())
	}
}

func (c *Context) routeTick(now time.Time) {
	c.Links.RecomputeAll(now)
	c.Routes.Tick(now)
	c.alarms.ScheduleAfter(now, c.cfg.RouteTick, c.routeTick)
}

// Shutdown stops the event loop and releases the poller.
func (c *Context) Shutdown() {
	close(c.done)
	c.poller.Close()
}
