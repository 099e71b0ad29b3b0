// Package route maintains multi-hop reachability for non-neighbour
// subscribers: observations relayed by neighbours, discounted by age, used
// to select a best next-hop per destination (spec §4.4).
package route

import (
	"math/rand"
	"time"

	"github.com/meshcore-project/meshcore/pkg/link"
	"github.com/meshcore-project/meshcore/pkg/subscriber"
)

// ObservationRingSize is N, the per-node observation ring depth (spec §3).
const ObservationRingSize = 8

// TickInterval is how often the table recomputes every node's best path so
// stale observations age out deterministically (spec §4.4).
const TickInterval = 5 * time.Second

// Observation is one reported sighting of a node, relayed by a neighbour
// (spec §3, §4.4) — never a self-observation; those live in the link table.
type Observation struct {
	Sender          subscriber.ID
	ObservedScore   uint8
	GatewaysEnRoute uint8
	RXTime          time.Time
	Iface           uint8
	valid           bool
}

// corrected applies spec §4.4's age discount: observed_score minus one per
// second of age, clamped at zero.
func (o Observation) corrected(now time.Time) int {
	age := now.Sub(o.RXTime)
	c := int(o.ObservedScore) - int(age/time.Second)
	if c < 0 {
		return 0
	}
	return c
}

// Node is the routing state attached to one non-self subscriber (spec §3).
type Node struct {
	Subscriber      subscriber.ID
	NeighbourSlot   link.SlotID // 0 = not a neighbour
	Observations    [ObservationRingSize]Observation
	BestScore       uint8
	BestObservation int // index into Observations, -1 if none
	LastFirstHand   time.Time

	// reserved is unused; it exists only so a future wire-compatible
	// extension (the upstream design's unused oad_round / priority-advertise
	// counters, spec §9) has a home without a breaking field addition.
	reserved uint32
}

// ReachableCallback fires on a reachability transition for a node. iface is
// meaningful only on the became-unreachable direction: the interface the
// node was last reachable through, so the caller's probe (spec §4.4
// Transitions) goes out the right door; it is always 0 on the
// became-reachable direction.
type ReachableCallback func(n *Node, iface uint8)

// Table holds every known Node plus the callbacks that drive the scheduler
// (advertise/probe) on reachability transitions.
type Table struct {
	nodes map[subscriber.ID]*Node
	subs  *subscriber.Table
	links *link.Table

	OnBecameReachable   ReachableCallback
	OnBecameUnreachable ReachableCallback
}

// NewTable creates a route table bound to the subscriber arena and
// neighbour table it derives reachability from.
func NewTable(subs *subscriber.Table, links *link.Table) *Table {
	return &Table{
		nodes: make(map[subscriber.ID]*Node),
		subs:  subs,
		links: links,
	}
}

// Node returns the routing entry for sub, creating it if necessary.
func (t *Table) Node(sub subscriber.ID) *Node {
	n, ok := t.nodes[sub]
	if !ok {
		n = &Node{Subscriber: sub, BestObservation: -1}
		t.nodes[sub] = n
	}
	return n
}

// RecordLink incorporates a relayed observation of `to`, reported by
// neighbour `via` on local interface `iface` (spec §4.4 record_link). s1/s2
// are accepted to match the upstream call shape — this table only needs
// score and age, not the raw self-announcement sequence window — but they
// are not stored.
func (t *Table) RecordLink(now time.Time, to, via subscriber.ID, iface uint8, s1, s2 uint32, score, gatewaysEnRoute uint8) {
	_, _ = s1, s2
	n := t.Node(to)

	idx := -1
	for i, o := range n.Observations {
		if o.valid && o.Sender == via {
			idx = i
			break
		}
	}
	if idx == -1 {
		for i, o := range n.Observations {
			if !o.valid {
				idx = i
				break
			}
		}
	}
	if idx == -1 {
		idx = rand.Intn(ObservationRingSize)
	}

	// Zero observed_score first so a concurrent recomputation never reads a
	// half-written record (spec §4.4: "Writes all fields atomically").
	n.Observations[idx].ObservedScore = 0
	n.Observations[idx].valid = false

	n.Observations[idx] = Observation{
		Sender:          via,
		GatewaysEnRoute: gatewaysEnRoute,
		RXTime:          now,
		Iface:           iface,
		valid:           true,
		ObservedScore:   score,
	}
	n.LastFirstHand = now
}

// BestPath recomputes n's reachability per spec §4.4's three-step rule and
// invokes the reachability-transition callbacks on the caller's behalf. It
// must be called with the Subscriber for n.Subscriber already resolved.
func (t *Table) BestPath(now time.Time, n *Node) {
	sub := t.subs.Get(n.Subscriber)
	if sub == nil || sub.Reachable == subscriber.SELF {
		return
	}
	wasReachable := sub.Reachable != subscriber.NONE
	prevIface := uint8(sub.IfaceID)

	if iface, score, ok := t.bestDirect(n); ok {
		n.BestScore = score
		n.BestObservation = -1
		sub.Reachable = subscriber.BROADCAST
		sub.IfaceID = int(iface)
		sub.NextHop = 0
	} else if idx, score, ok := t.bestIndirect(now, n); ok {
		n.BestScore = score
		n.BestObservation = idx
		sub.Reachable = subscriber.INDIRECT
		sub.NextHop = n.Observations[idx].Sender
		sub.IfaceID = 0
	} else {
		n.BestScore = 0
		n.BestObservation = -1
		t.subs.SetUnreachable(sub)
	}

	nowReachable := sub.Reachable != subscriber.NONE
	switch {
	case !wasReachable && nowReachable:
		if t.OnBecameReachable != nil {
			t.OnBecameReachable(n, 0)
		}
	case wasReachable && !nowReachable:
		if t.OnBecameUnreachable != nil {
			t.OnBecameUnreachable(n, prevIface)
		}
	}
}

// bestDirect is step 1: the highest score across this node's own neighbour
// slot, if it has one. Every entry of the slot's score vector is considered;
// the interfaces' up/down state is not checked here.
func (t *Table) bestDirect(n *Node) (iface uint8, score uint8, ok bool) {
	if n.NeighbourSlot == 0 {
		return 0, 0, false
	}
	slot := t.links.Slot(n.NeighbourSlot)
	if slot == nil {
		return 0, 0, false
	}
	var best uint8
	var bestIface uint8
	for i, s := range slot.Scores {
		if s > best {
			best = s
			bestIface = uint8(i)
		}
	}
	if best == 0 {
		return 0, 0, false
	}
	return bestIface, best, true
}

// bestIndirect is step 2: the observation with the highest corrected score,
// restricted to senders that are themselves currently, genuinely reachable
// — SPEC_FULL.md §13 decision 1 resolves "reachable and not merely assumed"
// as: the sender must be a direct neighbour (BROADCAST/UNICAST) right now,
// never another INDIRECT hop, so routes never chain through unconfirmed
// paths.
func (t *Table) bestIndirect(now time.Time, n *Node) (idx int, score uint8, ok bool) {
	best := -1
	var bestScore int
	for i, o := range n.Observations {
		if !o.valid {
			continue
		}
		sender := t.subs.Get(o.Sender)
		if sender == nil {
			continue
		}
		if sender.Reachable != subscriber.BROADCAST && sender.Reachable != subscriber.UNICAST {
			continue
		}
		c := o.corrected(now)
		if c > bestScore || best == -1 {
			if best != -1 && c <= bestScore {
				continue
			}
			best = i
			bestScore = c
		}
	}
	if best == -1 || bestScore <= 0 {
		return 0, 0, false
	}
	return best, uint8(bestScore), true
}

// Tick recomputes every node's best path; callers invoke it every
// TickInterval (spec §4.4).
func (t *Table) Tick(now time.Time) {
	for _, n := range t.nodes {
		t.BestPath(now, n)
	}
}

// Nodes returns every known node, for diagnostics/CSV export.
func (t *Table) Nodes() map[subscriber.ID]*Node {
	return t.nodes
}
