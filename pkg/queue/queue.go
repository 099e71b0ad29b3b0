// Package queue is the outbound queue scheduler (spec §4.5): four priority
// classes shared by every interface, each with its own depth limit and latency target,
// assembled into encoded ensembles by periodic stuff passes. The four-class
// split generalizes the teacher's own PRIORITY_IMMEDIATE..PRIORITY_LOW
// packet priorities (source/protocol/raknet.go) onto the mesh's fixed
// VOICE/VIDEO/ORDINARY/MESH_MANAGEMENT classes.
package queue

import (
	"errors"
	"time"

	"github.com/meshcore-project/meshcore/pkg/subscriber"
	"github.com/meshcore-project/meshcore/pkg/wire"
)

// classOrder is the strict priority order a stuff pass drains queues in
// (spec §4.5): voice and video are time-sensitive, ordinary is best-effort,
// mesh management traffic (adverts, acks) is lowest priority and is drained
// only once every other class is empty.
var classOrder = [4]wire.QueueClass{wire.QueueVoice, wire.QueueVideo, wire.QueueOrdinary, wire.QueueMeshManagement}

// defaultLimits gives each class its max depth and latency target in
// milliseconds (spec §4.5); voice/video are shallow and latency-sensitive,
// ordinary and management are deep and latency-tolerant.
var defaultLimits = map[wire.QueueClass]limit{
	wire.QueueVoice:          {maxLength: 20, latencyTargetMs: 200},
	wire.QueueVideo:          {maxLength: 40, latencyTargetMs: 400},
	wire.QueueOrdinary:       {maxLength: 200, latencyTargetMs: 5000},
	wire.QueueMeshManagement: {maxLength: 100, latencyTargetMs: 2000},
}

type limit struct {
	maxLength       int
	latencyTargetMs int
}

// ErrQueueFull is returned by Enqueue when the target class is at capacity.
var ErrQueueFull = errors.New("queue: class is at capacity")

// ErrExpired is returned by Enqueue when the frame's TTL is already zero.
var ErrExpired = errors.New("queue: frame has no TTL remaining")

// Item is one frame awaiting transmission.
type Item struct {
	Header   wire.Header
	Payload  []byte
	Enqueued time.Time

	// BroadcastSentVia tracks, per local interface id (bit index), whether
	// this broadcast has already gone out that interface, so a stuff pass
	// never re-sends a broadcast on an interface it was already queued for
	// (spec §4.5).
	BroadcastSentVia uint64

	// SendCopies is the requested number of copies (spec §4.5). StuffPass
	// does not read it: a unicast frame is sent once and then removed from
	// the queue, and a broadcast's removal is governed solely by
	// BroadcastSentVia against every up interface.
	SendCopies int
}

func (it *Item) deadline(latencyTargetMs int) time.Time {
	return it.Enqueued.Add(time.Duration(latencyTargetMs) * time.Millisecond)
}

type class struct {
	limit
	items []*Item
}

// Manager holds the four priority queues local to one outbound path
// (typically one per logical destination-independent egress, shared across
// interfaces).
type Manager struct {
	classes map[wire.QueueClass]*class
}

// NewManager creates a scheduler with the default per-class limits (spec
// §4.5).
func NewManager() *Manager {
	m := &Manager{classes: make(map[wire.QueueClass]*class)}
	for q, l := range defaultLimits {
		m.classes[q] = &class{limit: l}
	}
	return m
}

// Enqueue admits item into its header's queue class, applying spec §4.5's
// rejection rules: a frame with no TTL left is never queued, and a queue at
// its configured depth rejects new arrivals rather than evicting older
// ones, so a burst cannot starve traffic already in flight.
func (m *Manager) Enqueue(item *Item) error {
	if item.Header.TTL == 0 {
		return ErrExpired
	}
	c := m.classes[item.Header.Queue]
	if c == nil {
		c = &class{limit: defaultLimits[wire.QueueOrdinary]}
		m.classes[item.Header.Queue] = c
	}
	if len(c.items) >= c.maxLength {
		return ErrQueueFull
	}
	if item.Enqueued.IsZero() {
		item.Enqueued = time.Now()
	}
	c.items = append(c.items, item)
	return nil
}

// NextDeadline returns the earliest latency-target deadline across every
// non-empty queue, for the scheduler's alarm heap (spec §5) to wake a stuff
// pass exactly when it is needed rather than busy-polling.
func (m *Manager) NextDeadline() (time.Time, bool) {
	var best time.Time
	found := false
	for _, c := range m.classes {
		if len(c.items) == 0 {
			continue
		}
		d := c.items[0].deadline(c.latencyTargetMs)
		if !found || d.Before(best) {
			best = d
			found = true
		}
	}
	return best, found
}

// Depth returns the current item count for q, for metrics/diagnostics.
func (m *Manager) Depth(q wire.QueueClass) int {
	c := m.classes[q]
	if c == nil {
		return 0
	}
	return len(c.items)
}

// Drain pops the single highest-priority item ready to send, or nil if
// every queue is empty or every remaining item has expired. Callers are
// expected to call it repeatedly within a stuff pass until it returns nil or
// the assembled ensemble reaches the interface MTU.
//
// Before returning an item, Drain applies spec §4.5 stuff-pass step 2's
// first rule: if enqueued_at + latency_target < now, the item is dropped
// silently rather than sent stale, and the scan continues within that
// class for the next (possibly also expired) item.
func (m *Manager) Drain(now time.Time) *Item {
	for _, q := range classOrder {
		c := m.classes[q]
		if c == nil {
			continue
		}
		for len(c.items) > 0 {
			item := c.items[0]
			c.items = c.items[1:]
			if now.After(item.deadline(c.latencyTargetMs)) {
				continue
			}
			return item
		}
	}
	return nil
}

// Requeue puts item back at the front of its class, used when a stuff pass
// pulls an item but the assembled ensemble is already at the interface MTU.
func (m *Manager) Requeue(item *Item) {
	c := m.classes[item.Header.Queue]
	if c == nil {
		return
	}
	c.items = append([]*Item{item}, c.items...)
}

// HandleSendFailure applies spec §4.5's unicast send-failure policy: a
// transport error that indicates the destination is definitely gone
// (ENETDOWN/EINVAL from the kernel socket layer) marks the subscriber
// unreachable immediately rather than waiting for the route table's next
// tick to notice silence.
func HandleSendFailure(subs *subscriber.Table, dest subscriber.ID, err error) {
	if err == nil {
		return
	}
	if !isFatalSendError(err) {
		return
	}
	if s := subs.Get(dest); s != nil {
		subs.SetUnreachable(s)
	}
}
