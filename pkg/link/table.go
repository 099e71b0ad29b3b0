// Package link maintains per-neighbour observation windows derived from
// self-announcement acks and turns them into per-interface visibility
// scores (spec §4.3), BATMAN-like in spirit though not wire-compatible
// with any particular BATMAN variant (spec §1 Non-goals).
package link

import (
	"math/rand"
	"time"

	"github.com/meshcore-project/meshcore/pkg/subscriber"
)

// SlotID is a stable index into the neighbour slot table (spec §3,
// "Neighbour slot index (0 = not a neighbour)").
type SlotID uint8

const (
	// Capacity is K, the fixed neighbour-slot table size (spec §3).
	Capacity = 128
	// ObservationRingSize is N, the per-neighbour observation ring depth
	// (spec §3, §4.3).
	ObservationRingSize = 8

	// maxIntervalMs discards absurd (s1,s2) intervals — spec §4.3's
	// "interval ≤ 1h" cap on ms_observed_200s contributions.
	maxIntervalMs = 3600_000
	// scoreWindow200s / scoreWindow5s are the two observation age windows
	// the score formula sums over (spec §4.3).
	scoreWindow200s = 200_000
	scoreWindow5s   = 5_000
	// rescoreInterval is "at most once per 500ms per neighbour" (spec §4.3).
	rescoreInterval = 500 * time.Millisecond
)

// Observation is one `s1,s2` interval during which a neighbour reported
// hearing our self-announcements on one local interface (spec §3).
type Observation struct {
	S1, S2      uint32
	SenderIface uint8
	TimeMs      int64 // wallclock receive time, milliseconds
	Valid       bool
}

// Slot is one directly-observed peer's neighbour-table entry.
type Slot struct {
	Subscriber    subscriber.ID
	Observations  [ObservationRingSize]Observation
	ring          int // index of the most recently written observation
	Scores        []uint8 // per-local-interface score vector, indexed by interface id
	lastRescore   time.Time
}

// ScoreChangeFunc is invoked whenever RecomputeScores changes a score,
// letting the route table refresh derived metrics (spec §4.3 invariant:
// "a score change triggers recomputation of derived node metrics").
// becameReachable is true only on a 0 -> positive transition.
type ScoreChangeFunc func(slot SlotID, iface uint8, old, new uint8, becameReachable bool)

// EvictFunc is invoked when a slot is evicted so the owner (the route
// table) can clear the corresponding Node's neighbour-slot back-reference.
type EvictFunc func(slot SlotID, evictedSubscriber subscriber.ID)

// Table is the fixed-capacity neighbour slot table.
type Table struct {
	slots    [Capacity]*Slot // index 0 reserved, always nil
	bySub    map[subscriber.ID]SlotID
	numIface int

	OnScoreChange ScoreChangeFunc
	OnEvict       EvictFunc
}

// NewTable creates an empty neighbour table sized for numIface local
// interfaces' worth of per-interface score vectors.
func NewTable(numIface int) *Table {
	return &Table{bySub: make(map[subscriber.ID]SlotID), numIface: numIface}
}

// SetInterfaceCount grows every slot's score vector when a new interface is
// registered after start-up.
func (t *Table) SetInterfaceCount(n int) {
	if n <= t.numIface {
		return
	}
	t.numIface = n
	for _, s := range t.slots {
		if s != nil {
			s.Scores = growScores(s.Scores, n)
		}
	}
}

func growScores(s []uint8, n int) []uint8 {
	if len(s) >= n {
		return s
	}
	grown := make([]uint8, n)
	copy(grown, s)
	return grown
}

// Slot returns the neighbour slot for id, or nil.
func (t *Table) Slot(id SlotID) *Slot {
	if id == 0 || int(id) >= Capacity {
		return nil
	}
	return t.slots[id]
}

// Lookup returns the slot for a subscriber, if it is a known neighbour.
func (t *Table) Lookup(sub subscriber.ID) (SlotID, *Slot, bool) {
	id, ok := t.bySub[sub]
	if !ok {
		return 0, nil, false
	}
	return id, t.slots[id], true
}

// getOrCreate returns the existing slot for sub, or allocates one,
// evicting the lowest-scoring occupied slot if the table is full.
func (t *Table) getOrCreate(sub subscriber.ID) (SlotID, *Slot) {
	if id, ok := t.bySub[sub]; ok {
		return id, t.slots[id]
	}

	for i := SlotID(1); i < Capacity; i++ {
		if t.slots[i] == nil {
			s := &Slot{Subscriber: sub, Scores: make([]uint8, t.numIface)}
			t.slots[i] = s
			t.bySub[sub] = i
			return i, s
		}
	}

	victim := t.chooseEvictee()
	t.evict(victim)
	s := &Slot{Subscriber: sub, Scores: make([]uint8, t.numIface)}
	t.slots[victim] = s
	t.bySub[sub] = victim
	return victim, s
}

// chooseEvictee implements the lowest-score eviction policy (SPEC_FULL.md
// §13 open-question decision 2): the slot with the lowest peak score across
// its interfaces is evicted, ties broken at random among the lowest-scoring
// slots rather than purely at random across the whole table.
func (t *Table) chooseEvictee() SlotID {
	var lowest uint8 = 255
	var candidates []SlotID
	for i := SlotID(1); i < Capacity; i++ {
		s := t.slots[i]
		if s == nil {
			continue
		}
		peak := peakScore(s.Scores)
		switch {
		case peak < lowest:
			lowest = peak
			candidates = []SlotID{i}
		case peak == lowest:
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return 1
	}
	return candidates[rand.Intn(len(candidates))]
}

// AllSlots returns every occupied neighbour slot. Used by the self-announce
// tick to enumerate direct neighbours when building piggybacked node
// advertisements (spec §4.2).
func (t *Table) AllSlots() []*Slot {
	out := make([]*Slot, 0, Capacity)
	for i := SlotID(1); i < Capacity; i++ {
		if t.slots[i] != nil {
			out = append(out, t.slots[i])
		}
	}
	return out
}

// PeakScore returns the highest score across this slot's per-interface
// vector, the single summary value a node-announce tuple carries for a
// direct neighbour (spec §6).
func (s *Slot) PeakScore() uint8 {
	return peakScore(s.Scores)
}

func peakScore(scores []uint8) uint8 {
	var peak uint8
	for _, s := range scores {
		if s > peak {
			peak = s
		}
	}
	return peak
}

func (t *Table) evict(id SlotID) {
	s := t.slots[id]
	if s == nil {
		return
	}
	delete(t.bySub, s.Subscriber)
	t.slots[id] = nil
	if t.OnEvict != nil {
		t.OnEvict(id, s.Subscriber)
	}
}

// NodeCanHearMe records that `sub` (reached on `senderIface`) reports
// hearing our self-announcements continuously from s1 to s2 milliseconds
// (spec §4.3). It applies the merge rule, then recomputes scores for this
// neighbour if the rescore interval has elapsed.
func (t *Table) NodeCanHearMe(sub subscriber.ID, senderIface uint8, s1, s2 uint32, now time.Time) {
	_, slot := t.getOrCreate(sub)
	t.merge(slot, Observation{S1: s1, S2: s2, SenderIface: senderIface, TimeMs: now.UnixMilli(), Valid: true})
	t.maybeRescore(slot, senderIface, now)
}

// merge implements spec §4.3's merge rule: extend the newest valid slot if
// it is contiguous with the new interval on the same interface, otherwise
// advance the ring.
func (t *Table) merge(slot *Slot, obs Observation) {
	newest := &slot.Observations[slot.ring]
	if newest.Valid && newest.SenderIface == obs.SenderIface && newest.S2+1 >= obs.S1 {
		if obs.S2 > newest.S2 {
			newest.S2 = obs.S2
		}
		newest.TimeMs = obs.TimeMs
		return
	}
	slot.ring = (slot.ring + 1) % ObservationRingSize
	slot.Observations[slot.ring] = obs
}

func (t *Table) maybeRescore(slot *Slot, iface uint8, now time.Time) {
	if !slot.lastRescore.IsZero() && now.Sub(slot.lastRescore) < rescoreInterval {
		return
	}
	slot.lastRescore = now
	t.recomputeOne(slot, iface, now)
}

// RecomputeAll rescans every slot's score vector; used by the route table's
// periodic 5-second tick so stale neighbour scores age out deterministically
// even absent new traffic (mirrors the route table tick, spec §4.4).
func (t *Table) RecomputeAll(now time.Time) {
	for i := SlotID(1); i < Capacity; i++ {
		s := t.slots[i]
		if s == nil {
			continue
		}
		for iface := 0; iface < len(s.Scores); iface++ {
			t.recomputeOne(s, uint8(iface), now)
		}
	}
}

func (t *Table) recomputeOne(slot *Slot, iface uint8, now time.Time) {
	if int(iface) >= len(slot.Scores) {
		slot.Scores = growScores(slot.Scores, int(iface)+1)
	}
	nowMs := now.UnixMilli()

	var ms200, ms5 int64
	anyObservedAtAll := false
	for _, o := range slot.Observations {
		if !o.Valid || o.SenderIface != iface {
			continue
		}
		interval := int64(o.S2) - int64(o.S1)
		if interval < 0 {
			continue
		}
		if interval > maxIntervalMs {
			continue // discard absurd intervals
		}
		anyObservedAtAll = true
		age := nowMs - o.TimeMs
		if age <= scoreWindow200s {
			ms200 += interval
		}
		if age <= scoreWindow5s {
			bounded := interval
			if bounded > scoreWindow5s {
				bounded = scoreWindow5s
			}
			ms5 += bounded
		}
	}
	_ = anyObservedAtAll

	var score uint8
	if ms200 > 0 {
		contrib200 := float64(ms200) / (200000.0 / 128.0)
		var contrib5 float64
		if ms5 > 0 {
			contrib5 = float64(ms5) / (5000.0 / 128.0)
		}
		var raw float64
		if ms5 == 0 {
			raw = contrib200 / 2
		} else {
			raw = contrib5 + contrib200
		}
		score = clampScore(raw)
	}

	old := slot.Scores[iface]
	if old == score {
		return
	}
	slot.Scores[iface] = score
	id := t.bySub[slot.Subscriber]
	becameReachable := old == 0 && score > 0
	if t.OnScoreChange != nil {
		t.OnScoreChange(id, iface, old, score, becameReachable)
	}
}

func clampScore(raw float64) uint8 {
	if raw < 1 {
		return 1
	}
	if raw > 255 {
		return 255
	}
	return uint8(raw)
}
