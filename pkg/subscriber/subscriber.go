// Package subscriber owns the pool of identities the overlay knows about:
// the local node, directly reachable neighbours, and indirectly reachable
// nodes. Subscribers are created on first reference and never destroyed for
// the lifetime of a Context — only their reachability state changes.
package subscriber

import (
	"encoding/hex"
	"net/netip"
	"time"
)

// SID is an opaque 32-byte subscriber identifier. The core never interprets
// its bytes; identity and signing live entirely outside this module.
type SID [32]byte

func (s SID) String() string {
	return hex.EncodeToString(s[:])
}

// IsZero reports whether s is the all-zero SID, used as a "no value" sentinel.
func (s SID) IsZero() bool {
	return s == SID{}
}

// Reachable is the reachability state of a Subscriber.
type Reachable int

const (
	NONE Reachable = iota
	SELF
	BROADCAST
	UNICAST
	INDIRECT
)

func (r Reachable) String() string {
	switch r {
	case SELF:
		return "SELF"
	case BROADCAST:
		return "BROADCAST"
	case UNICAST:
		return "UNICAST"
	case INDIRECT:
		return "INDIRECT"
	default:
		return "NONE"
	}
}

// ID is a stable arena index for a Subscriber, used in place of pointers so
// back-references survive eviction and serialise trivially.
type ID uint32

// Subscriber is the identity record for one SID: the local node, a direct
// neighbour, or a node known only through relayed observations.
type Subscriber struct {
	ID         ID
	SID        SID
	Reachable  Reachable
	IfaceID    int // back-reference to the interface it is reachable through; 0 = none
	NextHop    ID  // valid when Reachable == INDIRECT
	LastAddr   netip.AddrPort
	LastRXTime time.Time
	LastTXTime time.Time
	LastProbe  time.Time
}

// Table is the arena of all known Subscribers, indexed by stable ID.
type Table struct {
	bySID map[SID]ID
	byID  []*Subscriber
	self  ID
}

// NewTable creates an empty subscriber arena with `local` registered as SELF.
func NewTable(local SID) *Table {
	t := &Table{
		bySID: make(map[SID]ID),
		byID:  make([]*Subscriber, 1, 64), // index 0 reserved, never issued
	}
	self := t.getOrCreate(local)
	self.Reachable = SELF
	t.self = self.ID
	return t
}

// Self returns the local Subscriber.
func (t *Table) Self() *Subscriber { return t.byID[t.self] }

// Get returns the Subscriber with the given ID, or nil if unknown.
func (t *Table) Get(id ID) *Subscriber {
	if int(id) <= 0 || int(id) >= len(t.byID) {
		return nil
	}
	return t.byID[id]
}

// Lookup returns the Subscriber for sid, creating it if this is the first
// reference. Looking up the local SID returns the SELF subscriber; Lookup
// never changes any subscriber's reachability.
func (t *Table) Lookup(sid SID) *Subscriber {
	return t.getOrCreate(sid)
}

// Find returns the existing Subscriber for sid without creating one.
func (t *Table) Find(sid SID) (*Subscriber, bool) {
	id, ok := t.bySID[sid]
	if !ok {
		return nil, false
	}
	return t.byID[id], true
}

func (t *Table) getOrCreate(sid SID) *Subscriber {
	if id, ok := t.bySID[sid]; ok {
		return t.byID[id]
	}
	s := &Subscriber{ID: ID(len(t.byID)), SID: sid}
	t.byID = append(t.byID, s)
	t.bySID[sid] = s.ID
	return s
}

// All returns every known Subscriber (excluding the reserved index 0 slot),
// for callers that need to scan the whole arena — e.g. resolving an
// abbreviated SID prefix from a relayed advertisement against identities
// already on file.
func (t *Table) All() []*Subscriber {
	out := make([]*Subscriber, 0, len(t.byID)-1)
	for _, s := range t.byID[1:] {
		out = append(out, s)
	}
	return out
}

// SetUnreachable demotes s to NONE unless it is SELF, per the invariant that
// SELF is fixed and never downgraded by routing (spec §3, §8 invariant 1).
func (t *Table) SetUnreachable(s *Subscriber) {
	if s.ID == t.self {
		return
	}
	s.Reachable = NONE
	s.IfaceID = 0
	s.NextHop = 0
}
