// Package dedup implements the broadcast-id dedup table (spec §3): a
// short-TTL set of recently observed broadcast-ids, used to decide whether
// a broadcast has already been seen and should not be flooded again.
//
// It is backed by github.com/patrickmn/go-cache (grounded in linkerd2's use
// of the same library for in-memory TTL caching) rather than a hand-rolled
// map-plus-sweep, since go-cache already provides exactly the
// Set-with-expiry/Get semantics this table needs.
package dedup

import (
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/meshcore-project/meshcore/pkg/wire"
)

// Table deduplicates broadcast-ids for a configurable TTL.
type Table struct {
	cache *gocache.Cache
	ttl   time.Duration
}

// New creates a dedup table whose entries expire after ttl. A cleanup sweep
// runs at ttl/2, matching go-cache's own recommendation of a cleanup
// interval shorter than the TTL it is sweeping.
func New(ttl time.Duration) *Table {
	return &Table{
		cache: gocache.New(ttl, ttl/2),
		ttl:   ttl,
	}
}

func key(id wire.BroadcastID) string {
	return hex.EncodeToString(id[:])
}

// Seen reports whether id has been recorded within the TTL window, without
// recording it.
func (t *Table) Seen(id wire.BroadcastID) bool {
	_, found := t.cache.Get(key(id))
	return found
}

// Record marks id as seen, returning true if it was already present (so
// callers can combine the check-and-record into one call at the point a
// broadcast is first decoded).
func (t *Table) Record(id wire.BroadcastID) (alreadySeen bool) {
	k := key(id)
	if _, found := t.cache.Get(k); found {
		return true
	}
	t.cache.Set(k, struct{}{}, t.ttl)
	return false
}
