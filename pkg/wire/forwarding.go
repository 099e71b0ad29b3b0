package wire

import "github.com/meshcore-project/meshcore/pkg/subscriber"

// ProcessLocally reports whether h should be delivered to the local
// consumer: the destination is self, or the record is a broadcast.
func ProcessLocally(h Header, self subscriber.SID) bool {
	if h.InvalidAddress {
		return false
	}
	if h.Broadcast {
		return true
	}
	return h.HasDest && h.Dest == self
}

// ShouldForward reports whether h should be relayed onward: TTL must still
// be positive, and either it is an unseen broadcast, or this node is the
// designated next hop for a destination that isn't itself (spec §4.1). Both
// ProcessLocally and ShouldForward can be true simultaneously — a broadcast
// addressed to everyone is both consumed locally and flooded onward.
func ShouldForward(h Header, self subscriber.SID, broadcastSeen bool) bool {
	if h.InvalidAddress || h.TTL == 0 {
		return false
	}
	if h.Broadcast {
		return !broadcastSeen
	}
	return h.HasNextHop && h.NextHop == self && (!h.HasDest || h.Dest != self)
}
