package queue

import (
	"time"

	"github.com/meshcore-project/meshcore/pkg/route"
	"github.com/meshcore-project/meshcore/pkg/subscriber"
	"github.com/meshcore-project/meshcore/pkg/wire"
)

// StuffPass assembles one outbound ensemble for a single interface (spec
// §4.5): it drains queues in priority order, drops anything past its
// latency deadline, resolves each frame's next hop via the route table, and
// packs encoded records until either the queues run dry or the ensemble
// would exceed mtu. Items that resolve to a different outbound interface,
// or that have nowhere to go at all, are requeued or dropped rather than
// blocking the pass. upIfaces is a bitmask (bit N set for interface id N)
// of every currently-up interface, used to decide when a broadcast has
// finished flooding (spec §4.5's removal rule).
func (m *Manager) StuffPass(ifaceID uint8, mtu int, envelopeSender subscriber.SID, encap wire.EncapType, subs *subscriber.Table, routes *route.Table, now time.Time, upIfaces uint64) []byte {
	ctx := wire.NewEncodeContext(encap, envelopeSender)
	buf := wire.EncodeEnvelope(wire.Envelope{Encap: encap, Sender: envelopeSender, HasIface: true, IfaceNum: ifaceID})
	wrote := false

	var deferred []*Item
	for {
		item := m.Drain(now)
		if item == nil {
			break
		}

		h := item.Header
		if h.Broadcast {
			bit := uint64(1) << uint(ifaceID)
			if item.BroadcastSentVia&bit != 0 {
				// Already sent out this interface; keep it queued for the
				// interfaces that have not sent it yet.
				deferred = append(deferred, item)
				continue
			}
			rec := wire.EncodeRecord(envelopeSender, h, item.Payload, ctx)
			if wrote && len(buf)+len(rec) > mtu {
				deferred = append(deferred, item)
				break
			}
			buf = append(buf, rec...)
			wrote = true
			item.BroadcastSentVia |= bit
			// Broadcasts ignore send_copies entirely (original_source/
			// overlay_queue.c:426-446): removal depends only on whether
			// every up interface has now been sent on, never on a copy
			// count.
			if item.BroadcastSentVia&upIfaces != upIfaces {
				deferred = append(deferred, item)
			}
			continue
		}

		if h.HasDest {
			dest, ok := subs.Find(h.Dest)
			if !ok || dest.Reachable == subscriber.NONE {
				continue // nowhere to send it; drop
			}
			node := routes.Node(dest.ID)
			if dest.Reachable == subscriber.INDIRECT {
				if node.BestObservation < 0 {
					continue
				}
				via := subs.Get(node.Observations[node.BestObservation].Sender)
				if via == nil {
					continue
				}
				h.HasNextHop = true
				h.NextHop = via.SID
				if via.IfaceID != int(ifaceID) {
					item.Header = h
					deferred = append(deferred, item)
					continue
				}
			} else if dest.IfaceID != int(ifaceID) {
				deferred = append(deferred, item)
				continue
			} else {
				h.HasNextHop = true
				h.NextHop = dest.SID
			}
		}

		rec := wire.EncodeRecord(envelopeSender, h, item.Payload, ctx)
		if wrote && len(buf)+len(rec) > mtu {
			item.Header = h
			deferred = append(deferred, item)
			break
		}
		buf = append(buf, rec...)
		wrote = true
	}

	for _, item := range deferred {
		m.Requeue(item)
	}

	if !wrote {
		return nil
	}
	return buf
}
