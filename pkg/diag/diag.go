// Package diag exports point-in-time CSV snapshots of the link and route
// tables for offline inspection (SPEC_FULL.md §11/§12), using
// github.com/gocarina/gocsv so the struct tags double as the CSV schema
// instead of a hand-rolled writer.
package diag

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/meshcore-project/meshcore/pkg/link"
	"github.com/meshcore-project/meshcore/pkg/route"
	"github.com/meshcore-project/meshcore/pkg/subscriber"
)

// NeighbourRow is one link-table slot flattened for CSV export.
type NeighbourRow struct {
	Slot       uint8  `csv:"slot"`
	Subscriber string `csv:"sid"`
	PeakScore  uint8  `csv:"peak_score"`
}

// WriteNeighbours dumps every occupied link-table slot as CSV.
func WriteNeighbours(w io.Writer, subs *subscriber.Table, links *link.Table) error {
	rows := make([]*NeighbourRow, 0, link.Capacity)
	for i := link.SlotID(1); i < link.Capacity; i++ {
		slot := links.Slot(i)
		if slot == nil {
			continue
		}
		var peak uint8
		for _, s := range slot.Scores {
			if s > peak {
				peak = s
			}
		}
		sid := ""
		if sub := subs.Get(slot.Subscriber); sub != nil {
			sid = sub.SID.String()
		}
		rows = append(rows, &NeighbourRow{Slot: uint8(i), Subscriber: sid, PeakScore: peak})
	}
	return gocsv.Marshal(rows, w)
}

// NodeRow is one route-table node flattened for CSV export.
type NodeRow struct {
	Subscriber string `csv:"sid"`
	Reachable  string `csv:"reachable"`
	BestScore  uint8  `csv:"best_score"`
	AsOf       string `csv:"as_of"`
}

// WriteNodes dumps every known routing node as CSV.
func WriteNodes(w io.Writer, subs *subscriber.Table, routes *route.Table, now time.Time) error {
	nodes := routes.Nodes()
	rows := make([]*NodeRow, 0, len(nodes))
	for id, n := range nodes {
		sub := subs.Get(id)
		if sub == nil {
			continue
		}
		rows = append(rows, &NodeRow{
			Subscriber: sub.SID.String(),
			Reachable:  sub.Reachable.String(),
			BestScore:  n.BestScore,
			AsOf:       now.Format(time.RFC3339),
		})
	}
	return gocsv.Marshal(rows, w)
}
