package wire

import "github.com/meshcore-project/meshcore/pkg/subscriber"

// addressTable maps observed short address forms to resolved subscribers
// within the scope of a single ensemble. The same structure drives both
// directions: decode() learns entries as full SIDs are read off the wire,
// encode() interns entries as full SIDs are written, so a SID referenced a
// second time within the same ensemble can be abbreviated to its table
// index instead of repeating all 32 bytes.
type addressTable struct {
	bySID map[subscriber.SID]uint8
	byIdx []subscriber.SID
}

func newAddressTable() *addressTable {
	return &addressTable{bySID: make(map[subscriber.SID]uint8, 8)}
}

// intern assigns sid a table index, reusing an existing one if already
// present. ok is false when the table is full (256 entries) and the caller
// must fall back to a full-form address.
func (a *addressTable) intern(sid subscriber.SID) (idx uint8, alreadyKnown, ok bool) {
	if i, present := a.bySID[sid]; present {
		return i, true, true
	}
	if len(a.byIdx) >= 256 {
		return 0, false, false
	}
	idx = uint8(len(a.byIdx))
	a.byIdx = append(a.byIdx, sid)
	a.bySID[sid] = idx
	return idx, false, true
}

// learn registers sid as the next table entry during decode, mirroring the
// order encode assigned indices in.
func (a *addressTable) learn(sid subscriber.SID) {
	a.byIdx = append(a.byIdx, sid)
	a.bySID[sid] = uint8(len(a.byIdx) - 1)
}

// resolve looks up a previously learned abbreviation.
func (a *addressTable) resolve(idx uint8) (subscriber.SID, bool) {
	if int(idx) >= len(a.byIdx) {
		return subscriber.SID{}, false
	}
	return a.byIdx[idx], true
}
