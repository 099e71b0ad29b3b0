package iface

import "sort"

// rank orders interface kinds by preference (spec §4.2): ethernet is most
// preferred, then wifi, then unknown transports, then packet radio last
// given its far higher latency and lower throughput.
func rank(k Kind) int {
	switch k {
	case KindEthernet:
		return 0
	case KindWifi:
		return 1
	case KindUnknown:
		return 2
	case KindPacketRadio:
		return 3
	default:
		return 2
	}
}

// sortByPreference orders interfaces by kind rank, falling back to id for a
// stable tiebreak among interfaces of the same kind (spec §4.2: ties are
// broken by identity, not re-ranked on every call).
func sortByPreference(ifaces []*Interface) {
	sort.SliceStable(ifaces, func(i, j int) bool {
		ri, rj := rank(ifaces[i].Kind), rank(ifaces[j].Kind)
		if ri != rj {
			return ri < rj
		}
		return ifaces[i].ID < ifaces[j].ID
	})
}

// Preferred reports whether a ranks strictly above b for purposes of
// choosing a default outbound interface when several reach the same
// neighbour.
func Preferred(a, b *Interface) bool {
	ra, rb := rank(a.Kind), rank(b.Kind)
	if ra != rb {
		return ra < rb
	}
	return a.ID < b.ID
}
