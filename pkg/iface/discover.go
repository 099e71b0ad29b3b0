package iface

import (
	"strings"

	"github.com/vishvananda/netlink"
)

// Discover enumerates the host's network links via netlink and classifies
// each by Kind (spec §4.2 interface discovery), skipping loopback. Links
// that are down are still returned, with Up set to false. Real classification of wifi
// vs. ethernet on Linux normally requires reading /sys/class/net/<if>/wireless
// or issuing a NL80211 query; here the link's declared type and name prefix
// are used as a practical proxy, matching how lower-effort tools in this
// space approximate it before falling back to KindUnknown.
func Discover() ([]DiscoveredLink, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return nil, err
	}

	out := make([]DiscoveredLink, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		if attrs.Flags&netlink.FlagLoopback != 0 {
			continue
		}
		out = append(out, DiscoveredLink{
			Name: attrs.Name,
			Kind: classify(attrs.Name, l.Type()),
			Up:   attrs.Flags&netlink.FlagUp != 0,
			MTU:  attrs.MTU,
		})
	}
	return out, nil
}

// DiscoveredLink is one host interface surfaced by Discover.
type DiscoveredLink struct {
	Name string
	Kind Kind
	Up   bool
	MTU  int
}

func classify(name, linkType string) Kind {
	name = strings.ToLower(name)
	switch {
	case strings.HasPrefix(name, "wl"), strings.HasPrefix(name, "wifi"), strings.Contains(name, "wlan"):
		return KindWifi
	case strings.HasPrefix(name, "eth"), strings.HasPrefix(name, "en"), linkType == "ether":
		return KindEthernet
	case strings.HasPrefix(name, "lora"), strings.HasPrefix(name, "pktradio"), strings.HasPrefix(name, "tnc"):
		return KindPacketRadio
	default:
		return KindUnknown
	}
}
