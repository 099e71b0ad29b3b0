package iface

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPreferredRanksEthernetAboveWifiAbovePacketRadio(t *testing.T) {
	eth := &Interface{ID: 1, Kind: KindEthernet}
	wifi := &Interface{ID: 2, Kind: KindWifi}
	radio := &Interface{ID: 3, Kind: KindPacketRadio}

	assert.True(t, Preferred(eth, wifi))
	assert.True(t, Preferred(wifi, radio))
	assert.False(t, Preferred(radio, eth))
}

func TestSortByPreferenceBreaksTiesByID(t *testing.T) {
	a := &Interface{ID: 5, Kind: KindWifi}
	b := &Interface{ID: 2, Kind: KindWifi}
	list := []*Interface{a, b}
	sortByPreference(list)
	assert.Equal(t, b, list[0])
	assert.Equal(t, a, list[1])
}

func TestTokenBucketRejectsWhenExhausted(t *testing.T) {
	b := NewTokenBucket(100, 1000)
	assert.True(t, b.Take(100))
	assert.False(t, b.Take(1))
}

func TestTickIntervalByKind(t *testing.T) {
	assert.NotZero(t, KindEthernet.TickInterval())
	assert.NotZero(t, KindWifi.TickInterval())
	assert.NotZero(t, KindPacketRadio.TickInterval())
	assert.Zero(t, KindUnknown.TickInterval())
}
