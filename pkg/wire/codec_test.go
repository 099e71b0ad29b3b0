package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshcore-project/meshcore/pkg/subscriber"
)

func sid(b byte) subscriber.SID {
	var s subscriber.SID
	s[0] = b
	return s
}

func buildEnsemble(t *testing.T, encap EncapType, envSender subscriber.SID, headers []Header, payloads [][]byte) []byte {
	t.Helper()
	buf := EncodeEnvelope(Envelope{Encap: encap, Sender: envSender})
	ctx := NewEncodeContext(encap, envSender)
	for i, h := range headers {
		buf = append(buf, EncodeRecord(envSender, h, payloads[i], ctx)...)
	}
	return buf
}

func TestRoundTripUnicast(t *testing.T) {
	src := sid(1)
	dst := sid(2)
	nh := sid(3)
	h := Header{Source: src, HasDest: true, Dest: dst, HasNextHop: true, NextHop: nh, TTL: 10, Queue: QueueOrdinary, Type: TypeData}
	payload := []byte("hello mesh")

	raw := buildEnsemble(t, EncapSingle, src, []Header{h}, [][]byte{payload})

	env, records, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, src, env.Sender)

	got := records[0].Header
	assert.Equal(t, src, got.Source)
	assert.Equal(t, dst, got.Dest)
	assert.Equal(t, nh, got.NextHop)
	assert.EqualValues(t, 9, got.TTL)
	assert.Equal(t, QueueOrdinary, got.Queue)
	assert.Equal(t, TypeData, got.Type)
	assert.Equal(t, payload, records[0].Payload)
}

func TestRoundTripBroadcastOverlay(t *testing.T) {
	src := sid(9)
	h1 := Header{Source: src, Broadcast: true, BroadcastID: BroadcastID{1, 2, 3, 4, 5, 6, 7, 8}, TTL: 5, Queue: QueueVoice, Type: TypeDataVoice}
	h2 := Header{Source: src, Broadcast: true, BroadcastID: BroadcastID{9, 9, 9, 9, 9, 9, 9, 9}, TTL: 1, Queue: QueueMeshManagement, Type: TypeNodeAnnounce}

	raw := buildEnsemble(t, EncapOverlay, src, []Header{h1, h2}, [][]byte{[]byte("voice"), []byte("adverts")})

	env, records, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, EncapOverlay, env.Encap)
	assert.Equal(t, h1.BroadcastID, records[0].Header.BroadcastID)
	assert.Equal(t, h2.BroadcastID, records[1].Header.BroadcastID)
	assert.Equal(t, []byte("voice"), records[0].Payload)
	assert.Equal(t, []byte("adverts"), records[1].Payload)
}

func TestRoundTripOneHop(t *testing.T) {
	src := sid(4)
	dst := sid(5)
	h := Header{Source: src, HasDest: true, Dest: dst, OneHop: true, Type: TypeData}
	raw := buildEnsemble(t, EncapSingle, src, []Header{h}, [][]byte{{0xAA}})

	_, records, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, records, 1)
	got := records[0].Header
	assert.True(t, got.OneHop)
	assert.False(t, got.HasNextHop)
	// A one-hop record's implicit TTL=1 decrements to 0 at decode time,
	// exactly like any other record's wire TTL, which is why it is never
	// eligible for ShouldForward (below).
	assert.EqualValues(t, 0, got.TTL)
}

func TestDecodeNeverForwardsOneHop(t *testing.T) {
	src := sid(4)
	dst := sid(5)
	h := Header{Source: src, HasDest: true, Dest: dst, OneHop: true, Type: TypeData}
	raw := buildEnsemble(t, EncapSingle, src, []Header{h}, [][]byte{{0xAA}})

	_, records, err := Decode(raw)
	require.NoError(t, err)
	self := sid(1)
	assert.False(t, ShouldForward(records[0].Header, self, false))
}

func TestDecodeDropsForwardEligibilityWhenTTLExpires(t *testing.T) {
	src := sid(4)
	next := sid(2)
	self := sid(2)
	h := Header{Source: src, HasNextHop: true, NextHop: next, TTL: 1, Queue: QueueOrdinary, Type: TypeData}
	raw := buildEnsemble(t, EncapSingle, src, []Header{h}, [][]byte{{0xAA}})

	_, records, err := Decode(raw)
	require.NoError(t, err)
	// Wire TTL=1 decrements to 0 at decode time, so a frame that arrived
	// with one hop of life left must not be relayed any further.
	assert.EqualValues(t, 0, records[0].Header.TTL)
	assert.False(t, ShouldForward(records[0].Header, self, false))
}

func TestMalformedPrefix(t *testing.T) {
	_, _, err := Decode([]byte{0x01, 0x00})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestMalformedOverlayLength(t *testing.T) {
	src := sid(7)
	env := EncodeEnvelope(Envelope{Encap: EncapOverlay, Sender: src})
	// declare a length far larger than any remaining bytes
	raw := append(env, 0xff, 0xff)
	_, _, err := Decode(raw)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestUnknownAddressSkipsRecordNotEnsemble(t *testing.T) {
	src := sid(11)
	raw := EncodeEnvelope(Envelope{Encap: EncapOverlay, Sender: src})
	// a record whose destination is an abbreviation index never interned
	badRecord := []byte{packFlags(false, false, false, false)}
	badRecord = append(badRecord, byte(addrAbbrev), 0x42) // source: bogus abbrev
	badRecord = append(badRecord, byte(addrAbbrev), 0x42) // dest: bogus abbrev
	badRecord = append(badRecord, byte(addrAbbrev), 0x42) // next hop: bogus abbrev
	badRecord = append(badRecord, packTTLQueue(3, QueueOrdinary))
	badRecord = append(badRecord, []byte("x")...)
	lengthPrefixed := append([]byte{0, byte(len(badRecord))}, badRecord...)
	raw = append(raw, lengthPrefixed...)

	goodHeader := Header{Source: src, Broadcast: true, BroadcastID: BroadcastID{1}, TTL: 2, Queue: QueueOrdinary}
	ctx := NewEncodeContext(EncapOverlay, src)
	raw = append(raw, EncodeRecord(src, goodHeader, []byte("ok"), ctx)...)

	_, records, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Header.InvalidAddress)
	assert.False(t, records[1].Header.InvalidAddress)
	assert.Equal(t, []byte("ok"), records[1].Payload)
}

func TestBARRoundTrip(t *testing.T) {
	b := BAR{
		Log2PayloadLen: 20,
		MinLat:         EncodeLat(-10),
		MaxLat:         EncodeLat(10),
		MinLong:        EncodeLong(-20),
		MaxLong:        EncodeLong(20),
		TTL:            5,
	}
	copy(b.ManifestIDPrefix[:], []byte("abcdefghijklmno"))
	copy(b.VersionLow[:], []byte{1, 2, 3, 4, 5, 6, 7})

	raw := EncodeBAR(b)
	require.Len(t, raw, BARSize)

	got, err := DecodeBAR(raw)
	require.NoError(t, err)
	assert.Equal(t, b, got)
	assert.InDelta(t, -10, DecodeLat(got.MinLat), 0.01)
	assert.InDelta(t, 10, DecodeLat(got.MaxLat), 0.01)
}

func TestRhizomeAdvertV2OmitsManifests(t *testing.T) {
	a := RhizomeAdvert{Version: RhizomeV2, BARs: []BAR{{TTL: 1}, {TTL: 2}}}
	raw := EncodeRhizomeAdvert(a)
	got, err := DecodeRhizomeAdvert(raw)
	require.NoError(t, err)
	assert.Empty(t, got.Manifests)
	require.Len(t, got.BARs, 2)
	assert.EqualValues(t, 1, got.BARs[0].TTL)
}

func TestRhizomeAdvertV3WithManifestsAndPort(t *testing.T) {
	a := RhizomeAdvert{
		Version:   RhizomeV3,
		HTTPPort:  8080,
		Manifests: []ManifestBlock{[]byte("manifest-one"), []byte("m2")},
		BARs:      []BAR{{TTL: 9}},
	}
	raw := EncodeRhizomeAdvert(a)
	got, err := DecodeRhizomeAdvert(raw)
	require.NoError(t, err)
	assert.EqualValues(t, 8080, got.HTTPPort)
	require.Len(t, got.Manifests, 2)
	assert.Equal(t, "manifest-one", string(got.Manifests[0]))
	require.Len(t, got.BARs, 1)
}

func TestSelfAnnounceAckRoundTrip(t *testing.T) {
	a := SelfAnnounceAck{S1: 1000, S2: 2000, Iface: 3}
	got, err := DecodeSelfAnnounceAck(EncodeSelfAnnounceAck(a))
	require.NoError(t, err)
	assert.Equal(t, a, got)
}

func TestNodeAnnounceRoundTrip(t *testing.T) {
	adverts := []NodeAdvert{
		{SIDPrefix: [6]byte{1, 2, 3, 4, 5, 6}, Score: 200, GatewaysEnRoute: 1},
		{SIDPrefix: [6]byte{9, 9, 9, 9, 9, 9}, Score: 10, GatewaysEnRoute: 0},
	}
	got, err := DecodeNodeAnnounce(EncodeNodeAnnounce(adverts))
	require.NoError(t, err)
	assert.Equal(t, adverts, got)
}
