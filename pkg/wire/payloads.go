package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/meshcore-project/meshcore/pkg/subscriber"
)

// SelfAnnounceAck is the body of a SELFANNOUNCE_ACK payload: the contiguous
// interval (S1,S2), in milliseconds, during which the sender heard our
// self-announcements on sender-local interface Iface (spec §6).
type SelfAnnounceAck struct {
	S1, S2 uint32
	Iface  uint8
}

// EncodeSelfAnnounceAck writes `u32 s1 | u32 s2 | u8 iface`.
func EncodeSelfAnnounceAck(a SelfAnnounceAck) []byte {
	buf := make([]byte, 9)
	binary.BigEndian.PutUint32(buf[0:4], a.S1)
	binary.BigEndian.PutUint32(buf[4:8], a.S2)
	buf[8] = a.Iface
	return buf
}

// DecodeSelfAnnounceAck parses the fixed 9-byte body.
func DecodeSelfAnnounceAck(data []byte) (SelfAnnounceAck, error) {
	if len(data) < 9 {
		return SelfAnnounceAck{}, fmt.Errorf("%w: short self-announce-ack body", ErrMalformed)
	}
	return SelfAnnounceAck{
		S1:    binary.BigEndian.Uint32(data[0:4]),
		S2:    binary.BigEndian.Uint32(data[4:8]),
		Iface: data[8],
	}, nil
}

// NodeAdvert is one tuple within a NODEANNOUNCE payload: a 6-byte SID prefix
// plus the advertiser's observed score and gateway-hop-count for that node
// (spec §6).
type NodeAdvert struct {
	SIDPrefix        [6]byte
	Score            uint8
	GatewaysEnRoute  uint8
}

// EncodeNodeAnnounce writes a sequence of 8-byte tuples, one per advert.
func EncodeNodeAnnounce(adverts []NodeAdvert) []byte {
	buf := make([]byte, 0, len(adverts)*8)
	for _, a := range adverts {
		buf = append(buf, a.SIDPrefix[:]...)
		buf = append(buf, a.Score, a.GatewaysEnRoute)
	}
	return buf
}

// DecodeNodeAnnounce parses tuples until the payload is exhausted.
func DecodeNodeAnnounce(data []byte) ([]NodeAdvert, error) {
	if len(data)%8 != 0 {
		return nil, fmt.Errorf("%w: node-announce payload not a multiple of 8 bytes", ErrMalformed)
	}
	out := make([]NodeAdvert, 0, len(data)/8)
	for i := 0; i < len(data); i += 8 {
		var a NodeAdvert
		copy(a.SIDPrefix[:], data[i:i+6])
		a.Score = data[i+6]
		a.GatewaysEnRoute = data[i+7]
		out = append(out, a)
	}
	return out, nil
}

// MatchesPrefix reports whether sid's leading 6 bytes equal the advert's
// prefix — the only identification a NODEANNOUNCE tuple carries.
func (a NodeAdvert) MatchesPrefix(sid subscriber.SID) bool {
	return [6]byte(sid[:6]) == a.SIDPrefix
}

// PleaseExplainReason classifies why a PLEASEEXPLAIN was raised.
type PleaseExplainReason uint8

const (
	ReasonMalformed      PleaseExplainReason = 1
	ReasonUnknownAddress PleaseExplainReason = 2
)

// PleaseExplain is queued back to the sender of an ensemble the local node
// could not fully decode (spec §4.1, §7). TraceID is a correlation value
// carried in the encoded body; the receiver does not need it to act on the
// request.
type PleaseExplain struct {
	Reason  PleaseExplainReason
	TraceID [12]byte
}

// EncodePleaseExplain writes `u8 reason | 12-byte trace id`.
func EncodePleaseExplain(p PleaseExplain) []byte {
	buf := make([]byte, 13)
	buf[0] = byte(p.Reason)
	copy(buf[1:], p.TraceID[:])
	return buf
}

// DecodePleaseExplain parses the fixed 13-byte body.
func DecodePleaseExplain(data []byte) (PleaseExplain, error) {
	if len(data) < 13 {
		return PleaseExplain{}, fmt.Errorf("%w: short please-explain body", ErrMalformed)
	}
	var p PleaseExplain
	p.Reason = PleaseExplainReason(data[0])
	copy(p.TraceID[:], data[1:13])
	return p, nil
}
