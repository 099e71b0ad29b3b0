package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/meshcore-project/meshcore/pkg/subscriber"
)

// Envelope carries the per-ensemble metadata that precedes the payload
// records (spec §4.1).
type Envelope struct {
	Encap     EncapType
	Sender    subscriber.SID
	Unicast   bool
	HasIface  bool
	IfaceNum  uint8
	HasSeq    bool
	Seq       uint8
}

// Header is the decoded per-payload header plus its resolved addresses.
type Header struct {
	Source      subscriber.SID
	Broadcast   bool
	BroadcastID BroadcastID
	Dest        subscriber.SID // valid when !Broadcast
	HasDest     bool
	NextHop     subscriber.SID
	HasNextHop  bool
	OneHop      bool
	TTL         uint8
	Queue       QueueClass
	Type        FrameType

	// InvalidAddress is set when an address abbreviation in this record
	// could not be resolved; the record must be neither processed nor
	// forwarded (spec §7 UnknownAddress).
	InvalidAddress bool
}

// Record is one decoded payload: its header plus the payload body.
type Record struct {
	Header  Header
	Payload []byte
}

// Decode parses one ensemble into its Envelope metadata and payload
// Records. A structural failure (bad prefix, a length exceeding the
// remaining buffer, or a header byte that can't be read) returns
// ErrMalformed and no records. An unresolvable address abbreviation within
// one record sets that record's Header.InvalidAddress instead of aborting;
// decoding of the remaining records continues (spec §4.1, §7).
func Decode(data []byte) (Envelope, []Record, error) {
	var env Envelope
	if len(data) < 2 || data[0] != envelopePrefix {
		return env, nil, fmt.Errorf("%w: bad envelope prefix", ErrMalformed)
	}
	env.Encap = EncapType(data[1])
	pos := 2

	table := newAddressTable()

	sender, n, err := decodeAddress(data[pos:], table, subscriber.SID{})
	if err != nil {
		return env, nil, fmt.Errorf("%w: envelope sender: %v", ErrMalformed, err)
	}
	env.Sender = sender
	pos += n

	if pos >= len(data) {
		return env, nil, fmt.Errorf("%w: truncated envelope flags", ErrMalformed)
	}
	flags := unpackFlags(data[pos])
	env.Unicast = flags[0]
	env.HasIface = flags[1]
	env.HasSeq = flags[2]
	pos++

	if env.HasIface {
		if pos >= len(data) {
			return env, nil, fmt.Errorf("%w: truncated interface number", ErrMalformed)
		}
		env.IfaceNum = data[pos]
		pos++
	}
	if env.HasSeq {
		if pos >= len(data) {
			return env, nil, fmt.Errorf("%w: truncated sequence", ErrMalformed)
		}
		env.Seq = data[pos]
		pos++
	}

	var records []Record
	switch env.Encap {
	case EncapSingle:
		hdr, body, err := decodeRecord(data[pos:], table, env.Sender)
		if err != nil {
			return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		records = append(records, Record{Header: hdr, Payload: body})
	case EncapOverlay:
		for pos < len(data) {
			if pos+2 > len(data) {
				return env, nil, fmt.Errorf("%w: truncated record length", ErrMalformed)
			}
			length := int(binary.BigEndian.Uint16(data[pos : pos+2]))
			pos += 2
			if pos+length > len(data) {
				return env, nil, fmt.Errorf("%w: record length exceeds remaining buffer", ErrMalformed)
			}
			slice := data[pos : pos+length]
			pos += length

			hdr, body, err := decodeRecord(slice, table, env.Sender)
			if err != nil {
				return env, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
			records = append(records, Record{Header: hdr, Payload: body})
		}
	default:
		return env, nil, fmt.Errorf("%w: unknown encap type %d", ErrMalformed, env.Encap)
	}

	return env, records, nil
}

func decodeRecord(data []byte, table *addressTable, envelopeSender subscriber.SID) (Header, []byte, error) {
	var h Header
	if len(data) < 1 {
		return h, nil, fmt.Errorf("truncated header flags")
	}
	flags := unpackFlags(data[0])
	senderSame := flags[0]
	toBroadcast := flags[1]
	oneHop := flags[2]
	legacyType := flags[3]
	pos := 1

	if senderSame {
		h.Source = envelopeSender
	} else {
		src, n, err := decodeAddress(data[pos:], table, envelopeSender)
		if err == ErrUnknownAddress {
			h.InvalidAddress = true
		} else if err != nil {
			return h, nil, fmt.Errorf("source: %v", err)
		} else {
			h.Source = src
		}
		pos += n
	}

	h.Broadcast = toBroadcast
	h.OneHop = oneHop

	if toBroadcast {
		if !oneHop {
			if pos+BroadcastIDLen > len(data) {
				return h, nil, fmt.Errorf("truncated broadcast id")
			}
			copy(h.BroadcastID[:], data[pos:pos+BroadcastIDLen])
			pos += BroadcastIDLen
		}
	} else {
		h.HasDest = true
		dst, n, err := decodeAddress(data[pos:], table, h.Source)
		if err == ErrUnknownAddress {
			h.InvalidAddress = true
		} else if err != nil {
			return h, nil, fmt.Errorf("destination: %v", err)
		} else {
			h.Dest = dst
		}
		pos += n

		if !oneHop {
			h.HasNextHop = true
			nh, n, err := decodeAddress(data[pos:], table, h.Source)
			if err == ErrUnknownAddress {
				h.InvalidAddress = true
			} else if err != nil {
				return h, nil, fmt.Errorf("next hop: %v", err)
			} else {
				h.NextHop = nh
			}
			pos += n
		}
	}

	if oneHop {
		h.TTL = 1
		h.Queue = QueueOrdinary
	} else {
		if pos >= len(data) {
			return h, nil, fmt.Errorf("truncated ttl/queue byte")
		}
		h.TTL, h.Queue = unpackTTLQueue(data[pos])
		pos++
	}
	// Decrement applies at decode time, before any forwarding decision is
	// made, matching the original decrement-then-check order (Serval-DNA's
	// overlay_packetformats.c: "frame->ttl--; if (frame->ttl<=0) forward=0;").
	// A one-hop record's TTL=1 decrements to 0 here too, which is exactly
	// why a one-hop record is never eligible for ShouldForward.
	if h.TTL > 0 {
		h.TTL--
	}

	if legacyType {
		if pos >= len(data) {
			return h, nil, fmt.Errorf("truncated type byte")
		}
		h.Type = FrameType(data[pos])
		pos++
	} else {
		h.Type = TypeData
	}

	return h, data[pos:], nil
}

// decodeAddress reads one address-abbreviation form from data, returning the
// resolved SID, the number of bytes consumed, and an error only for a
// structural failure (truncated buffer) — an unresolvable abbreviation is
// reported via ErrUnknownAddress but still reports bytes consumed.
func decodeAddress(data []byte, table *addressTable, prevSender subscriber.SID) (subscriber.SID, int, error) {
	if len(data) < 1 {
		return subscriber.SID{}, 0, fmt.Errorf("truncated address form")
	}
	switch addrForm(data[0]) {
	case addrFull:
		if len(data) < 1+32 {
			return subscriber.SID{}, 0, fmt.Errorf("truncated full address")
		}
		var sid subscriber.SID
		copy(sid[:], data[1:33])
		table.learn(sid)
		return sid, 33, nil
	case addrAbbrev:
		if len(data) < 2 {
			return subscriber.SID{}, 0, fmt.Errorf("truncated abbreviated address")
		}
		sid, ok := table.resolve(data[1])
		if !ok {
			return subscriber.SID{}, 2, ErrUnknownAddress
		}
		return sid, 2, nil
	case addrPrevSender:
		return prevSender, 1, nil
	case addrBroadcast:
		return subscriber.SID{}, 1, nil
	default:
		return subscriber.SID{}, 1, fmt.Errorf("unknown address form %d", data[0])
	}
}

// EncodeEnvelope writes the envelope prefix, sender address, flags, and
// optional interface/sequence bytes. The returned buffer has no payload
// records yet; callers append records with EncodeRecord.
func EncodeEnvelope(env Envelope) []byte {
	table := newAddressTable()
	buf := []byte{envelopePrefix, byte(env.Encap)}
	buf = append(buf, encodeAddressFull(env.Sender, table)...)
	buf = append(buf, packFlags(env.Unicast, env.HasIface, env.HasSeq))
	if env.HasIface {
		buf = append(buf, env.IfaceNum)
	}
	if env.HasSeq {
		buf = append(buf, env.Seq)
	}
	return buf
}

// EncodeRecord produces the minimum-size per-payload header plus body for
// one record and, if Encap is EncapOverlay, prefixes it with the 16-bit
// record length. ctx tracks addresses already written on this ensemble so
// repeated SIDs are abbreviated instead of spelled out in full.
func EncodeRecord(envelopeSender subscriber.SID, h Header, payload []byte, ctx *EncodeContext) []byte {
	senderSame := h.Source == envelopeSender
	var body []byte

	flags := packFlags(senderSame, h.Broadcast, h.OneHop, h.Type != TypeData)
	body = append(body, flags)

	if !senderSame {
		body = append(body, encodeAddress(h.Source, ctx.table)...)
	}

	if h.Broadcast {
		if !h.OneHop {
			body = append(body, h.BroadcastID[:]...)
		}
	} else {
		body = append(body, encodeAddress(h.Dest, ctx.table)...)
		if !h.OneHop {
			body = append(body, encodeAddress(h.NextHop, ctx.table)...)
		}
	}

	if !h.OneHop {
		body = append(body, packTTLQueue(h.TTL, h.Queue))
	}

	if h.Type != TypeData {
		body = append(body, byte(h.Type))
	}

	body = append(body, payload...)

	if ctx.Encap == EncapOverlay {
		out := make([]byte, 2, 2+len(body))
		binary.BigEndian.PutUint16(out, uint16(len(body)))
		return append(out, body...)
	}
	return body
}

// EncodeContext threads an address table across the calls that build up one
// ensemble (the envelope plus every record appended to it).
type EncodeContext struct {
	Encap EncapType
	table *addressTable
}

// NewEncodeContext starts a fresh per-ensemble address table; the caller
// must have already interned the envelope sender via EncodeEnvelope's own
// internal table, so this is a second, independent table scoped only to
// the records — matching decode's behaviour where the sender is the first
// address learned before any record is parsed.
func NewEncodeContext(encap EncapType, envelopeSender subscriber.SID) *EncodeContext {
	t := newAddressTable()
	t.learn(envelopeSender)
	return &EncodeContext{Encap: encap, table: t}
}

func encodeAddressFull(sid subscriber.SID, table *addressTable) []byte {
	table.learn(sid)
	out := make([]byte, 1+32)
	out[0] = byte(addrFull)
	copy(out[1:], sid[:])
	return out
}

func encodeAddress(sid subscriber.SID, table *addressTable) []byte {
	idx, known, ok := table.intern(sid)
	if known && ok {
		return []byte{byte(addrAbbrev), idx}
	}
	out := make([]byte, 1+32)
	out[0] = byte(addrFull)
	copy(out[1:], sid[:])
	return out
}
