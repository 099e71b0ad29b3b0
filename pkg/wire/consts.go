// Package wire implements the envelope and per-payload header codec
// described by the overlay's wire format: a two-byte envelope prefix, an
// address-abbreviation scheme shared by every address field, and a set of
// payload records each carrying its own compact header.
//
// Bit-packed fields (the combined TTL/queue byte, the per-payload flags
// byte) are read and written with github.com/bamiaux/iobit rather than
// manual shifting, matching how media-container parsers in this pack
// (untangledco/streaming) express sub-byte-aligned fields.
package wire

// EncapType selects how payload records are delimited within an envelope.
type EncapType uint8

const (
	// EncapSingle means exactly one payload record consumes the remainder
	// of the envelope; no length prefix is present.
	EncapSingle EncapType = 0
	// EncapOverlay means each payload record is preceded by a 16-bit
	// length so the receiver can slice records independently.
	EncapOverlay EncapType = 1
)

func (e EncapType) String() string {
	if e == EncapOverlay {
		return "OVERLAY"
	}
	return "SINGLE"
}

// envelopePrefix is the fixed first byte of every envelope.
const envelopePrefix = 0x00

// Envelope flag bits (spec §4.1).
const (
	FlagUnicast   uint8 = 1 << 7
	FlagInterface uint8 = 1 << 6
	FlagSeq       uint8 = 1 << 5
)

// Per-payload header flag bits (spec §4.1).
const (
	HdrSenderSame  uint8 = 1 << 7
	HdrToBroadcast uint8 = 1 << 6
	HdrOneHop      uint8 = 1 << 5
	HdrLegacyType  uint8 = 1 << 4
)

// FrameType is the 8-bit payload type. DATA (zero value) is implied whenever
// LEGACY_TYPE is absent from the per-payload header.
type FrameType uint8

const (
	TypeData            FrameType = 0
	TypeDataVoice       FrameType = 1
	TypeSelfAnnounceAck FrameType = 2
	TypeNodeAnnounce    FrameType = 3
	TypeRhizomeAdvert   FrameType = 4
	TypePleaseExplain   FrameType = 5
)

func (t FrameType) String() string {
	switch t {
	case TypeDataVoice:
		return "DATA_VOICE"
	case TypeSelfAnnounceAck:
		return "SELFANNOUNCE_ACK"
	case TypeNodeAnnounce:
		return "NODEANNOUNCE"
	case TypeRhizomeAdvert:
		return "RHIZOME_ADVERT"
	case TypePleaseExplain:
		return "PLEASEEXPLAIN"
	default:
		return "DATA"
	}
}

// QueueClass is the 2-bit latency class carried alongside TTL (spec §3).
// Order matches the priority queues from most to least latency-sensitive.
type QueueClass uint8

const (
	QueueVoice          QueueClass = 0 // ISOCHRONOUS_VOICE
	QueueVideo          QueueClass = 1 // ISOCHRONOUS_VIDEO
	QueueOrdinary       QueueClass = 2 // ORDINARY
	QueueMeshManagement QueueClass = 3 // MESH_MANAGEMENT
)

// MaxTTL is the largest representable TTL (5 bits, spec §6).
const MaxTTL uint8 = 31

// addrForm tags how an address is represented on the wire (spec §4.1).
type addrForm uint8

const (
	addrFull       addrForm = 0 // full 32-byte SID follows
	addrAbbrev     addrForm = 1 // 1-byte index into this ensemble's address table
	addrPrevSender addrForm = 2 // sentinel: the envelope sender (for a source) or the record's source (for a destination or next hop)
	addrBroadcast  addrForm = 3 // sentinel: broadcast
)

// BroadcastIDLen is the width of a broadcast-id in bytes (spec §6).
const BroadcastIDLen = 8

// BroadcastID identifies one broadcast flood so it can be deduplicated.
type BroadcastID [BroadcastIDLen]byte
