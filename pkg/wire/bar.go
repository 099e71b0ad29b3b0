package wire

import (
	"encoding/binary"
	"fmt"
)

// RhizomeAdvertVersion selects the layout of a RHIZOME_ADVERT payload
// (spec §6). Versions 1 and 3 carry manifest blocks before their BARs;
// versions 2 and 4 carry only BARs. Serval-DNA's own BAR packs an 8-byte
// manifest prefix (rhizome_packetformats.c); this format widens it to 15
// bytes to suit this spec's 32-byte SID space (SPEC_FULL.md §13 decision
// 4) and is the only layout emitted or accepted here.
type RhizomeAdvertVersion uint8

const (
	RhizomeV1 RhizomeAdvertVersion = 1
	RhizomeV2 RhizomeAdvertVersion = 2
	RhizomeV3 RhizomeAdvertVersion = 3
	RhizomeV4 RhizomeAdvertVersion = 4
)

func (v RhizomeAdvertVersion) hasHTTPPort() bool    { return v == RhizomeV3 || v == RhizomeV4 }
func (v RhizomeAdvertVersion) hasManifests() bool   { return v == RhizomeV1 || v == RhizomeV3 }

const manifestTerminator = 0xff

// BARSize is the width in bytes of one Bundle Advertisement Record in the
// new (authoritative) format.
const BARSize = 32

// BAR is the 32-byte precis of one advertised content object.
type BAR struct {
	ManifestIDPrefix [15]byte
	Log2PayloadLen   uint8
	VersionLow       [7]byte // low-order 56 bits of the manifest version, big-endian
	MinLat, MinLong  uint16  // geographic bounding box, encoded via encodeGeo
	MaxLat, MaxLong  uint16
	TTL              uint8
}

// EncodeBAR writes the fixed 32-byte record.
func EncodeBAR(b BAR) []byte {
	buf := make([]byte, BARSize)
	copy(buf[0:15], b.ManifestIDPrefix[:])
	buf[15] = b.Log2PayloadLen
	copy(buf[16:23], b.VersionLow[:])
	binary.BigEndian.PutUint16(buf[23:25], b.MinLat)
	binary.BigEndian.PutUint16(buf[25:27], b.MinLong)
	binary.BigEndian.PutUint16(buf[27:29], b.MaxLat)
	binary.BigEndian.PutUint16(buf[29:31], b.MaxLong)
	buf[31] = b.TTL
	return buf
}

// DecodeBAR parses one fixed 32-byte record.
func DecodeBAR(data []byte) (BAR, error) {
	if len(data) < BARSize {
		return BAR{}, fmt.Errorf("%w: short BAR", ErrMalformed)
	}
	var b BAR
	copy(b.ManifestIDPrefix[:], data[0:15])
	b.Log2PayloadLen = data[15]
	copy(b.VersionLow[:], data[16:23])
	b.MinLat = binary.BigEndian.Uint16(data[23:25])
	b.MinLong = binary.BigEndian.Uint16(data[25:27])
	b.MaxLat = binary.BigEndian.Uint16(data[27:29])
	b.MaxLong = binary.BigEndian.Uint16(data[29:31])
	b.TTL = data[31]
	return b, nil
}

// Geographic bounding box bias/range used to map signed degrees onto the
// unsigned 16-bit wire fields: (value + bias) * 65535 / range, clamped.
const (
	latBias, latRange   = 90.0, 180.0
	longBias, longRange = 180.0, 360.0
)

func encodeGeo(value, bias, rng float64) uint16 {
	v := (value + bias) * 65535.0 / rng
	if v < 0 {
		v = 0
	}
	if v > 65535 {
		v = 65535
	}
	return uint16(v)
}

func decodeGeo(raw uint16, bias, rng float64) float64 {
	return float64(raw)*rng/65535.0 - bias
}

// EncodeLat/EncodeLong/DecodeLat/DecodeLong apply the shared bias/range to
// latitude and longitude degrees respectively.
func EncodeLat(deg float64) uint16  { return encodeGeo(deg, latBias, latRange) }
func EncodeLong(deg float64) uint16 { return encodeGeo(deg, longBias, longRange) }
func DecodeLat(raw uint16) float64  { return decodeGeo(raw, latBias, latRange) }
func DecodeLong(raw uint16) float64 { return decodeGeo(raw, longBias, longRange) }

// ManifestBlock is one (length-prefixed manifest bytes) block preceding the
// BARs in RhizomeV1/RhizomeV3 payloads.
type ManifestBlock []byte

// RhizomeAdvert is the decoded RHIZOME_ADVERT payload.
type RhizomeAdvert struct {
	Version   RhizomeAdvertVersion
	HTTPPort  uint16 // valid when Version.hasHTTPPort()
	Manifests []ManifestBlock
	BARs      []BAR
}

// EncodeRhizomeAdvert serialises a content-store advertisement per spec §6.
func EncodeRhizomeAdvert(a RhizomeAdvert) []byte {
	buf := []byte{byte(a.Version)}
	if a.Version.hasHTTPPort() {
		port := make([]byte, 2)
		binary.BigEndian.PutUint16(port, a.HTTPPort)
		buf = append(buf, port...)
	}
	if a.Version.hasManifests() {
		for _, m := range a.Manifests {
			length := make([]byte, 2)
			binary.BigEndian.PutUint16(length, uint16(len(m)))
			buf = append(buf, length...)
			buf = append(buf, m...)
		}
		buf = append(buf, manifestTerminator)
	}
	for _, bar := range a.BARs {
		buf = append(buf, EncodeBAR(bar)...)
	}
	return buf
}

// DecodeRhizomeAdvert parses a content-store advertisement per spec §6.
func DecodeRhizomeAdvert(data []byte) (RhizomeAdvert, error) {
	var a RhizomeAdvert
	if len(data) < 1 {
		return a, fmt.Errorf("%w: empty rhizome advert", ErrMalformed)
	}
	a.Version = RhizomeAdvertVersion(data[0])
	switch a.Version {
	case RhizomeV1, RhizomeV2, RhizomeV3, RhizomeV4:
	default:
		return a, fmt.Errorf("%w: unknown rhizome advert version %d", ErrMalformed, data[0])
	}
	pos := 1

	if a.Version.hasHTTPPort() {
		if pos+2 > len(data) {
			return a, fmt.Errorf("%w: truncated http port", ErrMalformed)
		}
		a.HTTPPort = binary.BigEndian.Uint16(data[pos : pos+2])
		pos += 2
	}

	if a.Version.hasManifests() {
		for {
			if pos >= len(data) {
				return a, fmt.Errorf("%w: missing manifest terminator", ErrMalformed)
			}
			if data[pos] == manifestTerminator {
				pos++
				break
			}
			if pos+2 > len(data) {
				return a, fmt.Errorf("%w: truncated manifest length", ErrMalformed)
			}
			length := int(binary.BigEndian.Uint16(data[pos : pos+2]))
			pos += 2
			if pos+length > len(data) {
				return a, fmt.Errorf("%w: manifest length exceeds remaining buffer", ErrMalformed)
			}
			block := make([]byte, length)
			copy(block, data[pos:pos+length])
			a.Manifests = append(a.Manifests, block)
			pos += length
		}
	}

	for pos < len(data) {
		if pos+BARSize > len(data) {
			return a, fmt.Errorf("%w: trailing bytes shorter than one BAR", ErrMalformed)
		}
		bar, err := DecodeBAR(data[pos : pos+BARSize])
		if err != nil {
			return a, err
		}
		a.BARs = append(a.BARs, bar)
		pos += BARSize
	}

	return a, nil
}
