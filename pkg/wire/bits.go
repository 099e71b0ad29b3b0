package wire

import "github.com/bamiaux/iobit"

// packFlags packs up to 8 boolean bits, most-significant-bit-numbered from
// bit 0 (HdrSenderSame et al. in consts.go), into a single byte.
func packFlags(bits ...bool) byte {
	w := iobit.NewWriter(make([]byte, 1))
	for i := 0; i < 8; i++ {
		var b bool
		if i < len(bits) {
			b = bits[i]
		}
		w.PutUint8(b2u8(b), 1)
	}
	w.Close()
	return w.Bytes()[0]
}

func unpackFlags(b byte) [8]bool {
	r := iobit.NewReader([]byte{b})
	var out [8]bool
	for i := 0; i < 8; i++ {
		out[i] = r.Uint8(1) != 0
	}
	_ = r.Close()
	return out
}

// packTTLQueue packs a 5-bit TTL and a 2-bit queue class into one byte, the
// combined TTL/queue byte from spec §4.1.
func packTTLQueue(ttl uint8, q QueueClass) byte {
	w := iobit.NewWriter(make([]byte, 1))
	w.PutUint8(ttl&0x1f, 5)
	w.PutUint8(uint8(q)&0x3, 2)
	w.PutUint8(0, 1) // reserved
	w.Close()
	return w.Bytes()[0]
}

func unpackTTLQueue(b byte) (ttl uint8, q QueueClass) {
	r := iobit.NewReader([]byte{b})
	ttl = r.Uint8(5)
	q = QueueClass(r.Uint8(2))
	_ = r.Uint8(1)
	_ = r.Close()
	return
}

func b2u8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
