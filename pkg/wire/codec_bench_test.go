package wire

import (
	"testing"

	"github.com/meshcore-project/meshcore/pkg/subscriber"
)

// BenchmarkDecodeOverlayEnsemble mirrors the teacher's raknet_bench_test.go:
// measure steady-state decode cost for a realistically sized ensemble
// rather than a single tiny payload.
func BenchmarkDecodeOverlayEnsemble(b *testing.B) {
	src := sid(byte(1))
	env := EncodeEnvelope(Envelope{Encap: EncapOverlay, Sender: src})
	ctx := NewEncodeContext(EncapOverlay, src)
	raw := append([]byte{}, env...)
	for i := 0; i < 8; i++ {
		h := Header{Source: src, HasDest: true, Dest: sidN(byte(i + 2)), HasNextHop: true, NextHop: sidN(byte(i + 2)), TTL: 20, Queue: QueueOrdinary, Type: TypeData}
		raw = append(raw, EncodeRecord(src, h, make([]byte, 200), ctx)...)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := Decode(raw); err != nil {
			b.Fatal(err)
		}
	}
}

func sidN(n byte) subscriber.SID {
	var s subscriber.SID
	s[0] = n
	return s
}
