package iface

import (
	"bufio"
	"errors"
	"io"
	"sync"

	"github.com/tarm/serial"
)

// Stream framing constants. Serial links have no datagram boundaries, so
// frames are delimited SLIP-style: streamEnd ends a frame, and a payload
// byte equal to streamEnd or streamEsc is escaped as a two-byte sequence
// (spec §4.2 stream encapsulation). No other byte is escaped, including the
// rest of the 0xF8-0xFF range.
const (
	streamEnd      byte = 0xFC
	streamEsc      byte = 0xFD
	streamEscEnd   byte = 0x7C // ESC, streamEscEnd decodes back to streamEnd
	streamEscEsc   byte = 0x7D // ESC, streamEscEsc decodes back to streamEsc
	streamReserved      = 0xF8 // start of the upper range; stuff and unstuff do not consult it
)

// ErrStreamReserved is returned by unstuff when streamEsc is followed by a
// byte other than streamEscEnd or streamEscEsc.
var ErrStreamReserved = errors.New("iface: unrepresentable byte in stream codec")

func stuff(frame []byte) []byte {
	out := make([]byte, 0, len(frame)+2)
	for _, b := range frame {
		switch b {
		case streamEnd:
			out = append(out, streamEsc, streamEscEnd)
		case streamEsc:
			out = append(out, streamEsc, streamEscEsc)
		default:
			out = append(out, b)
		}
	}
	out = append(out, streamEnd)
	return out
}

func unstuff(r *bufio.Reader) ([]byte, error) {
	var out []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch b {
		case streamEnd:
			return out, nil
		case streamEsc:
			esc, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			switch esc {
			case streamEscEnd:
				out = append(out, streamEnd)
			case streamEscEsc:
				out = append(out, streamEsc)
			default:
				return nil, ErrStreamReserved
			}
		default:
			out = append(out, b)
		}
	}
}

// StreamTransport carries frames over a serial line (spec §4.2: useful for
// packet-radio modems attached via a TNC-style UART), byte-stuffed so a
// corrupted or truncated frame never desynchronizes the ones that follow.
type StreamTransport struct {
	port *serial.Port
	r    *bufio.Reader

	mu sync.Mutex
}

// OpenStreamTransport opens dev at baud and wraps it for framed send/recv.
func OpenStreamTransport(dev string, baud int) (*StreamTransport, error) {
	port, err := serial.OpenPort(&serial.Config{Name: dev, Baud: baud})
	if err != nil {
		return nil, err
	}
	return &StreamTransport{port: port, r: bufio.NewReader(port)}, nil
}

func (s *StreamTransport) Send(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.port.Write(stuff(b))
	return err
}

func (s *StreamTransport) Recv() ([]byte, error) {
	frame, err := unstuff(s.r)
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return frame, nil
}

func (s *StreamTransport) Close() error { return s.port.Close() }

// FD has no meaning for a serial port wrapped by tarm/serial, which does not
// expose the underlying descriptor, so it returns -1 and the event loop
// never calls Recv on a stream transport by itself.
func (s *StreamTransport) FD() int { return -1 }
