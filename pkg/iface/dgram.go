package iface

import (
	"net"

	"github.com/higebu/netfd"
)

// DgramTransport sends and receives encapsulated frames over a UDP socket,
// either ANY-bound (a single shared listener multiplexing every interface)
// or bound to one interface's address (spec §4.2 dgram encapsulation).
type DgramTransport struct {
	conn *net.UDPConn
	dest *net.UDPAddr
}

// NewDgramTransport wraps an already-bound UDP socket. dest is the fixed
// peer address for interfaces that talk to a single broadcast/relay point.
// With a nil dest, Send uses Write, which only succeeds on a connected
// socket; Recv does not record the address a datagram came from.
func NewDgramTransport(conn *net.UDPConn, dest *net.UDPAddr) *DgramTransport {
	return &DgramTransport{conn: conn, dest: dest}
}

func (d *DgramTransport) Send(b []byte) error {
	if d.dest != nil {
		_, err := d.conn.WriteToUDP(b, d.dest)
		return err
	}
	_, err := d.conn.Write(b)
	return err
}

func (d *DgramTransport) Recv() ([]byte, error) {
	buf := make([]byte, 2048)
	n, _, err := d.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (d *DgramTransport) Close() error { return d.conn.Close() }

// FD extracts the raw file descriptor for epoll registration. net.UDPConn
// does not expose this directly; github.com/higebu/netfd reaches through
// the exported SyscallConn path to get it without reflection tricks.
func (d *DgramTransport) FD() int {
	fd, err := netfd.GetFd(d.conn)
	if err != nil {
		return -1
	}
	return fd
}
