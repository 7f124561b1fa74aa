package udp

import (
	"errors"
	"net"
	"net/netip"
)

// errWouldBlock reports that a non-blocking socket call found nothing to do.
var errWouldBlock = errors.New("udp: operation would block")

// socket is the engine's view of its UDP endpoint. Every call makes a single
// attempt and returns without waiting. It is used by the loop goroutine only.
type socket interface {
	// recv reads one datagram into buf. n is the datagram length, which
	// exceeds len(buf)-1 when the datagram did not fit. It returns
	// errWouldBlock when nothing is pending.
	recv(buf []byte) (n int, peer netip.AddrPort, err error)

	// send writes p as one datagram to peer.
	send(p []byte, peer netip.AddrPort) error

	localAddr() netip.AddrPort
	close() error
}

// listenUDP binds a UDP socket whose address family matches addr, so that
// IPv4 listeners get an AF_INET socket rather than a dual-stack one.
func listenUDP(addr netip.AddrPort) (*net.UDPConn, error) {
	network := "udp6"
	if addr.Addr().Is4() {
		network = "udp4"
	}
	return net.ListenUDP(network, net.UDPAddrFromAddrPort(addr))
}

func connLocalAddr(conn *net.UDPConn) netip.AddrPort {
	if ua, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		ap := ua.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}
