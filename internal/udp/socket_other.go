//go:build !unix

package udp

import (
	"errors"
	"net"
	"net/netip"
	"os"
	"time"
)

// pollTimeout bounds each read on platforms without MSG_DONTWAIT.
const pollTimeout = 100 * time.Microsecond

// deadlineSocket emulates non-blocking reads with a short read deadline.
type deadlineSocket struct {
	conn  *net.UDPConn
	local netip.AddrPort
}

func bindSocket(addr netip.AddrPort) (socket, error) {
	conn, err := listenUDP(addr)
	if err != nil {
		return nil, err
	}
	return &deadlineSocket{conn: conn, local: connLocalAddr(conn)}, nil
}

func (s *deadlineSocket) recv(buf []byte) (int, netip.AddrPort, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
		return 0, netip.AddrPort{}, err
	}
	n, peer, err := s.conn.ReadFromUDPAddrPort(buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return 0, netip.AddrPort{}, errWouldBlock
		}
		return 0, netip.AddrPort{}, err
	}
	return n, netip.AddrPortFrom(peer.Addr().Unmap(), peer.Port()), nil
}

func (s *deadlineSocket) send(p []byte, peer netip.AddrPort) error {
	_, err := s.conn.WriteToUDPAddrPort(p, peer)
	return err
}

func (s *deadlineSocket) localAddr() netip.AddrPort {
	return s.local
}

func (s *deadlineSocket) close() error {
	return s.conn.Close()
}
