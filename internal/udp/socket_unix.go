//go:build unix

package udp

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"
)

// rawSocket issues recvfrom/sendto directly on the descriptor of a
// net.UDPConn with MSG_DONTWAIT, so a call never parks in the netpoller.
type rawSocket struct {
	conn  *net.UDPConn
	raw   syscall.RawConn
	local netip.AddrPort
	inet4 bool
}

func bindSocket(addr netip.AddrPort) (socket, error) {
	conn, err := listenUDP(addr)
	if err != nil {
		return nil, err
	}

	raw, err := conn.SyscallConn()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("raw conn: %w", err)
	}

	return &rawSocket{
		conn:  conn,
		raw:   raw,
		local: connLocalAddr(conn),
		inet4: addr.Addr().Is4(),
	}, nil
}

func (s *rawSocket) recv(buf []byte) (int, netip.AddrPort, error) {
	var (
		n     int
		from  unix.Sockaddr
		opErr error
	)

	// Returning true from the callback makes this a single attempt.
	err := s.raw.Read(func(fd uintptr) bool {
		n, from, opErr = unix.Recvfrom(int(fd), buf, recvFlags)
		return true
	})
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	if opErr != nil {
		if isWouldBlock(opErr) {
			return 0, netip.AddrPort{}, errWouldBlock
		}
		return 0, netip.AddrPort{}, opErr
	}

	return n, fromSockaddr(from), nil
}

func (s *rawSocket) send(p []byte, peer netip.AddrPort) error {
	sa, err := s.sockaddr(peer)
	if err != nil {
		return err
	}

	var opErr error
	err = s.raw.Write(func(fd uintptr) bool {
		opErr = unix.Sendto(int(fd), p, unix.MSG_DONTWAIT, sa)
		return true
	})
	if err != nil {
		return err
	}
	if opErr != nil && isWouldBlock(opErr) {
		return errWouldBlock
	}
	return opErr
}

func (s *rawSocket) localAddr() netip.AddrPort {
	return s.local
}

func (s *rawSocket) close() error {
	return s.conn.Close()
}

// sockaddr converts peer to the address family of the socket.
func (s *rawSocket) sockaddr(peer netip.AddrPort) (unix.Sockaddr, error) {
	if !peer.IsValid() {
		return nil, fmt.Errorf("invalid peer address %v", peer)
	}

	addr := peer.Addr()
	if s.inet4 {
		addr = addr.Unmap()
		if !addr.Is4() {
			return nil, fmt.Errorf("peer %v is not reachable from an IPv4 socket", peer)
		}
		return &unix.SockaddrInet4{Port: int(peer.Port()), Addr: addr.As4()}, nil
	}

	return &unix.SockaddrInet6{Port: int(peer.Port()), Addr: addr.As16()}, nil
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr).Unmap(), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}
