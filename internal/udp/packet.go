package udp

import (
	"fmt"
	"net/netip"
)

// Packet is a datagram together with its remote endpoint: the destination
// for an outbound packet, the source for an inbound one.
type Packet struct {
	Peer    netip.AddrPort
	Payload []byte
}

// NewPacket creates a packet for peer. The payload is not copied.
func NewPacket(peer netip.AddrPort, payload []byte) Packet {
	return Packet{Peer: peer, Payload: payload}
}

// ParsePacket builds a packet from a textual IP address and a port.
// address must be an IPv4 or IPv6 literal; host names are not resolved.
func ParsePacket(address string, port uint16, payload []byte) (Packet, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return Packet{}, fmt.Errorf("%w: peer %q: %v", ErrInvalidAddress, address, err)
	}
	return NewPacket(netip.AddrPortFrom(addr.Unmap(), port), payload), nil
}

// Address returns the peer IP address as text.
func (p Packet) Address() string {
	return p.Peer.Addr().String()
}

// Port returns the peer port.
func (p Packet) Port() uint16 {
	return p.Peer.Port()
}

// Len returns the payload length in bytes.
func (p Packet) Len() int {
	return len(p.Payload)
}
