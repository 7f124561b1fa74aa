//go:build unix && !linux

package udp

import "golang.org/x/sys/unix"

// Without MSG_TRUNC semantics the receive buffer carries one spare byte;
// a datagram that fills it is known to be oversized.
const recvFlags = unix.MSG_DONTWAIT
