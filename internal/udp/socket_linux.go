//go:build linux

package udp

import "golang.org/x/sys/unix"

// MSG_TRUNC makes recvfrom report the full datagram length even when it was
// cut to fit the buffer.
const recvFlags = unix.MSG_DONTWAIT | unix.MSG_TRUNC
