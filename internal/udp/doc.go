// Package udp provides a background UDP relay engine.
//
// An Engine owns a single non-blocking UDP socket and one loop goroutine.
// Control goroutines never touch the socket; they exchange packets with the
// loop through two bounded, lock-free queues:
//   - Transmit pushes onto the outbound queue, which the loop drains into
//     socket sends
//   - TryReceive pops from the inbound queue, which the loop fills from
//     socket reads
//
// Both calls return immediately. A full outbound queue rejects the packet and
// the caller decides whether to retry; a full inbound queue drops the
// datagram, as does any datagram larger than MaxPacketSize.
//
// # Lifecycle
//
//  1. New returns an Idle engine with both queues allocated
//  2. Start binds the socket and spawns the loop (Idle -> Running)
//  3. Stop sets the stop flag and joins the loop (Running -> Stopped)
//
// Stopped is terminal: Start on a stopped engine returns ErrStopped. Packets
// left in either queue stay there and can still be inspected or drained.
//
// # Loop
//
// Each iteration sends at most one queued packet and reads at most one
// datagram. An iteration that does neither sleeps for GraceInterval; a busy
// iteration loops again immediately.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package udp
