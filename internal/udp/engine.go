package udp

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/udprelay/internal/logging"
	"github.com/postalsys/udprelay/internal/metrics"
	"github.com/postalsys/udprelay/internal/queue"
	"github.com/postalsys/udprelay/internal/recovery"
)

const (
	// MaxPacketSize is the largest payload the engine accepts from the socket.
	MaxPacketSize = 1460

	// MaxPendingTx is the capacity of the outbound queue.
	MaxPendingTx = 128

	// MaxPendingRx is the capacity of the inbound queue.
	MaxPendingRx = 128

	// GraceInterval is how long an idle loop iteration sleeps.
	GraceInterval = time.Millisecond
)

var (
	// ErrStopped is returned by Start on an engine that has been stopped.
	ErrStopped = errors.New("udp: engine stopped")

	// ErrInvalidAddress is returned when an address is not an IP literal.
	ErrInvalidAddress = errors.New("udp: invalid address")
)

// State is the lifecycle state of an Engine.
type State int32

const (
	// StateIdle means no socket is bound and no loop is running.
	StateIdle State = iota
	// StateRunning means the socket is bound and the loop is running.
	StateRunning
	// StateStopped means the loop has been joined. It is terminal.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Stats is a snapshot of engine counters.
type Stats struct {
	State            string `json:"state"`
	LocalAddr        string `json:"local_addr,omitempty"`
	PacketsSent      uint64 `json:"packets_sent"`
	PacketsReceived  uint64 `json:"packets_received"`
	BytesSent        uint64 `json:"bytes_sent"`
	BytesReceived    uint64 `json:"bytes_received"`
	SendErrors       uint64 `json:"send_errors"`
	DroppedTxFull    uint64 `json:"dropped_tx_full"`
	DroppedRxFull    uint64 `json:"dropped_rx_full"`
	DroppedOversized uint64 `json:"dropped_oversized"`
	IdleSleeps       uint64 `json:"idle_sleeps"`
	PendingTx        int    `json:"pending_tx"`
	PendingRx        int    `json:"pending_rx"`
}

type counters struct {
	packetsSent      atomic.Uint64
	packetsReceived  atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	sendErrors       atomic.Uint64
	droppedTxFull    atomic.Uint64
	droppedRxFull    atomic.Uint64
	droppedOversized atomic.Uint64
	idleSleeps       atomic.Uint64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logging.Component(logger, "udp")
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine relays datagrams between a UDP socket and two bounded queues.
type Engine struct {
	// mu serializes Start and Stop and guards done and local.
	mu    sync.Mutex
	done  chan struct{} // closed when the loop exits; nil without a loop
	local netip.AddrPort

	state   atomic.Int32
	stop    atomic.Bool
	faulted atomic.Bool

	tx *queue.Bounded[Packet]
	rx *queue.Bounded[Packet]

	logger  *slog.Logger
	metrics *metrics.Metrics
	diag    *rate.Limiter

	stats counters
}

// New creates an idle engine with empty queues.
func New(opts ...Option) *Engine {
	e := &Engine{
		tx:     queue.New[Packet](MaxPendingTx),
		rx:     queue.New[Packet](MaxPendingRx),
		logger: logging.Component(nil, "udp"),
		diag:   rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start binds a UDP socket to address:port and starts the loop.
//
// It returns false with a nil error if the engine is already running, and
// ErrStopped once the engine has been stopped. A bind failure is returned as
// an error and leaves the engine idle.
func (e *Engine) Start(address string, port uint16) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.State() {
	case StateRunning:
		return false, nil
	case StateStopped:
		return false, ErrStopped
	}

	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false, fmt.Errorf("%w: listen %q: %v", ErrInvalidAddress, address, err)
	}
	bindAddr := netip.AddrPortFrom(addr.Unmap(), port)

	sock, err := bindSocket(bindAddr)
	if err != nil {
		return false, fmt.Errorf("bind %s: %w", bindAddr, err)
	}

	e.local = sock.localAddr()
	e.done = make(chan struct{})
	e.state.Store(int32(StateRunning))

	go e.run(sock, e.done)

	e.metrics.RecordStart()
	e.logger.Info("engine started", logging.KeyLocalAddr, e.local.String())

	return true, nil
}

// Stop signals the loop to exit and waits for it. It returns false if the
// engine is not running.
func (e *Engine) Stop() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.State() != StateRunning {
		return false
	}

	e.stop.Store(true)
	<-e.done
	e.done = nil
	e.state.Store(int32(StateStopped))

	e.logger.Info("engine stopped",
		logging.KeyLocalAddr, e.local.String(),
		"pending_tx", e.tx.Len(),
		"pending_rx", e.rx.Len())

	return true
}

// Transmit queues p for sending. It returns false if the outbound queue is
// full. Packets queued while the engine is not running wait for Start.
func (e *Engine) Transmit(p Packet) bool {
	if !e.tx.Push(p) {
		e.stats.droppedTxFull.Add(1)
		e.metrics.RecordDrop(metrics.DropTxQueueFull)
		return false
	}
	e.metrics.SetQueueDepth(metrics.QueueTx, e.tx.Len())
	return true
}

// TryReceive returns the oldest received packet, if any.
func (e *Engine) TryReceive() (Packet, bool) {
	p, ok := e.rx.Pop()
	if ok {
		e.metrics.SetQueueDepth(metrics.QueueRx, e.rx.Len())
	}
	return p, ok
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// IsRunning reports whether the loop is alive and serving the socket.
func (e *Engine) IsRunning() bool {
	return e.State() == StateRunning && !e.faulted.Load()
}

// LocalAddr returns the bound socket address, or the zero value before Start.
func (e *Engine) LocalAddr() netip.AddrPort {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		State:            e.State().String(),
		PacketsSent:      e.stats.packetsSent.Load(),
		PacketsReceived:  e.stats.packetsReceived.Load(),
		BytesSent:        e.stats.bytesSent.Load(),
		BytesReceived:    e.stats.bytesReceived.Load(),
		SendErrors:       e.stats.sendErrors.Load(),
		DroppedTxFull:    e.stats.droppedTxFull.Load(),
		DroppedRxFull:    e.stats.droppedRxFull.Load(),
		DroppedOversized: e.stats.droppedOversized.Load(),
		IdleSleeps:       e.stats.idleSleeps.Load(),
		PendingTx:        e.tx.Len(),
		PendingRx:        e.rx.Len(),
	}
	if local := e.LocalAddr(); local.IsValid() {
		s.LocalAddr = local.String()
	}
	return s
}

// run is the loop goroutine. It is the only user of sock.
func (e *Engine) run(sock socket, done chan struct{}) {
	defer close(done)
	defer e.metrics.RecordStop()
	defer func() {
		if err := sock.close(); err != nil {
			e.logger.Debug("socket close failed", logging.KeyError, err)
		}
	}()
	defer recovery.RecoverWithCallback(e.logger, "udp-loop", func(any) {
		e.faulted.Store(true)
	})

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// One spare byte lets platforms without MSG_TRUNC detect oversize.
	buf := make([]byte, MaxPacketSize+1)

	for !e.stop.Load() {
		sent := e.sendOne(sock)
		received := e.receiveOne(sock, buf)

		if !sent && !received {
			e.stats.idleSleeps.Add(1)
			e.metrics.RecordIdleSleep()
			time.Sleep(GraceInterval)
		}
	}
}

// sendOne pops one outbound packet and sends it. It reports whether a
// packet was taken, whether or not the send succeeded.
func (e *Engine) sendOne(sock socket) bool {
	p, ok := e.tx.Pop()
	if !ok {
		return false
	}
	e.metrics.SetQueueDepth(metrics.QueueTx, e.tx.Len())

	if err := sock.send(p.Payload, p.Peer); err != nil {
		e.stats.sendErrors.Add(1)
		e.metrics.RecordDrop(metrics.DropSendFailed)
		if !errors.Is(err, errWouldBlock) {
			e.logger.Debug("send failed",
				logging.KeyPeer, p.Peer.String(),
				logging.KeyBytes, len(p.Payload),
				logging.KeyError, err)
		}
		return true
	}

	e.stats.packetsSent.Add(1)
	e.stats.bytesSent.Add(uint64(len(p.Payload)))
	e.metrics.RecordSent(len(p.Payload))
	return true
}

// receiveOne reads at most one datagram. It reports whether a datagram
// arrived, including ones that were then dropped.
func (e *Engine) receiveOne(sock socket, buf []byte) bool {
	n, peer, err := sock.recv(buf)
	if err != nil {
		if !errors.Is(err, errWouldBlock) {
			e.logger.Debug("receive failed", logging.KeyError, err)
		}
		return false
	}

	if n > MaxPacketSize {
		e.stats.droppedOversized.Add(1)
		e.metrics.RecordDrop(metrics.DropOversized)
		if e.diag.Allow() {
			e.logger.Warn("dropping datagram beyond maximum size",
				logging.KeyPeer, peer.String(),
				logging.KeyBytes, n,
				logging.KeyLimit, MaxPacketSize)
		}
		return true
	}

	payload := make([]byte, n)
	copy(payload, buf[:n])

	if !e.rx.Push(NewPacket(peer, payload)) {
		e.stats.droppedRxFull.Add(1)
		e.metrics.RecordDrop(metrics.DropRxQueueFull)
		return true
	}

	e.stats.packetsReceived.Add(1)
	e.stats.bytesReceived.Add(uint64(n))
	e.metrics.RecordReceived(n)
	e.metrics.SetQueueDepth(metrics.QueueRx, e.rx.Len())
	return true
}
