// Package relay drives the control side of a UDP engine: it drains received
// packets and decides where each one goes.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/postalsys/udprelay/internal/config"
	"github.com/postalsys/udprelay/internal/logging"
	"github.com/postalsys/udprelay/internal/metrics"
	"github.com/postalsys/udprelay/internal/recovery"
	"github.com/postalsys/udprelay/internal/udp"
)

// Endpoint is the non-blocking packet exchange of an engine.
type Endpoint interface {
	Transmit(p udp.Packet) bool
	TryReceive() (udp.Packet, bool)
}

// Config controls the pump.
type Config struct {
	// Mode is one of config.ModeEcho, config.ModeForward, config.ModeSink.
	Mode string

	// ForwardTo is the destination in forward mode.
	ForwardTo netip.AddrPort

	// TransmitRetries is how many more times a packet is offered to a
	// full outbound queue before it is dropped.
	TransmitRetries int

	// PollInterval is the sleep after finding the inbound queue empty.
	// Defaults to udp.GraceInterval.
	PollInterval time.Duration
}

// FromConfig builds a pump Config from the relay section of cfg.
func FromConfig(cfg *config.Config) (Config, error) {
	c := Config{
		Mode:            cfg.Relay.Mode,
		TransmitRetries: cfg.Relay.TransmitRetries,
	}
	if c.Mode == config.ModeForward {
		fwd, err := cfg.ForwardAddr()
		if err != nil {
			return Config{}, fmt.Errorf("relay.forward_to: %w", err)
		}
		c.ForwardTo = fwd
	}
	return c, nil
}

// Stats counts what the pump did.
type Stats struct {
	Handled uint64 `json:"handled"`
	Relayed uint64 `json:"relayed"`
	Retries uint64 `json:"retries"`
	Dropped uint64 `json:"dropped"`
}

// Pump moves packets from an engine's inbound queue according to its mode.
type Pump struct {
	cfg     Config
	ep      Endpoint
	logger  *slog.Logger
	metrics *metrics.Metrics
	retry   *rate.Limiter

	handled atomic.Uint64
	relayed atomic.Uint64
	retries atomic.Uint64
	dropped atomic.Uint64
}

// New creates a pump. m may be nil.
func New(cfg Config, ep Endpoint, logger *slog.Logger, m *metrics.Metrics) (*Pump, error) {
	switch cfg.Mode {
	case config.ModeEcho, config.ModeSink:
	case config.ModeForward:
		if !cfg.ForwardTo.IsValid() {
			return nil, fmt.Errorf("forward mode requires a destination")
		}
	default:
		return nil, fmt.Errorf("unknown relay mode %q", cfg.Mode)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = udp.GraceInterval
	}

	return &Pump{
		cfg:     cfg,
		ep:      ep,
		logger:  logging.Component(logger, "relay"),
		metrics: m,
		// Retries wait for the loop to drain at least one packet.
		retry: rate.NewLimiter(rate.Every(udp.GraceInterval), 1),
	}, nil
}

// Run pumps packets until ctx is cancelled.
func (p *Pump) Run(ctx context.Context) error {
	defer recovery.RecoverWithLog(p.logger, "relay-pump")

	p.logger.Info("relay pump started", logging.KeyMode, p.cfg.Mode)

	for {
		if err := ctx.Err(); err != nil {
			p.logger.Info("relay pump stopped", logging.KeyCount, p.handled.Load())
			return nil
		}

		pkt, ok := p.ep.TryReceive()
		if !ok {
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.PollInterval):
			}
			continue
		}

		p.handle(ctx, pkt)
	}
}

func (p *Pump) handle(ctx context.Context, pkt udp.Packet) {
	p.handled.Add(1)

	var out udp.Packet
	switch p.cfg.Mode {
	case config.ModeEcho:
		out = udp.NewPacket(pkt.Peer, pkt.Payload)
	case config.ModeForward:
		out = udp.NewPacket(p.cfg.ForwardTo, pkt.Payload)
	default:
		p.metrics.RecordRelayed(p.cfg.Mode)
		return
	}

	if p.transmit(ctx, out) {
		p.relayed.Add(1)
		p.metrics.RecordRelayed(p.cfg.Mode)
		return
	}

	p.dropped.Add(1)
	p.metrics.RecordDrop(metrics.DropRelayRetry)
	p.logger.Debug("outbound queue full, packet dropped",
		logging.KeyPeer, out.Peer.String(),
		logging.KeyBytes, out.Len())
}

// transmit offers pkt to the engine, retrying on a full queue.
func (p *Pump) transmit(ctx context.Context, pkt udp.Packet) bool {
	if p.ep.Transmit(pkt) {
		return true
	}
	for i := 0; i < p.cfg.TransmitRetries; i++ {
		if err := p.retry.Wait(ctx); err != nil {
			return false
		}
		p.retries.Add(1)
		if p.ep.Transmit(pkt) {
			return true
		}
	}
	return false
}

// Stats returns a snapshot of the pump counters.
func (p *Pump) Stats() Stats {
	return Stats{
		Handled: p.handled.Load(),
		Relayed: p.relayed.Load(),
		Retries: p.retries.Load(),
		Dropped: p.dropped.Load(),
	}
}
