// Package main provides the CLI entry point for udprelay.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/postalsys/udprelay/internal/config"
	"github.com/postalsys/udprelay/internal/health"
	"github.com/postalsys/udprelay/internal/logging"
	"github.com/postalsys/udprelay/internal/metrics"
	"github.com/postalsys/udprelay/internal/relay"
	"github.com/postalsys/udprelay/internal/udp"
)

// Version is set at build time.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "udprelay",
		Short: "udprelay - background UDP datagram relay",
		Long: `udprelay runs a UDP socket on a dedicated background loop and moves
datagrams through bounded, non-blocking queues. Received packets are
echoed back, forwarded to a fixed destination, or discarded.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var (
		configPath string
		address    string
		port       uint16
		mode       string
		forwardTo  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the relay",
		Long:  "Start the UDP engine and relay pump using the specified configuration file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = loaded
			}

			flags := cmd.Flags()
			if flags.Changed("address") {
				cfg.Engine.Address = address
			}
			if flags.Changed("port") {
				cfg.Engine.Port = port
			}
			if flags.Changed("mode") {
				cfg.Relay.Mode = mode
			}
			if flags.Changed("forward-to") {
				cfg.Relay.ForwardTo = forwardTo
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			return runRelay(cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&address, "address", "", "IP address to bind (overrides config)")
	cmd.Flags().Uint16VarP(&port, "port", "p", 0, "UDP port to bind (overrides config)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Relay mode: echo, forward, sink (overrides config)")
	cmd.Flags().StringVar(&forwardTo, "forward-to", "", "Destination ip:port in forward mode (overrides config)")

	return cmd
}

func runRelay(cfg *config.Config) error {
	logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	m := metrics.Default()

	pumpCfg, err := relay.FromConfig(cfg)
	if err != nil {
		return err
	}

	engine := udp.New(udp.WithLogger(logger), udp.WithMetrics(m))
	if ok, err := engine.Start(cfg.Engine.Address, cfg.Engine.Port); !ok {
		if err == nil {
			err = fmt.Errorf("engine not started")
		}
		return fmt.Errorf("failed to start engine: %w", err)
	}

	pump, err := relay.New(pumpCfg, engine, logger, m)
	if err != nil {
		engine.Stop()
		return err
	}

	var healthServer *health.Server
	if cfg.Health.Enabled {
		healthServer = health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
		}, engine)
		healthServer.AddStats("relay", func() any { return pump.Stats() })
		if err := healthServer.Start(); err != nil {
			engine.Stop()
			return fmt.Errorf("failed to start health server: %w", err)
		}
		logger.Info("health server started", logging.KeyLocalAddr, healthServer.Address().String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- pump.Run(ctx)
	}()

	fmt.Printf("udprelay %s listening on %s (mode: %s)\n", Version, engine.LocalAddr(), cfg.Relay.Mode)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	started := time.Now()

	cancel()
	if err := <-pumpDone; err != nil {
		logger.Warn("relay pump exited with error", logging.KeyError, err)
	}
	if healthServer != nil {
		if err := healthServer.Stop(); err != nil {
			logger.Warn("health server shutdown failed", logging.KeyError, err)
		}
	}
	engine.Stop()

	logger.Info("relay stopped", logging.KeyDuration, time.Since(started))
	printSummary(os.Stdout, engine.Stats(), pump.Stats())
	return nil
}

func sendCmd() *cobra.Command {
	var (
		to      string
		payload string
		bind    string
		wait    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one datagram",
		Long: `Send a single datagram from an ephemeral engine. With --wait, the first
reply received within the given duration is printed.`,
		Example: `  udprelay send --to 127.0.0.1:9001 --payload hello --wait 1s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := netip.ParseAddrPort(to)
			if err != nil {
				return fmt.Errorf("--to must be ip:port: %w", err)
			}
			target = netip.AddrPortFrom(target.Addr().Unmap(), target.Port())

			if bind == "" {
				bind = "0.0.0.0"
				if target.Addr().Is6() {
					bind = "::"
				}
			}

			engine := udp.New()
			if ok, err := engine.Start(bind, 0); !ok {
				return fmt.Errorf("failed to start engine: %w", err)
			}
			defer engine.Stop()

			if !engine.Transmit(udp.NewPacket(target, []byte(payload))) {
				return fmt.Errorf("outbound queue full")
			}

			sent, err := awaitSend(engine, time.Second)
			if err != nil {
				return err
			}
			fmt.Printf("sent %s to %s\n", humanize.Bytes(uint64(sent)), target)

			if wait <= 0 {
				return nil
			}
			reply, ok := awaitReply(engine, wait)
			if !ok {
				return fmt.Errorf("no reply within %s", wait)
			}
			fmt.Printf("reply from %s: %q\n", reply.Peer, reply.Payload)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Destination ip:port (required)")
	cmd.Flags().StringVar(&payload, "payload", "", "Datagram payload")
	cmd.Flags().StringVar(&bind, "bind", "", "Local IP to bind (default: wildcard of the destination's family)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait this long for a reply (0 disables)")
	cmd.MarkFlagRequired("to")

	return cmd
}

// awaitSend waits until the loop has taken the queued datagram and reports
// how many bytes went out.
func awaitSend(e *udp.Engine, timeout time.Duration) (uint64, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		st := e.Stats()
		if st.SendErrors > 0 {
			return 0, fmt.Errorf("send failed")
		}
		if st.PacketsSent > 0 {
			return st.BytesSent, nil
		}
		time.Sleep(udp.GraceInterval)
	}
	return 0, fmt.Errorf("datagram not sent within %s", timeout)
}

func awaitReply(e *udp.Engine, timeout time.Duration) (udp.Packet, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if p, ok := e.TryReceive(); ok {
			return p, true
		}
		time.Sleep(udp.GraceInterval)
	}
	return udp.Packet{}, false
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "udprelay %s\n", Version)
		},
	}
}
