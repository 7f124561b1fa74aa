package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/udprelay/internal/relay"
	"github.com/postalsys/udprelay/internal/udp"
)

// statusReport mirrors the /stats response of the health server.
type statusReport struct {
	Engine udp.Stats    `json:"engine"`
	Relay  *relay.Stats `json:"relay,omitempty"`
}

func statusCmd() *cobra.Command {
	var (
		healthAddr string
		timeout    time.Duration
		asJSON     bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay status",
		Long:  "Query the health server of a running relay and display engine and relay counters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report, err := fetchStatus(ctx, http.DefaultClient, healthAddr)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}

			styled := term.IsTerminal(int(os.Stdout.Fd()))
			renderStatus(out, report, styled)
			return nil
		},
	}

	cmd.Flags().StringVar(&healthAddr, "health-addr", "127.0.0.1:8080", "Health server address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print raw JSON")

	return cmd
}

func fetchStatus(ctx context.Context, client *http.Client, addr string) (*statusReport, error) {
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimSuffix(url, "/") + "/stats"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach health server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("health server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var report statusReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("failed to decode stats: %w", err)
	}
	return &report, nil
}

type palette struct {
	title lipgloss.Style
	label lipgloss.Style
	good  lipgloss.Style
	bad   lipgloss.Style
}

func newPalette(styled bool) palette {
	if !styled {
		plain := lipgloss.NewStyle()
		return palette{title: plain, label: plain, good: plain, bad: plain}
	}
	return palette{
		title: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		label: lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		good:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		bad:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
	}
}

func renderStatus(w io.Writer, r *statusReport, styled bool) {
	p := newPalette(styled)
	row := func(label, value string) {
		fmt.Fprintf(w, "  %s %s\n", p.label.Render(fmt.Sprintf("%-16s", label+":")), value)
	}

	state := p.bad.Render(r.Engine.State)
	if r.Engine.State == udp.StateRunning.String() {
		state = p.good.Render(r.Engine.State)
	}

	fmt.Fprintln(w, p.title.Render("Engine"))
	row("State", state)
	if r.Engine.LocalAddr != "" {
		row("Local address", r.Engine.LocalAddr)
	}
	row("Sent", fmt.Sprintf("%s packets, %s", humanize.Comma(int64(r.Engine.PacketsSent)), humanize.Bytes(r.Engine.BytesSent)))
	row("Received", fmt.Sprintf("%s packets, %s", humanize.Comma(int64(r.Engine.PacketsReceived)), humanize.Bytes(r.Engine.BytesReceived)))
	row("Pending", fmt.Sprintf("tx %d/%d, rx %d/%d", r.Engine.PendingTx, udp.MaxPendingTx, r.Engine.PendingRx, udp.MaxPendingRx))
	row("Send errors", humanize.Comma(int64(r.Engine.SendErrors)))
	row("Dropped", fmt.Sprintf("tx full %d, rx full %d, oversized %d",
		r.Engine.DroppedTxFull, r.Engine.DroppedRxFull, r.Engine.DroppedOversized))

	if r.Relay != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, p.title.Render("Relay"))
		row("Handled", humanize.Comma(int64(r.Relay.Handled)))
		row("Relayed", humanize.Comma(int64(r.Relay.Relayed)))
		row("Retries", humanize.Comma(int64(r.Relay.Retries)))
		row("Dropped", humanize.Comma(int64(r.Relay.Dropped)))
	}
}

// printSummary is shown by run after shutdown.
func printSummary(w io.Writer, engine udp.Stats, pump relay.Stats) {
	fmt.Fprintf(w, "sent %s packets (%s), received %s packets (%s), relayed %s, dropped %s\n",
		humanize.Comma(int64(engine.PacketsSent)), humanize.Bytes(engine.BytesSent),
		humanize.Comma(int64(engine.PacketsReceived)), humanize.Bytes(engine.BytesReceived),
		humanize.Comma(int64(pump.Relayed)),
		humanize.Comma(int64(engine.DroppedTxFull+engine.DroppedRxFull+engine.DroppedOversized+pump.Dropped)))
}
