package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/postalsys/udprelay/internal/health"
	"github.com/postalsys/udprelay/internal/relay"
	"github.com/postalsys/udprelay/internal/udp"
)

type fakeEngine struct {
	stats udp.Stats
}

func (f *fakeEngine) IsRunning() bool  { return true }
func (f *fakeEngine) Stats() udp.Stats { return f.stats }

func TestFetchStatus(t *testing.T) {
	hs := health.NewServer(health.DefaultServerConfig(), &fakeEngine{stats: udp.Stats{
		State:       "RUNNING",
		LocalAddr:   "127.0.0.1:9001",
		PacketsSent: 3,
		BytesSent:   2048,
	}})
	hs.AddStats("relay", func() any { return relay.Stats{Handled: 5, Relayed: 4, Dropped: 1} })

	srv := httptest.NewServer(hs.Handler())
	defer srv.Close()

	report, err := fetchStatus(context.Background(), srv.Client(), srv.URL)
	if err != nil {
		t.Fatalf("fetchStatus() error = %v", err)
	}
	if report.Engine.PacketsSent != 3 || report.Engine.BytesSent != 2048 {
		t.Errorf("engine = %+v", report.Engine)
	}
	if report.Relay == nil || report.Relay.Handled != 5 || report.Relay.Dropped != 1 {
		t.Errorf("relay = %+v", report.Relay)
	}
}

func TestFetchStatus_BareAddress(t *testing.T) {
	hs := health.NewServer(health.DefaultServerConfig(), &fakeEngine{stats: udp.Stats{State: "RUNNING"}})
	srv := httptest.NewServer(hs.Handler())
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")
	report, err := fetchStatus(context.Background(), srv.Client(), addr)
	if err != nil {
		t.Fatalf("fetchStatus() error = %v", err)
	}
	if report.Engine.State != "RUNNING" {
		t.Errorf("State = %q", report.Engine.State)
	}
	if report.Relay != nil {
		t.Errorf("Relay = %+v, want nil", report.Relay)
	}
}

func TestFetchStatus_Unavailable(t *testing.T) {
	hs := health.NewServer(health.DefaultServerConfig(), nil)
	srv := httptest.NewServer(hs.Handler())
	defer srv.Close()

	_, err := fetchStatus(context.Background(), srv.Client(), srv.URL)
	if err == nil {
		t.Fatal("fetchStatus() should fail on 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %v", err)
	}
}

func TestFetchStatus_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := fetchStatus(ctx, http.DefaultClient, url); err == nil {
		t.Fatal("fetchStatus() should fail when the server is gone")
	}
}

func TestRenderStatus_Plain(t *testing.T) {
	report := &statusReport{
		Engine: udp.Stats{
			State:            "RUNNING",
			LocalAddr:        "127.0.0.1:9001",
			PacketsSent:      1200,
			BytesSent:        1500000,
			DroppedOversized: 2,
			PendingTx:        7,
		},
		Relay: &relay.Stats{Handled: 10, Relayed: 9, Retries: 3, Dropped: 1},
	}

	var buf bytes.Buffer
	renderStatus(&buf, report, false)
	out := buf.String()

	for _, want := range []string{
		"Engine",
		"RUNNING",
		"127.0.0.1:9001",
		"1,200 packets, 1.5 MB",
		"tx 7/128",
		"oversized 2",
		"Relay",
		"Retries:",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("plain output contains escape codes:\n%q", out)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf,
		udp.Stats{PacketsSent: 4, BytesSent: 4000, PacketsReceived: 5, DroppedRxFull: 1},
		relay.Stats{Relayed: 4, Dropped: 1})

	want := "sent 4 packets (4.0 kB), received 5 packets (0 B), relayed 4, dropped 2\n"
	if got := buf.String(); got != want {
		t.Errorf("printSummary() = %q, want %q", got, want)
	}
}

func TestAwaitSendAndReply(t *testing.T) {
	server := udp.New()
	if ok, err := server.Start("127.0.0.1", 0); !ok || err != nil {
		t.Fatalf("server Start = %v, %v", ok, err)
	}
	defer server.Stop()

	client := udp.New()
	if ok, err := client.Start("127.0.0.1", 0); !ok || err != nil {
		t.Fatalf("client Start = %v, %v", ok, err)
	}
	defer client.Stop()

	client.Transmit(udp.NewPacket(server.LocalAddr(), []byte("ping")))
	n, err := awaitSend(client, 2*time.Second)
	if err != nil {
		t.Fatalf("awaitSend() error = %v", err)
	}
	if n != 4 {
		t.Errorf("awaitSend() = %d bytes, want 4", n)
	}

	got, ok := awaitReply(server, 2*time.Second)
	if !ok {
		t.Fatal("server received nothing")
	}
	server.Transmit(udp.NewPacket(got.Peer, []byte("pong")))

	reply, ok := awaitReply(client, 2*time.Second)
	if !ok || string(reply.Payload) != "pong" {
		t.Errorf("reply = %q, %v", reply.Payload, ok)
	}
}

func TestVersionCmd(t *testing.T) {
	cmd := versionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs(nil)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := buf.String(); got != "udprelay "+Version+"\n" {
		t.Errorf("version output = %q", got)
	}
}
