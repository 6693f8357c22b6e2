package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "receiver.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("expected defaults to load, got error: %v", err)
	}

	if cfg.Receiver.Client != receiver.DefaultClient {
		t.Errorf("expected client %q, got %q", receiver.DefaultClient, cfg.Receiver.Client)
	}
	if cfg.Receiver.EventID != receiver.EventIDAll {
		t.Errorf("expected all event ids, got %d", cfg.Receiver.EventID)
	}
	if cfg.Receiver.BufferSize != 1000 {
		t.Errorf("expected buffer size 1000, got %d", cfg.Receiver.BufferSize)
	}
	if cfg.Receiver.PollTimeout != 300*time.Millisecond {
		t.Errorf("expected 300ms poll timeout, got %s", cfg.Receiver.PollTimeout)
	}
	if len(cfg.Receiver.Transitions) != 5 {
		t.Errorf("expected 5 default transitions, got %d", len(cfg.Receiver.Transitions))
	}
	if cfg.Adapter.Type != "wsfeed" {
		t.Errorf("expected wsfeed adapter, got %q", cfg.Adapter.Type)
	}
	if cfg.Server.Addr() != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Server.Addr())
	}
	if cfg.Notify.Enabled {
		t.Error("notifications should be disabled by default")
	}

	names := cfg.StreamNames()
	if len(names) != 1 || names[0] != receiver.DefaultStream {
		t.Errorf("expected default stream, got %v", names)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DAQ_RECEIVER_HOST", "daq01")
	t.Setenv("DAQ_RECEIVER_EXPERIMENT", "exp42")
	t.Setenv("DAQ_SERVER_PORT", "9090")
	t.Setenv("NTFY_TOPIC", "daq-alerts")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Receiver.Host != "daq01" {
		t.Errorf("expected host daq01, got %q", cfg.Receiver.Host)
	}
	if cfg.Receiver.Experiment != "exp42" {
		t.Errorf("expected experiment exp42, got %q", cfg.Receiver.Experiment)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Notify.Topic != "daq-alerts" {
		t.Errorf("expected topic from NTFY_TOPIC, got %q", cfg.Notify.Topic)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
receiver:
  host: daq01
  buffer_size: 500
  poll_timeout: 50ms
  transitions:
    - kind: start
      priority: 100
    - kind: stop
      priority: 900
streams:
  - name: SYSTEM
  - name: BUF01
    buffer_size: 20
    event_id: 3
    mode: nonblocking
adapter:
  type: sim
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Receiver.PollTimeout != 50*time.Millisecond {
		t.Errorf("expected 50ms, got %s", cfg.Receiver.PollTimeout)
	}
	if cfg.Adapter.Type != "sim" {
		t.Errorf("expected sim adapter, got %q", cfg.Adapter.Type)
	}

	rcs, err := cfg.ReceiverConfigs()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rcs) != 2 {
		t.Fatalf("expected 2 receiver configs, got %d", len(rcs))
	}

	sys, buf := rcs[0], rcs[1]
	if sys.Stream != "SYSTEM" || sys.BufferSize != 500 || sys.EventID != receiver.EventIDAll || sys.Mode != receiver.ModeAll {
		t.Errorf("SYSTEM should inherit shared settings, got %+v", sys)
	}
	if buf.Stream != "BUF01" || buf.BufferSize != 20 || buf.EventID != 3 || buf.Mode != receiver.ModeNonBlocking {
		t.Errorf("BUF01 overrides not applied, got %+v", buf)
	}
	if buf.Host != "daq01" {
		t.Errorf("expected host to be shared, got %q", buf.Host)
	}
	if len(sys.Transitions) != 2 || sys.Transitions[0].Kind != receiver.TransitionStart || sys.Transitions[1].Priority != 900 {
		t.Errorf("unexpected transitions %+v", sys.Transitions)
	}

	sys.Transitions[0].Priority = 1
	if buf.Transitions[0].Priority != 100 {
		t.Error("streams must not share the transitions slice")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := writeConfig(t, `
receiver:
  mode: sometimes
adapter:
  type: carrier-pigeon
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"sometimes", "carrier-pigeon"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want receiver.Mode
		ok   bool
	}{
		{"", receiver.ModeAll, true},
		{"all", receiver.ModeAll, true},
		{"ALL", receiver.ModeAll, true},
		{"nonblocking", receiver.ModeNonBlocking, true},
		{"non_blocking", receiver.ModeNonBlocking, true},
		{"blocking", 0, false},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if tt.ok && (err != nil || got != tt.want) {
			t.Errorf("ParseMode(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
		if !tt.ok && err == nil {
			t.Errorf("ParseMode(%q) should fail", tt.in)
		}
	}
}

func TestLoadFeedConfig(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("FEED_STREAM", "BUF01")
	t.Setenv("FEED_RATE", "12.5")
	t.Setenv("FEED_GAP_EVERY", "7")
	t.Setenv("FEED_RUN_GAP", "250ms")

	cfg, err := LoadFeedConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr() != ":9100" {
		t.Errorf("expected :9100, got %q", cfg.Addr())
	}
	if cfg.Generator.Stream != "BUF01" || cfg.Generator.Rate != 12.5 || cfg.Generator.GapEvery != 7 {
		t.Errorf("env overrides not applied: %+v", cfg.Generator)
	}
	if cfg.Generator.RunGap != 250*time.Millisecond {
		t.Errorf("expected 250ms run gap, got %s", cfg.Generator.RunGap)
	}
	if cfg.Generator.Burst != 10 {
		t.Errorf("expected default burst, got %d", cfg.Generator.Burst)
	}
}

func TestLoadFeedConfigInvalid(t *testing.T) {
	tests := []struct {
		key, val string
	}{
		{"FEED_RATE", "fast"},
		{"FEED_BURST", "0"},
		{"FEED_RUN_GAP", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			if _, err := LoadFeedConfig(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.val)
			}
		})
	}
}
