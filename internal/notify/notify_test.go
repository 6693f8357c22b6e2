package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/adapter/sim"
	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

type captured struct {
	path, auth, contentType string
	msg                     publishRequest
}

func captureServer(t *testing.T) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var got []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := captured{
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
		}
		if err := json.NewDecoder(r.Body).Decode(&c.msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		got = append(got, c)
		mu.Unlock()
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), got...)
	}
}

func TestClientSendStartupFailure(t *testing.T) {
	srv, got := captureServer(t)
	c := NewClient(&Config{Enabled: true, Server: srv.URL, Topic: "daq", Priority: "default", Tags: "satellite", Token: "tk"}, zap.NewNop())

	serr := &receiver.StartupError{Step: "connect", Status: receiver.StatusConnectFailed, Err: errors.New("refused")}
	err := c.SendStartupFailure(context.Background(), receiver.Stats{Stream: "SYSTEM", Status: receiver.StatusConnectFailed}, serr)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := got()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	msg := reqs[0].msg
	if reqs[0].path != "/" || reqs[0].contentType != "application/json" {
		t.Errorf("expected JSON publish to server root, got %s %q", reqs[0].path, reqs[0].contentType)
	}
	if msg.Topic != "daq" {
		t.Errorf("unexpected topic %q", msg.Topic)
	}
	if msg.Title != "Receiver Failed: SYSTEM" {
		t.Errorf("unexpected title %q", msg.Title)
	}
	if msg.Priority != 4 {
		t.Errorf("failures should be high priority, got %d", msg.Priority)
	}
	if reqs[0].auth != "Bearer tk" {
		t.Errorf("expected bearer token, got %q", reqs[0].auth)
	}
	for _, want := range []string{"Stream: SYSTEM", "Status: connect_failed", "Step: connect", "refused"} {
		if !strings.Contains(msg.Message, want) {
			t.Errorf("message missing %q:\n%s", want, msg.Message)
		}
	}
}

func TestClientSendTransition(t *testing.T) {
	srv, got := captureServer(t)
	c := NewClient(&Config{Enabled: true, Server: srv.URL + "/", Topic: "daq", Priority: "low", Tags: "satellite"}, zap.NewNop())

	rec := receiver.TransitionRecord{
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Payload:   receiver.RawTransition{Kind: receiver.TransitionStart, Run: 42, Text: "beam on"},
	}
	if err := c.SendTransition(context.Background(), "SYSTEM", rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reqs := got()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	msg := reqs[0].msg
	if msg.Title != "Run 42: start" {
		t.Errorf("unexpected title %q", msg.Title)
	}
	if strings.Join(msg.Tags, ",") != "satellite,arrow_forward" {
		t.Errorf("unexpected tags %v", msg.Tags)
	}
	if msg.Priority != 2 {
		t.Errorf("expected low priority, got %d", msg.Priority)
	}
	if reqs[0].auth != "" {
		t.Errorf("no token configured, got %q", reqs[0].auth)
	}
	if !strings.Contains(msg.Message, "2024-05-01T12:00:00Z") || !strings.Contains(msg.Message, "beam on") {
		t.Errorf("unexpected message:\n%s", msg.Message)
	}
}

func TestClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(&Config{Enabled: true, Server: srv.URL, Topic: "daq", Priority: "default"}, zap.NewNop())
	err := c.SendTransition(context.Background(), "SYSTEM", receiver.TransitionRecord{})
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNewReturnsNoopWhenDisabled(t *testing.T) {
	n := New(&Config{Enabled: false}, zap.NewNop())
	if _, ok := n.(NoopNotifier); !ok {
		t.Fatalf("expected NoopNotifier, got %T", n)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"disabled", Config{}, ""},
		{"valid", Config{Enabled: true, Topic: "daq", Priority: "default", Interval: time.Second}, ""},
		{"missing topic", Config{Enabled: true, Priority: "default", Interval: time.Second}, "topic"},
		{"bad priority", Config{Enabled: true, Topic: "daq", Priority: "loud", Interval: time.Second}, "priority"},
		{"bad interval", Config{Enabled: true, Topic: "daq", Priority: "high"}, "interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

type recordingNotifier struct {
	failures    []receiver.Stats
	transitions []receiver.TransitionRecord
}

func (r *recordingNotifier) SendStartupFailure(_ context.Context, stats receiver.Stats, _ error) error {
	r.failures = append(r.failures, stats)
	return nil
}

func (r *recordingNotifier) SendTransition(_ context.Context, _ string, rec receiver.TransitionRecord) error {
	r.transitions = append(r.transitions, rec)
	return nil
}

func startController(t *testing.T, a *sim.Adapter, reg *receiver.Registry, opts ...receiver.Option) *receiver.Controller {
	t.Helper()
	c := receiver.New(a, opts...)
	cfg := receiver.DefaultConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	if err := c.Init(cfg); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := reg.Add(c); err != nil {
		t.Fatalf("add: %v", err)
	}
	c.Start()
	t.Cleanup(c.Stop)
	return c
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatcherReportsStartupFailureOnce(t *testing.T) {
	reg := receiver.NewRegistry()
	a := sim.New()
	a.FailOn(sim.StepConnect, errors.New("no route to host"))
	c := startController(t, a, reg)
	waitUntil(t, func() bool { return c.State() == receiver.StateStopped })

	n := &recordingNotifier{}
	w := NewWatcher(n, reg, time.Second, nil)
	w.Check(context.Background())
	w.Check(context.Background())

	if len(n.failures) != 1 {
		t.Fatalf("expected one failure notification, got %d", len(n.failures))
	}
	if n.failures[0].Status != receiver.StatusConnectFailed {
		t.Errorf("unexpected status %s", n.failures[0].Status)
	}
}

func TestWatcherForwardsNewTransitions(t *testing.T) {
	reg := receiver.NewRegistry()
	a := sim.New()
	c := startController(t, a, reg)
	waitUntil(t, func() bool { return c.IsListening() && a.Calls(sim.StepPoll) > 0 })

	n := &recordingNotifier{}
	w := NewWatcher(n, reg, time.Second, nil)

	a.EmitTransition(receiver.RawTransition{Kind: receiver.TransitionStart, Run: 1})
	waitUntil(t, func() bool { return len(c.Transitions(receiver.Query{})) == 1 })
	w.Check(context.Background())

	a.EmitTransition(receiver.RawTransition{Kind: receiver.TransitionStop, Run: 1})
	waitUntil(t, func() bool { return len(c.Transitions(receiver.Query{})) == 2 })
	w.Check(context.Background())
	w.Check(context.Background())

	if len(n.transitions) != 2 {
		t.Fatalf("expected 2 transition notifications, got %d", len(n.transitions))
	}
	if n.transitions[0].Payload.Kind != receiver.TransitionStart || n.transitions[1].Payload.Kind != receiver.TransitionStop {
		t.Errorf("unexpected order: %v, %v", n.transitions[0].Payload.Kind, n.transitions[1].Payload.Kind)
	}
	if len(n.failures) != 0 {
		t.Errorf("a listening receiver must not report failure")
	}
}

func TestWatcherForwardsTransitionsWhenClockStepsBack(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ticks atomic.Int64
	backwards := func() time.Time {
		return base.Add(-time.Duration(ticks.Add(1)) * time.Millisecond)
	}

	reg := receiver.NewRegistry()
	a := sim.New()
	c := startController(t, a, reg, receiver.WithClock(backwards))
	waitUntil(t, func() bool { return c.IsListening() && a.Calls(sim.StepPoll) > 0 })

	n := &recordingNotifier{}
	w := NewWatcher(n, reg, time.Second, nil)

	a.EmitTransition(receiver.RawTransition{Kind: receiver.TransitionStart, Run: 3})
	waitUntil(t, func() bool { return len(c.Transitions(receiver.Query{})) == 1 })
	w.Check(context.Background())

	a.EmitTransition(receiver.RawTransition{Kind: receiver.TransitionStop, Run: 3})
	waitUntil(t, func() bool { return len(c.Transitions(receiver.Query{})) == 2 })
	w.Check(context.Background())

	if len(n.transitions) != 2 {
		t.Fatalf("expected 2 transition notifications, got %d", len(n.transitions))
	}
	if n.transitions[1].Payload.Kind != receiver.TransitionStop {
		t.Errorf("expected stop second, got %v", n.transitions[1].Payload.Kind)
	}
}
