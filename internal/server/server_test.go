package server

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/dgnsrekt/daq-receiver/internal/adapter/sim"
	"github.com/dgnsrekt/daq-receiver/internal/config"
	"github.com/dgnsrekt/daq-receiver/internal/metrics"
	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// stepClock advances one second per call.
func stepClock() func() time.Time {
	var n atomic.Int64
	return func() time.Time {
		return base.Add(time.Duration(n.Add(1)) * time.Second)
	}
}

type fixture struct {
	url     string
	server  *Server
	adapter *sim.Adapter
	ctrl    *receiver.Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithClock(t, stepClock())
}

func newFixtureWithClock(t *testing.T, clock func() time.Time) *fixture {
	t.Helper()

	registry := receiver.NewRegistry()

	a := sim.New()
	c := receiver.New(a, receiver.WithClock(clock))
	cfg := receiver.DefaultConfig()
	cfg.PollTimeout = 10 * time.Millisecond
	cfg.BufferSize = 10
	require.NoError(t, c.Init(cfg))
	require.NoError(t, registry.Add(c))

	idle := receiver.New(sim.New())
	idleCfg := receiver.DefaultConfig()
	idleCfg.Stream = "BUF01"
	require.NoError(t, idle.Init(idleCfg))
	require.NoError(t, registry.Add(idle))

	c.Start()
	t.Cleanup(c.Stop)
	require.Eventually(t, func() bool {
		return c.IsListening() && a.Calls(sim.StepPoll) > 0
	}, waitFor, tick)

	promReg := prometheus.NewRegistry()
	require.NoError(t, promReg.Register(metrics.NewCollector(registry)))

	srv := NewServer(registry, config.ServerConfig{TailInterval: 20 * time.Millisecond, MaxLimit: 5}, zap.NewNop())
	router, err := NewRouter(srv, promReg, zap.NewNop())
	require.NoError(t, err)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &fixture{url: ts.URL, server: srv, adapter: a, ctrl: c}
}

func (f *fixture) emitEvents(t *testing.T, n int) {
	t.Helper()
	before := len(f.ctrl.Events(receiver.Query{}))
	for i := 1; i <= n; i++ {
		f.adapter.EmitEvent(receiver.RawEvent{EventID: 1, Serial: i, Data: []byte{byte(i)}})
	}
	want := min(before+n, 10)
	require.Eventually(t, func() bool {
		return len(f.ctrl.Events(receiver.Query{})) == want
	}, waitFor, tick)
}

func get(t *testing.T, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestListStreams(t *testing.T) {
	f := newFixture(t)

	resp := get(t, f.url+"/v1/streams", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	streams := decodeJSON[[]StreamSummary](t, resp)
	require.Len(t, streams, 2)
	assert.Equal(t, StreamSummary{Stream: "BUF01", State: "initialized"}, streams[0])
	assert.Equal(t, StreamSummary{Stream: "SYSTEM", State: "running", Listening: true}, streams[1])
}

func TestStreamStatus(t *testing.T) {
	f := newFixture(t)
	f.emitEvents(t, 2)

	resp := get(t, f.url+"/v1/streams/SYSTEM/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st := decodeJSON[StreamStatus](t, resp)
	assert.Equal(t, "SYSTEM", st.Stream)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, "ok", st.Status)
	assert.True(t, st.Running)
	assert.Equal(t, uint64(2), st.EventsReceived)
	assert.Equal(t, uint64(2*(1+receiver.EventHeaderSize)), st.EventBytes)
	assert.Equal(t, 10, st.Capacity)
	assert.Empty(t, st.Error)

	resp = get(t, f.url+"/v1/streams/NOPE/status", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, decodeJSON[errorResponse](t, resp).Error, "NOPE")
}

func TestGetRecordsJSON(t *testing.T) {
	f := newFixture(t)
	f.emitEvents(t, 4)

	resp := get(t, f.url+"/v1/streams/SYSTEM/events?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeJSON, resp.Header.Get("Content-Type"))

	var body struct {
		Stream   string  `json:"stream"`
		Category string  `json:"category"`
		Count    int     `json:"count"`
		Records  []Event `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))

	assert.Equal(t, "SYSTEM", body.Stream)
	assert.Equal(t, "events", body.Category)
	require.Equal(t, 2, body.Count)
	assert.Equal(t, 3, body.Records[0].Serial)
	assert.Equal(t, 4, body.Records[1].Serial)
	assert.Equal(t, []byte{4}, body.Records[1].Data)
	assert.Equal(t, 1, body.Records[1].Size)
}

func TestGetRecordsSince(t *testing.T) {
	f := newFixture(t)
	f.emitEvents(t, 4)

	// Records are stamped base+1s .. base+4s.
	since := base.Add(2 * time.Second).Format(time.RFC3339)
	resp := get(t, f.url+"/v1/streams/SYSTEM/events?since="+since, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Records []Event `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Records, 2)
	assert.Equal(t, 3, body.Records[0].Serial)
	assert.True(t, body.Records[0].Timestamp.Equal(base.Add(3*time.Second)))
}

func TestGetRecordsClampsToMaxLimit(t *testing.T) {
	f := newFixture(t)
	f.emitEvents(t, 8)

	for _, url := range []string{"/v1/streams/SYSTEM/events", "/v1/streams/SYSTEM/events?limit=100"} {
		resp := get(t, f.url+url, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decodeJSON[Records](t, resp)
		assert.Equal(t, 5, body.Count, url)
	}
}

func TestGetRecordsMsgpack(t *testing.T) {
	f := newFixture(t)
	f.adapter.EmitTransition(receiver.RawTransition{Kind: receiver.TransitionStart, Run: 7, Text: "beam on"})
	f.adapter.EmitMessage([]byte("shift change"))
	require.Eventually(t, func() bool {
		return len(f.ctrl.Transitions(receiver.Query{})) == 1 && len(f.ctrl.Messages(receiver.Query{})) == 1
	}, waitFor, tick)

	resp := get(t, f.url+"/v1/streams/SYSTEM/transitions", http.Header{"Accept": {contentTypeMsgpack}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeMsgpack, resp.Header.Get("Content-Type"))

	var body struct {
		Category string       `json:"category"`
		Count    int          `json:"count"`
		Records  []Transition `json:"records"`
	}
	dec := msgpack.NewDecoder(resp.Body)
	dec.SetCustomStructTag("json")
	require.NoError(t, dec.Decode(&body))

	assert.Equal(t, "transitions", body.Category)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "start", body.Records[0].Kind)
	assert.Equal(t, 7, body.Records[0].Run)
	assert.Equal(t, "beam on", body.Records[0].Text)

	resp = get(t, f.url+"/v1/streams/SYSTEM/messages", nil)
	var msgs struct {
		Records []Message `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msgs))
	require.Len(t, msgs.Records, 1)
	assert.Equal(t, "shift change", msgs.Records[0].Text)
}

func TestGetRecordsValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"unknown category", "/v1/streams/SYSTEM/bogus", http.StatusBadRequest},
		{"non-numeric limit", "/v1/streams/SYSTEM/events?limit=abc", http.StatusBadRequest},
		{"zero limit", "/v1/streams/SYSTEM/events?limit=0", http.StatusBadRequest},
		{"bad since", "/v1/streams/SYSTEM/events?since=yesterday", http.StatusBadRequest},
		{"unknown stream", "/v1/streams/NOPE/events", http.StatusNotFound},
		{"empty buffer", "/v1/streams/BUF01/messages", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := get(t, f.url+tt.path, nil)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

// openTail connects to an SSE endpoint and returns a function yielding the
// next event name and payload.
func openTail(t *testing.T, ctx context.Context, url string) func() (string, Records) {
	t.Helper()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan [2]string, 4)
	go func() {
		defer close(events)
		reader := bufio.NewReader(resp.Body)
		var name string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "event: "):
				name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				events <- [2]string{name, strings.TrimPrefix(line, "data: ")}
			}
		}
	}()

	return func() (string, Records) {
		t.Helper()
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed")
			var recs Records
			require.NoError(t, json.Unmarshal([]byte(ev[1]), &recs))
			return ev[0], recs
		case <-ctx.Done():
			t.Fatal("timed out waiting for tail event")
			return "", Records{}
		}
	}
}

func TestTailRecords(t *testing.T) {
	f := newFixture(t)
	f.adapter.EmitMessage([]byte("before"))
	require.Eventually(t, func() bool { return len(f.ctrl.Messages(receiver.Query{})) == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next := openTail(t, ctx, f.url+"/v1/streams/SYSTEM/messages/stream")

	name, recs := next()
	assert.Equal(t, "snapshot", name)
	assert.Equal(t, 1, recs.Count)

	require.Eventually(t, func() bool { return f.server.TailClients() == 1 }, waitFor, tick)

	f.adapter.EmitMessage([]byte("after"))

	name, recs = next()
	assert.Equal(t, "batch", name)
	require.Equal(t, 1, recs.Count)
	assert.Equal(t, "after", recs.Records[0].(map[string]any)["text"])

	cancel()
	require.Eventually(t, func() bool { return f.server.TailClients() == 0 }, waitFor, tick)
}

func TestTailRecordsWhenClockStepsBack(t *testing.T) {
	var ticks atomic.Int64
	f := newFixtureWithClock(t, func() time.Time {
		return base.Add(-time.Duration(ticks.Add(1)) * time.Millisecond)
	})
	f.adapter.EmitMessage([]byte("first"))
	require.Eventually(t, func() bool { return len(f.ctrl.Messages(receiver.Query{})) == 1 }, waitFor, tick)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next := openTail(t, ctx, f.url+"/v1/streams/SYSTEM/messages/stream")

	name, recs := next()
	assert.Equal(t, "snapshot", name)
	require.Equal(t, 1, recs.Count)

	f.adapter.EmitMessage([]byte("second"))

	name, recs = next()
	assert.Equal(t, "batch", name)
	require.Equal(t, 1, recs.Count)
	assert.Equal(t, "second", recs.Records[0].(map[string]any)["text"])
}

func TestAuxiliaryRoutes(t *testing.T) {
	f := newFixture(t)

	resp := get(t, f.url+"/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/v1/streams/{stream}/{category}")

	resp = get(t, f.url+"/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `daq_receiver_running{stream="SYSTEM"} 1`)
}
