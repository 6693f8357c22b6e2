// Package metrics exports receiver telemetry to Prometheus.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

const namespace = "daq_receiver"

// NewRegistry returns a Prometheus registry with Go runtime and process
// collectors already registered.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Observer implements receiver.Observer with Prometheus counters and
// gauges labelled by stream.
type Observer struct {
	ingested   *prometheus.CounterVec // stream, category
	bytes      *prometheus.CounterVec // stream, category
	evicted    *prometheus.CounterVec // stream, category
	dropped    *prometheus.CounterVec // stream, category
	mismatches *prometheus.CounterVec // stream, slot
	buffered   *prometheus.GaugeVec   // stream, category
	capacity   *prometheus.GaugeVec   // stream, category
	listening  *prometheus.GaugeVec   // stream
}

// NewObserver creates the receiver metrics and registers them with reg.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_ingested_total",
			Help:      "Records pushed into receiver buffers",
		}, []string{"stream", "category"}),

		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_bytes_total",
			Help:      "Bytes ingested; events include the 16 byte header",
		}, []string{"stream", "category"}),

		evicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_evicted_total",
			Help:      "Records dropped from full buffers to make room",
		}, []string{"stream", "category"}),

		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records discarded because they arrived for a stream the receiver does not own",
		}, []string{"stream", "category"}),

		mismatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "serial_mismatches_total",
			Help:      "Event serial number discontinuities",
		}, []string{"stream", "slot"}),

		buffered: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_records",
			Help:      "Records currently held in the buffer",
		}, []string{"stream", "category"}),

		capacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffer_capacity",
			Help:      "Buffer capacity in records",
		}, []string{"stream", "category"}),

		listening: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "listening",
			Help:      "1 while the receiver is connected and polling",
		}, []string{"stream"}),
	}

	for _, c := range []prometheus.Collector{
		o.ingested, o.bytes, o.evicted, o.dropped, o.mismatches, o.buffered, o.capacity, o.listening,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register receiver metrics: %w", err)
		}
	}
	return o, nil
}

func (o *Observer) Ingested(stream string, cat receiver.Category, bytes int) {
	o.ingested.WithLabelValues(stream, cat.String()).Inc()
	o.bytes.WithLabelValues(stream, cat.String()).Add(float64(bytes))
}

func (o *Observer) Evicted(stream string, cat receiver.Category) {
	o.evicted.WithLabelValues(stream, cat.String()).Inc()
}

func (o *Observer) Dropped(stream string, cat receiver.Category) {
	o.dropped.WithLabelValues(stream, cat.String()).Inc()
}

func (o *Observer) Mismatch(stream string, slot int) {
	o.mismatches.WithLabelValues(stream, strconv.Itoa(slot)).Inc()
}

func (o *Observer) Buffered(stream string, cat receiver.Category, length, capacity int) {
	o.buffered.WithLabelValues(stream, cat.String()).Set(float64(length))
	o.capacity.WithLabelValues(stream, cat.String()).Set(float64(capacity))
}

func (o *Observer) Listening(stream string, listening bool) {
	v := 0.0
	if listening {
		v = 1
	}
	o.listening.WithLabelValues(stream).Set(v)
}

var _ receiver.Observer = (*Observer)(nil)
