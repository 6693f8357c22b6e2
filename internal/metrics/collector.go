package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dgnsrekt/daq-receiver/internal/receiver"
)

// Collector reports the lifecycle of every controller in a registry at
// scrape time.
type Collector struct {
	registry *receiver.Registry

	running    *prometheus.Desc
	state      *prometheus.Desc
	status     *prometheus.Desc
	eventBytes *prometheus.Desc
	mismatches *prometheus.Desc
}

// NewCollector creates a Collector over registry.
func NewCollector(registry *receiver.Registry) *Collector {
	return &Collector{
		registry: registry,
		running: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "running"),
			"1 between Start and Stop, regardless of startup outcome",
			[]string{"stream"}, nil),
		state: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "state"),
			"Lifecycle state; the active state is 1",
			[]string{"stream", "state"}, nil),
		status: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "last_status"),
			"Last middleware status code observed",
			[]string{"stream", "status"}, nil),
		eventBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "event_bytes"),
			"Event bytes received since the controller was created",
			[]string{"stream"}, nil),
		mismatches: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "serial_mismatches"),
			"Serial mismatches counted by the sequence tracker",
			[]string{"stream"}, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.state
	ch <- c.status
	ch <- c.eventBytes
	ch <- c.mismatches
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.registry.Each(func(ctrl *receiver.Controller) {
		st := ctrl.Stats()

		running := 0.0
		if st.Running {
			running = 1
		}
		ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running, st.Stream)

		for _, s := range []receiver.State{
			receiver.StateCreated, receiver.StateInitialized, receiver.StateRunning, receiver.StateStopped,
		} {
			v := 0.0
			if s == st.State {
				v = 1
			}
			ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue, v, st.Stream, s.String())
		}

		ch <- prometheus.MustNewConstMetric(c.status, prometheus.GaugeValue, float64(st.Status), st.Stream, st.Status.String())
		ch <- prometheus.MustNewConstMetric(c.eventBytes, prometheus.CounterValue, float64(st.EventBytes), st.Stream)
		ch <- prometheus.MustNewConstMetric(c.mismatches, prometheus.CounterValue, float64(st.Mismatches), st.Stream)
	})
}

var _ prometheus.Collector = (*Collector)(nil)
