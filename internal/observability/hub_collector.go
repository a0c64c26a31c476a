package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roman-kulish/ground-control/internal/hub"
)

// hubCollector reads the hub counters at scrape time so the hub itself does
// not depend on Prometheus.
type hubCollector struct {
	stats func() hub.Stats

	sessions    *prometheus.Desc
	published   *prometheus.Desc
	dropped     *prometheus.Desc
	discarded   *prometheus.Desc
	subscribers *prometheus.Desc
	running     *prometheus.Desc
}

func newHubCollector(stats func() hub.Stats) *hubCollector {
	name := func(n string) string {
		return prometheus.BuildFQName(namespace, "hub", n)
	}

	return &hubCollector{
		stats:       stats,
		sessions:    prometheus.NewDesc(name("sessions_total"), "Source sessions started.", nil, nil),
		published:   prometheus.NewDesc(name("events_published_total"), "Events published to subscribers.", nil, nil),
		dropped:     prometheus.NewDesc(name("events_dropped_total"), "Events dropped for slow subscribers.", nil, nil),
		discarded:   prometheus.NewDesc(name("records_discarded_total"), "Unparseable source records dropped.", nil, nil),
		subscribers: prometheus.NewDesc(name("subscribers"), "Current number of subscribers.", nil, nil),
		running:     prometheus.NewDesc(name("source_running"), "1 while a source session is active.", nil, nil),
	}
}

func (c *hubCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessions
	ch <- c.published
	ch <- c.dropped
	ch <- c.discarded
	ch <- c.subscribers
	ch <- c.running
}

func (c *hubCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	running := 0.0
	if s.Running {
		running = 1
	}

	ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.CounterValue, float64(s.Sessions))
	ch <- prometheus.MustNewConstMetric(c.published, prometheus.CounterValue, float64(s.Published))
	ch <- prometheus.MustNewConstMetric(c.dropped, prometheus.CounterValue, float64(s.Dropped))
	ch <- prometheus.MustNewConstMetric(c.discarded, prometheus.CounterValue, float64(s.Discarded))
	ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(s.Subscribers))
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
}
