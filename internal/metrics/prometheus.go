package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "partyline"

var (
	descSessionsActive = prometheus.NewDesc(namespace+"_sessions_active",
		"Sessions currently connected to the party line.", nil, nil)
	descSessionsTotal = prometheus.NewDesc(namespace+"_sessions_total",
		"Sessions that reached the connected state.", nil, nil)
	descHandshakeFailures = prometheus.NewDesc(namespace+"_handshake_failures_total",
		"Sessions that closed before connecting.", nil, nil)
	descExits = prometheus.NewDesc(namespace+"_exits_total",
		"Sessions that left with the exit command.", nil, nil)
	descLines = prometheus.NewDesc(namespace+"_lines_total",
		"Lines relayed, by direction.", []string{"direction"}, nil)
	descBroadcasts = prometheus.NewDesc(namespace+"_broadcasts_total",
		"Broadcast calls.", nil, nil)
	descDeliveryFailures = prometheus.NewDesc(namespace+"_delivery_failures_total",
		"Recipient writes that failed during broadcast.", nil, nil)
	descErrors = prometheus.NewDesc(namespace+"_errors_total",
		"Errors recorded by the relay.", nil, nil)
	descUptime = prometheus.NewDesc(namespace+"_uptime_seconds",
		"Seconds since the collector was created.", nil, nil)
)

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descSessionsActive
	ch <- descSessionsTotal
	ch <- descHandshakeFailures
	ch <- descExits
	ch <- descLines
	ch <- descBroadcasts
	ch <- descDeliveryFailures
	ch <- descErrors
	ch <- descUptime
}

// Collect implements [prometheus.Collector].  Values are read straight
// from the atomic counters at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(descSessionsActive, prometheus.GaugeValue, float64(c.sessionsActive.Load()))
	ch <- prometheus.MustNewConstMetric(descSessionsTotal, prometheus.CounterValue, float64(c.sessionsTotal.Load()))
	ch <- prometheus.MustNewConstMetric(descHandshakeFailures, prometheus.CounterValue, float64(c.handshakeFailures.Load()))
	ch <- prometheus.MustNewConstMetric(descExits, prometheus.CounterValue, float64(c.exits.Load()))
	ch <- prometheus.MustNewConstMetric(descLines, prometheus.CounterValue, float64(c.linesIn.Load()), "in")
	ch <- prometheus.MustNewConstMetric(descLines, prometheus.CounterValue, float64(c.linesOut.Load()), "out")
	ch <- prometheus.MustNewConstMetric(descBroadcasts, prometheus.CounterValue, float64(c.broadcasts.Load()))
	ch <- prometheus.MustNewConstMetric(descDeliveryFailures, prometheus.CounterValue, float64(c.deliveryFailures.Load()))
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(c.errorsTotal.Load()))
	ch <- prometheus.MustNewConstMetric(descUptime, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}

// Registry returns a Prometheus registry holding c plus the standard
// Go runtime and process collectors.
func Registry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves c in the Prometheus text format.  The JSON snapshot
// is available on the same handler with ?format=json.
func Handler(c *Collector) http.Handler {
	prom := promhttp.HandlerFor(Registry(c), promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") == "json" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(c.JSON()))
			return
		}
		prom.ServeHTTP(w, r)
	})
}
