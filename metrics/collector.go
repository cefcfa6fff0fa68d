// Package metrics exposes a URP engine's urplog counters as Prometheus
// metrics, optionally served over HTTP. It is entirely additive: an engine
// run with no -metrics-addr never touches this package beyond, at most,
// constructing a Collector that nothing ever Collects.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soypat/urp/urplog"
)

// FieldSource is satisfied by *urplog.SenderCounters and
// *urplog.ReceiverCounters.
type FieldSource interface {
	Fields() []urplog.NamedValue
}

// Collector implements prometheus.Collector over a FieldSource, describing
// every counter as a gauge named "urp_<field>" with a constant "run" label
// identifying the engine instance that produced it.
type Collector struct {
	source  FieldSource
	role    string // "sender" or "receiver"
	runID   string
	descs   map[string]*prometheus.Desc
}

// NewCollector builds a Collector over source. role distinguishes sender
// and receiver counters sharing one registry; runID is the short
// correlation id (see urp's use of rs/xid) tying metrics to one run's log
// lines.
func NewCollector(source FieldSource, role, runID string) *Collector {
	c := &Collector{source: source, role: role, runID: runID, descs: map[string]*prometheus.Desc{}}
	for _, f := range source.Fields() {
		c.descs[f.Name] = prometheus.NewDesc(
			"urp_"+f.Name,
			fmt.Sprintf("URP %s counter: %s", role, f.Name),
			nil,
			prometheus.Labels{"role": role, "run": runID},
		)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, f := range c.source.Fields() {
		desc, ok := c.descs[f.Name]
		if !ok {
			continue // Field set changed since construction; skip rather than panic.
		}
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(f.Value))
	}
}

// Serve starts an HTTP server exposing /metrics for reg on addr, returning
// immediately. The returned shutdown func stops the server; it should be
// deferred by the caller alongside engine teardown.
func Serve(addr string, reg *prometheus.Registry) (shutdown func(), err error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return nil, err
	case <-time.After(50 * time.Millisecond):
		// Server is up (or at least didn't fail fast); proceed.
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
