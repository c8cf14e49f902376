// Package metrics exposes sampler activity as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/thetooth/linkwatch/store"
)

type Collector struct {
	registry *prometheus.Registry

	samples prometheus.Counter
	lost    prometheus.Counter
	last    prometheus.Gauge
	latency prometheus.Histogram
}

// New registers the sampler metrics on a private registry, so several
// collectors can coexist in one process.
func New(host string) *Collector {
	labels := prometheus.Labels{"host": host}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		samples: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "linkwatch_samples_total",
			Help:        "Samples written to the data file.",
			ConstLabels: labels,
		}),
		lost: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "linkwatch_lost_total",
			Help:        "Samples recorded as lost (latency 0).",
			ConstLabels: labels,
		}),
		last: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "linkwatch_last_latency_milliseconds",
			Help:        "Latency of the most recent sample, 0 when lost.",
			ConstLabels: labels,
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "linkwatch_latency_milliseconds",
			Help:        "Round-trip latency of answered probes.",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	c.registry.MustRegister(c.samples, c.lost, c.last, c.latency)

	return c
}

// Observe records one persisted sample.
func (c *Collector) Observe(s store.Sample) {
	c.samples.Inc()
	c.last.Set(s.LatencyMs)
	if s.Lost() {
		c.lost.Inc()
		return
	}
	c.latency.Observe(s.LatencyMs)
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logrus.Info("[ METRICS_LISTEN ] addr: ", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
