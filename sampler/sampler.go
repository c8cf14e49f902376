package sampler

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/thetooth/linkwatch/check"
	"github.com/thetooth/linkwatch/metrics"
	"github.com/thetooth/linkwatch/store"
)

// Sampler probes one host at a fixed interval and appends every result to
// the store, lost probes included.
type Sampler struct {
	host     string
	interval time.Duration
	prober   check.Prober
	writer   *store.Writer

	metrics     *metrics.Collector
	metricsAddr string
	marker      string
	now         func() time.Time
}

type Option func(*Sampler)

// WithMetrics records samples on c and, when addr is set, serves them.
func WithMetrics(c *metrics.Collector, addr string) Option {
	return func(s *Sampler) {
		s.metrics = c
		s.metricsAddr = addr
	}
}

// WithMarker stops the sampler once the marker file at path is removed.
func WithMarker(path string) Option {
	return func(s *Sampler) {
		s.marker = path
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sampler) {
		s.now = now
	}
}

func New(host string, interval time.Duration, prober check.Prober, writer *store.Writer, opts ...Option) *Sampler {
	s := &Sampler{
		host:     host,
		interval: interval,
		prober:   prober,
		writer:   writer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run initializes the store and samples until ctx is done or the marker is
// removed. Only store failures end it with an error.
func (s *Sampler) Run(ctx context.Context) error {
	label, created, err := s.writer.Init(ctx)
	if err != nil {
		return err
	}
	if created {
		logrus.Info("[ STORE_CREATE ] file: ", s.writer.Path(), " isp: ", label)
	} else {
		logrus.Info("[ STORE_CONTINUE ] file: ", s.writer.Path(), " isp: ", label)
	}

	g, gctx := errgroup.WithContext(ctx)

	// The marker watch and the metrics endpoint are optional, their failures
	// must not end sampling.
	if s.marker != "" {
		g.Go(func() error {
			err := watchMarker(gctx, s.marker)
			if err != nil && !errors.Is(err, ErrMarkerRemoved) {
				logrus.Warn("[ MARKER_WATCH ] disabled: ", err)
				return nil
			}
			return err
		})
	}
	if s.metrics != nil && s.metricsAddr != "" {
		g.Go(func() error {
			if err := s.metrics.Serve(gctx, s.metricsAddr); err != nil {
				logrus.Warn("[ METRICS_LISTEN ] disabled: ", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		err := s.loop(gctx)
		if err == nil {
			// Unblock the helpers on a clean stop.
			return context.Canceled
		}
		return err
	})

	err = g.Wait()
	switch {
	case errors.Is(err, ErrMarkerRemoved):
		logrus.Info("[ SAMPLER_STOP ] marker removed")
		return nil
	case errors.Is(err, context.Canceled):
		logrus.Info("[ SAMPLER_STOP ] ", context.Cause(ctx))
		return nil
	}
	return err
}

func (s *Sampler) loop(ctx context.Context) error {
	logrus.Info("[ SAMPLER_RUN ] host: ", s.host, " interval: ", s.interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if _, err := s.SampleOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		timer.Reset(s.interval)
	}
}

// SampleOnce probes the host a single time and persists the sample. A probe
// interrupted by ctx is discarded and ctx's error returned.
func (s *Sampler) SampleOnce(ctx context.Context) (store.Sample, error) {
	res, err := s.prober.Probe(ctx, s.host)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return store.Sample{}, ctxErr
	}
	if err != nil {
		logrus.Warn("[ PROBE_ERROR ] host: ", s.host, " error: ", err)
		res = check.Result{Output: err.Error()}
	}

	sample := store.Sample{
		Timestamp: s.now(),
		LatencyMs: check.Latency(res),
	}
	if sample.Lost() {
		logrus.Debug("[ PROBE_FAIL ] host: ", s.host, " output: ", res.Output)
	} else {
		logrus.Debug("[ PROBE_OK ] host: ", s.host, " latency: ", sample.LatencyMs)
	}

	if err := s.writer.Append(ctx, sample); err != nil {
		return sample, err
	}
	if s.metrics != nil {
		s.metrics.Observe(sample)
	}

	return sample, nil
}
