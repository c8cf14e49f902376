package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thetooth/linkwatch/check"
	"github.com/thetooth/linkwatch/config"
	"github.com/thetooth/linkwatch/lifecycle"
	"github.com/thetooth/linkwatch/metrics"
	"github.com/thetooth/linkwatch/origin"
	"github.com/thetooth/linkwatch/sampler"
	"github.com/thetooth/linkwatch/statistics"
	"github.com/thetooth/linkwatch/store"
)

type options struct {
	config   string
	start    bool
	stop     bool
	status   bool
	patterns bool
	reset    bool
	json     bool
	strict   bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "linkwatch",
		Short:         "Monitor internet connectivity and record latency",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), out, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.config, "config", "c", "linkwatch.yaml", "Path to configuration file")
	f.BoolVar(&opts.start, "start", false, "Start data collection")
	f.BoolVar(&opts.stop, "stop", false, "Stop data collection")
	f.BoolVar(&opts.status, "status", false, "Query monitoring status")
	f.BoolVar(&opts.patterns, "patterns", false, "Show latency patterns by hour")
	f.BoolVar(&opts.reset, "reset", false, "Reset stored data")
	f.BoolVar(&opts.json, "json", false, "Print --status and --patterns as JSON")
	f.BoolVar(&opts.strict, "strict", false, "Fail on malformed data lines instead of skipping them")
	cmd.MarkFlagsMutuallyExclusive("start", "stop", "status", "patterns", "reset")

	return cmd
}

func run(ctx context.Context, out io.Writer, opts options) error {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return err
	}
	if opts.strict {
		cfg.Store.Strict = true
	}
	if err := configureLogging(cfg.Log); err != nil {
		return err
	}

	switch {
	case opts.start:
		return start(ctx, out, cfg)
	case opts.stop:
		return stop(out, cfg)
	case opts.status:
		return status(out, cfg, opts.json)
	case opts.patterns:
		return patterns(out, cfg, opts.json)
	case opts.reset:
		return reset(out, cfg)
	}

	return collect(ctx, cfg, "")
}

func configureLogging(cfg config.Log) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	switch cfg.Format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// collect runs the sampler in the foreground until ctx is done. A non-empty
// marker ties the sampler's life to that marker file.
func collect(ctx context.Context, cfg *config.Config, marker string) error {
	prober, err := check.New(cfg.Probe, cfg.Host)
	if err != nil {
		return err
	}

	writer := store.NewWriter(cfg.Store.Path, origin.New(cfg.Origin.URL, cfg.Origin.Timeout.Duration))
	opts := []sampler.Option{sampler.WithMetrics(metrics.New(cfg.Host), cfg.Metrics.Listen)}
	if marker != "" {
		opts = append(opts, sampler.WithMarker(marker))
	}

	return sampler.New(cfg.Host, cfg.SampleInterval.Duration, prober, writer, opts...).Run(ctx)
}

func start(ctx context.Context, out io.Writer, cfg *config.Config) error {
	m := lifecycle.New(cfg.Store.MarkerPath)

	return m.Start(ctx, func(ctx context.Context) error {
		fmt.Fprintf(out, "Data collection process started (pid %d)\n", os.Getpid())
		return collect(ctx, cfg, m.Path())
	})
}

func stop(out io.Writer, cfg *config.Config) error {
	st, err := lifecycle.New(cfg.Store.MarkerPath).Stop()
	if errors.Is(err, lifecycle.ErrNotRunning) {
		fmt.Fprintln(out, "Data collection process is not running.")
		return nil
	}

	switch st.State {
	case lifecycle.Running:
		fmt.Fprintf(out, "Data collection process stopped (pid %d).\n", st.PID)
	case lifecycle.Stale:
		fmt.Fprintf(out, "Data collection process is not running, removed stale marker %s.\n", cfg.Store.MarkerPath)
	}

	return err
}

func load(cfg *config.Config) (*store.Log, error) {
	l, err := store.Load(cfg.Store.Path, cfg.Store.Strict)
	if err != nil {
		return nil, err
	}
	if l.Skipped > 0 {
		logrus.Warn("[ STORE_SKIP ] ignored ", l.Skipped, " malformed lines in ", cfg.Store.Path)
	}
	return l, nil
}

func status(out io.Writer, cfg *config.Config, asJSON bool) error {
	l, err := load(cfg)
	if err != nil {
		return err
	}

	summary, err := statistics.Summarize(l.Samples)
	if errors.Is(err, statistics.ErrNoData) {
		if asJSON {
			return statistics.Report{ISP: l.Label}.WriteJSON(out)
		}
		fmt.Fprintln(out, "No data available.")
		return nil
	}

	if asJSON {
		return statistics.Report{ISP: l.Label, Summary: &summary, Skipped: l.Skipped}.WriteJSON(out)
	}
	return statistics.WriteStatus(out, l.Label, summary, time.Local)
}

func patterns(out io.Writer, cfg *config.Config, asJSON bool) error {
	l, err := load(cfg)
	if err != nil {
		return err
	}

	bins := statistics.BinByHour(l.Samples, time.Local)
	if asJSON {
		return statistics.Report{ISP: l.Label, Hours: bins, Skipped: l.Skipped}.WriteJSON(out)
	}
	if len(bins) == 0 {
		fmt.Fprintln(out, "No data available.")
		return nil
	}
	return statistics.WritePatterns(out, bins)
}

func reset(out io.Writer, cfg *config.Config) error {
	deleted, err := store.Reset(cfg.Store.Path)
	if err != nil {
		return err
	}

	if deleted {
		fmt.Fprintf(out, "Deleted %s\n", cfg.Store.Path)
	} else {
		fmt.Fprintf(out, "No %s found to delete\n", cfg.Store.Path)
	}
	return nil
}
