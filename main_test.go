package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/thetooth/linkwatch/lifecycle"
	"github.com/thetooth/linkwatch/store"
)

type env struct {
	dir    string
	config string
	data   string
	marker string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		dir:    dir,
		config: filepath.Join(dir, "linkwatch.yaml"),
		data:   filepath.Join(dir, ".ping_data.txt"),
		marker: filepath.Join(dir, ".ping_monitor.pid"),
	}
	cfg := fmt.Sprintf(`host: 127.0.0.1
sample_interval: 1s
origin:
  url: http://127.0.0.1:1/json
  timeout: 1s
store:
  path: %s
  marker_path: %s
log:
  level: error
`, e.data, e.marker)
	if err := os.WriteFile(e.config, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return e
}

func (e env) run(ctx context.Context, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := newRootCmd(&out)
	cmd.SetArgs(append([]string{"--config", e.config}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func (e env) writeData(t *testing.T, content string) {
	t.Helper()
	if err := os.WriteFile(e.data, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestStatus(t *testing.T) {
	e := newEnv(t)
	e.writeData(t, "# ISP: ExampleNet\n1000.0 20.0\n1005.0 0.0\n1010.0 30.0\n")

	first, err := e.run(context.Background(), "--status")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ISP: ExampleNet", "16.67 ms", "Total Pings:         3", "Lost Pings:          1"} {
		if !strings.Contains(first, want) {
			t.Errorf("status output lacks %q:\n%s", want, first)
		}
	}

	second, err := e.run(context.Background(), "--status")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("status is not idempotent:\n%s\n---\n%s", first, second)
	}
}

func TestStatusNoData(t *testing.T) {
	e := newEnv(t)
	e.writeData(t, "# ISP: ExampleNet\n")

	out, err := e.run(context.Background(), "--status")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "No data available." {
		t.Errorf("got %q", out)
	}
}

func TestStatusMissingStore(t *testing.T) {
	e := newEnv(t)

	if _, err := e.run(context.Background(), "--status"); !errors.Is(err, store.ErrMissingStore) {
		t.Errorf("expected ErrMissingStore, got %v", err)
	}
}

func TestStatusStrict(t *testing.T) {
	e := newEnv(t)
	e.writeData(t, "# ISP: ExampleNet\n1000.0 20.0\nbroken\n")

	if _, err := e.run(context.Background(), "--status"); err != nil {
		t.Errorf("lenient status should skip the broken line: %v", err)
	}
	var perr *store.ParseError
	if _, err := e.run(context.Background(), "--status", "--strict"); !errors.As(err, &perr) {
		t.Errorf("strict status should fail with ParseError, got %v", err)
	}
}

func TestStatusJSON(t *testing.T) {
	e := newEnv(t)
	e.writeData(t, "# ISP: ExampleNet\n1000.0 20.0\n1005.0 0.0\n1010.0 30.0\n")

	out, err := e.run(context.Background(), "--status", "--json")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"isp": "ExampleNet"`) || !strings.Contains(out, `"lost": 1`) {
		t.Errorf("unexpected json:\n%s", out)
	}
}

func TestPatterns(t *testing.T) {
	e := newEnv(t)
	e.writeData(t, "# ISP: ExampleNet\n1000.0 20.0\n1005.0 0.0\n1010.0 30.0\n")

	out, err := e.run(context.Background(), "--patterns")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Average Latency: 16.67 ms") || !strings.Contains(out, "Lost Pings: 1") {
		t.Errorf("unexpected patterns output:\n%s", out)
	}
}

func TestReset(t *testing.T) {
	e := newEnv(t)
	e.writeData(t, "# ISP: ExampleNet\n")

	out, err := e.run(context.Background(), "--reset")
	if err != nil || !strings.HasPrefix(out, "Deleted ") {
		t.Errorf("first reset: %q %v", out, err)
	}
	out, err = e.run(context.Background(), "--reset")
	if err != nil || !strings.HasPrefix(out, "No ") {
		t.Errorf("second reset: %q %v", out, err)
	}
}

func TestStopNotRunning(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(context.Background(), "--stop")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "Data collection process is not running." {
		t.Errorf("got %q", out)
	}
}

func TestStartAlreadyRunning(t *testing.T) {
	e := newEnv(t)
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(e.marker, []byte(pid), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := e.run(context.Background(), "--start"); !errors.Is(err, lifecycle.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	data, err := os.ReadFile(e.marker)
	if err != nil || string(data) != pid {
		t.Errorf("marker must be left untouched, got %q %v", data, err)
	}
	if _, err := os.Stat(e.data); !errors.Is(err, os.ErrNotExist) {
		t.Error("a refused start must not create the data file")
	}
}

func TestStartCancelled(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := e.run(ctx, "--start")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "Data collection process started") {
		t.Errorf("got %q", out)
	}
	if _, err := os.Stat(e.marker); !errors.Is(err, os.ErrNotExist) {
		t.Error("marker should be released when the sampler stops")
	}

	l, err := store.Load(e.data, true)
	if err != nil {
		t.Fatal(err)
	}
	if l.Label != "Failed to fetch ISP information" {
		t.Errorf("unreachable lookup service should degrade the label, got %q", l.Label)
	}
}

func TestFlagsAreExclusive(t *testing.T) {
	e := newEnv(t)

	if _, err := e.run(context.Background(), "--start", "--stop"); err == nil {
		t.Error("expected --start and --stop together to be rejected")
	}
}
