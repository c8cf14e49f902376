package lifecycle_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/thetooth/linkwatch/lifecycle"
)

// A pid above the Linux pid_max ceiling, guaranteed not to exist.
const deadPID = 1 << 23

func markerPath(t *testing.T) string {
	return filepath.Join(t.TempDir(), ".ping_monitor.pid")
}

func TestAcquireTwice(t *testing.T) {
	path := markerPath(t)
	m := lifecycle.New(path)

	if err := m.Acquire(); err != nil {
		t.Fatal(err)
	}
	if err := lifecycle.New(path).Acquire(); !errors.Is(err, lifecycle.ErrAlreadyRunning) {
		t.Fatalf("second acquire: expected ErrAlreadyRunning, got %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != strconv.Itoa(os.Getpid()) {
		t.Errorf("marker content %q, want our pid", data)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly one marker, found %d entries", len(entries))
	}
}

func TestAcquireWithStaleMarker(t *testing.T) {
	path := markerPath(t)
	if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID)), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := lifecycle.New(path).Acquire(); !errors.Is(err, lifecycle.ErrAlreadyRunning) {
		t.Errorf("a stale marker still blocks start, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	path := markerPath(t)
	m := lifecycle.New(path)

	st, err := m.Status()
	if err != nil || st.State != lifecycle.NotRunning {
		t.Errorf("no marker: %+v %v", st, err)
	}

	if err := m.Acquire(); err != nil {
		t.Fatal(err)
	}
	st, err = m.Status()
	if err != nil || st.State != lifecycle.Running || st.PID != os.Getpid() {
		t.Errorf("own marker: %+v %v", st, err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID)), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err = m.Status()
	if err != nil || st.State != lifecycle.Stale {
		t.Errorf("dead pid: %+v %v", st, err)
	}

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	st, err = m.Status()
	if err != nil || st.State != lifecycle.Stale {
		t.Errorf("garbage marker: %+v %v", st, err)
	}
}

func TestStopWithoutMarker(t *testing.T) {
	path := markerPath(t)

	st, err := lifecycle.New(path).Stop()
	if !errors.Is(err, lifecycle.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	if st.State != lifecycle.NotRunning {
		t.Errorf("got %v, want not running", st.State)
	}
}

func TestStopStale(t *testing.T) {
	path := markerPath(t)
	if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID)), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := lifecycle.New(path).Stop()
	if err != nil {
		t.Fatal(err)
	}
	if st.State != lifecycle.Stale {
		t.Errorf("got %v, want stale", st.State)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("stale marker should be removed")
	}
}

func TestStopForeignProcess(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root may signal every process")
	}
	path := markerPath(t)
	if err := os.WriteFile(path, []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := lifecycle.New(path).Stop()
	if err != nil {
		t.Fatalf("stop on a process we may not signal must not fail: %v", err)
	}
	if st.State != lifecycle.Stale {
		t.Errorf("got %v, want stale", st.State)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("marker should be removed")
	}
}

func TestStopRunning(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot spawn helper process: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	path := markerPath(t)
	if err := os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		t.Fatal(err)
	}

	st, err := lifecycle.New(path).Stop()
	if err != nil {
		t.Fatal(err)
	}
	if st.State != lifecycle.Running || st.PID != cmd.Process.Pid {
		t.Errorf("got %+v", st)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cmd.Process.Kill()
		t.Fatal("helper process was not terminated")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("marker should be removed after stop")
	}
}

func TestStartReleasesMarker(t *testing.T) {
	path := markerPath(t)
	m := lifecycle.New(path)

	ran := false
	err := m.Start(context.Background(), func(ctx context.Context) error {
		ran = true
		if _, err := os.Stat(path); err != nil {
			t.Errorf("marker should exist while running: %v", err)
		}
		if err := lifecycle.New(path).Acquire(); !errors.Is(err, lifecycle.ErrAlreadyRunning) {
			t.Errorf("concurrent start should fail, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Error("run function was not called")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Error("marker should be released after run returns")
	}
}

func TestReleaseKeepsForeignMarker(t *testing.T) {
	path := markerPath(t)
	if err := os.WriteFile(path, []byte(strconv.Itoa(deadPID)), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := lifecycle.New(path).Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("a marker owned by another pid must survive Release")
	}
}

func TestAlive(t *testing.T) {
	if !lifecycle.Alive(os.Getpid()) {
		t.Error("own process should be alive")
	}
	if lifecycle.Alive(0) || lifecycle.Alive(-1) || lifecycle.Alive(deadPID) {
		t.Error("invalid pids should not be alive")
	}
}
