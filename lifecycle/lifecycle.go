// Package lifecycle keeps at most one sampler running, tracked through a
// marker file holding its process id.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

var (
	ErrAlreadyRunning = errors.New("data collection process is already running")
	ErrNotRunning     = errors.New("data collection process is not running")
)

type State int

const (
	// NotRunning means no marker exists.
	NotRunning State = iota
	// Running means the marker names a live process.
	Running
	// Stale means a marker exists but its process is gone.
	Stale
)

func (s State) String() string {
	switch s {
	case NotRunning:
		return "not running"
	case Running:
		return "running"
	case Stale:
		return "stale"
	}
	return "unknown"
}

// Status is the observed state of the marker and, when one exists, the
// process id it records. PID is 0 if the marker content is unreadable.
type Status struct {
	State State
	PID   int
}

type Manager struct {
	path string
	pid  int
}

func New(path string) *Manager {
	return &Manager{path: path, pid: os.Getpid()}
}

func (m *Manager) Path() string {
	return m.path
}

// Acquire writes the marker for the current process. The marker is created
// exclusively so two racing starts cannot both succeed. An existing marker
// yields ErrAlreadyRunning and is left untouched, whether or not its process
// is still alive.
func (m *Manager) Acquire() error {
	f, err := os.OpenFile(m.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return ErrAlreadyRunning
		}
		return fmt.Errorf("create marker %s: %w", m.path, err)
	}

	if _, err := f.WriteString(strconv.Itoa(m.pid)); err != nil {
		f.Close()
		os.Remove(m.path)
		return fmt.Errorf("write marker %s: %w", m.path, err)
	}
	return f.Close()
}

// Release removes the marker if it still names the current process.
func (m *Manager) Release() error {
	pid, err := m.readPID()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if pid != m.pid {
		return nil
	}
	if err := os.Remove(m.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Start acquires the marker and runs fn in the calling process until it
// returns. The marker is released afterwards.
func (m *Manager) Start(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err = m.Acquire(); err != nil {
		return
	}
	logrus.Info("[ SAMPLER_START ] pid: ", m.pid, " marker: ", m.path)

	defer func() {
		if rerr := m.Release(); rerr != nil {
			logrus.Warn("[ MARKER_RELEASE ] ", rerr)
			if err == nil {
				err = rerr
			}
		}
	}()

	return fn(ctx)
}

// Status inspects the marker without changing anything.
func (m *Manager) Status() (Status, error) {
	pid, err := m.readPID()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Status{State: NotRunning}, nil
		}
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			return Status{State: Stale}, nil
		}
		return Status{}, err
	}

	if Alive(pid) {
		return Status{State: Running, PID: pid}, nil
	}
	return Status{State: Stale, PID: pid}, nil
}

// Stop terminates the sampler named by the marker and removes the marker.
// The returned Status is what was found before stopping: Running means the
// process was sent SIGTERM and Stale means only the marker was cleaned up.
// Without a marker there is nothing to do and ErrNotRunning is returned.
func (m *Manager) Stop() (Status, error) {
	st, err := m.Status()
	if err != nil {
		return st, err
	}
	if st.State == NotRunning {
		return st, ErrNotRunning
	}

	if st.State == Running {
		if err = unix.Kill(st.PID, unix.SIGTERM); err != nil {
			err = fmt.Errorf("terminate pid %d: %w", st.PID, err)
		}
	}

	if rerr := os.Remove(m.path); rerr != nil && !errors.Is(rerr, os.ErrNotExist) && err == nil {
		err = fmt.Errorf("remove marker %s: %w", m.path, rerr)
	}

	return st, err
}

func (m *Manager) readPID() (int, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// Alive probes pid with signal 0.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return aliveAfter(unix.Kill(pid, 0))
}

// aliveAfter maps the result of a signal 0 probe. Any error, EPERM for a
// process owned by someone else included, counts as not alive.
func aliveAfter(err error) bool {
	return err == nil
}
