// Package store persists latency samples as an append-only text log.
//
// The first line of a store is a header naming the network the samples were
// collected from:
//
//	# ISP: AS64500 ExampleNet
//	1700000000.123456 12.3
//	1700000005.130212 0
//
// every following line is one sample, "<unix seconds> <latency ms>".
package store

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	headerPrefix = "# ISP: "
	maxErrorText = 64
)

var ErrMissingStore = errors.New("missing data file, please start the data collection first")

// Sample is one latency measurement.
type Sample struct {
	Timestamp time.Time
	LatencyMs float64
}

// Lost reports whether the sample records a lost probe. Losses are stored as
// a latency of 0, so a genuine 0 ms measurement also reads as lost.
func (s Sample) Lost() bool {
	return s.LatencyMs == 0
}

// ParseError describes a malformed sample line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	text := e.Text
	if len(text) > maxErrorText {
		text = text[:maxErrorText] + "..."
	}
	return fmt.Sprintf("line %d: %q: %v", e.Line, text, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Log is the parsed content of a store.
type Log struct {
	Label   string
	Samples []Sample
	// Skipped counts malformed lines dropped in lenient mode.
	Skipped int
}

// FormatSample renders s as a store line, newline included. Timestamps keep
// microsecond precision.
func FormatSample(s Sample) string {
	ts := s.Timestamp.Round(time.Microsecond)
	return fmt.Sprintf("%d.%06d %s\n", ts.Unix(), ts.Nanosecond()/1000,
		strconv.FormatFloat(s.LatencyMs, 'f', -1, 64))
}

// ParseSample parses one store line.
func ParseSample(line string) (Sample, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return Sample{}, fmt.Errorf("expected 2 fields, got %d", len(fields))
	}

	ts, err := parseTimestamp(fields[0])
	if err != nil {
		return Sample{}, fmt.Errorf("timestamp: %w", err)
	}
	latency, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("latency: %w", err)
	}
	if latency < 0 || math.IsNaN(latency) || math.IsInf(latency, 0) {
		return Sample{}, fmt.Errorf("latency: invalid value %v", latency)
	}

	return Sample{Timestamp: ts, LatencyMs: latency}, nil
}

// parseTimestamp reads "<seconds>.<fraction>" exactly, falling back to float
// parsing for anything else a writer may have produced.
func parseTimestamp(s string) (time.Time, error) {
	whole, frac, hasFrac := strings.Cut(s, ".")
	if sec, err := strconv.ParseInt(whole, 10, 64); err == nil && isDigits(frac) {
		var nsec int64
		if hasFrac && frac != "" {
			if len(frac) > 9 {
				frac = frac[:9]
			}
			frac += strings.Repeat("0", 9-len(frac))
			nsec, _ = strconv.ParseInt(frac, 10, 64)
		}
		if sec < 0 {
			return time.Time{}, fmt.Errorf("negative timestamp %q", s)
		}
		return time.Unix(sec, nsec), nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}
	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	sec, fr := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(fr*1e9))), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func formatHeader(label string) string {
	return headerPrefix + label + "\n"
}

func parseHeader(line string) string {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, strings.TrimSpace(headerPrefix)) {
		if _, label, ok := strings.Cut(line, ": "); ok {
			return label
		}
		return ""
	}
	return ""
}

// Load reads the store at path. The first line is always treated as the
// header. In strict mode the first malformed sample line aborts the load
// with a *ParseError, otherwise malformed lines are skipped and counted.
func Load(path string, strict bool) (*Log, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrMissingStore
		}
		return nil, err
	}
	defer f.Close()

	l := &Log{}
	r := bufio.NewReader(f)
	lineNo := 0
	for {
		text, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if text == "" && err != nil {
			break
		}
		text = strings.TrimRight(text, "\r\n")

		lineNo++
		if lineNo == 1 {
			l.Label = parseHeader(text)
			continue
		}

		s, err := ParseSample(text)
		if err != nil {
			perr := &ParseError{Line: lineNo, Text: text, Err: err}
			if strict {
				return nil, perr
			}
			logrus.Warn("[ STORE_SKIP ] ", perr)
			l.Skipped++
			continue
		}
		l.Samples = append(l.Samples, s)
	}

	return l, nil
}

// Label returns the origin label from the header of the store at path.
func Label(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrMissingStore
		}
		return "", err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return "", nil
	}
	return parseHeader(line), nil
}

// Reset deletes the store at path. It reports false when there was nothing
// to delete.
func Reset(path string) (bool, error) {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
