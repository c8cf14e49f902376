package check

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/thetooth/linkwatch/config"
	"github.com/thetooth/linkwatch/util"
)

// Prober sends a single reachability probe to host.
//
// A probe that went out but was not answered is reported through
// Result.Success, not through the error. The error is reserved for local
// faults such as being unable to open a socket.
type Prober interface {
	Probe(ctx context.Context, host string) (Result, error)
}

// Result is the outcome of one probe. Output holds text in the format of the
// system ping utility so latency extraction works the same for every prober.
type Result struct {
	Success bool
	Output  string
	RTT     time.Duration
}

const latencyToken = "time="

// ParseLatency extracts the round-trip time in milliseconds from ping output.
// Output without a parseable time= token yields 0, which is also how lost
// probes are recorded.
func ParseLatency(output string) float64 {
	idx := strings.Index(output, latencyToken)
	if idx < 0 {
		return 0
	}
	fields := strings.Fields(output[idx+len(latencyToken):])
	if len(fields) == 0 {
		return 0
	}

	v, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "ms"), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Latency is the value persisted for r: 0 for a failed probe, otherwise the
// parsed round-trip time.
func Latency(r Result) float64 {
	if !r.Success {
		return 0
	}
	return ParseLatency(r.Output)
}

// New builds the prober selected by cfg.Method.
func New(cfg config.Probe, host string) (Prober, error) {
	switch cfg.Method {
	case "icmp", "udp":
		pinger := NewPinger()
		pinger.Timeout = cfg.Timeout.Duration
		if cfg.Size > 0 {
			pinger.Size = cfg.Size
		}
		if cfg.TTL > 0 {
			pinger.TTL = cfg.TTL
		}
		pinger.SetPrivileged(cfg.Method == "icmp")
		if cfg.Interface != "" {
			src, err := util.SourceAddr(cfg.Interface, util.IsIPv6(host))
			if err != nil {
				return nil, err
			}
			pinger.Source = src
		}
		return pinger, nil
	case "exec":
		return &ExecPinger{
			Command:   "ping",
			Timeout:   cfg.Timeout.Duration,
			Interface: cfg.Interface,
		}, nil
	}

	return nil, fmt.Errorf("unsupported probe method: %s", cfg.Method)
}
