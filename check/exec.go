package check

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"time"

	"github.com/thetooth/linkwatch/util"
)

// ExecPinger probes through the system ping utility, one echo per call.
type ExecPinger struct {
	Command   string
	Timeout   time.Duration
	Interface string
}

func (p *ExecPinger) args(host string) []string {
	wait := int(math.Ceil(p.Timeout.Seconds()))
	if wait < 1 {
		wait = 1
	}
	args := []string{"-c", "1", "-W", strconv.Itoa(wait)}
	if p.Interface != "" {
		args = append(args, "-I", p.Interface)
	}
	return append(args, host)
}

func (p *ExecPinger) Probe(ctx context.Context, host string) (Result, error) {
	// The utility enforces -W itself, the context is only a backstop.
	ctx, cancel := context.WithTimeout(ctx, p.Timeout+time.Second)
	defer cancel()

	stdout, stderr, err := util.Exec(ctx, p.Command, p.args(host)...)
	output := stdout + stderr

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		latency := ParseLatency(output)
		return Result{
			Success: true,
			Output:  output,
			RTT:     time.Duration(math.Round(latency * float64(time.Millisecond))),
		}, nil
	case errors.As(err, &exitErr), ctx.Err() != nil:
		return Result{Output: output}, nil
	}

	return Result{}, fmt.Errorf("exec %s: %w", p.Command, err)
}
