package util

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/sirupsen/logrus"
)

// Exec runs command with args and returns what it wrote to stdout and stderr.
// The process is killed when ctx is done.
func Exec(ctx context.Context, command string, args ...string) (stdout, stderr string, err error) {
	logrus.Tracef("EXEC: %v %v", command, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, command, args...)
	var outb, errb bytes.Buffer
	cmd.Stdout = &outb
	cmd.Stderr = &errb

	err = cmd.Run()
	stdout = outb.String()
	stderr = errb.String()

	return
}
