// Package gateway shells out to the agent-runtime CLI to reach running
// agent sessions. The dashboard never talks to agents directly; delivery
// goes through the coordinator session.
package gateway

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Runner invokes the runtime CLI.
type Runner struct {
	bin         string
	coordinator string
	timeout     time.Duration
	logger      zerolog.Logger
}

// New creates a runner for the given CLI binary. The coordinator is the
// agent id whose session receives dispatched tasks.
func New(bin, coordinator string, timeout time.Duration, logger zerolog.Logger) *Runner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Runner{
		bin:         bin,
		coordinator: coordinator,
		timeout:     timeout,
		logger:      logger.With().Str("component", "gateway").Logger(),
	}
}

// Send dispatches a task to the coordinator session. The task text travels
// as a single argument; the runtime handles routing from there.
func (r *Runner) Send(ctx context.Context, task string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.bin,
		"sessions", "spawn",
		"--agent", r.coordinator,
		"--task", task,
		"--timeout", "300")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	start := time.Now()
	err := cmd.Run()
	if err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			err = fmt.Errorf("%s: %w", detail, err)
		}
		return fmt.Errorf("runtime dispatch failed: %w", err)
	}
	r.logger.Debug().Dur("took", time.Since(start)).Msg("task dispatched to coordinator")
	return nil
}

// Available reports whether the runtime CLI can be found on PATH.
func (r *Runner) Available() bool {
	_, err := exec.LookPath(r.bin)
	return err == nil
}
