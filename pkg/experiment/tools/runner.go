// Package tools wraps the external measurement binaries (netperf,
// iperf3, ss, ping, tc, coap). Each runner executes its tool inside a
// source namespace, captures the raw output, and later parses it into
// structured records deposited in a result store.
package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("component", "tools")

// Runner is one unit of measurement work bound to a namespace and
// destination. Run and Parse execute in separate workers; a runner
// moves configured -> running -> parsed and never backward.
type Runner interface {
	Run(ctx context.Context) error
	Parse(ctx context.Context) error
}

// Runner lifecycle states.
const (
	stateConfigured int32 = iota
	stateRunning
	stateParsed
)

// base carries the state machine and captured output shared by all
// runners.
type base struct {
	state int32
	out   bytes.Buffer
}

func (b *base) transition(from, to int32) error {
	if !atomic.CompareAndSwapInt32(&b.state, from, to) {
		return fmt.Errorf("runner in state %d, cannot move %d -> %d", atomic.LoadInt32(&b.state), from, to)
	}
	return nil
}

var (
	missingMu     sync.Mutex
	missingWarned = make(map[string]bool)
)

// Available reports whether the external binary exists. A missing tool
// is warned about once, however many runners ask; the category then
// degrades instead of aborting the experiment.
func Available(tool string) bool {
	if _, err := exec.LookPath(tool); err == nil {
		return true
	}
	missingMu.Lock()
	defer missingMu.Unlock()
	if !missingWarned[tool] {
		missingWarned[tool] = true
		log.Warnf("%s not found, its measurements will be skipped", tool)
	}
	return false
}

// waitForStart blocks for a runner's start offset, honoring
// cancellation.
func waitForStart(ctx context.Context, offset time.Duration) error {
	if offset <= 0 {
		return nil
	}
	timer := time.NewTimer(offset)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// namespaceCommand builds "ip netns exec <ns> <tool> <args...>". The
// external tool runs as its own OS process, so a crashing or stalled
// tool never takes the coordinator with it.
func namespaceCommand(ctx context.Context, nsID, tool string, args ...string) *exec.Cmd {
	full := append([]string{"netns", "exec", nsID, tool}, args...)
	return exec.CommandContext(ctx, "ip", full...)
}

// runInNamespace runs the tool to completion inside nsID, capturing
// combined output into out.
func runInNamespace(ctx context.Context, out *bytes.Buffer, nsID, tool string, args ...string) error {
	cmd := namespaceCommand(ctx, nsID, tool, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	return cmd.Run()
}

// startServer launches a long-lived server process inside nsID without
// waiting for it. Servers are reaped by KillProcesses at cleanup.
func startServer(nsID, tool string, args ...string) error {
	cmd := namespaceCommand(context.Background(), nsID, tool, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s in %s: %w", tool, nsID, err)
	}
	go cmd.Wait() // reap when it exits on its own
	return nil
}

// KillProcesses terminates every process still running inside a
// namespace. Best-effort: cleanup must not raise.
func KillProcesses(nsID string) {
	out, err := exec.Command("ip", "netns", "pids", nsID).Output()
	if err != nil {
		return
	}
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		_ = exec.Command("kill", "-9", strconv.Itoa(pid)).Run()
	}
}
