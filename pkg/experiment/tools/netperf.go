package tools

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"nestgo/pkg/results"
)

const (
	netperfInterval = 0.2 // interim result interval in seconds

	// NetperfTool and friends are the binary names checked for
	// availability.
	NetperfTool   = "netperf"
	netserverTool = "netserver"
)

var (
	netperfThroughputRe = regexp.MustCompile(`NETPERF_INTERIM_RESULT\[\d+]=(?P<throughput>\d+\.\d+)`)
	netperfTimestampRe  = regexp.MustCompile(`NETPERF_ENDING\[\d+]=(?P<timestamp>\d+\.\d+)`)
	netperfRemotePortRe = regexp.MustCompile(`remote port is (?P<port>\d+)`)
)

// StartNetserver runs the netperf server in a destination namespace.
// Called at most once per destination.
func StartNetserver(nsID string) error {
	return startServer(nsID, netserverTool)
}

// NetperfRunner generates one TCP stream with netperf and parses the
// interim throughput results.
type NetperfRunner struct {
	base
	ns       string
	dstAddr  string
	start    time.Duration
	duration time.Duration
	congAlgo string
	store    *results.Store
}

func NewNetperfRunner(ns, dstAddr string, start, duration time.Duration, congAlgo string, store *results.Store) *NetperfRunner {
	return &NetperfRunner{
		ns:       ns,
		dstAddr:  dstAddr,
		start:    start,
		duration: duration,
		congAlgo: congAlgo,
		store:    store,
	}
}

func (r *NetperfRunner) Run(ctx context.Context) error {
	if err := r.transition(stateConfigured, stateRunning); err != nil {
		return err
	}
	if err := waitForStart(ctx, r.start); err != nil {
		return err
	}
	args := []string{
		"-P", "0", // no banner
		"-4",
		"-t", "TCP_STREAM",
		"-F", "/dev/urandom",
		"-l", fmt.Sprintf("%.0f", r.duration.Seconds()),
		"-D", fmt.Sprintf("-%v", netperfInterval),
		"-d",
		"-H", r.dstAddr,
		"--",
		"-K", r.congAlgo,
		"-k", "THROUGHPUT",
	}
	if err := runInNamespace(ctx, &r.out, r.ns, NetperfTool, args...); err != nil {
		return fmt.Errorf("netperf in %s to %s: %w", r.ns, r.dstAddr, err)
	}
	return nil
}

func (r *NetperfRunner) Parse(_ context.Context) error {
	if err := r.transition(stateRunning, stateParsed); err != nil {
		return err
	}
	raw := r.out.String()

	throughputs := netperfThroughputRe.FindAllStringSubmatch(raw, -1)
	timestamps := netperfTimestampRe.FindAllStringSubmatch(raw, -1)

	destKey := r.dstAddr
	if m := netperfRemotePortRe.FindStringSubmatch(raw); m != nil {
		destKey = fmt.Sprintf("%s:%s", r.dstAddr, m[1])
	}

	var recs []results.Record
	for i, tp := range throughputs {
		if i >= len(timestamps) {
			break
		}
		recs = append(recs, results.Record{
			"timestamp":  timestamps[i][1],
			"throughput": tp[1],
		})
	}
	if len(recs) > 0 {
		r.store.Add(r.ns, destKey, recs...)
	}
	return nil
}
