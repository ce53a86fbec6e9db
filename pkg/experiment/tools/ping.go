package tools

import (
	"context"
	"regexp"
	"time"

	"nestgo/pkg/results"
)

// PingTool measures latency between an endpoint pair.
const PingTool = "ping"

var pingLineRe = regexp.MustCompile(`\[(?P<ts>\d+\.\d+)\].*icmp_seq=\d+ ttl=\d+ time=(?P<rtt>\d+(?:\.\d+)?) ms`)

// PingRunner samples latency towards one destination over the merged
// window of every flow sharing the endpoint pair.
type PingRunner struct {
	base
	ns       string
	dstNS    string
	dstAddr  string
	start    time.Duration
	duration time.Duration
	store    *results.Store
}

func NewPingRunner(ns, dstNS, dstAddr string, start, duration time.Duration, store *results.Store) *PingRunner {
	return &PingRunner{
		ns:       ns,
		dstNS:    dstNS,
		dstAddr:  dstAddr,
		start:    start,
		duration: duration,
		store:    store,
	}
}

func (r *PingRunner) Run(ctx context.Context) error {
	if err := r.transition(stateConfigured, stateRunning); err != nil {
		return err
	}
	if err := waitForStart(ctx, r.start); err != nil {
		return err
	}

	// ping runs until the window closes; the deadline kill is the
	// normal way it stops.
	runCtx, cancel := context.WithTimeout(ctx, r.duration)
	defer cancel()
	_ = runInNamespace(runCtx, &r.out, r.ns, PingTool, "-D", "-i", "0.2", r.dstAddr)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (r *PingRunner) Parse(_ context.Context) error {
	if err := r.transition(stateRunning, stateParsed); err != nil {
		return err
	}
	var recs []results.Record
	for _, m := range pingLineRe.FindAllStringSubmatch(r.out.String(), -1) {
		recs = append(recs, results.Record{
			"timestamp": m[1],
			"rtt":       m[2],
		})
	}
	if len(recs) > 0 {
		r.store.Add(r.ns, r.dstAddr, recs...)
	}
	return nil
}
