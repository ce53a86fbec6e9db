package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"nestgo/pkg/results"
)

// Iperf3Tool is the binary generating UDP flows.
const Iperf3Tool = "iperf3"

// StartIperf3Server runs the iperf3 server in a destination namespace.
// Called at most once per destination.
func StartIperf3Server(nsID string) error {
	return startServer(nsID, Iperf3Tool, "-s")
}

// Iperf3Runner generates UDP flows (possibly several in parallel in
// one process) and parses the JSON interval report.
type Iperf3Runner struct {
	base
	ns       string
	dstAddr  string
	start    time.Duration
	duration time.Duration
	parallel int
	targetBw string
	store    *results.Store
}

func NewIperf3Runner(ns, dstAddr string, start, duration time.Duration, parallel int, targetBw string, store *results.Store) *Iperf3Runner {
	return &Iperf3Runner{
		ns:       ns,
		dstAddr:  dstAddr,
		start:    start,
		duration: duration,
		parallel: parallel,
		targetBw: targetBw,
		store:    store,
	}
}

func (r *Iperf3Runner) Run(ctx context.Context) error {
	if err := r.transition(stateConfigured, stateRunning); err != nil {
		return err
	}
	if err := waitForStart(ctx, r.start); err != nil {
		return err
	}
	args := []string{
		"-u",
		"-c", r.dstAddr,
		"-b", r.targetBw,
		"-P", strconv.Itoa(r.parallel),
		"-t", fmt.Sprintf("%.0f", r.duration.Seconds()),
		"--interval", "0.2",
		"-J",
	}
	if err := runInNamespace(ctx, &r.out, r.ns, Iperf3Tool, args...); err != nil {
		return fmt.Errorf("iperf3 in %s to %s: %w", r.ns, r.dstAddr, err)
	}
	return nil
}

// iperf3Report is the part of iperf3's JSON output we consume.
type iperf3Report struct {
	Intervals []struct {
		Sum struct {
			Start         float64 `json:"start"`
			BitsPerSecond float64 `json:"bits_per_second"`
			Packets       int     `json:"packets"`
			LostPackets   int     `json:"lost_packets"`
		} `json:"sum"`
	} `json:"intervals"`
}

func (r *Iperf3Runner) Parse(_ context.Context) error {
	if err := r.transition(stateRunning, stateParsed); err != nil {
		return err
	}
	var report iperf3Report
	if err := json.Unmarshal(r.out.Bytes(), &report); err != nil {
		return fmt.Errorf("iperf3 output for %s: %w", r.dstAddr, err)
	}

	var recs []results.Record
	for _, interval := range report.Intervals {
		recs = append(recs, results.Record{
			"timestamp":    fmt.Sprintf("%.1f", interval.Sum.Start),
			"sending_rate": fmt.Sprintf("%.3f", interval.Sum.BitsPerSecond/1e6),
			"packets":      strconv.Itoa(interval.Sum.Packets),
			"lost_packets": strconv.Itoa(interval.Sum.LostPackets),
		})
	}
	if len(recs) > 0 {
		r.store.Add(r.ns, r.dstAddr, recs...)
	}
	return nil
}
