package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"nestgo/pkg/results"
)

// TcTool samples qdisc statistics.
const TcTool = "tc"

const tcInterval = time.Second

type tcSample struct {
	at  time.Time
	raw []byte
}

// TcRunner samples qdisc statistics on one interface for the whole
// experiment duration.
type TcRunner struct {
	base
	ns       string
	iface    string
	duration time.Duration
	samples  []tcSample
	store    *results.Store
}

func NewTcRunner(ns, iface string, duration time.Duration, store *results.Store) *TcRunner {
	return &TcRunner{
		ns:       ns,
		iface:    iface,
		duration: duration,
		store:    store,
	}
}

func (r *TcRunner) Run(ctx context.Context) error {
	if err := r.transition(stateConfigured, stateRunning); err != nil {
		return err
	}

	deadline := time.Now().Add(r.duration)
	ticker := time.NewTicker(tcInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		var buf bytes.Buffer
		if err := runInNamespace(ctx, &buf, r.ns, TcTool, "-s", "-j", "qdisc", "show", "dev", r.iface); err == nil {
			r.samples = append(r.samples, tcSample{at: time.Now(), raw: append([]byte(nil), buf.Bytes()...)})
		} else if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// tcQdisc is the part of `tc -s -j qdisc show` we consume.
type tcQdisc struct {
	Kind    string `json:"kind"`
	Handle  string `json:"handle"`
	Bytes   uint64 `json:"bytes"`
	Packets uint64 `json:"packets"`
	Drops   uint64 `json:"drops"`
}

func (r *TcRunner) Parse(_ context.Context) error {
	if err := r.transition(stateRunning, stateParsed); err != nil {
		return err
	}

	var recs []results.Record
	for _, sample := range r.samples {
		var qdiscs []tcQdisc
		if err := json.Unmarshal(sample.raw, &qdiscs); err != nil {
			continue // one unreadable sample is dropped, not fatal
		}
		timestamp := fmt.Sprintf("%.3f", float64(sample.at.UnixNano())/1e9)
		for _, q := range qdiscs {
			recs = append(recs, results.Record{
				"timestamp": timestamp,
				"kind":      q.Kind,
				"handle":    q.Handle,
				"bytes":     strconv.FormatUint(q.Bytes, 10),
				"packets":   strconv.FormatUint(q.Packets, 10),
				"drops":     strconv.FormatUint(q.Drops, 10),
			})
		}
	}
	if len(recs) > 0 {
		r.store.Add(r.ns, r.iface, recs...)
	}
	return nil
}
