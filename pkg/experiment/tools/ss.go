package tools

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"nestgo/pkg/results"
)

// SsTool is the socket statistics binary.
const SsTool = "ss"

const ssInterval = 200 * time.Millisecond

// Socket metrics extracted from ss output. rtt expands to avg and
// deviation.
var ssParams = []string{"cwnd", "rwnd", "rtt", "ssthresh", "rto", "delivery_rate"}

type ssSample struct {
	at  time.Time
	raw string
}

// SsRunner samples `ss -i` towards one destination over the merged
// window of every flow sharing the endpoint pair. One sampling process
// serves them all.
type SsRunner struct {
	base
	ns       string
	dstNS    string
	dstAddr  string
	start    time.Duration
	duration time.Duration
	filter   string
	samples  []ssSample
	store    *results.Store
}

func NewSsRunner(ns, dstNS, dstAddr string, start, duration time.Duration, filter string, store *results.Store) *SsRunner {
	return &SsRunner{
		ns:       ns,
		dstNS:    dstNS,
		dstAddr:  dstAddr,
		start:    start,
		duration: duration,
		filter:   filter,
		store:    store,
	}
}

func (r *SsRunner) Run(ctx context.Context) error {
	if err := r.transition(stateConfigured, stateRunning); err != nil {
		return err
	}
	if err := waitForStart(ctx, r.start); err != nil {
		return err
	}

	deadline := time.Now().Add(r.duration)
	ticker := time.NewTicker(ssInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		var buf bytes.Buffer
		// A single failed sample is dropped, not fatal.
		if err := runInNamespace(ctx, &buf, r.ns, SsTool, r.args()...); err == nil {
			r.samples = append(r.samples, ssSample{at: time.Now(), raw: buf.String()})
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

// args builds the ss invocation: options first, then the socket filter
// with an explicit "and" joining the destination match to the
// control-port exclusions, so the filter grammar is never left
// implicit.
func (r *SsRunner) args() []string {
	args := []string{"-i", "-n", "dst", r.dstAddr}
	if r.filter != "" {
		args = append(args, "and", r.filter)
	}
	return args
}

func (r *SsRunner) Parse(_ context.Context) error {
	if err := r.transition(stateRunning, stateParsed); err != nil {
		return err
	}

	portRe := regexp.MustCompile(regexp.QuoteMeta(r.dstAddr) + `:(\d+)`)
	byPort := make(map[string][]results.Record)
	var portOrder []string

	for _, sample := range r.samples {
		ports := portRe.FindAllStringSubmatch(sample.raw, -1)
		if len(ports) == 0 {
			continue
		}
		timestamp := fmt.Sprintf("%.3f", float64(sample.at.UnixNano())/1e9)

		for i, m := range ports {
			port := m[1]
			if _, ok := byPort[port]; !ok {
				portOrder = append(portOrder, port)
			}
			rec := results.Record{"timestamp": timestamp}
			parseSsMetrics(sample.raw, i, rec)
			byPort[port] = append(byPort[port], rec)
		}
	}

	for _, port := range portOrder {
		r.store.Add(r.ns, fmt.Sprintf("%s:%s", r.dstAddr, port), byPort[port]...)
	}
	return nil
}

// parseSsMetrics pulls the idx-th occurrence of each known metric out
// of one raw sample. A metric the pattern cannot find is simply absent
// from the record; the sample itself is kept.
func parseSsMetrics(raw string, idx int, rec results.Record) {
	for _, param := range ssParams {
		re := regexp.MustCompile(`\s` + regexp.QuoteMeta(param) + `[\s:](\S+)`)
		matches := re.FindAllStringSubmatch(raw, -1)
		if idx >= len(matches) {
			continue
		}
		val := strings.TrimRight(matches[idx][1], "bpsBKMG") // strip units
		if param == "rtt" {
			// avg and deviation separated by a slash
			parts := strings.SplitN(val, "/", 2)
			rec["rtt"] = parts[0]
			if len(parts) == 2 {
				rec["dev_rtt"] = parts[1]
			}
			continue
		}
		rec[param] = val
	}
}
