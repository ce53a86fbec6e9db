package tools

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"nestgo/pkg/results"
)

// CoapClientTool and CoapServerTool are the libcoap example binaries
// used for CoAP traffic emulation.
const (
	CoapClientTool = "coap-client"
	CoapServerTool = "coap-server"
)

// StartCoapServer runs a CoAP server in a destination namespace.
// Called at most once per destination.
func StartCoapServer(nsID, content string) error {
	args := []string{}
	if content != "" {
		args = append(args, "-c", content)
	}
	return startServer(nsID, CoapServerTool, args...)
}

// CoapRunner sends a batch of confirmable and non-confirmable GET
// requests and records per-message response times.
type CoapRunner struct {
	base
	ns      string
	dstNS   string
	dstAddr string
	conMsgs int
	nonMsgs int
	timings []results.Record
	store   *results.Store
}

func NewCoapRunner(ns, dstNS, dstAddr string, conMsgs, nonMsgs int, store *results.Store) *CoapRunner {
	return &CoapRunner{
		ns:      ns,
		dstNS:   dstNS,
		dstAddr: dstAddr,
		conMsgs: conMsgs,
		nonMsgs: nonMsgs,
		store:   store,
	}
}

func (r *CoapRunner) Run(ctx context.Context) error {
	if err := r.transition(stateConfigured, stateRunning); err != nil {
		return err
	}
	uri := fmt.Sprintf("coap://%s/", r.dstAddr)

	send := func(confirmable bool) error {
		args := []string{"-m", "get", "-B", "2"}
		if !confirmable {
			args = append(args, "-N")
		}
		args = append(args, uri)

		began := time.Now()
		var buf bytes.Buffer
		err := runInNamespace(ctx, &buf, r.ns, CoapClientTool, args...)
		elapsed := time.Since(began)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil // a lost message is skipped, not a failure
		}
		msgType := "CON"
		if !confirmable {
			msgType = "NON"
		}
		r.timings = append(r.timings, results.Record{
			"timestamp":     fmt.Sprintf("%.3f", float64(began.UnixNano())/1e9),
			"response_time": fmt.Sprintf("%.3f", elapsed.Seconds()*1e3),
			"type":          msgType,
		})
		return nil
	}

	for i := 0; i < r.conMsgs; i++ {
		if err := send(true); err != nil {
			return err
		}
	}
	for i := 0; i < r.nonMsgs; i++ {
		if err := send(false); err != nil {
			return err
		}
	}
	return nil
}

func (r *CoapRunner) Parse(_ context.Context) error {
	if err := r.transition(stateRunning, stateParsed); err != nil {
		return err
	}
	if len(r.timings) > 0 {
		r.store.Add(r.ns, r.dstAddr, r.timings...)
	}
	return nil
}
