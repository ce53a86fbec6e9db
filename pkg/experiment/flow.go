// Package experiment turns a declarative list of traffic flows into a
// scheduled, concurrently executed set of measurement processes and
// collects their results.
package experiment

import (
	"fmt"
	"time"

	"nestgo/pkg/address"
	"nestgo/pkg/topology"
)

// Protocol selects the transport a Flow generates.
type Protocol string

const (
	TCP Protocol = "TCP"
	UDP Protocol = "UDP"
)

const (
	defaultCongestionAlgorithm = "cubic"
	defaultTargetBandwidth     = "1mbit"
)

// FlowOptions carries the per-protocol knobs of a Flow. Zero values
// take documented defaults.
type FlowOptions struct {
	Protocol            Protocol
	CongestionAlgorithm string // TCP only, default cubic
	TargetBandwidth     string // UDP only, default 1mbit
}

// Flow is an immutable description of traffic between two endpoints.
type Flow struct {
	srcNS   string
	dstNS   string
	dstAddr address.Address
	start   time.Duration
	stop    time.Duration
	count   int
	options FlowOptions
}

// NewFlow validates and freezes a flow descriptor. count is the number
// of parallel flows (at least 1).
func NewFlow(src, dst *topology.Node, dstAddr address.Address, start, stop time.Duration, count int, options FlowOptions) (Flow, error) {
	switch options.Protocol {
	case TCP, UDP:
	default:
		return Flow{}, fmt.Errorf("unsupported protocol %q, want TCP or UDP", options.Protocol)
	}
	if dstAddr.IsZero() {
		return Flow{}, fmt.Errorf("flow %s -> %s has no destination address", src.Name(), dst.Name())
	}
	if start < 0 || stop < start {
		return Flow{}, fmt.Errorf("invalid flow window [%v, %v]", start, stop)
	}
	if count < 1 {
		count = 1
	}
	if options.CongestionAlgorithm == "" {
		options.CongestionAlgorithm = defaultCongestionAlgorithm
	}
	if options.TargetBandwidth == "" {
		options.TargetBandwidth = defaultTargetBandwidth
	}
	return Flow{
		srcNS:   src.ID(),
		dstNS:   dst.ID(),
		dstAddr: dstAddr,
		start:   start,
		stop:    stop,
		count:   count,
		options: options,
	}, nil
}

// Source returns the source namespace id.
func (f Flow) Source() string { return f.srcNS }

// Dest returns the destination namespace id.
func (f Flow) Dest() string { return f.dstNS }

// DestAddr returns the destination address.
func (f Flow) DestAddr() address.Address { return f.dstAddr }

// Window returns the flow's start and stop offsets.
func (f Flow) Window() (start, stop time.Duration) { return f.start, f.stop }

// Count returns the number of parallel flows.
func (f Flow) Count() int { return f.count }

// Options returns the protocol options.
func (f Flow) Options() FlowOptions { return f.options }

// CoapOptions carries CoAP-specific knobs.
type CoapOptions struct {
	ServerContent string // payload the server responds with
}

// CoapFlow describes CoAP request traffic: a number of confirmable and
// non-confirmable messages sent to a destination.
type CoapFlow struct {
	srcNS   string
	dstNS   string
	dstAddr address.Address
	conMsgs int
	nonMsgs int
	options CoapOptions
}

// NewCoapFlow validates and freezes a CoAP flow descriptor.
func NewCoapFlow(src, dst *topology.Node, dstAddr address.Address, conMsgs, nonMsgs int, options CoapOptions) (CoapFlow, error) {
	if dstAddr.IsZero() {
		return CoapFlow{}, fmt.Errorf("coap flow %s -> %s has no destination address", src.Name(), dst.Name())
	}
	if conMsgs < 0 || nonMsgs < 0 || conMsgs+nonMsgs == 0 {
		return CoapFlow{}, fmt.Errorf("coap flow needs a positive message count")
	}
	return CoapFlow{
		srcNS:   src.ID(),
		dstNS:   dst.ID(),
		dstAddr: dstAddr,
		conMsgs: conMsgs,
		nonMsgs: nonMsgs,
		options: options,
	}, nil
}
